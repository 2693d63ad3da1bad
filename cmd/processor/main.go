package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/adapter/messaging"
	"github.com/markethub/stock-saga/internal/adapter/storage"
	"github.com/markethub/stock-saga/internal/config"
	"github.com/markethub/stock-saga/internal/core/service"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal("failed to connect mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	// Initialize adapters and processor
	positionRepo := storage.NewMySQLPositionRepository(db)
	idempotencyStore := storage.NewRedisIdempotencyStore(rdb)
	applier := service.NewReservationApplier(positionRepo, idempotencyStore, logger)

	policy := service.LeavePartial
	if cfg.CompensationPolicy == "compensate" {
		policy = service.CompensateOnFailure
	}

	statusPublisher := messaging.NewKafkaPublisher(cfg.KafkaBroker, config.TransactionStatusTopic)
	processor := service.NewProcessor(applier, statusPublisher, policy, logger)

	// Start the competing-consumer pool; each worker owns its own group
	// member so partitions rebalance across them
	var wg sync.WaitGroup
	streams := make([]*messaging.KafkaStream, 0, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		stream := messaging.NewKafkaStream(cfg.KafkaBroker, config.TransactionPlacedTopic, config.ProcessorGroupID)
		streams = append(streams, stream)

		consumer := service.NewProcessingConsumer(stream, processor, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				logger.Error("processing consumer stopped", zap.Error(err))
			}
		}()
	}
	logger.Info("started processing workers", zap.Int("count", cfg.WorkerCount))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	cancel()
	wg.Wait()
	logger.Info("workers stopped")

	for _, stream := range streams {
		stream.Close()
	}
	statusPublisher.Close()
	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}
