package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/adapter/handler"
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

	// Initialize messaging
	placedPublisher := messaging.NewKafkaPublisher(cfg.KafkaBroker, config.TransactionPlacedTopic)
	statusStream := messaging.NewKafkaStream(cfg.KafkaBroker, config.TransactionStatusTopic, config.ResultGroupID)

	// Initialize service
	transactionRepo := storage.NewMySQLTransactionRepository(db)
	transactionService := service.NewTransactionService(transactionRepo, placedPublisher, logger)

	// Start result consumer
	resultConsumer := service.NewResultConsumer(statusStream, transactionService, logger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := resultConsumer.Run(ctx); err != nil {
			logger.Error("result consumer stopped", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(transactionService, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.HandleFunc("/api/transactions", httpHandler.Transactions)
	mux.HandleFunc("/api/transactions/", httpHandler.Transaction)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	cancel()
	wg.Wait()
	logger.Info("result consumer stopped")

	statusStream.Close()
	placedPublisher.Close()
	db.Close()
	logger.Info("connections closed")
}
