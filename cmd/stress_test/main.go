package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/adapter/messaging"
	"github.com/markethub/stock-saga/internal/adapter/storage"
	"github.com/markethub/stock-saga/internal/config"
	"github.com/markethub/stock-saga/internal/core/domain"
	"github.com/markethub/stock-saga/internal/core/service"
)

// Contention check: fires more concurrent single-line transactions at one
// position than it has stock and verifies that exactly the available amount
// is sold. Runs the whole saga in-process over the in-memory broker, so
// only MySQL and Redis are needed.
const (
	mysqlDSN      = "root:root@tcp(localhost:3306)/marketplace?parseTime=true"
	redisAddr     = "localhost:6379"
	positionID    = "stress-test-position"
	initialStock  = 20
	totalRequests = 50
	workerCount   = 4
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zap.NewNop()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}

	// Reset the position and clear stale apply markers
	if _, err := db.ExecContext(ctx, `
		INSERT INTO positions (id, company_id, amount, min_amount, version, created_at, updated_at)
		VALUES (?, 'stress-test-company', ?, 1, 0, NOW(), NOW())
		ON DUPLICATE KEY UPDATE amount = ?, version = 0`,
		positionID, initialStock, initialStock); err != nil {
		log.Fatalf("failed to seed position: %v", err)
	}
	db.ExecContext(ctx, `
		DELETE tl FROM transaction_lines tl
		JOIN transactions t ON tl.transaction_id = t.id
		WHERE t.buyer_id LIKE 'stress-buyer-%'`)
	db.ExecContext(ctx, `DELETE FROM transactions WHERE buyer_id LIKE 'stress-buyer-%'`)
	keys, _ := rdb.Keys(ctx, "applied:*").Result()
	for _, k := range keys {
		rdb.Del(ctx, k)
	}

	// Wire the saga over the in-memory broker
	broker := messaging.NewMemoryBroker()
	transactionRepo := storage.NewMySQLTransactionRepository(db)
	positionRepo := storage.NewMySQLPositionRepository(db)
	idempotencyStore := storage.NewRedisIdempotencyStore(rdb)

	transactionService := service.NewTransactionService(
		transactionRepo, broker.Publisher(config.TransactionPlacedTopic), logger)
	applier := service.NewReservationApplier(positionRepo, idempotencyStore, logger)
	processor := service.NewProcessor(
		applier, broker.Publisher(config.TransactionStatusTopic), service.LeavePartial, logger)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		consumer := service.NewProcessingConsumer(
			broker.Stream(config.TransactionPlacedTopic), processor, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
	}
	resultConsumer := service.NewResultConsumer(
		broker.Stream(config.TransactionStatusTopic), transactionService, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		resultConsumer.Run(ctx)
	}()

	// Fire concurrent submissions
	version := int64(0)
	txIDs := make([]string, totalRequests)
	var submitWg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		submitWg.Add(1)
		go func(n int) {
			defer submitWg.Done()
			id, err := transactionService.Submit(ctx, fmt.Sprintf("stress-buyer-%d", n), []service.SubmitLine{{
				PositionID:      positionID,
				Amount:          decimal.NewFromInt(1),
				PositionVersion: &version,
			}})
			if err != nil {
				log.Printf("submit %d failed: %v", n, err)
				return
			}
			txIDs[n] = id
		}(i)
	}
	submitWg.Wait()

	// Wait for every transaction to reach a terminal status
	success, failed := awaitOutcomes(ctx, transactionRepo, txIDs)
	elapsed := time.Since(start)

	cancel()
	wg.Wait()

	pos, err := positionRepo.Get(context.Background(), positionID)
	if err != nil {
		log.Fatalf("failed to read position: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", failed)
	fmt.Printf("Remaining Stock:  %s\n", pos.Amount)
	fmt.Printf("Final Version:    %d\n", pos.Version)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Losers may fail with a version conflict instead of waiting their
	// turn, so the invariant is no oversell, not a full sell-out
	expectedRemaining := decimal.NewFromInt(initialStock - int64(success))
	if success <= initialStock && pos.Amount.Equal(expectedRemaining) && !pos.Amount.IsNegative() {
		fmt.Printf("PASS: %d transactions succeeded, no oversell\n", success)
	} else {
		fmt.Printf("FAIL: %d successes with %s stock remaining (started at %d)\n",
			success, pos.Amount, initialStock)
	}
}

func awaitOutcomes(ctx context.Context, repo *storage.MySQLTransactionRepository, txIDs []string) (success, failed int) {
	deadline := time.Now().Add(30 * time.Second)
	for _, id := range txIDs {
		if id == "" {
			failed++
			continue
		}
		for {
			tx, err := repo.Get(ctx, id)
			if err == nil && tx.Status.Terminal() {
				if tx.Status == domain.TransactionStatusSuccess {
					success++
				} else {
					failed++
				}
				break
			}
			if time.Now().After(deadline) {
				failed++
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	return success, failed
}
