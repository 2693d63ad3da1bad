package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/core/domain"
	"github.com/markethub/stock-saga/internal/port"
)

// ListPageSize is the fixed page size for buyer transaction listings.
const ListPageSize = 20

// ValidationError reports a structurally malformed submission. It is
// returned synchronously, before anything is persisted or published.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid transaction: " + e.Reason
}

// SubmitLine is one order line as received from the buyer.
type SubmitLine struct {
	PositionID      string
	Amount          decimal.Decimal
	PositionVersion *int64
}

// TransactionService owns the durable transaction record. Submit hands the
// work to the processing side through the broker and returns immediately;
// the terminal outcome arrives later via RecordOutcome.
type TransactionService struct {
	transactions port.TransactionRepository
	publisher    port.EventPublisher
	logger       *zap.Logger
}

func NewTransactionService(transactions port.TransactionRepository, publisher port.EventPublisher, logger *zap.Logger) *TransactionService {
	return &TransactionService{
		transactions: transactions,
		publisher:    publisher,
		logger:       logger,
	}
}

// Submit validates the submission shape, persists the transaction
// IN_PROGRESS and publishes it for processing. The returned id is the only
// synchronous result; callers poll for the terminal status.
func (s *TransactionService) Submit(ctx context.Context, buyerID string, lines []SubmitLine) (string, error) {
	if buyerID == "" {
		return "", &ValidationError{Reason: "buyer id is required"}
	}
	if len(lines) == 0 {
		return "", &ValidationError{Reason: "at least one order line is required"}
	}
	for i, l := range lines {
		if l.PositionID == "" {
			return "", &ValidationError{Reason: fmt.Sprintf("line %d: position id is required", i)}
		}
		if !l.Amount.IsPositive() {
			return "", &ValidationError{Reason: fmt.Sprintf("line %d: amount must be positive", i)}
		}
		if l.PositionVersion == nil {
			return "", &ValidationError{Reason: fmt.Sprintf("line %d: position version is required", i)}
		}
	}

	tx := domain.UserTransaction{
		ID:        uuid.NewString(),
		BuyerID:   buyerID,
		Status:    domain.TransactionStatusInProgress,
		CreatedAt: time.Now(),
	}
	for _, l := range lines {
		tx.Lines = append(tx.Lines, domain.OrderLine{
			ID:              uuid.NewString(),
			PositionID:      l.PositionID,
			Amount:          l.Amount,
			PositionVersion: l.PositionVersion,
		})
	}

	if err := s.transactions.Create(ctx, tx); err != nil {
		return "", fmt.Errorf("persist transaction: %w", err)
	}

	payload, err := json.Marshal(domain.NewTransactionPlacedEvent(tx))
	if err != nil {
		return "", fmt.Errorf("marshal placed event: %w", err)
	}

	if err := s.publisher.Publish(ctx, []byte(tx.ID), payload); err != nil {
		// The event never left, so nobody will ever publish a terminal
		// status for this transaction. Fail it instead of stranding it
		// IN_PROGRESS forever.
		if _, failErr := s.transactions.UpdateStatus(ctx, tx.ID, domain.TransactionStatusFailed); failErr != nil {
			s.logger.Error("failed to fail unpublished transaction",
				zap.String("transaction_id", tx.ID),
				zap.Error(failErr),
			)
		}
		return "", fmt.Errorf("publish placed event: %w", err)
	}

	s.logger.Info("transaction placed for processing",
		zap.String("transaction_id", tx.ID),
		zap.String("buyer_id", buyerID),
		zap.Int("lines", len(tx.Lines)),
	)
	return tx.ID, nil
}

// RecordOutcome moves the stored transaction to its terminal status. The
// broker delivers at least once, so seeing the same terminal status again
// is a no-op, not an error.
func (s *TransactionService) RecordOutcome(ctx context.Context, txID string, status domain.TransactionStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("non-terminal status %q for transaction %s", status, txID)
	}

	updated, err := s.transactions.UpdateStatus(ctx, txID, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if !updated {
		if _, err := s.transactions.Get(ctx, txID); err != nil {
			if errors.Is(err, domain.ErrTransactionNotFound) {
				return domain.ErrTransactionNotFound
			}
			return fmt.Errorf("check transaction: %w", err)
		}
		s.logger.Info("outcome already recorded",
			zap.String("transaction_id", txID),
			zap.String("status", string(status)),
		)
		return nil
	}

	s.logger.Info("transaction outcome recorded",
		zap.String("transaction_id", txID),
		zap.String("status", string(status)),
	)
	return nil
}

func (s *TransactionService) GetTransaction(ctx context.Context, txID string) (*domain.UserTransaction, error) {
	return s.transactions.Get(ctx, txID)
}

func (s *TransactionService) ListForBuyer(ctx context.Context, buyerID string, page int) ([]domain.UserTransaction, error) {
	if page < 0 {
		page = 0
	}
	return s.transactions.ListByBuyer(ctx, buyerID, page, ListPageSize)
}
