package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/core/domain"
	"github.com/markethub/stock-saga/internal/port"
)

// LineApplier applies and reverses single order lines against the position
// store. Satisfied by ReservationApplier.
type LineApplier interface {
	Apply(ctx context.Context, txID string, line domain.OrderLine) error
	Compensate(ctx context.Context, txID string, line domain.OrderLine) error
}

// CompensationPolicy decides what happens to lines already applied when a
// later line of the same transaction fails.
type CompensationPolicy int

const (
	// LeavePartial keeps earlier decrements in place: the transaction is
	// reported FAILED but stock already reserved stays reserved.
	LeavePartial CompensationPolicy = iota

	// CompensateOnFailure reverses every applied decrement before the
	// FAILED status is published.
	CompensateOnFailure
)

// Processor drives one placed transaction through validation and stock
// reservation and publishes the terminal status.
type Processor struct {
	applier   LineApplier
	publisher port.EventPublisher
	policy    CompensationPolicy
	logger    *zap.Logger
}

func NewProcessor(applier LineApplier, publisher port.EventPublisher, policy CompensationPolicy, logger *zap.Logger) *Processor {
	return &Processor{
		applier:   applier,
		publisher: publisher,
		policy:    policy,
		logger:    logger,
	}
}

// Process applies the transaction's lines in order, stopping at the first
// failure. All lines applied means SUCCESS, anything else FAILED. The
// returned error means the status event could not be published; the caller
// must not commit the incoming message in that case, so the transaction is
// redelivered instead of stranded IN_PROGRESS.
func (p *Processor) Process(ctx context.Context, event domain.TransactionPlacedEvent) error {
	status := domain.TransactionStatusSuccess
	applied := make([]domain.OrderLine, 0, len(event.OrderLine))

	for _, line := range event.OrderLine {
		if err := p.applyWithRetry(ctx, event.TransactionID, line); err != nil {
			p.logger.Warn("order line rejected",
				zap.String("transaction_id", event.TransactionID),
				zap.String("line_id", line.ID),
				zap.String("position_id", line.PositionID),
				zap.Error(err),
			)
			status = domain.TransactionStatusFailed
			break
		}
		applied = append(applied, line)
	}

	if status == domain.TransactionStatusFailed && p.policy == CompensateOnFailure {
		for _, line := range applied {
			if err := p.applier.Compensate(ctx, event.TransactionID, line); err != nil {
				p.logger.Error("compensation failed, decrement left in place",
					zap.String("transaction_id", event.TransactionID),
					zap.String("line_id", line.ID),
					zap.Error(err),
				)
			}
		}
	}

	result := domain.TransactionStatusEvent{
		TransactionID: event.TransactionID,
		Status:        status,
		OrderLine:     event.OrderLine,
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := p.publisher.Publish(ctx, []byte(event.TransactionID), payload); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}

	p.logger.Info("transaction processed",
		zap.String("transaction_id", event.TransactionID),
		zap.String("status", string(status)),
	)
	return nil
}

// applyWithRetry retries a line exactly once after a version conflict. The
// second attempt runs against a fresh read inside the applier; a second
// conflict fails the line.
func (p *Processor) applyWithRetry(ctx context.Context, txID string, line domain.OrderLine) error {
	err := p.applier.Apply(ctx, txID, line)
	if errors.Is(err, domain.ErrVersionConflict) {
		err = p.applier.Apply(ctx, txID, line)
	}
	return err
}
