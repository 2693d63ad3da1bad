package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/markethub/stock-saga/internal/core/domain"
	"github.com/markethub/stock-saga/internal/port"
)

// compensateAttempts bounds the conditional-write retries when reversing an
// applied decrement under contention.
const compensateAttempts = 3

// ReservationApplier durably applies validated order lines to the position
// store. Each Apply is one independent read-validate-conditional-write
// cycle; concurrent appliers against the same position race on the version
// check and at most one wins.
type ReservationApplier struct {
	positions   port.PositionRepository
	idempotency port.IdempotencyStore
	logger      *zap.Logger
}

func NewReservationApplier(positions port.PositionRepository, idempotency port.IdempotencyStore, logger *zap.Logger) *ReservationApplier {
	return &ReservationApplier{
		positions:   positions,
		idempotency: idempotency,
		logger:      logger,
	}
}

func appliedKey(txID, lineID string) string {
	return txID + ":" + lineID
}

// Apply decrements the line's position once. A marker claimed per
// (transaction, line) makes redelivered transactions skip lines that
// already went through instead of decrementing stock twice. The marker is
// released again when the write does not happen, so a bounded retry after a
// version conflict can re-attempt the line.
func (a *ReservationApplier) Apply(ctx context.Context, txID string, line domain.OrderLine) error {
	key := appliedKey(txID, line.ID)

	claimed, err := a.idempotency.Claim(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency claim: %w", err)
	}
	if !claimed {
		a.logger.Info("order line already applied, skipping",
			zap.String("transaction_id", txID),
			zap.String("line_id", line.ID),
		)
		return nil
	}

	if err := a.apply(ctx, line); err != nil {
		if relErr := a.idempotency.Release(ctx, key); relErr != nil {
			a.logger.Error("failed to release apply marker",
				zap.String("transaction_id", txID),
				zap.String("line_id", line.ID),
				zap.Error(relErr),
			)
		}
		return err
	}

	return nil
}

func (a *ReservationApplier) apply(ctx context.Context, line domain.OrderLine) error {
	// Authoritative fetch; the version carried on the line is ignored here
	pos, err := a.positions.Get(ctx, line.PositionID)
	if err != nil {
		return err
	}

	candidate, err := ValidateOrder(*pos, line)
	if err != nil {
		return err
	}

	return a.positions.ConditionalUpdate(ctx, pos.ID, pos.Version, candidate.Amount)
}

// Compensate reverses one applied decrement through the same
// conditional-write path and drops the line's apply marker. Contention is
// retried a few times; the increment itself cannot be rejected by stock
// rules, so conflicts are the only transient failure.
func (a *ReservationApplier) Compensate(ctx context.Context, txID string, line domain.OrderLine) error {
	var lastErr error
	for attempt := 0; attempt < compensateAttempts; attempt++ {
		pos, err := a.positions.Get(ctx, line.PositionID)
		if err != nil {
			return err
		}

		err = a.positions.ConditionalUpdate(ctx, pos.ID, pos.Version, pos.Amount.Add(line.Amount))
		if err == nil {
			if relErr := a.idempotency.Release(ctx, appliedKey(txID, line.ID)); relErr != nil {
				a.logger.Error("failed to release apply marker after compensation",
					zap.String("transaction_id", txID),
					zap.String("line_id", line.ID),
					zap.Error(relErr),
				)
			}
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
