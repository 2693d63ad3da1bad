package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/markethub/stock-saga/internal/core/domain"
)

type PositionRepository interface {
	// Get retrieves a position by ID, domain.ErrPositionNotFound when absent
	Get(ctx context.Context, id string) (*domain.Position, error)

	// ConditionalUpdate writes newAmount and increments version by one, but
	// only while the stored version still equals expectedVersion. Reports
	// domain.ErrVersionConflict when a concurrent writer got there first and
	// domain.ErrPositionNotFound when the row is gone.
	ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, newAmount decimal.Decimal) error

	// Create persists a new position at version 0
	Create(ctx context.Context, pos domain.Position) error
}
