package service

import (
	"github.com/markethub/stock-saga/internal/core/domain"
)

// ValidateOrder decides whether one order line can be applied to the given
// position snapshot. On acceptance it returns the candidate position state
// with the amount decremented; the version is left for the store to bump on
// the durable write. No side effects, deterministic, safe to re-run against
// a fresh read after a conflict.
//
// Rules run in a fixed order: version presence, stock, minimum order size.
func ValidateOrder(pos domain.Position, line domain.OrderLine) (domain.Position, error) {
	if line.PositionVersion == nil {
		return domain.Position{}, domain.ErrNoVersionProvided
	}

	if line.Amount.GreaterThan(pos.Amount) {
		return domain.Position{}, &domain.InsufficientStockError{
			PositionID: pos.ID,
			Wanted:     line.Amount,
			InStock:    pos.Amount,
		}
	}

	if line.Amount.LessThan(pos.MinAmount) {
		return domain.Position{}, &domain.BelowMinimumOrderError{
			PositionID: pos.ID,
			Wanted:     line.Amount,
			MinAmount:  pos.MinAmount,
		}
	}

	candidate := pos
	candidate.Amount = pos.Amount.Sub(line.Amount)
	return candidate, nil
}
