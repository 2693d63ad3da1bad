package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNoVersionProvided   = errors.New("order line carries no position version")
	ErrVersionConflict     = errors.New("position version conflict")
	ErrPositionNotFound    = errors.New("position not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// InsufficientStockError rejects an order line asking for more than the
// position currently holds.
type InsufficientStockError struct {
	PositionID string
	Wanted     decimal.Decimal
	InStock    decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Not enough items in stock for position with id=%s. Wanted amount=%s. Currently in stock=%s",
		e.PositionID, e.Wanted, e.InStock)
}

// BelowMinimumOrderError rejects an order line smaller than the position's
// minimum order size.
type BelowMinimumOrderError struct {
	PositionID string
	Wanted     decimal.Decimal
	MinAmount  decimal.Decimal
}

func (e *BelowMinimumOrderError) Error() string {
	return fmt.Sprintf("Wanted amount=%s is less than position's(id=%s) minimum amount=%s",
		e.Wanted, e.PositionID, e.MinAmount)
}
