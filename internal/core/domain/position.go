package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID        string
	CompanyID string
	Amount    decimal.Decimal // available quantity, never negative
	MinAmount decimal.Decimal // smallest acceptable order quantity
	Version   int64           // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}
