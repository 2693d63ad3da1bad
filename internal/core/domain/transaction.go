package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusInProgress TransactionStatus = "IN_PROGRESS"
	TransactionStatusSuccess    TransactionStatus = "SUCCESS"
	TransactionStatusFailed     TransactionStatus = "FAILED"
)

// Terminal reports whether the status is final. A transaction moves from
// IN_PROGRESS to exactly one terminal status and never leaves it.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusSuccess || s == TransactionStatusFailed
}

// OrderLine is one requested decrement against a Position. PositionVersion
// is the version the buyer observed at submission time; nil means the buyer
// supplied none.
type OrderLine struct {
	ID              string          `json:"id"`
	PositionID      string          `json:"positionId"`
	Amount          decimal.Decimal `json:"amount"`
	PositionVersion *int64          `json:"positionVersion"`
}

type UserTransaction struct {
	ID        string
	BuyerID   string
	Lines     []OrderLine
	Status    TransactionStatus
	CreatedAt time.Time
}
