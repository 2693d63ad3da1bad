package port

import (
	"context"

	"github.com/markethub/stock-saga/internal/core/domain"
)

type TransactionRepository interface {
	// Create persists a new transaction together with its order lines
	Create(ctx context.Context, tx domain.UserTransaction) error

	// UpdateStatus moves a transaction to a terminal status, but only while
	// it is still IN_PROGRESS. Returns false when no row changed, which
	// covers both an unknown id and an already-terminal transaction.
	UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus) (bool, error)

	// Get retrieves one transaction with its lines in submission order
	Get(ctx context.Context, id string) (*domain.UserTransaction, error)

	// ListByBuyer returns a buyer's transactions newest first
	ListByBuyer(ctx context.Context, buyerID string, page, pageSize int) ([]domain.UserTransaction, error)
}
