package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/markethub/stock-saga/internal/core/domain"
)

type MySQLTransactionRepository struct {
	db *sql.DB
}

func NewMySQLTransactionRepository(db *sql.DB) *MySQLTransactionRepository {
	return &MySQLTransactionRepository{db: db}
}

func (r *MySQLTransactionRepository) Create(ctx context.Context, utx domain.UserTransaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, buyer_id, status, created_at)
		VALUES (?, ?, ?, ?)`,
		utx.ID, utx.BuyerID, utx.Status, utx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	for seq, line := range utx.Lines {
		var version sql.NullInt64
		if line.PositionVersion != nil {
			version = sql.NullInt64{Int64: *line.PositionVersion, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transaction_lines (id, transaction_id, seq, position_id, amount, position_version)
			VALUES (?, ?, ?, ?, ?, ?)`,
			line.ID, utx.ID, seq, line.PositionID, line.Amount.String(), version,
		)
		if err != nil {
			return fmt.Errorf("insert transaction line: %w", err)
		}
	}

	return tx.Commit()
}

func (r *MySQLTransactionRepository) UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET status = ?
		WHERE id = ? AND status = ?`,
		status, id, domain.TransactionStatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("update transaction status: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *MySQLTransactionRepository) Get(ctx context.Context, id string) (*domain.UserTransaction, error) {
	var utx domain.UserTransaction
	err := r.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, status, created_at
		FROM transactions WHERE id = ?`, id,
	).Scan(&utx.ID, &utx.BuyerID, &utx.Status, &utx.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}

	if utx.Lines, err = r.lines(ctx, id); err != nil {
		return nil, err
	}
	return &utx, nil
}

func (r *MySQLTransactionRepository) ListByBuyer(ctx context.Context, buyerID string, page, pageSize int) ([]domain.UserTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, buyer_id, status, created_at
		FROM transactions WHERE buyer_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		buyerID, pageSize, page*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.UserTransaction
	for rows.Next() {
		var utx domain.UserTransaction
		if err := rows.Scan(&utx.ID, &utx.BuyerID, &utx.Status, &utx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, utx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	for i := range txs {
		if txs[i].Lines, err = r.lines(ctx, txs[i].ID); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

func (r *MySQLTransactionRepository) lines(ctx context.Context, txID string) ([]domain.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, position_id, amount, position_version
		FROM transaction_lines WHERE transaction_id = ?
		ORDER BY seq`, txID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transaction lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var (
			line    domain.OrderLine
			amount  string
			version sql.NullInt64
		)
		if err := rows.Scan(&line.ID, &line.PositionID, &amount, &version); err != nil {
			return nil, fmt.Errorf("scan transaction line: %w", err)
		}
		if line.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse line amount: %w", err)
		}
		if version.Valid {
			v := version.Int64
			line.PositionVersion = &v
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction lines: %w", err)
	}
	return lines, nil
}
