package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/markethub/stock-saga/internal/core/domain"
)

type MySQLPositionRepository struct {
	db *sql.DB
}

func NewMySQLPositionRepository(db *sql.DB) *MySQLPositionRepository {
	return &MySQLPositionRepository{db: db}
}

func (r *MySQLPositionRepository) Get(ctx context.Context, id string) (*domain.Position, error) {
	var (
		pos       domain.Position
		amount    string
		minAmount string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, company_id, amount, min_amount, version, created_at, updated_at
		FROM positions WHERE id = ?`, id,
	).Scan(&pos.ID, &pos.CompanyID, &amount, &minAmount, &pos.Version, &pos.CreatedAt, &pos.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}

	if pos.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if pos.MinAmount, err = decimal.NewFromString(minAmount); err != nil {
		return nil, fmt.Errorf("parse min amount: %w", err)
	}

	return &pos, nil
}

func (r *MySQLPositionRepository) ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, newAmount decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE positions
		SET amount = ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ?`,
		newAmount.String(), id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Zero rows is either a concurrent writer or a missing row
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM positions WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrPositionNotFound
		}
		if err != nil {
			return fmt.Errorf("probe position: %w", err)
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func (r *MySQLPositionRepository) Create(ctx context.Context, pos domain.Position) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions (id, company_id, amount, min_amount, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())`,
		pos.ID, pos.CompanyID, pos.Amount.String(), pos.MinAmount.String(), pos.Version,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}
