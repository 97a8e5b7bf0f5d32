package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/merchantkit/ipn-engine/internal/models"
)

// ErrOrderNotFound is returned by Get when no record exists for the
// order yet.
var ErrOrderNotFound = errors.New("order record not found")

type OrderLedgerRepository struct {
	db *sql.DB
}

func NewOrderLedgerRepository(db *sql.DB) *OrderLedgerRepository {
	return &OrderLedgerRepository{db: db}
}

func (r *OrderLedgerRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS order_records (
			order_id VARCHAR(255) PRIMARY KEY,
			last_applied_status INT NOT NULL,
			fulfilled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_records_fulfilled ON order_records(fulfilled)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (r *OrderLedgerRepository) Get(ctx context.Context, orderID string) (*models.OrderRecord, error) {
	var record models.OrderRecord
	record.OrderID = orderID
	err := r.db.QueryRowContext(ctx, `
		SELECT last_applied_status, fulfilled, last_applied_at
		FROM order_records WHERE order_id = $1
	`, orderID).Scan(&record.LastAppliedStatus, &record.Fulfilled, &record.LastAppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *OrderLedgerRepository) EnsureSeen(ctx context.Context, orderID string, rawStatus int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_records (order_id, last_applied_status)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`, orderID, rawStatus)
	return err
}

// CommitStatus is a compare-and-swap on last_applied_status. A zero
// row count means a concurrent writer moved the record first; the
// caller re-reads and decides again.
func (r *OrderLedgerRepository) CommitStatus(ctx context.Context, orderID string, from, to int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE order_records
		SET last_applied_status = $1, last_applied_at = NOW()
		WHERE order_id = $2 AND last_applied_status = $3 AND fulfilled = FALSE
	`, to, orderID, from)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CommitFulfillment flips fulfilled in a single conditional UPDATE.
// Exactly one of any number of concurrent callers observes a row
// count of 1, which is what keys the at-most-once fulfillment hook.
func (r *OrderLedgerRepository) CommitFulfillment(ctx context.Context, orderID string, rawStatus int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE order_records
		SET last_applied_status = $1, fulfilled = TRUE, last_applied_at = NOW()
		WHERE order_id = $2 AND fulfilled = FALSE
	`, rawStatus, orderID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
