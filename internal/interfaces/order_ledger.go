package interfaces

import (
	"context"

	"github.com/merchantkit/ipn-engine/internal/models"
)

// OrderLedger defines the contract for durable order-state access. The
// ledger is the durability boundary for idempotency: every commit is a
// conditional write, and fulfillment can be won by exactly one caller
// per order across processes and restarts.
type OrderLedger interface {
	// Get returns the record for orderID, or ErrOrderNotFound.
	Get(ctx context.Context, orderID string) (*models.OrderRecord, error)

	// EnsureSeen creates the record with the given status if it does
	// not exist yet. Existing records are left untouched.
	EnsureSeen(ctx context.Context, orderID string, rawStatus int) error

	// CommitStatus applies a status transition guarded by the current
	// status. Returns the number of rows changed: 0 means another
	// writer moved the record first.
	CommitStatus(ctx context.Context, orderID string, from, to int) (int64, error)

	// CommitFulfillment marks the order fulfilled, guarded by
	// fulfilled = FALSE. Returns 1 only for the single winning caller.
	CommitFulfillment(ctx context.Context, orderID string, rawStatus int) (int64, error)
}
