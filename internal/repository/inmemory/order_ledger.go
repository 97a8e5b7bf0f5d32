package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/merchantkit/ipn-engine/internal/models"
	"github.com/merchantkit/ipn-engine/internal/repository"
)

// OrderLedger keeps order records in process memory with the same
// conditional-write semantics as the postgres ledger. It does not
// survive a restart, so it is only suitable for tests and local runs;
// production deployments need the durable ledger for the at-most-once
// guarantee to hold across processes.
type OrderLedger struct {
	mu      sync.Mutex
	records map[string]*models.OrderRecord
}

func NewOrderLedger() *OrderLedger {
	return &OrderLedger{records: make(map[string]*models.OrderRecord)}
}

func (l *OrderLedger) Get(_ context.Context, orderID string) (*models.OrderRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	copied := *record
	return &copied, nil
}

func (l *OrderLedger) EnsureSeen(_ context.Context, orderID string, rawStatus int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[orderID]; !ok {
		l.records[orderID] = &models.OrderRecord{
			OrderID:           orderID,
			LastAppliedStatus: rawStatus,
			LastAppliedAt:     time.Now(),
		}
	}
	return nil
}

func (l *OrderLedger) CommitStatus(_ context.Context, orderID string, from, to int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[orderID]
	if !ok || record.Fulfilled || record.LastAppliedStatus != from {
		return 0, nil
	}
	record.LastAppliedStatus = to
	record.LastAppliedAt = time.Now()
	return 1, nil
}

func (l *OrderLedger) CommitFulfillment(_ context.Context, orderID string, rawStatus int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[orderID]
	if !ok || record.Fulfilled {
		return 0, nil
	}
	record.LastAppliedStatus = rawStatus
	record.Fulfilled = true
	record.LastAppliedAt = time.Now()
	return 1, nil
}
