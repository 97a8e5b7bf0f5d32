package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/merchantkit/ipn-engine/internal/status"
)

// LogHooks is the default Hooks wiring: it only records the event.
// Merchants replace it with their own fulfillment logic; the engine
// guarantees each method fires at most once per order transition.
type LogHooks struct {
	Logger *zap.Logger
}

func (h LogHooks) OnFulfilled(_ context.Context, orderID string) error {
	h.Logger.Info("fulfillment hook", zap.String("order_id", orderID))
	return nil
}

func (h LogHooks) OnFinalizedNegative(_ context.Context, orderID string, s status.Status) error {
	h.Logger.Info("finalize-negative hook",
		zap.String("order_id", orderID),
		zap.String("status", s.String()),
	)
	return nil
}
