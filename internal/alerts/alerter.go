package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Alerter surfaces orders whose verify retries were exhausted: the
// merchant then holds an unconfirmed claim and an operator has to look.
type Alerter interface {
	VerifyUnavailable(ctx context.Context, orderID, token, reason string)
}

const subjectVerifyUnavailable = "payments.alerts.verify"

// NATSAlerter publishes verification alerts for the on-call tooling.
type NATSAlerter struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewNATSAlerter(conn *nats.Conn, logger *zap.Logger) *NATSAlerter {
	return &NATSAlerter{conn: conn, logger: logger}
}

func (a *NATSAlerter) VerifyUnavailable(_ context.Context, orderID, token, reason string) {
	payload, err := json.Marshal(map[string]any{
		"order_id":  orderID,
		"token":     token,
		"reason":    reason,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		a.logger.Error("failed to marshal verify alert", zap.Error(err))
		return
	}
	if err := a.conn.Publish(subjectVerifyUnavailable, payload); err != nil {
		// The alert itself is best-effort; the rejection already
		// reached the gateway as a retryable error.
		a.logger.Error("failed to publish verify alert",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

// Noop is used when NATS is not configured.
type Noop struct{}

func (Noop) VerifyUnavailable(context.Context, string, string, string) {}
