package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/merchantkit/ipn-engine/internal/alerts"
	"github.com/merchantkit/ipn-engine/internal/gateway"
	"github.com/merchantkit/ipn-engine/internal/interfaces"
	"github.com/merchantkit/ipn-engine/internal/metrics"
	"github.com/merchantkit/ipn-engine/internal/models"
	"github.com/merchantkit/ipn-engine/internal/signature"
	"github.com/merchantkit/ipn-engine/internal/status"
)

var (
	// ErrInvalidSignature rejects a callback whose HMAC does not match.
	// Fail closed: nothing is written to the ledger.
	ErrInvalidSignature = errors.New("invalid callback signature")

	// ErrMalformedPayload rejects a callback missing its correlation
	// fields.
	ErrMalformedPayload = errors.New("malformed callback payload")

	// errLedgerConflict signals a lost compare-and-swap. Retried
	// internally, never surfaced.
	errLedgerConflict = errors.New("ledger conflict")
)

// Outcome is the result of ingesting one callback.
type Outcome string

const (
	OutcomeFulfilled         Outcome = "fulfilled"
	OutcomeFinalizedNegative Outcome = "finalized_negative"
	OutcomeProgressed        Outcome = "progressed"
	OutcomeDuplicateIgnored  Outcome = "duplicate_ignored"
)

// Verifier is the authoritative confirmation source. The IPN body is
// only a hint; fulfillment is keyed on what this returns.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (models.VerifyResult, error)
}

// Hooks receive at-most-once business notifications per order.
type Hooks interface {
	OnFulfilled(ctx context.Context, orderID string) error
	OnFinalizedNegative(ctx context.Context, orderID string, s status.Status) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Engine ingests IPN callbacks: verify signature, parse claim, confirm
// against the gateway, reconcile with the ledger under a per-order
// lock, and fire hooks exactly once per (order, transition).
type Engine struct {
	ledger   interfaces.OrderLedger
	verifier Verifier
	locker   OrderLocker
	hooks    Hooks
	alerter  alerts.Alerter
	events   messageWriter
	secret   []byte
	logger   *zap.Logger

	verifySlots chan struct{}
}

func NewEngine(
	ledger interfaces.OrderLedger,
	verifier Verifier,
	locker OrderLocker,
	hooks Hooks,
	alerter alerts.Alerter,
	events messageWriter,
	secret []byte,
	logger *zap.Logger,
	verifyLimit int,
) *Engine {
	if verifyLimit <= 0 {
		verifyLimit = 16
	}
	// Wiring hands over a typed-nil *kafka.Writer when no brokers are
	// configured. Stored in the interface it would slip past the nil
	// guard in publish, so normalize it to absent here.
	if w, ok := events.(*kafka.Writer); ok && w == nil {
		events = nil
	}
	return &Engine{
		ledger:      ledger,
		verifier:    verifier,
		locker:      locker,
		hooks:       hooks,
		alerter:     alerter,
		events:      events,
		secret:      secret,
		logger:      logger,
		verifySlots: make(chan struct{}, verifyLimit),
	}
}

// Ingest processes one inbound callback to completion.
func (e *Engine) Ingest(ctx context.Context, claim models.InboundClaim) (Outcome, error) {
	if !signature.Verify(claim.RawBody, claim.SignatureHeader, e.secret) {
		metrics.SignatureFailures.Inc()
		metrics.CallbacksTotal.WithLabelValues("invalid_signature").Inc()
		e.auditReject(claim, false)
		return "", ErrInvalidSignature
	}

	if claim.Token == "" || claim.OrderID == "" {
		metrics.CallbacksTotal.WithLabelValues("malformed").Inc()
		e.auditReject(claim, true)
		return "", ErrMalformedPayload
	}

	// The claim's own status is parsed up front so a forged or future
	// code is rejected before any outbound call, but it only serves as
	// a logging hint below.
	hint, err := status.Parse(claim.RawOrderStatus)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("unknown_status").Inc()
		e.auditReject(claim, true)
		return "", err
	}

	select {
	case e.verifySlots <- struct{}{}:
		defer func() { <-e.verifySlots }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	result, err := e.verifier.VerifyToken(ctx, claim.Token)
	if err != nil {
		if errors.Is(err, gateway.ErrVerificationUnavailable) {
			metrics.CallbacksTotal.WithLabelValues("verify_unavailable").Inc()
			e.logger.Error("verification unavailable, order left unconfirmed",
				zap.String("order_id", claim.OrderID),
				zap.String("token", claim.Token),
				zap.Error(err),
			)
			e.alerter.VerifyUnavailable(ctx, claim.OrderID, claim.Token, err.Error())
		}
		return "", err
	}

	verified, err := status.Parse(result.OrderStatus)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("unknown_status").Inc()
		e.logger.Error("verify response carries unknown status",
			zap.String("order_id", result.OrderID),
			zap.Int("raw_status", result.OrderStatus),
		)
		return "", err
	}

	orderID := result.OrderID
	if orderID == "" {
		orderID = claim.OrderID
	}

	if verified != hint {
		e.logger.Info("callback status differs from verified status",
			zap.String("order_id", orderID),
			zap.String("claimed", hint.String()),
			zap.String("verified", verified.String()),
		)
	}

	unlock, err := e.locker.Lock(ctx, orderID)
	if err != nil {
		return "", err
	}
	defer unlock()

	if err := e.ledger.EnsureSeen(ctx, orderID, int(status.Initialize)); err != nil {
		return "", err
	}

	outcome, err := e.apply(ctx, orderID, verified)
	if errors.Is(err, errLedgerConflict) {
		// Another writer (other process, no shared lock) moved the
		// record between read and write. One re-read settles it.
		outcome, err = e.apply(ctx, orderID, verified)
		if errors.Is(err, errLedgerConflict) {
			outcome, err = OutcomeDuplicateIgnored, nil
		}
	}
	if err != nil {
		return "", err
	}

	metrics.CallbacksTotal.WithLabelValues(string(outcome)).Inc()
	if outcome == OutcomeDuplicateIgnored {
		e.logger.Info("duplicate callback ignored",
			zap.String("order_id", orderID),
			zap.String("verified", verified.String()),
		)
	}
	return outcome, nil
}

// apply holds the reconciliation rules. Callers own the per-order
// lock; the conditional writes in the ledger stay the last line of
// defense against writers outside this lock's scope.
func (e *Engine) apply(ctx context.Context, orderID string, verified status.Status) (Outcome, error) {
	record, err := e.ledger.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if record.Fulfilled {
		return OutcomeDuplicateIgnored, nil
	}

	if verified.IsFulfillmentTrigger() {
		rows, err := e.ledger.CommitFulfillment(ctx, orderID, int(verified))
		if err != nil {
			return "", err
		}
		if rows == 0 {
			return OutcomeDuplicateIgnored, nil
		}
		metrics.Fulfillments.Inc()
		e.publish(ctx, orderID, verified, OutcomeFulfilled)
		e.logger.Info("order fulfilled",
			zap.String("order_id", orderID),
			zap.String("status", verified.String()),
		)
		if err := e.hooks.OnFulfilled(ctx, orderID); err != nil {
			// The commit already won; the hook cannot double-fire on
			// replay. Left to the hook owner to reconcile.
			e.logger.Error("fulfillment hook failed after commit",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
		return OutcomeFulfilled, nil
	}

	applied, err := status.Parse(record.LastAppliedStatus)
	if err != nil {
		return "", err
	}

	if verified.IsTerminalNegative() {
		// Terminal-negative is sticky: once the order timed out or was
		// rejected, later transients and repeat negatives are no-ops.
		if applied.IsTerminal() {
			return OutcomeDuplicateIgnored, nil
		}
		rows, err := e.ledger.CommitStatus(ctx, orderID, int(applied), int(verified))
		if err != nil {
			return "", err
		}
		if rows == 0 {
			return "", errLedgerConflict
		}
		metrics.FinalizeNegative.Inc()
		e.publish(ctx, orderID, verified, OutcomeFinalizedNegative)
		e.logger.Info("order finalized negative",
			zap.String("order_id", orderID),
			zap.String("status", verified.String()),
		)
		if err := e.hooks.OnFinalizedNegative(ctx, orderID, verified); err != nil {
			e.logger.Error("finalize-negative hook failed after commit",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
		return OutcomeFinalizedNegative, nil
	}

	// Transient: record forward progress only.
	if applied.IsTerminal() || verified.Rank() <= applied.Rank() {
		return OutcomeDuplicateIgnored, nil
	}
	rows, err := e.ledger.CommitStatus(ctx, orderID, int(applied), int(verified))
	if err != nil {
		return "", err
	}
	if rows == 0 {
		return "", errLedgerConflict
	}
	e.publish(ctx, orderID, verified, OutcomeProgressed)
	return OutcomeProgressed, nil
}

func (e *Engine) publish(ctx context.Context, orderID string, s status.Status, outcome Outcome) {
	if e.events == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"order_id":  orderID,
		"status":    s.String(),
		"outcome":   string(outcome),
		"timestamp": time.Now().UTC(),
	})
	if err := e.events.WriteMessages(ctx, kafka.Message{
		Key:   []byte(orderID),
		Value: payload,
	}); err != nil {
		e.logger.Error("failed to publish status event",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

func (e *Engine) auditReject(claim models.InboundClaim, signatureValid bool) {
	e.logger.Warn("callback rejected",
		zap.String("order_id", claim.OrderID),
		zap.String("token", claim.Token),
		zap.Bool("signature_valid", signatureValid),
		zap.Int("raw_status", claim.RawOrderStatus),
	)
}
