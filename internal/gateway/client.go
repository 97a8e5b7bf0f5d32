package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/merchantkit/ipn-engine/internal/metrics"
	"github.com/merchantkit/ipn-engine/internal/models"
)

// ErrVerificationUnavailable is returned once the retry budget for the
// verify endpoint is exhausted. The order stays unconfirmed and the
// caller must surface the condition to an operator.
var ErrVerificationUnavailable = errors.New("verification unavailable")

// PermanentError is a 4xx from the gateway: bad token, auth failure.
// Never retried.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("gateway rejected request: status %d: %s", e.StatusCode, e.Body)
}

// RetryPolicy controls the verify-call backoff schedule. Transport and
// 5xx failures are retried; 4xx responses are permanent. The jitter
// keeps a burst of callbacks from hammering the gateway in lockstep.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = p.Multiplier
	bo.MaxInterval = p.MaxDelay
	bo.RandomizationFactor = p.Jitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Client talks to the gateway's REST API. BaseURL is overridable so
// tests can point it at an httptest server.
type Client struct {
	BaseURL string
	APIKey  string
	Policy  RetryPolicy

	httpClient *http.Client
	logger     *zap.Logger

	// sleep is swapped out in tests to assert the backoff schedule
	// without waiting for it.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(baseURL, apiKey string, httpClient *http.Client, policy RetryPolicy, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Policy:     policy,
		httpClient: httpClient,
		logger:     logger,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithSleep replaces the inter-attempt sleep. Test hook.
func (c *Client) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Client {
	c.sleep = sleep
	return c
}

type verifyEnvelope struct {
	Body models.VerifyResult `json:"body"`
}

// VerifyToken asks the gateway for the authoritative state of a
// payment session. This call, not the IPN body, decides fulfillment.
func (c *Client) VerifyToken(ctx context.Context, token string) (models.VerifyResult, error) {
	bo := c.Policy.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= c.Policy.MaxAttempts; attempt++ {
		result, err := c.doVerify(ctx, token)
		if err == nil {
			return result, nil
		}

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			return models.VerifyResult{}, err
		}

		lastErr = err
		if attempt == c.Policy.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		metrics.VerifyRetries.Inc()
		c.logger.Warn("verify call failed, retrying",
			zap.String("token", token),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return models.VerifyResult{}, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
		}
	}

	return models.VerifyResult{}, fmt.Errorf("%w: %v", ErrVerificationUnavailable, lastErr)
}

func (c *Client) doVerify(ctx context.Context, token string) (models.VerifyResult, error) {
	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return models.VerifyResult{}, err
	}

	resp, err := c.post(ctx, "/v1/payment/verify", payload)
	if err != nil {
		return models.VerifyResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.VerifyResult{}, err
	}

	if err := classify(resp.StatusCode, body); err != nil {
		return models.VerifyResult{}, err
	}

	var envelope verifyEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return models.VerifyResult{}, &PermanentError{StatusCode: resp.StatusCode, Body: "undecodable verify response"}
	}
	return envelope.Body, nil
}

type requestEnvelope struct {
	Body struct {
		Token string `json:"token"`
	} `json:"body"`
}

// RequestPayment opens a payment session and returns the gateway
// token. Thin collaborator call, no retry loop: the merchant backend
// reacts to a failure directly.
func (c *Client) RequestPayment(ctx context.Context, request models.PaymentRequest) (string, error) {
	if request.OrderID == "" {
		request.OrderID = uuid.NewString()
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return "", err
	}

	resp, err := c.post(ctx, "/v1/payment/request", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if err := classify(resp.StatusCode, body); err != nil {
		return "", err
	}

	var envelope requestEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("undecodable payment request response: %w", err)
	}
	if envelope.Body.Token == "" {
		return "", errors.New("payment request response carries no token")
	}
	return envelope.Body.Token, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Api-Key", c.APIKey)
	}
	return c.httpClient.Do(req)
}

// classify maps a gateway HTTP status to the retry taxonomy: 2xx is
// success, 4xx is permanent, everything else is retryable.
func classify(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests:
		return &PermanentError{StatusCode: statusCode, Body: string(body)}
	default:
		return fmt.Errorf("gateway responded %d", statusCode)
	}
}
