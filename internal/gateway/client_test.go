package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/merchantkit/ipn-engine/internal/gateway"
	"github.com/merchantkit/ipn-engine/internal/models"
)

func testPolicy() gateway.RetryPolicy {
	return gateway.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// recordedSleep captures the backoff schedule instead of waiting.
func recordedSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func writeVerifyResponse(t *testing.T, w http.ResponseWriter, result models.VerifyResult) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]any{"body": result})
	require.NoError(t, err)
}

func TestVerifyToken_RetriesOn500ThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment/verify", r.URL.Path)
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeVerifyResponse(t, w, models.VerifyResult{
			Token:       "tok-1",
			OrderID:     "ord-1",
			OrderStatus: 7,
		})
	}))
	defer server.Close()

	var delays []time.Duration
	client := gateway.NewClient(server.URL, "", server.Client(), testPolicy(), zap.NewNop()).
		WithSleep(recordedSleep(&delays))

	result, err := client.VerifyToken(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "ord-1", result.OrderID)
	require.Equal(t, 7, result.OrderStatus)
	require.EqualValues(t, 4, atomic.LoadInt32(&calls))

	// Exponential schedule 200ms/400ms/800ms within the 20% jitter.
	require.Len(t, delays, 3)
	for i, base := range []time.Duration{200, 400, 800} {
		base *= time.Millisecond
		require.InDelta(t, float64(base), float64(delays[i]), 0.2*float64(base),
			"delay %d out of jitter window", i)
	}
}

func TestVerifyToken_PermanentOn4xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	var delays []time.Duration
	client := gateway.NewClient(server.URL, "", server.Client(), testPolicy(), zap.NewNop()).
		WithSleep(recordedSleep(&delays))

	_, err := client.VerifyToken(context.Background(), "tok-bad")
	var permanent *gateway.PermanentError
	require.ErrorAs(t, err, &permanent)
	require.Equal(t, http.StatusUnauthorized, permanent.StatusCode)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx must not be retried")
	require.Empty(t, delays)
}

func TestVerifyToken_UnavailableAfterRetryBudget(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	policy := testPolicy()
	policy.MaxAttempts = 3

	var delays []time.Duration
	client := gateway.NewClient(server.URL, "", server.Client(), policy, zap.NewNop()).
		WithSleep(recordedSleep(&delays))

	_, err := client.VerifyToken(context.Background(), "tok-1")
	require.ErrorIs(t, err, gateway.ErrVerificationUnavailable)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
	require.Len(t, delays, 2)
}

func TestVerifyToken_SendsAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret-key", r.Header.Get("Api-Key"))
		writeVerifyResponse(t, w, models.VerifyResult{Token: "tok-1", OrderID: "ord-1", OrderStatus: 1})
	}))
	defer server.Close()

	client := gateway.NewClient(server.URL, "secret-key", server.Client(), testPolicy(), zap.NewNop())
	_, err := client.VerifyToken(context.Background(), "tok-1")
	require.NoError(t, err)
}

func TestRequestPayment_ReturnsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment/request", r.URL.Path)

		var request models.PaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		require.Equal(t, "ord-42", request.OrderID)
		require.Equal(t, "USD", request.FiatCurrency)

		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]any{
			"body": map[string]string{"token": "tok-new"},
		})
		require.NoError(t, err)
	}))
	defer server.Close()

	client := gateway.NewClient(server.URL, "", server.Client(), testPolicy(), zap.NewNop())
	token, err := client.RequestPayment(context.Background(), models.PaymentRequest{
		FiatAmount:   10,
		FiatCurrency: "USD",
		ReturnURL:    "https://merchant.example/return",
		OrderID:      "ord-42",
	})
	require.NoError(t, err)
	require.Equal(t, "tok-new", token)
}

func TestRequestPayment_GeneratesOrderID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request models.PaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		require.NotEmpty(t, request.OrderID)

		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]any{
			"body": map[string]string{"token": "tok-new"},
		})
		require.NoError(t, err)
	}))
	defer server.Close()

	client := gateway.NewClient(server.URL, "", server.Client(), testPolicy(), zap.NewNop())
	_, err := client.RequestPayment(context.Background(), models.PaymentRequest{FiatAmount: 10, FiatCurrency: "USD"})
	require.NoError(t, err)
}
