package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exposed through the router's /metrics endpoint.
var (
	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipn_callbacks_total",
		Help: "Inbound IPN callbacks by ingestion outcome.",
	}, []string{"outcome"})

	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipn_signature_failures_total",
		Help: "Callbacks rejected for an invalid HMAC signature.",
	})

	VerifyRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipn_verify_retries_total",
		Help: "Retried attempts against the gateway verify endpoint.",
	})

	Fulfillments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipn_fulfillments_total",
		Help: "Orders fulfilled (hook fired).",
	})

	FinalizeNegative = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipn_finalize_negative_total",
		Help: "Orders finalized negative (timeout, cancel, reject).",
	})
)
