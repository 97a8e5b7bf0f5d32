package models

import "time"

// KV is one entry of the gateway's AdditionalData list. The gateway
// delivers it as an ordered sequence, so it is kept as a slice rather
// than a map.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// InboundClaim is one IPN callback as delivered by the gateway. It
// lives only for the duration of a single ingestion. RawBody holds the
// exact bytes the signature was computed over.
type InboundClaim struct {
	Token           string
	PaymentID       string
	OrderID         string
	RawOrderStatus  int
	AdditionalData  []KV
	RawBody         []byte
	SignatureHeader string
}

// CallbackBody is the wire shape of the IPN payload. Field names match
// the gateway exactly.
type CallbackBody struct {
	Token          string `json:"Token"`
	PaymentID      string `json:"PaymentId"`
	OrderID        string `json:"OrderId"`
	OrderStatus    int    `json:"OrderStatus"`
	AdditionalData []KV   `json:"AdditionalData"`
}

// VerifyResult is the authoritative payment state returned by the
// gateway's verify endpoint. Fulfillment decisions are keyed on this,
// never on the callback body.
type VerifyResult struct {
	Token          string `json:"token"`
	OrderID        string `json:"orderId"`
	OrderStatus    int    `json:"orderStatus"`
	AdditionalData []KV   `json:"additionalData"`
}

// PaymentRequest is the merchant-side request that opens a payment
// session with the gateway.
type PaymentRequest struct {
	FiatAmount   float64 `json:"fiatAmount"`
	FiatCurrency string  `json:"fiatCurrency"`
	ReturnURL    string  `json:"returnUrl"`
	OrderID      string  `json:"orderId"`
	RiskSpeed    int     `json:"riskSpeed"`
}

// OrderRecord is the durable per-order state owned by the ledger.
// Fulfilled flips to true at most once in the record's lifetime.
type OrderRecord struct {
	OrderID           string
	LastAppliedStatus int
	LastAppliedAt     time.Time
	Fulfilled         bool
}
