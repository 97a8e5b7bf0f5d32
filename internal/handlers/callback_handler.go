package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/merchantkit/ipn-engine/internal/gateway"
	"github.com/merchantkit/ipn-engine/internal/models"
	"github.com/merchantkit/ipn-engine/internal/service"
	"github.com/merchantkit/ipn-engine/internal/status"
	"github.com/merchantkit/ipn-engine/internal/telemetry"
)

// SignatureHeader carries the gateway's uppercase-hex HMAC of the body.
const SignatureHeader = "X-HMAC-SHA256-SIGNATURE"

type CallbackHandler struct {
	engine *service.Engine
}

func NewCallbackHandler(engine *service.Engine) *CallbackHandler {
	return &CallbackHandler{engine: engine}
}

// HandleCallback ingests one IPN delivery. The body is captured raw
// before any decoding: the signature covers the exact delivered bytes,
// and a decode failure must not short-circuit the signature check.
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	claim := models.InboundClaim{
		RawBody:         raw,
		SignatureHeader: c.GetHeader(SignatureHeader),
	}

	var body models.CallbackBody
	if err := json.Unmarshal(raw, &body); err == nil {
		claim.Token = body.Token
		claim.PaymentID = body.PaymentID
		claim.OrderID = body.OrderID
		claim.RawOrderStatus = body.OrderStatus
		claim.AdditionalData = body.AdditionalData
	}

	outcome, err := h.engine.Ingest(c.Request.Context(), claim)
	if err != nil {
		var unknown status.ErrUnknownStatus
		switch {
		case errors.Is(err, service.ErrInvalidSignature),
			errors.Is(err, service.ErrMalformedPayload),
			errors.As(err, &unknown):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, gateway.ErrVerificationUnavailable):
			// 502 so a well-behaved gateway redelivers; replay of the
			// same callback is idempotent.
			c.JSON(http.StatusBadGateway, gin.H{"error": "verification unavailable"})
		default:
			telemetry.Logger.Error("callback ingestion failed",
				zap.String("order_id", claim.OrderID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome":  string(outcome),
		"order_id": claim.OrderID,
	})
}
