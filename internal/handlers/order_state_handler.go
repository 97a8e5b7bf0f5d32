package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/merchantkit/ipn-engine/internal/interfaces"
	"github.com/merchantkit/ipn-engine/internal/repository"
	"github.com/merchantkit/ipn-engine/internal/status"
)

type OrderStateHandler struct {
	ledger interfaces.OrderLedger
}

func NewOrderStateHandler(ledger interfaces.OrderLedger) *OrderStateHandler {
	return &OrderStateHandler{ledger: ledger}
}

func (h *OrderStateHandler) GetOrderState(c *gin.Context) {
	orderID := c.Param("id")

	record, err := h.ledger.Get(c.Request.Context(), orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch order state"})
		return
	}

	applied, parseErr := status.Parse(record.LastAppliedStatus)
	appliedName := "UNKNOWN"
	if parseErr == nil {
		appliedName = applied.String()
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":        orderID,
		"status":          appliedName,
		"status_code":     record.LastAppliedStatus,
		"fulfilled":       record.Fulfilled,
		"last_applied_at": record.LastAppliedAt,
	})
}
