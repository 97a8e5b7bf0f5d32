package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merchantkit/ipn-engine/internal/handlers"
	"github.com/merchantkit/ipn-engine/internal/interfaces"
	"github.com/merchantkit/ipn-engine/internal/service"
	"github.com/merchantkit/ipn-engine/internal/telemetry"
)

func NewRouter(ledger interfaces.OrderLedger, engine *service.Engine) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "ipn-engine"})
	})

	// IPN ingestion
	callbackHandler := handlers.NewCallbackHandler(engine)
	r.POST("/v1/callback", callbackHandler.HandleCallback)

	// Order state lookup
	stateHandler := handlers.NewOrderStateHandler(ledger)
	r.GET("/orders/:id/state", stateHandler.GetOrderState)

	return r
}
