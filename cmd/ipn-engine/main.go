package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/merchantkit/ipn-engine/internal/alerts"
	"github.com/merchantkit/ipn-engine/internal/api"
	"github.com/merchantkit/ipn-engine/internal/config"
	"github.com/merchantkit/ipn-engine/internal/gateway"
	"github.com/merchantkit/ipn-engine/internal/repository"
	"github.com/merchantkit/ipn-engine/internal/service"
	"github.com/merchantkit/ipn-engine/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize telemetry
	if err := telemetry.InitTelemetry("ipn-engine", cfg.OTLPEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting IPN Engine")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize order ledger
	ledger := repository.NewOrderLedgerRepository(db)
	if err := ledger.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Per-order locking: redis when configured, in-process otherwise
	var locker service.OrderLocker = service.NewKeyedMutexLocker()
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		locker = service.NewRedisOrderLocker(redisClient)
	}

	// Operator alerting over NATS
	var alerter alerts.Alerter = alerts.Noop{}
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		alerter = alerts.NewNATSAlerter(nc, telemetry.Logger)
	}

	// Status-change events to Kafka
	var kafkaWriter *kafka.Writer
	if cfg.KafkaBrokers != "" {
		kafkaWriter = &kafka.Writer{
			Addr:     kafka.TCP(cfg.KafkaBrokers),
			Topic:    "payment.status.applied",
			Balancer: &kafka.LeastBytes{},
		}
		defer kafkaWriter.Close()
	}

	// Gateway verify client
	policy := gateway.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.VerifyMaxAttempts
	policy.BaseDelay = cfg.VerifyBaseDelay
	policy.MaxDelay = cfg.VerifyMaxDelay
	verifier := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, nil, policy, telemetry.Logger)

	// Ingestion engine
	engine := service.NewEngine(
		ledger,
		verifier,
		locker,
		service.LogHooks{Logger: telemetry.Logger},
		alerter,
		kafkaWriter,
		[]byte(cfg.IPNSecret),
		telemetry.Logger,
		cfg.VerifyConcurrency,
	)

	// Setup HTTP server
	r := api.NewRouter(ledger, engine)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("IPN Engine starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
