package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v8"
)

type Config struct {
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisURL       string `env:"REDIS_URL"`
	KafkaBrokers   string `env:"KAFKA_BROKERS"`
	NatsURL        string `env:"NATS_URL"`
	GatewayBaseURL string `env:"GATEWAY_BASE_URL"`
	GatewayAPIKey  string `env:"GATEWAY_API_KEY"`
	IPNSecret      string `env:"IPN_SECRET"`
	OTLPEndpoint   string `env:"OTLP_ENDPOINT"`
	Port           string `env:"PORT" envDefault:"8082"`

	VerifyMaxAttempts int           `env:"VERIFY_MAX_ATTEMPTS" envDefault:"5"`
	VerifyBaseDelay   time.Duration `env:"VERIFY_BASE_DELAY" envDefault:"200ms"`
	VerifyMaxDelay    time.Duration `env:"VERIFY_MAX_DELAY" envDefault:"5s"`
	VerifyConcurrency int           `env:"VERIFY_CONCURRENCY" envDefault:"16"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("missing DATABASE_URL")
	}
	if cfg.GatewayBaseURL == "" {
		return nil, errors.New("missing GATEWAY_BASE_URL")
	}
	if cfg.IPNSecret == "" {
		return nil, errors.New("missing IPN_SECRET")
	}

	return cfg, nil
}
