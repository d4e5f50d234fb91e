// Package config читает настройки сервиса из переменных окружения.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBDriver     string
	PostgresConn string
	SQLitePath   string
	TxMaxRetries uint64

	ServerAddress    string
	LogLevel         string
	MetricsNamespace string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	PaymentTimeout     time.Duration
	PaymentMockLatency time.Duration

	OutboxInterval    time.Duration
	OutboxBatch       int
	OutboxMaxAttempts int

	RiskWindow            time.Duration
	RiskMediumThreshold   int
	RiskHighThreshold     int
	OffplatformHintWeight int

	TenderSweepInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DBDriver:         strings.ToLower(getenv("DB_DRIVER", "postgres")),
		PostgresConn:     os.Getenv("POSTGRES_CONN"),
		SQLitePath:       getenv("SQLITE_PATH", "marketplace.db"),
		ServerAddress:    getenv("SERVER_ADDRESS", "0.0.0.0:8080"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		MetricsNamespace: getenv("METRICS_NAMESPACE", "marketplace"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
	}

	var err error
	p := parser{}
	cfg.TxMaxRetries = uint64(p.int("TX_MAX_RETRIES", 3))
	cfg.RedisDB = p.int("REDIS_DB", 0)
	cfg.RedisTLS = p.bool("REDIS_TLS", false)
	cfg.PaymentTimeout = p.duration("PAYMENT_TIMEOUT", 5*time.Second)
	cfg.PaymentMockLatency = p.duration("PAYMENT_MOCK_LATENCY", 0)
	cfg.OutboxInterval = p.duration("OUTBOX_INTERVAL", 2*time.Second)
	cfg.OutboxBatch = p.int("OUTBOX_BATCH", 50)
	cfg.OutboxMaxAttempts = p.int("OUTBOX_MAX_ATTEMPTS", 5)
	cfg.RiskWindow = p.duration("RISK_WINDOW", 0)
	cfg.RiskMediumThreshold = p.int("RISK_MEDIUM_THRESHOLD", 5)
	cfg.RiskHighThreshold = p.int("RISK_HIGH_THRESHOLD", 10)
	cfg.OffplatformHintWeight = p.int("OFFPLATFORM_HINT_WEIGHT", 2)
	cfg.TenderSweepInterval = p.duration("TENDER_SWEEP_INTERVAL", time.Minute)
	if p.err != nil {
		return nil, p.err
	}

	switch cfg.DBDriver {
	case "postgres":
		if cfg.PostgresConn == "" {
			err = fmt.Errorf("POSTGRES_CONN env variable is not set")
		}
	case "sqlite":
	default:
		err = fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RiskMediumThreshold > cfg.RiskHighThreshold {
		return nil, fmt.Errorf("RISK_MEDIUM_THRESHOLD (%d) exceeds RISK_HIGH_THRESHOLD (%d)",
			cfg.RiskMediumThreshold, cfg.RiskHighThreshold)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parser запоминает первую ошибку разбора
type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		p.err = fmt.Errorf("%s must be a non-negative integer, got %q", key, raw)
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.err = fmt.Errorf("%s must be a boolean, got %q", key, raw)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" || p.err != nil {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		p.err = fmt.Errorf("%s must be a duration like 5s, got %q", key, raw)
		return def
	}
	return v
}
