// Package config handles application configuration.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/hkdf"

	"github.com/jmylchreest/ledger-api/internal/database"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int    `env:"PORT"     envDefault:"8080"`
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Database. The driver is inferred from the URL when not set.
	DatabaseURL    string `env:"DATABASE_URL"     envDefault:"file:ledger.db?_journal=WAL&_timeout=5000"`
	DatabaseDriver string `env:"DATABASE_DRIVER"`
	TursoURL       string `env:"TURSO_URL"`
	TursoAuthToken string `env:"TURSO_AUTH_TOKEN"`

	// Exit after migrating instead of serving.
	MigrateOnly bool `env:"MIGRATE_ONLY" envDefault:"false"`

	// CORS
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Requests per minute per client IP, 0 disables.
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`

	// Webhooks
	WebhookSecret  string        `env:"WEBHOOK_SECRET"`
	WebhookTimeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"30s"`
	WebhookRetries int           `env:"WEBHOOK_RETRIES" envDefault:"3"`

	// WebhookSigningKey is derived from WebhookSecret.
	WebhookSigningKey []byte `env:"-"`

	// Worker
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY"   envDefault:"3"`
	WorkerBatchSize    int           `env:"WORKER_BATCH_SIZE"    envDefault:"50"`

	// IdleTimeout stops the server after this long without requests or
	// deliveries. 0 disables it.
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads configuration from environ, or from the process environment
// when environ is nil.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = database.InferDriver(cfg.DatabaseURL)
	}
	if _, err := database.DialectFor(cfg.DatabaseDriver); err != nil {
		return nil, fmt.Errorf("DATABASE_DRIVER: %w", err)
	}

	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerBatchSize < 1 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be at least 1, got %d", cfg.WorkerBatchSize)
	}
	if cfg.WebhookRetries < 1 {
		return nil, fmt.Errorf("WEBHOOK_RETRIES must be at least 1, got %d", cfg.WebhookRetries)
	}

	// Without a configured secret signatures are still produced, but receivers
	// cannot verify them across restarts.
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = generateRandomSecret(32)
	}
	cfg.WebhookSigningKey = deriveSigningKey(cfg.WebhookSecret)

	return cfg, nil
}

// DatabaseOptions returns the options database.Open needs.
func (c *Config) DatabaseOptions() database.Options {
	return database.Options{
		Driver:         c.DatabaseDriver,
		DSN:            c.DatabaseURL,
		TursoURL:       c.TursoURL,
		TursoAuthToken: c.TursoAuthToken,
	}
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "ledger-secret-change-me-" + base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// deriveSigningKey creates a 32-byte HMAC key for webhook signatures from a
// secret string using HKDF-SHA256.
func deriveSigningKey(secret string) []byte {
	salt := []byte("ledger-api-webhook-key-v1")
	info := []byte("webhook-hmac-sha256")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
