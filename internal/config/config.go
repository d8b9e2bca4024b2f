package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/carticy-dev/agentic-checkout/pkg/config"
	"github.com/carticy-dev/agentic-checkout/pkg/database"
)

// Config holds all configuration for the checkout service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CHECKOUT_HTTP_PORT" envDefault:"8010"`

	// TestMode relaxes transport checks for local development: TLS presence
	// is not enforced and an unreachable allowlist source fails open.
	TestMode bool `env:"CHECKOUT_TEST_MODE" envDefault:"false"`

	// Protocol versioning. Requests without an API-Version header are
	// treated as this version.
	APIVersion string `env:"CHECKOUT_API_VERSION" envDefault:"2026-02-20"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"checkout"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"checkout_secret"`
	PostgresDB   string `env:"CHECKOUT_DB_NAME" envDefault:"checkout_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis (idempotency ledger backend and rate limiter state)
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka (reporting event stream)
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaTopic   string   `env:"CHECKOUT_KAFKA_TOPIC" envDefault:"checkout.events"`

	// Access gate. TrustedProxies lists load-balancer CIDRs whose forwarding
	// headers are honored.
	APICredentials    []string      `env:"CHECKOUT_API_CREDENTIALS,required" envSeparator:","`
	TrustedProxies    []string      `env:"CHECKOUT_TRUSTED_PROXIES" envDefault:"" envSeparator:","`
	AllowlistURL      string        `env:"CHECKOUT_ALLOWLIST_URL" envDefault:""`
	AllowlistRefresh  time.Duration `env:"CHECKOUT_ALLOWLIST_REFRESH" envDefault:"5m"`
	RateLimitPerSec   float64       `env:"CHECKOUT_RATE_LIMIT_PER_SEC" envDefault:"10"`
	RateLimitBurst    int           `env:"CHECKOUT_RATE_LIMIT_BURST" envDefault:"20"`
	RateLimitIdleTTL  time.Duration `env:"CHECKOUT_RATE_LIMIT_IDLE_TTL" envDefault:"10m"`

	// Session lifecycle
	SessionTTL     time.Duration `env:"CHECKOUT_SESSION_TTL" envDefault:"24h"`
	AbandonedAfter time.Duration `env:"CHECKOUT_ABANDONED_AFTER" envDefault:"1h"`
	SweepInterval  time.Duration `env:"CHECKOUT_SWEEP_INTERVAL" envDefault:"60s"`
	SweepBatchSize int           `env:"CHECKOUT_SWEEP_BATCH_SIZE" envDefault:"100"`

	// Idempotency ledger
	IdempotencyTTL time.Duration `env:"CHECKOUT_IDEMPOTENCY_TTL" envDefault:"24h"`

	// Pricing rules. Discount codes are CODE=amount pairs in minor units.
	TaxBasisPoints int      `env:"CHECKOUT_TAX_BASIS_POINTS" envDefault:"0"`
	DiscountCodes  []string `env:"CHECKOUT_DISCOUNT_CODES" envDefault:"" envSeparator:","`

	// Payment gateway
	GatewayBaseURL       string        `env:"PAYMENT_GATEWAY_URL" envDefault:""`
	GatewayAPIKey        string        `env:"PAYMENT_GATEWAY_API_KEY" envDefault:""`
	GatewayTimeout       time.Duration `env:"PAYMENT_GATEWAY_TIMEOUT" envDefault:"10s"`
	GatewayDefaultMethod string        `env:"PAYMENT_GATEWAY_DEFAULT_METHOD" envDefault:""`

	// Webhook dispatch
	WebhookURL           string        `env:"CHECKOUT_WEBHOOK_URL" envDefault:""`
	WebhookSecret        string        `env:"CHECKOUT_WEBHOOK_SECRET" envDefault:""`
	WebhookMaxAttempts   int           `env:"CHECKOUT_WEBHOOK_MAX_ATTEMPTS" envDefault:"8"`
	WebhookInitialDelay  time.Duration `env:"CHECKOUT_WEBHOOK_INITIAL_DELAY" envDefault:"1s"`
	WebhookMaxDelay      time.Duration `env:"CHECKOUT_WEBHOOK_MAX_DELAY" envDefault:"5m"`
	WebhookQueueCapacity int           `env:"CHECKOUT_WEBHOOK_QUEUE_CAPACITY" envDefault:"1024"`

	// Tracing
	TracingEnabled  bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint    string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load checkout config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if len(c.APICredentials) == 0 {
		return fmt.Errorf("at least one API credential is required")
	}
	if c.AbandonedAfter >= c.SessionTTL {
		return fmt.Errorf("abandoned threshold (%s) must be shorter than session TTL (%s)", c.AbandonedAfter, c.SessionTTL)
	}
	if c.RateLimitPerSec <= 0 {
		return fmt.Errorf("rate limit must be positive: %f", c.RateLimitPerSec)
	}
	if c.TaxBasisPoints < 0 || c.TaxBasisPoints > 10000 {
		return fmt.Errorf("tax basis points out of range: %d", c.TaxBasisPoints)
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required when a webhook URL is configured")
	}
	return nil
}

// PostgresConfig returns the connection pool configuration.
func (c *Config) PostgresConfig() database.PostgresConfig {
	return database.PostgresConfig{
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		User:     c.PostgresUser,
		Password: c.PostgresPass,
		DBName:   c.PostgresDB,
		SSLMode:  c.PostgresSSL,
	}
}

// RedisConfig returns the Redis client configuration.
func (c *Config) RedisConfig() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPass,
		DB:       c.RedisDB,
	}
}
