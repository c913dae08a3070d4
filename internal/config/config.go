package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/hdpay/pkg/config"
)

// Order store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the HDPay gateway service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HDPAY_HTTP_PORT" envDefault:"8010"`

	// Processor
	WebhookURL     string `env:"HDPAY_WEBHOOK_URL"`
	APIKey         string `env:"HDPAY_API_KEY"`
	ProjectID      string `env:"HDPAY_PROJECT_ID"`
	TestMode       bool   `env:"HDPAY_TESTMODE" envDefault:"true"`
	SiteURL        string `env:"HDPAY_SITE_URL" envDefault:"http://localhost:8010"`
	TimeoutSeconds int    `env:"HDPAY_TIMEOUT_SECONDS" envDefault:"30"`

	// Per-client rate limits; 0 RPS disables
	PublicRateLimitRPS     float64 `env:"RATE_LIMIT_PUBLIC_RPS" envDefault:"50"`
	PublicRateLimitBurst   int     `env:"RATE_LIMIT_PUBLIC_BURST" envDefault:"100"`
	OperatorRateLimitRPS   float64 `env:"RATE_LIMIT_OPERATOR_RPS" envDefault:"5"`
	OperatorRateLimitBurst int     `env:"RATE_LIMIT_OPERATOR_BURST" envDefault:"10"`

	// Order store
	OrderStore string `env:"ORDER_STORE" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"hdpay"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"hdpay_secret"`
	PostgresDB   string `env:"HDPAY_DB_NAME" envDefault:"hdpay_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`
	SlowQueryThresholdMs  int   `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Redis reconciliation lock
	RedisLockEnabled bool   `env:"REDIS_LOCK_ENABLED" envDefault:"false"`
	RedisHost        string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort        int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RedisDB          int    `env:"REDIS_DB" envDefault:"0"`
	LockTTLSeconds   int    `env:"REDIS_LOCK_TTL_SECONDS" envDefault:"30"`
	LockWaitMs       int    `env:"REDIS_LOCK_WAIT_MS" envDefault:"2000"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Circuit breaker around the processor endpoint
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Admin API
	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	if err := pkgconfig.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load hdpay dotenv: %w", err)
	}
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load hdpay config: %w", err)
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
	switch c.OrderStore {
	case StorePostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("ORDER_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.OrderStore)
	}
	if c.SiteURL == "" {
		return fmt.Errorf("HDPAY_SITE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.SiteURL); err != nil {
		return fmt.Errorf("invalid HDPAY_SITE_URL %q: %w", c.SiteURL, err)
	}
	// An empty processor URL is allowed; outbound calls then fail as not configured.
	if c.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.WebhookURL); err != nil {
			return fmt.Errorf("invalid HDPAY_WEBHOOK_URL %q: %w", c.WebhookURL, err)
		}
	}
	if c.TimeoutSeconds < 1 {
		return fmt.Errorf("HDPAY_TIMEOUT_SECONDS must be positive, got %d", c.TimeoutSeconds)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.PublicRateLimitRPS < 0 || c.OperatorRateLimitRPS < 0 {
		return fmt.Errorf("rate limit RPS must not be negative")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Timeout returns the processor request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SiteBaseURL returns the site URL without a trailing slash.
func (c *Config) SiteBaseURL() string {
	return strings.TrimRight(c.SiteURL, "/")
}
