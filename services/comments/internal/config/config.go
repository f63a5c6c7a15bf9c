package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/machinery-site/comments/pkg/config"
)

// Storage backends.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds all configuration for the comments service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"COMMENTS_HTTP_PORT" envDefault:"8080"`

	// Storage
	Storage     string `env:"COMMENTS_STORAGE" envDefault:"sqlite"`
	SQLitePath  string `env:"COMMENTS_SQLITE_PATH" envDefault:"data/comments.db"`
	DatabaseURL string `env:"COMMENTS_DATABASE_URL"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"1"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Moderation auth
	AdminToken             string `env:"COMMENTS_ADMIN_TOKEN"`
	AdminSessionKey        string `env:"COMMENTS_ADMIN_SESSION_KEY"`
	AdminSessionSecret     string `env:"COMMENTS_ADMIN_SESSION_SECRET"`
	AdminSessionTTLMinutes int    `env:"COMMENTS_ADMIN_SESSION_TTL_MINUTES" envDefault:"120"`

	// CAPTCHA
	CaptchaSecret    string `env:"COMMENTS_CAPTCHA_SECRET"`
	CaptchaVerifyURL string `env:"COMMENTS_CAPTCHA_VERIFY_URL" envDefault:"https://challenges.cloudflare.com/turnstile/v0/siteverify"`

	// Rate limiting
	RateLimitRedisURL      string `env:"COMMENTS_RATE_LIMIT_REDIS_URL"`
	RateLimitWindowMinutes int    `env:"COMMENTS_RATE_LIMIT_WINDOW_MINUTES" envDefault:"15"`
	RateLimitMax           int    `env:"COMMENTS_RATE_LIMIT_MAX" envDefault:"5"`

	// Request origin and client address
	TrustedProxies []string `env:"COMMENTS_TRUSTED_PROXIES" envSeparator:","`
	AllowedOrigins []string `env:"COMMENTS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// Kafka; events are disabled when empty
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load comments config: %w", err)
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants. Missing storage settings are not
// an error here: the storage manager reports them as STORAGE_NOT_CONFIGURED
// through the health endpoint.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.Storage != StorageSQLite && c.Storage != StoragePostgres {
		return fmt.Errorf("COMMENTS_STORAGE must be %q or %q, got %q", StorageSQLite, StoragePostgres, c.Storage)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid database pool size: min %d, max %d", c.DBMinConns, c.DBMaxConns)
	}
	if c.AdminSessionTTLMinutes < 1 {
		return fmt.Errorf("COMMENTS_ADMIN_SESSION_TTL_MINUTES must be positive, got %d", c.AdminSessionTTLMinutes)
	}
	if c.RateLimitWindowMinutes < 1 {
		return fmt.Errorf("COMMENTS_RATE_LIMIT_WINDOW_MINUTES must be positive, got %d", c.RateLimitWindowMinutes)
	}
	if c.RateLimitMax < 1 {
		return fmt.Errorf("COMMENTS_RATE_LIMIT_MAX must be positive, got %d", c.RateLimitMax)
	}
	if c.CaptchaVerifyURL != "" {
		if _, err := url.ParseRequestURI(c.CaptchaVerifyURL); err != nil {
			return fmt.Errorf("invalid COMMENTS_CAPTCHA_VERIFY_URL %q: %w", c.CaptchaVerifyURL, err)
		}
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SessionTTL returns the lifetime of issued admin session tokens.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.AdminSessionTTLMinutes) * time.Minute
}

// RateLimitWindow returns the submission counting window.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMinutes) * time.Minute
}
