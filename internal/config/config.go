package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL             string `env:"DATABASE_URL"`
	MaxOpenConns    int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime int    `env:"DB_CONN_MAX_LIFETIME" envDefault:"300"` // seconds
	MigrationsPath  string `env:"MIGRATIONS_PATH"`
}

// RedisConfig holds the key/value store used for per-context durable storage.
type RedisConfig struct {
	URL        string        `env:"REDIS_URL"`
	ContextTTL time.Duration `env:"CONTEXT_TTL" envDefault:"720h"`
}

// KratosConfig holds the identity provider endpoint.
type KratosConfig struct {
	PublicURL string        `env:"KRATOS_PUBLIC_URL"`
	Timeout   time.Duration `env:"KRATOS_TIMEOUT" envDefault:"10s"`
}

// BootstrapConfig tunes the sign-up/sign-in flow.
type BootstrapConfig struct {
	AvailabilityDebounce time.Duration `env:"AVAILABILITY_DEBOUNCE" envDefault:"500ms"`
	ResendCooldown       time.Duration `env:"RESEND_COOLDOWN" envDefault:"60s"`
	ContextCacheSize     int           `env:"CONTEXT_CACHE_SIZE" envDefault:"10000"`
}

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	SiteURL     string `env:"SITE_URL"`

	// SigningKeyB64 is decoded into SigningKey by Load.
	SigningKeyB64 string `env:"CONTEXT_SIGNING_KEY"`
	SigningKey    []byte `env:"-"`

	// EncryptionKeyB64, when set, seals per-context values at rest.
	EncryptionKeyB64 string `env:"CONTEXT_ENCRYPTION_KEY"`
	EncryptionKey    []byte `env:"-"`

	Database  DatabaseConfig
	Redis     RedisConfig
	Kratos    KratosConfig
	Bootstrap BootstrapConfig
}

// Load reads configuration from environment variables.
// It fails fast with clear errors for missing required values.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Environment != "development" && cfg.Environment != "staging" && cfg.Environment != "production" {
		return nil, fmt.Errorf("invalid ENV value %q: must be development, staging, or production", cfg.Environment)
	}

	var missing []string
	if cfg.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.Redis.URL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if cfg.Kratos.PublicURL == "" {
		missing = append(missing, "KRATOS_PUBLIC_URL")
	}
	if cfg.SiteURL == "" {
		missing = append(missing, "SITE_URL")
	}
	if cfg.SigningKeyB64 == "" {
		missing = append(missing, "CONTEXT_SIGNING_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if err := validateDatabaseURL(cfg.Database.URL); err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	if err := validateRedisURL(cfg.Redis.URL); err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	if err := validateHTTPURL(cfg.Kratos.PublicURL); err != nil {
		return nil, fmt.Errorf("invalid KRATOS_PUBLIC_URL: %w", err)
	}

	if err := validateHTTPURL(cfg.SiteURL); err != nil {
		return nil, fmt.Errorf("invalid SITE_URL: %w", err)
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")

	key, err := decodeSigningKey(cfg.SigningKeyB64)
	if err != nil {
		return nil, fmt.Errorf("invalid CONTEXT_SIGNING_KEY: %w", err)
	}
	cfg.SigningKey = key

	if cfg.EncryptionKeyB64 != "" {
		encKey, err := decodeSigningKey(cfg.EncryptionKeyB64)
		if err != nil {
			return nil, fmt.Errorf("invalid CONTEXT_ENCRYPTION_KEY: %w", err)
		}
		cfg.EncryptionKey = encKey
	}

	if cfg.Bootstrap.AvailabilityDebounce <= 0 {
		return nil, fmt.Errorf("invalid AVAILABILITY_DEBOUNCE: must be positive")
	}
	if cfg.Bootstrap.ContextCacheSize <= 0 {
		return nil, fmt.Errorf("invalid CONTEXT_CACHE_SIZE: must be positive")
	}

	return &cfg, nil
}

// decodeSigningKey decodes and validates a base64-encoded 32-byte key.
// It serves both the signing and the encryption key.
func decodeSigningKey(b64Key string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64Key))
	if err != nil {
		return nil, fmt.Errorf("must be valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must be exactly 32 bytes (256 bits), got %d bytes", len(key))
	}
	return key, nil
}

// validateDatabaseURL ensures the database URL is a valid PostgreSQL connection string.
func validateDatabaseURL(dbURL string) error {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("URL must use postgres or postgresql scheme, got %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}

	return nil
}

func validateRedisURL(redisURL string) error {
	parsed, err := url.Parse(redisURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "redis" && parsed.Scheme != "rediss" {
		return fmt.Errorf("URL must use redis or rediss scheme, got %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}

	return nil
}

// validateHTTPURL ensures an endpoint is an absolute http(s) URL.
func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme, got %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}

	return nil
}
