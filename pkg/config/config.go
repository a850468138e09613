package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	Postgres      PostgresConfig
	Auth          auth.Config
	Audit         AuditConfig
	SSO           []SSOProviderConfig
	Observability ObservabilityConfig

	// JanitorSchedule is the cron schedule for index cleanup
	JanitorSchedule string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// RedisConfig holds token store connection settings
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// PostgresConfig holds identity store connection settings
type PostgresConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// AuditConfig selects audit sinks
type AuditConfig struct {
	// Database enables the PostgreSQL sink
	Database bool
	// FilePath enables the NDJSON file sink when non-empty
	FilePath string
}

// SSOProviderConfig configures one external identity provider
type SSOProviderConfig struct {
	Name         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from TURNSTILE_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("TURNSTILE_HOST", "0.0.0.0"),
			Port:            getEnv("TURNSTILE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("TURNSTILE_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("TURNSTILE_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("TURNSTILE_IDLE_TIMEOUT", 2*time.Minute),
			ShutdownTimeout: getEnvDuration("TURNSTILE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:       getEnv("TURNSTILE_REDIS_ADDR", "localhost:6379"),
			Password:   getEnv("TURNSTILE_REDIS_PASSWORD", ""),
			DB:         getEnvInt("TURNSTILE_REDIS_DB", 0),
			MaxRetries: getEnvInt("TURNSTILE_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("TURNSTILE_REDIS_POOL_SIZE", 10),
		},
		Postgres: PostgresConfig{
			URL:      getEnv("TURNSTILE_POSTGRES_URL", ""),
			MaxConns: getEnvInt("TURNSTILE_POSTGRES_MAX_CONNS", 25),
			MinConns: getEnvInt("TURNSTILE_POSTGRES_MIN_CONNS", 5),
			Timeout:  getEnvDuration("TURNSTILE_POSTGRES_TIMEOUT", 10*time.Second),
		},
		Auth: auth.Config{
			SessionTTL:     getEnvDuration("TURNSTILE_SESSION_TTL", 24*time.Hour),
			APITokenTTL:    getEnvDuration("TURNSTILE_API_TOKEN_TTL", 90*24*time.Hour),
			MaxAPITokenTTL: getEnvDuration("TURNSTILE_API_TOKEN_MAX_TTL", 365*24*time.Hour),
			Lockout: auth.LockoutConfig{
				MaxAttempts: int64(getEnvInt("TURNSTILE_LOCKOUT_MAX_ATTEMPTS", 5)),
				LockWindow:  getEnvDuration("TURNSTILE_LOCKOUT_WINDOW", 30*time.Minute),
				AttemptTTL:  getEnvDuration("TURNSTILE_LOCKOUT_ATTEMPT_TTL", time.Hour),
			},
			MaxScan: getEnvInt("TURNSTILE_VALIDATION_MAX_SCAN", 10000),
		},
		Audit: AuditConfig{
			Database: getEnvBool("TURNSTILE_AUDIT_DB", true),
			FilePath: getEnv("TURNSTILE_AUDIT_FILE", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("TURNSTILE_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("TURNSTILE_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("TURNSTILE_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("TURNSTILE_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("TURNSTILE_OTEL_SERVICE_NAME", "turnstile"),
			OTelServiceVersion: getEnv("TURNSTILE_OTEL_SERVICE_VERSION", "dev"),
			OTelInsecure:       getEnvBool("TURNSTILE_OTEL_INSECURE", true),
		},
		JanitorSchedule: getEnv("TURNSTILE_JANITOR_SCHEDULE", "@every 10m"),
	}

	if oidc := loadOIDCProvider(); oidc != nil {
		cfg.SSO = append(cfg.SSO, *oidc)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadOIDCProvider reads the single-provider OIDC settings, returning nil
// when no provider is configured
func loadOIDCProvider() *SSOProviderConfig {
	issuer := getEnv("TURNSTILE_OIDC_ISSUER_URL", "")
	if issuer == "" {
		return nil
	}
	return &SSOProviderConfig{
		Name:         getEnv("TURNSTILE_OIDC_PROVIDER_NAME", "oidc"),
		IssuerURL:    issuer,
		ClientID:     getEnv("TURNSTILE_OIDC_CLIENT_ID", ""),
		ClientSecret: getEnv("TURNSTILE_OIDC_CLIENT_SECRET", ""),
		RedirectURL:  getEnv("TURNSTILE_OIDC_REDIRECT_URL", ""),
	}
}

// Validate checks for configuration combinations that cannot work
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("TURNSTILE_REDIS_ADDR is required")
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("TURNSTILE_POSTGRES_URL is required")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("TURNSTILE_SESSION_TTL must be positive")
	}
	if c.Auth.Lockout.MaxAttempts <= 0 {
		return fmt.Errorf("TURNSTILE_LOCKOUT_MAX_ATTEMPTS must be positive")
	}
	for _, sso := range c.SSO {
		if sso.ClientID == "" || sso.ClientSecret == "" || sso.RedirectURL == "" {
			return fmt.Errorf("SSO provider %q is missing client credentials or redirect URL", sso.Name)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
