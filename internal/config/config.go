package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Rate limiter backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig
	DB          DBConfig
	Log         LogConfig
	RateLimit   RateLimitConfig
	Eligibility EligibilityConfig
	Redis       RedisConfig
	Audit       AuditConfig
	Auth        AuthConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port             string        `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout  int           `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"5s"`
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host           string `envconfig:"DB_HOST" default:"localhost"`
	Port           int    `envconfig:"DB_PORT" default:"5432"`
	User           string `envconfig:"DB_USER" default:"postgres"`
	Password       string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name           string `envconfig:"DB_NAME" default:"birthday_coupons"`
	SSLMode        string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns       int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns       int    `envconfig:"DB_MIN_CONNS" default:"5"`
	ConnectTimeout int    `envconfig:"DB_CONNECT_TIMEOUT" default:"5"` // seconds
	MaxRetries     int    `envconfig:"DB_MAX_RETRIES" default:"5"`
	AutoMigrate    bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d&connect_timeout=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns, c.ConnectTimeout)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// RateLimitConfig holds the limiter backend and per-namespace quotas.
// Issuance is always fail-closed; redemption throttling policy is configurable.
type RateLimitConfig struct {
	Backend          string        `envconfig:"RATE_LIMIT_BACKEND" default:"postgres"`
	IssuanceLimit    int           `envconfig:"ISSUANCE_RATE_LIMIT" default:"5"`
	IssuanceWindow   time.Duration `envconfig:"ISSUANCE_RATE_WINDOW" default:"60m"`
	RedemptionLimit  int           `envconfig:"REDEMPTION_RATE_LIMIT" default:"120"`
	RedemptionWindow time.Duration `envconfig:"REDEMPTION_RATE_WINDOW" default:"1m"`
	RedemptionPolicy string        `envconfig:"REDEMPTION_RATE_POLICY" default:"fail-open"`
}

// EligibilityConfig holds the calendar settings for birthday windows.
type EligibilityConfig struct {
	Timezone string `envconfig:"ELIGIBILITY_TIMEZONE" default:"UTC"`
}

// Location loads the configured IANA time zone.
func (c EligibilityConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load eligibility timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RedisConfig is used when RATE_LIMIT_BACKEND=redis.
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// AuditConfig holds the audit side-channel settings. With no brokers, events
// go to the log.
type AuditConfig struct {
	KafkaBrokers []string      `envconfig:"KAFKA_BROKERS"`
	Topic        string        `envconfig:"AUDIT_TOPIC" default:"coupon-audit"`
	BufferSize   int           `envconfig:"AUDIT_BUFFER_SIZE" default:"1024"`
	WriteTimeout time.Duration `envconfig:"AUDIT_WRITE_TIMEOUT" default:"5s"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}

	switch c.RateLimit.Backend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be one of postgres, redis, memory; got %q", c.RateLimit.Backend))
	}
	if c.RateLimit.IssuanceLimit < 1 || c.RateLimit.IssuanceWindow <= 0 {
		errs = append(errs, errors.New("ISSUANCE_RATE_LIMIT and ISSUANCE_RATE_WINDOW must be positive"))
	}
	if c.RateLimit.RedemptionLimit < 1 || c.RateLimit.RedemptionWindow <= 0 {
		errs = append(errs, errors.New("REDEMPTION_RATE_LIMIT and REDEMPTION_RATE_WINDOW must be positive"))
	}

	if _, err := c.Eligibility.Location(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
