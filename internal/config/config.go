// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// Load fails if any field tagged "required" is missing or [Config.Validate]
// rejects a value.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	// DatabaseURLMigrate overrides DatabaseURL for the migrate command (DDL role).
	DatabaseURLMigrate   string        `env:"DATABASE_URL_MIGRATE"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"25"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"30000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"extended_protocol"`

	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	BaseURL                string `env:"BASE_URL"                 envDefault:"http://localhost:8080"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"60"`

	// ── Auth: sessions ───────────────────────────────────────────────────────────
	SessionSecret string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	// Must be false for http://localhost; must be true in production with TLS.
	CookieSecure bool `env:"COOKIE_SECURE" envDefault:"false"`

	// ── Background jobs ──────────────────────────────────────────────────────────
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"60s"`
	CronInterval       time.Duration `env:"CRON_INTERVAL"        envDefault:"1h"`
	JobRetention       time.Duration `env:"JOB_RETENTION"        envDefault:"168h"`

	// ── Feed fetching ────────────────────────────────────────────────────────────
	FeedFetchTimeout time.Duration `env:"FEED_FETCH_TIMEOUT" envDefault:"30s"`
	FeedMaxBytes     int64         `env:"FEED_MAX_BYTES"     envDefault:"5242880"`
	FeedUserAgent    string        `env:"FEED_USER_AGENT"    envDefault:"metagram/1.0 (+https://metagram.net)"`
	// FeedAllowPrivateHosts disables SSRF protection. Only honored in development.
	FeedAllowPrivateHosts bool `env:"FEED_ALLOW_PRIVATE_HOSTS" envDefault:"false"`

	// ── Rate limiting ────────────────────────────────────────────────────────────
	RateLimitEvictTTL time.Duration `env:"RATE_LIMIT_EVICT_TTL" envDefault:"15m"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing or a value is invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would make a loop spin or never fire.
func (c *Config) Validate() error {
	var errs []error
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"WORKER_POLL_INTERVAL", c.WorkerPollInterval},
		{"CRON_INTERVAL", c.CronInterval},
		{"JOB_RETENTION", c.JobRetention},
		{"FEED_FETCH_TIMEOUT", c.FeedFetchTimeout},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.val))
		}
	}
	if c.FeedMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("FEED_MAX_BYTES must be positive, got %d", c.FeedMaxBytes))
	}
	if len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	switch c.DBQueryExecMode {
	case "simple_protocol", "extended_protocol":
	default:
		errs = append(errs, fmt.Errorf("DB_QUERY_EXEC_MODE %q is not simple_protocol or extended_protocol", c.DBQueryExecMode))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// MigrateURL returns the connection string the migrate command should use.
func (c *Config) MigrateURL() string {
	if c.DatabaseURLMigrate != "" {
		return c.DatabaseURLMigrate
	}
	return c.DatabaseURL
}

// AllowPrivateFeedHosts reports whether feeds may be fetched from private
// addresses. Always false outside development.
func (c *Config) AllowPrivateFeedHosts() bool {
	return c.FeedAllowPrivateHosts && c.IsDevelopment()
}
