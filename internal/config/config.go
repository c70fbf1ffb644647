// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// BaseURL is the externally visible base URL, used in redirect targets and provisioning URIs.
	BaseURL string `mapstructure:"BASE_URL"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis address for login/MFA attempt counters (e.g. localhost:6379).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// SessionTTL is the absolute session lifetime (e.g. "168h" for 7 days).
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// SessionIdleTimeout is the sliding inactivity cutoff (e.g. "30m").
	SessionIdleTimeout string `mapstructure:"SESSION_IDLE_TIMEOUT"`
	// SessionLimit caps concurrent active sessions per user; default 5.
	SessionLimit int `mapstructure:"SESSION_LIMIT"`
	// LoginMaxFailures is the failed-login threshold before lockout; default 5.
	LoginMaxFailures int `mapstructure:"LOGIN_MAX_FAILURES"`
	// LoginFailureWindow is the rolling window failed logins are counted in (e.g. "15m").
	LoginFailureWindow string `mapstructure:"LOGIN_FAILURE_WINDOW"`
	// LoginLockout is how long an (email, ip) pair stays locked after the threshold (e.g. "30m").
	LoginLockout string `mapstructure:"LOGIN_LOCKOUT"`
	// MFAMaxAttempts is the per-session MFA code attempt threshold; default 5.
	MFAMaxAttempts int `mapstructure:"MFA_MAX_ATTEMPTS"`
	// MFAAttemptWindow is the rolling window MFA attempts are counted in (e.g. "15m").
	MFAAttemptWindow string `mapstructure:"MFA_ATTEMPT_WINDOW"`
	// TOTPIssuer is the issuer name shown in authenticator apps.
	TOTPIssuer string `mapstructure:"TOTP_ISSUER"`
	// LobbyOrgID is the id of the neutral holding organization for unapproved signups.
	LobbyOrgID string `mapstructure:"LOBBY_ORG_ID"`
	// CookieSecure marks session/CSRF cookies Secure. Must be true when Env is production.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// StrictIPBinding revokes a session presented from an IP other than the
	// one it was created from. Off by default; breaks clients behind rotating
	// NATs and mobile networks.
	StrictIPBinding bool `mapstructure:"STRICT_IP_BINDING"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// MigrateOnStart applies pending migrations before serving when true.
	MigrateOnStart bool `mapstructure:"MIGRATE_ON_START"`
	// SweepInterval is how often the session sweeper revokes expired/idle rows (e.g. "5m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// OTLPMetricsEndpoint enables the OTLP gRPC metric exporter when set (e.g. localhost:4317).
	OTLPMetricsEndpoint string `mapstructure:"OTLP_METRICS_ENDPOINT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SESSION_TTL", "168h") // 7d
	v.SetDefault("SESSION_IDLE_TIMEOUT", "30m")
	v.SetDefault("SESSION_LIMIT", 5)
	v.SetDefault("LOGIN_MAX_FAILURES", 5)
	v.SetDefault("LOGIN_FAILURE_WINDOW", "15m")
	v.SetDefault("LOGIN_LOCKOUT", "30m")
	v.SetDefault("MFA_MAX_ATTEMPTS", 5)
	v.SetDefault("MFA_ATTEMPT_WINDOW", "15m")
	v.SetDefault("TOTP_ISSUER", "tenant-access-core")
	v.SetDefault("LOBBY_ORG_ID", "org-lobby")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("STRICT_IP_BINDING", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("OTLP_METRICS_ENDPOINT", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if !cfg.CookieSecure && cfg.Env == "production" {
		return nil, errors.New("config: COOKIE_SECURE must not be false when APP_ENV=production")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.SessionLimit <= 0 {
		cfg.SessionLimit = 5
	}
	if cfg.LoginMaxFailures <= 0 {
		cfg.LoginMaxFailures = 5
	}
	if cfg.MFAMaxAttempts <= 0 {
		cfg.MFAMaxAttempts = 5
	}
	if cfg.LobbyOrgID == "" {
		return nil, errors.New("config: LOBBY_ORG_ID must be set")
	}

	return &cfg, nil
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SessionTTLDuration parses SessionTTL. Returns 168h if unset or invalid.
func (c *Config) SessionTTLDuration() time.Duration {
	return duration(c.SessionTTL, 168*time.Hour)
}

// IdleTimeout parses SessionIdleTimeout. Returns 30m if unset or invalid.
func (c *Config) IdleTimeout() time.Duration {
	return duration(c.SessionIdleTimeout, 30*time.Minute)
}

// FailureWindow parses LoginFailureWindow. Returns 15m if unset or invalid.
func (c *Config) FailureWindow() time.Duration {
	return duration(c.LoginFailureWindow, 15*time.Minute)
}

// LockoutDuration parses LoginLockout. Returns 30m if unset or invalid.
func (c *Config) LockoutDuration() time.Duration {
	return duration(c.LoginLockout, 30*time.Minute)
}

// MFAWindow parses MFAAttemptWindow. Returns 15m if unset or invalid.
func (c *Config) MFAWindow() time.Duration {
	return duration(c.MFAAttemptWindow, 15*time.Minute)
}

// SweepEvery parses SweepInterval. Returns 5m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	return duration(c.SweepInterval, 5*time.Minute)
}
