// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Shivanand-hulikatti/lecture-admission/internal/database"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/lock"
)

// Config is the full runtime configuration.
type Config struct {
	Port     string     `env:"PORT"      envDefault:"8080"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	Database database.Config
	RedisURL string `env:"REDIS_URL" envDefault:"localhost:6379"`

	HMACSecret string `env:"HMAC_SECRET_KEY,required,notEmpty"`

	LockTTL        time.Duration `env:"REDIS_LOCK_TTL"    envDefault:"3s"`
	LockRetryDelay time.Duration `env:"REDIS_RETRY_DELAY" envDefault:"50ms"`
	LockMaxRetries int           `env:"REDIS_MAX_RETRIES" envDefault:"5"`

	AttendRateRPS   float64 `env:"ATTEND_RATE_RPS"   envDefault:"5"`
	AttendRateBurst int     `env:"ATTEND_RATE_BURST" envDefault:"10"`

	// PassportIssueEnabled exposes POST /auth/passport. Deployments with an
	// external identity provider turn it off.
	PassportIssueEnabled bool `env:"PASSPORT_ISSUE_ENABLED" envDefault:"true"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.LockTTL <= 0:
		return fmt.Errorf("config: REDIS_LOCK_TTL must be positive, got %s", c.LockTTL)
	case c.LockRetryDelay < 0:
		return fmt.Errorf("config: REDIS_RETRY_DELAY must not be negative, got %s", c.LockRetryDelay)
	case c.LockMaxRetries < 1:
		return fmt.Errorf("config: REDIS_MAX_RETRIES must be at least 1, got %d", c.LockMaxRetries)
	case c.AttendRateRPS <= 0 || c.AttendRateBurst < 1:
		return fmt.Errorf("config: attend rate limit must be positive")
	}
	return nil
}

// LockOptions returns the lock settings for admissions.
func (c Config) LockOptions() lock.Options {
	return lock.Options{TTL: c.LockTTL, RetryDelay: c.LockRetryDelay, MaxRetries: c.LockMaxRetries}
}
