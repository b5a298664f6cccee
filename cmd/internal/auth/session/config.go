package session

import (
	"bytes"
	"os"
	"strings"
	"time"
)

// Config defines runtime configuration for the session core.
//
// It is explicit and environment-driven so security parameters can be tuned
// per deployment without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of both token kinds.
	Issuer string

	// AccessTTL is the access-token lifetime (and cookie max-age).
	AccessTTL time.Duration

	// RefreshTTL is the refresh-token lifetime; ledger rows expire with it.
	RefreshTTL time.Duration

	// ClockSkew is the allowed time skew during token verification.
	ClockSkew time.Duration

	// AccessSecret and RefreshSecret are independent HS256 signing keys.
	// They must differ so one token kind can never stand in for the other.
	AccessSecret  []byte
	RefreshSecret []byte
}

// DefaultConfig returns the lifetimes used in production: 15-minute access
// tokens, 7-day refresh tokens. Secrets must still be provided.
func DefaultConfig() Config {
	return Config{
		Issuer:     "traq",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		ClockSkew:  30 * time.Second,
	}
}

// Validate reports whether the configuration is usable. Secrets must be at
// least 32 bytes, must differ from each other, and the refresh lifetime must
// bound the access lifetime.
func (c Config) Validate() error {
	if len(c.AccessSecret) < 32 || len(c.RefreshSecret) < 32 {
		return ErrConfig
	}
	if bytes.Equal(c.AccessSecret, c.RefreshSecret) {
		return ErrConfig
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	if c.AccessTTL >= c.RefreshTTL {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - TRAQ_AUTH_ACCESS_SECRET  (>= 32 bytes)
//   - TRAQ_AUTH_REFRESH_SECRET (>= 32 bytes, distinct from the access secret)
//
// Optional (durations must be valid Go duration strings):
//   - TRAQ_AUTH_ISSUER
//   - TRAQ_AUTH_ACCESS_TTL
//   - TRAQ_AUTH_REFRESH_TTL
//   - TRAQ_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("TRAQ_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("TRAQ_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTTL = d
	}

	if v := os.Getenv("TRAQ_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("TRAQ_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.AccessSecret = []byte(strings.TrimSpace(os.Getenv("TRAQ_AUTH_ACCESS_SECRET")))
	cfg.RefreshSecret = []byte(strings.TrimSpace(os.Getenv("TRAQ_AUTH_REFRESH_SECRET")))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
