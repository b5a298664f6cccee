package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// MigrateOnStart applies pending embedded migrations during startup.
	MigrateOnStart bool

	// If true, TRAQ_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) so the ledger
	// stores keyed hashes instead of plain SHA-256.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: envString("TRAQ_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: envString("TRAQ_LOG_LEVEL", "info"),

		ReadHeaderTimeout: envDuration("TRAQ_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       envDuration("TRAQ_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      envDuration("TRAQ_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       envDuration("TRAQ_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: envInt("TRAQ_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: envString("TRAQ_DATABASE_URL", ""),
		DBMaxConns:  int32(envInt("TRAQ_DB_MAX_CONNS", 10)),
		DBMinConns:  int32(envInt("TRAQ_DB_MIN_CONNS", 0)),

		MigrateOnStart: envBool("TRAQ_MIGRATE_ON_START", true),

		RequireTokenHMAC: envBool("TRAQ_REQUIRE_TOKEN_HMAC", false),
	}
}

// Env parsing below is deliberately forgiving: a malformed value falls back
// to the default instead of failing startup. Hard requirements (database URL,
// session secrets) are validated where they are consumed.

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
