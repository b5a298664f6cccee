package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Cookie names used for the session transport.
const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"
	CSRFCookieName    = "XSRF-TOKEN"
	CSRFHeaderName    = "X-XSRF-TOKEN"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	CookiePath   string
	CookieDomain string
	CookieSecure bool

	TrustProxy   bool
	MaxBodyBytes int64

	CSRFTokenTTL      time.Duration
	CSRFSweepInterval time.Duration

	LoginIPMax    int
	LoginIPWindow time.Duration

	LoginUserMax    int
	LoginUserWindow time.Duration
}

// LoadConfigFromEnv loads auth config from environment variables with safe
// defaults. Cookies are Secure whenever TRAQ_ENV is "production".
func LoadConfigFromEnv() Config {
	cfg := Config{
		CookiePath:        "/",
		CookieDomain:      strings.TrimSpace(os.Getenv("TRAQ_AUTH_COOKIE_DOMAIN")),
		CookieSecure:      strings.EqualFold(strings.TrimSpace(os.Getenv("TRAQ_ENV")), "production"),
		TrustProxy:        envBool("TRAQ_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:      envInt64("TRAQ_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CSRFTokenTTL:      envDuration("TRAQ_AUTH_CSRF_TTL", time.Hour),
		CSRFSweepInterval: envDuration("TRAQ_AUTH_CSRF_SWEEP_INTERVAL", time.Hour),
		LoginIPMax:        envInt("TRAQ_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow:     envDuration("TRAQ_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),
		LoginUserMax:      envInt("TRAQ_AUTH_LOGIN_USER_MAX", 5),
		LoginUserWindow:   envDuration("TRAQ_AUTH_LOGIN_USER_WINDOW", 15*time.Minute),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.CSRFTokenTTL <= 0 {
		cfg.CSRFTokenTTL = time.Hour
	}
	if cfg.CSRFSweepInterval <= 0 {
		cfg.CSRFSweepInterval = time.Hour
	}

	return cfg
}

// SameSite returns the SameSite policy for all session cookies.
func (c Config) SameSite() http.SameSite {
	return http.SameSiteStrictMode
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
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
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
