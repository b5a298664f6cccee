package authapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"
)

// csrfCache holds issued double-submit tokens in memory. Tokens expire
// after their TTL and are removed by a periodic sweep; a lost token just
// means the client fetches a new one from /auth/csrf.
type csrfCache struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
}

func newCSRFCache(ttl time.Duration) *csrfCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &csrfCache{
		tokens: make(map[string]time.Time),
		ttl:    ttl,
	}
}

// Issue mints a token and records its expiry.
func (c *csrfCache) Issue(now time.Time) (string, time.Time, error) {
	token, err := newOpaqueToken(32)
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(c.ttl)

	c.mu.Lock()
	c.tokens[token] = exp
	c.mu.Unlock()

	return token, exp, nil
}

// Valid reports whether the token was issued here and has not expired.
// Expired entries are dropped on sight.
func (c *csrfCache) Valid(token string, now time.Time) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	exp, ok := c.tokens[token]
	if !ok {
		return false
	}
	if now.After(exp) {
		delete(c.tokens, token)
		return false
	}
	return true
}

// Sweep removes all expired tokens and returns how many were dropped.
func (c *csrfCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for tok, exp := range c.tokens {
		if now.After(exp) {
			delete(c.tokens, tok)
			n++
		}
	}
	return n
}

// Len reports the number of live entries.
func (c *csrfCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

// StartCSRFSweeper launches the periodic sweep until ctx is canceled.
func (h *Handler) StartCSRFSweeper(ctx context.Context) {
	interval := h.cfg.CSRFSweepInterval
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := h.csrf.Sweep(time.Now().UTC()); n > 0 {
					h.log.Debug("auth.csrf.sweep", "removed", n)
				}
			}
		}
	}()
}

// csrfDoubleSubmitValid checks that the cookie and header carry the same
// token and that the token is still live in the cache.
func (h *Handler) csrfDoubleSubmitValid(r *http.Request, now time.Time) bool {
	if h == nil || r == nil {
		return false
	}
	cv, ok := cookieValue(r, CSRFCookieName)
	if !ok {
		return false
	}
	hv := strings.TrimSpace(r.Header.Get(CSRFHeaderName))
	if hv == "" || !secureStringEqual(cv, hv) {
		return false
	}
	return h.csrf.Valid(cv, now)
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
