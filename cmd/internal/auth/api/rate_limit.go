package authapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func (h *Handler) checkLoginIPThrottle(ctx context.Context, ip net.IP, now time.Time) (bool, time.Duration, error) {
	if ip == nil || h.cfg.LoginIPMax <= 0 {
		return false, 0, nil
	}
	cut := now.Add(-h.cfg.LoginIPWindow)
	count, err := countLoginFailuresByIP(ctx, h.pool, ip, cut)
	if err != nil {
		return false, 0, err
	}
	if count >= h.cfg.LoginIPMax {
		return true, h.cfg.LoginIPWindow, nil
	}
	return false, 0, nil
}

func (h *Handler) checkLoginEmailThrottle(ctx context.Context, email string, now time.Time) (bool, time.Duration, error) {
	if email == "" || h.cfg.LoginUserMax <= 0 {
		return false, 0, nil
	}
	cut := now.Add(-h.cfg.LoginUserWindow)
	count, err := countLoginFailuresByEmail(ctx, h.pool, email, cut)
	if err != nil {
		return false, 0, err
	}
	if count >= h.cfg.LoginUserMax {
		return true, h.cfg.LoginUserWindow, nil
	}
	return false, 0, nil
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

// ---- audit queries ----

func countLoginFailuresByIP(ctx context.Context, pool *pgxpool.Pool, ip net.IP, since time.Time) (int, error) {
	if pool == nil || ip == nil {
		return 0, nil
	}
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM traq.activity_log
		WHERE action = 'auth.login.failed'
		  AND ip = $1
		  AND created_at >= $2
	`, ip.String(), since).Scan(&n)
	return n, err
}

func countLoginFailuresByEmail(ctx context.Context, pool *pgxpool.Pool, email string, since time.Time) (int, error) {
	if pool == nil || email == "" {
		return 0, nil
	}
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM traq.activity_log
		WHERE action = 'auth.login.failed'
		  AND meta->>'email' = $1
		  AND created_at >= $2
	`, email, since).Scan(&n)
	return n, err
}
