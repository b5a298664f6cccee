package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are opt-in and require TRAQ_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestService_RotationAndReuseDetection(t *testing.T) {
	svc, store, pool, userID := mustNewSessionFixture(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	meta := ClientMeta{IP: net.ParseIP("127.0.0.1"), UserAgent: "traq-test-agent/1.0"}

	first, err := svc.IssueSession(ctx, time.Now().UTC(), userID, meta)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.VerifyAccess(first.AccessToken, time.Now().UTC())
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected subject %q, got %q", userID, claims.UserID)
	}

	second, err := svc.Rotate(ctx, time.Now().UTC(), first.RefreshToken, meta)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("rotation returned the same refresh token")
	}
	if _, err := svc.VerifyAccess(second.AccessToken, time.Now().UTC()); err != nil {
		t.Fatalf("verify rotated access: %v", err)
	}

	// The replaced row is revoked and linked to its successor.
	old := mustFindRecord(t, ctx, store, userID, first.RecordID)
	if !old.Revoked || old.RevokedAt == nil {
		t.Fatalf("expected old row revoked, got %+v", old)
	}
	if old.ReplacedByID == nil || *old.ReplacedByID != second.RecordID {
		t.Fatalf("expected replaced_by_id=%q, got %v", second.RecordID, old.ReplacedByID)
	}

	// Replaying the rotated-away token is a security incident: every row the
	// user holds is revoked, the live successor included.
	_, err = svc.Rotate(ctx, time.Now().UTC(), first.RefreshToken, meta)
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected on replay, got: %v", err)
	}

	records, err := store.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, rec := range records {
		if !rec.Revoked {
			t.Fatalf("expected every row revoked after reuse, found live row %q", rec.ID)
		}
	}

	// Mass revocation never sets replaced_by_id on the successor.
	succ := mustFindRecord(t, ctx, store, userID, second.RecordID)
	if succ.ReplacedByID != nil {
		t.Fatalf("expected successor replaced_by_id unset, got %v", succ.ReplacedByID)
	}

	// The successor itself is now dead as well.
	_, err = svc.Rotate(ctx, time.Now().UTC(), second.RefreshToken, meta)
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected for revoked successor, got: %v", err)
	}
}

func TestService_Logout_Idempotent(t *testing.T) {
	svc, _, pool, userID := mustNewSessionFixture(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	issued, err := svc.IssueSession(ctx, time.Now().UTC(), userID, ClientMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := svc.Logout(ctx, time.Now().UTC(), issued.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.Logout(ctx, time.Now().UTC(), issued.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if err := svc.Logout(ctx, time.Now().UTC(), ""); err != nil {
		t.Fatalf("logout with empty token: %v", err)
	}

	// A logged-out token is a revoked token; presenting it again reads as
	// reuse.
	_, err = svc.Rotate(ctx, time.Now().UTC(), issued.RefreshToken, ClientMeta{})
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected after logout, got: %v", err)
	}
}

func TestService_Rotate_ExpiredLedgerRow(t *testing.T) {
	svc, _, pool, userID := mustNewSessionFixture(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	issued, err := svc.IssueSession(ctx, time.Now().UTC(), userID, ClientMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Force expiry in the ledger only; the signed token itself is still
	// within its lifetime.
	_, err = pool.Exec(ctx, `
		UPDATE traq.refresh_tokens
		   SET created_at = now() - interval '2 hours',
		       expires_at = now() - interval '1 second'
		 WHERE id = $1`, issued.RecordID)
	if err != nil {
		t.Fatalf("force expiry: %v", err)
	}

	_, err = svc.Rotate(ctx, time.Now().UTC(), issued.RefreshToken, ClientMeta{})
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got: %v", err)
	}
}

func TestService_Rotate_UnknownToken(t *testing.T) {
	svc, _, pool, userID := mustNewSessionFixture(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	issued, err := svc.IssueSession(ctx, time.Now().UTC(), userID, ClientMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := pool.Exec(ctx, `DELETE FROM traq.refresh_tokens WHERE id = $1`, issued.RecordID); err != nil {
		t.Fatalf("delete ledger row: %v", err)
	}

	_, err = svc.Rotate(ctx, time.Now().UTC(), issued.RefreshToken, ClientMeta{})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got: %v", err)
	}
}

// ---- helpers ----

var sessionDDLOnce sync.Once

func mustNewSessionFixture(t *testing.T) (*Service, *PostgresStore, *pgxpool.Pool, string) {
	t.Helper()

	pool := mustOpenSessionTestPool(t)
	sessionDDLOnce.Do(func() { applySessionTestSchema(t, pool) })

	cfg := testConfig()
	signer, err := NewHS256Signer(cfg)
	if err != nil {
		pool.Close()
		t.Fatalf("signer: %v", err)
	}
	store := NewPostgresStore(pool)
	svc := NewService(cfg, pool, store, signer)

	userID := mustInsertLedgerUser(t, pool)
	t.Cleanup(func() { deleteLedgerUser(t, pool, userID) })

	return svc, store, pool, userID
}

func mustOpenSessionTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("TRAQ_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: TRAQ_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse TRAQ_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipSessionIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (TRAQ_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func applySessionTestSchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ddl := `
CREATE SCHEMA IF NOT EXISTS traq;

CREATE TABLE IF NOT EXISTS traq.users (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    email         TEXT NOT NULL,
    email_norm    TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'admin', 'pm')),
    blocked       BOOLEAN NOT NULL DEFAULT FALSE,
    last_login_at TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    deleted       BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at    TIMESTAMPTZ,
    deleted_by    TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS users_email_norm_live_uq
    ON traq.users (email_norm)
    WHERE deleted = FALSE;

CREATE TABLE IF NOT EXISTS traq.refresh_tokens (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL REFERENCES traq.users (id),
    token_hash     TEXT NOT NULL,
    ip             INET,
    user_agent     TEXT,
    created_at     TIMESTAMPTZ NOT NULL,
    expires_at     TIMESTAMPTZ NOT NULL,
    revoked        BOOLEAN NOT NULL DEFAULT FALSE,
    revoked_at     TIMESTAMPTZ,
    replaced_by_id TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS refresh_tokens_token_hash_uq
    ON traq.refresh_tokens (token_hash);

CREATE INDEX IF NOT EXISTS refresh_tokens_user_id_idx
    ON traq.refresh_tokens (user_id);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustInsertLedgerUser(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := ulid.Make().String()
	email := fmt.Sprintf("session-it-%s@example.com", strings.ToLower(id))
	_, err := pool.Exec(ctx, `
		INSERT INTO traq.users (id, name, email, email_norm, password_hash, created_at, updated_at)
		VALUES ($1, 'Session Test User', $2, $2, 'not-a-real-hash', now(), now())`,
		id, email)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}

func deleteLedgerUser(t *testing.T, pool *pgxpool.Pool, id string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DELETE FROM traq.refresh_tokens WHERE user_id = $1`, id)
	_, _ = pool.Exec(ctx, `DELETE FROM traq.users WHERE id = $1`, id)
}

func mustFindRecord(t *testing.T, ctx context.Context, store *PostgresStore, userID, recordID string) Record {
	t.Helper()

	records, err := store.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, rec := range records {
		if rec.ID == recordID {
			return rec
		}
	}
	t.Fatalf("record %q not found among %d rows", recordID, len(records))
	return Record{}
}

func shouldSkipSessionIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}
