package identity

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

	"traq/cmd/internal/softdelete"
)

// Integration tests are opt-in and require TRAQ_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_Register_ConflictEmail_CaseInsensitive(t *testing.T) {
	s, pool := mustNewIdentityStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	email := uniqueEmail(t)
	u1, err := s.Register(ctx, RegisterInput{
		Name:     "First",
		Email:    strings.ToUpper(email),
		Password: "very-strong-password-1",
		Now:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("register user 1: %v", err)
	}
	t.Cleanup(func() { deleteTestUser(t, pool, u1.ID) })

	_, err = s.Register(ctx, RegisterInput{
		Name:     "Second",
		Email:    email,
		Password: "very-strong-password-2",
		Now:      time.Now().UTC(),
	})
	if err == nil {
		t.Fatalf("expected conflict, got nil")
	}
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got: %v", err)
	}
}

func TestPostgresStore_Authenticate(t *testing.T) {
	s, pool := mustNewIdentityStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	email := uniqueEmail(t)
	created, err := s.Register(ctx, RegisterInput{
		Name:     "Auth User",
		Email:    email,
		Password: "very-strong-password-3",
		Now:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(func() { deleteTestUser(t, pool, created.ID) })

	got, err := s.Authenticate(ctx, email, "very-strong-password-3", time.Now().UTC())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("expected user %q, got %q", created.ID, got.ID)
	}
	if got.Role != RoleMember {
		t.Fatalf("expected role member, got %q", got.Role)
	}

	// Success records last_login_at.
	fresh, err := s.GetByID(ctx, created.ID, softdelete.Active)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if fresh.LastLoginAt == nil {
		t.Fatalf("expected last_login_at to be set after authenticate")
	}

	// Wrong password and unknown email are indistinguishable.
	_, err = s.Authenticate(ctx, email, "wrong-password-entirely", time.Now().UTC())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials on wrong password, got: %v", err)
	}
	_, err = s.Authenticate(ctx, uniqueEmail(t), "very-strong-password-3", time.Now().UTC())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials on unknown email, got: %v", err)
	}
}

func TestPostgresStore_Authenticate_BlockedAccount(t *testing.T) {
	s, pool := mustNewIdentityStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	email := uniqueEmail(t)
	created, err := s.Register(ctx, RegisterInput{
		Name:     "Blocked User",
		Email:    email,
		Password: "very-strong-password-4",
		Now:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(func() { deleteTestUser(t, pool, created.ID) })

	if _, err := s.SetBlocked(ctx, created.ID, true, time.Now().UTC()); err != nil {
		t.Fatalf("set blocked: %v", err)
	}

	// The block fires after the password check, so a wrong password still
	// reads as invalid credentials, never as blocked.
	_, err = s.Authenticate(ctx, email, "wrong-password-entirely", time.Now().UTC())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got: %v", err)
	}
	_, err = s.Authenticate(ctx, email, "very-strong-password-4", time.Now().UTC())
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got: %v", err)
	}

	// Unblocking restores the login.
	if _, err := s.SetBlocked(ctx, created.ID, false, time.Now().UTC()); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, err := s.Authenticate(ctx, email, "very-strong-password-4", time.Now().UTC()); err != nil {
		t.Fatalf("authenticate after unblock: %v", err)
	}
}

func TestPostgresStore_AdminAccountsProtected(t *testing.T) {
	s, pool := mustNewIdentityStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	created, err := s.Register(ctx, RegisterInput{
		Name:     "Future Admin",
		Email:    uniqueEmail(t),
		Password: "very-strong-password-5",
		Now:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(func() { deleteTestUser(t, pool, created.ID) })

	promoted, err := s.AssignRole(ctx, created.ID, RoleAdmin, time.Now().UTC())
	if err != nil {
		t.Fatalf("assign role: %v", err)
	}
	if promoted.Role != RoleAdmin {
		t.Fatalf("expected role admin, got %q", promoted.Role)
	}

	if _, err := s.SetBlocked(ctx, created.ID, true, time.Now().UTC()); !IsAdminProtected(err) {
		t.Fatalf("expected ErrAdminProtected on block, got: %v", err)
	}
	if err := s.SoftDelete(ctx, created.ID, created.ID, time.Now().UTC()); !IsAdminProtected(err) {
		t.Fatalf("expected ErrAdminProtected on delete, got: %v", err)
	}

	// Demoting lifts the protection.
	if _, err := s.AssignRole(ctx, created.ID, RoleMember, time.Now().UTC()); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if _, err := s.SetBlocked(ctx, created.ID, true, time.Now().UTC()); err != nil {
		t.Fatalf("block after demote: %v", err)
	}
}

func TestPostgresStore_SoftDelete_VisibilityAndRestore(t *testing.T) {
	s, pool := mustNewIdentityStore(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	email := uniqueEmail(t)
	created, err := s.Register(ctx, RegisterInput{
		Name:     "Deleted User",
		Email:    email,
		Password: "very-strong-password-6",
		Now:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(func() { deleteTestUser(t, pool, created.ID) })

	actor, err := s.Register(ctx, RegisterInput{
		Name:     "Acting Admin",
		Email:    uniqueEmail(t),
		Password: "very-strong-password-7",
		Now:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("register actor: %v", err)
	}
	t.Cleanup(func() { deleteTestUser(t, pool, actor.ID) })

	if err := s.SoftDelete(ctx, created.ID, actor.ID, time.Now().UTC()); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	// Hidden from the default view, visible with the explicit override.
	_, err = s.GetByID(ctx, created.ID, softdelete.Active)
	if !IsNotFound(err) {
		t.Fatalf("expected not found through active view, got: %v", err)
	}
	gone, err := s.GetByID(ctx, created.ID, softdelete.All)
	if err != nil {
		t.Fatalf("get with all visibility: %v", err)
	}
	if !gone.Deleted || gone.DeletedAt == nil || gone.DeletedBy == nil || *gone.DeletedBy != actor.ID {
		t.Fatalf("expected deleted triple set, got %+v", gone.Fields)
	}

	// A deleted account no longer authenticates, and its email is free for
	// a fresh registration.
	_, err = s.Authenticate(ctx, email, "very-strong-password-6", time.Now().UTC())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after delete, got: %v", err)
	}
	reborn, err := s.Register(ctx, RegisterInput{
		Name:     "New Owner",
		Email:    email,
		Password: "very-strong-password-8",
		Now:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("re-register freed email: %v", err)
	}
	deleteTestUser(t, pool, reborn.ID)

	if err := s.Restore(ctx, created.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	back, err := s.GetByID(ctx, created.ID, softdelete.Active)
	if err != nil {
		t.Fatalf("get after restore: %v", err)
	}
	if back.Deleted || back.DeletedAt != nil || back.DeletedBy != nil {
		t.Fatalf("expected deleted triple cleared, got %+v", back.Fields)
	}
}

// ---- helpers ----

var identityDDLOnce sync.Once

func mustNewIdentityStore(t *testing.T) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()

	pool := mustOpenTestPool(t)
	identityDDLOnce.Do(func() { applyTestSchema(t, pool) })

	s, err := NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		t.Fatalf("new store: %v", err)
	}
	return s, pool
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
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
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (TRAQ_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func applyTestSchema(t *testing.T, pool *pgxpool.Pool) {
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
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func deleteTestUser(t *testing.T, pool *pgxpool.Pool, id string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DELETE FROM traq.users WHERE id = $1`, id)
}

func uniqueEmail(t *testing.T) string {
	t.Helper()

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return fmt.Sprintf("it-%s@example.com", strings.ToLower(id))
}

func shouldSkipIntegration(err error) bool {
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
