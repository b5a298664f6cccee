package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"traq/cmd/identity"
	"traq/cmd/internal/auth/session"
	"traq/cmd/internal/metrics"
	"traq/cmd/internal/softdelete"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// stubIdentityStore satisfies identity.Store for handler tests that never
// reach Postgres. Only the registration path is exercised here.
type stubIdentityStore struct {
	registered identity.User
}

func (s *stubIdentityStore) Register(_ context.Context, in identity.RegisterInput) (identity.User, error) {
	s.registered = identity.User{
		ID:        "01TESTUSERULID0000000000AA",
		Name:      in.Name,
		Email:     in.Email,
		Role:      identity.RoleMember,
		CreatedAt: in.Now,
		UpdatedAt: in.Now,
	}
	return s.registered, nil
}

func (s *stubIdentityStore) Authenticate(context.Context, string, string, time.Time) (identity.User, error) {
	return identity.User{}, identity.ErrInvalidCredentials
}

func (s *stubIdentityStore) GetByID(context.Context, string, softdelete.Visibility) (identity.User, error) {
	return s.registered, nil
}

func (s *stubIdentityStore) List(context.Context, int) ([]identity.User, error) { return nil, nil }

func (s *stubIdentityStore) Update(context.Context, string, identity.UpdateInput, time.Time) (identity.User, error) {
	return identity.User{}, identity.ErrNotFound
}

func (s *stubIdentityStore) AssignRole(context.Context, string, identity.Role, time.Time) (identity.User, error) {
	return identity.User{}, identity.ErrNotFound
}

func (s *stubIdentityStore) SetBlocked(context.Context, string, bool, time.Time) (identity.User, error) {
	return identity.User{}, identity.ErrNotFound
}

func (s *stubIdentityStore) SoftDelete(context.Context, string, string, time.Time) error {
	return identity.ErrNotFound
}

func (s *stubIdentityStore) Restore(context.Context, string) error { return identity.ErrNotFound }

// stubLedgerStore records refresh-token rows in memory.
type stubLedgerStore struct {
	created int
}

func (s *stubLedgerStore) Create(context.Context, time.Time, string, session.ClientMeta, string, time.Time) (string, error) {
	s.created++
	return "01TESTRECORDULID00000000AA", nil
}

func (s *stubLedgerStore) GetByTokenHash(context.Context, string) (session.Record, error) {
	return session.Record{}, session.ErrTokenNotFound
}

func (s *stubLedgerStore) Revoke(context.Context, time.Time, string) error    { return nil }
func (s *stubLedgerStore) RevokeAll(context.Context, time.Time, string) error { return nil }

func (s *stubLedgerStore) ListByUser(context.Context, string) ([]session.Record, error) {
	return nil, nil
}

func newRegisterTestHandler(t *testing.T, ledger *stubLedgerStore) *Handler {
	t.Helper()

	sessCfg := session.DefaultConfig()
	sessCfg.AccessSecret = []byte(strings.Repeat("a", 32))
	sessCfg.RefreshSecret = []byte(strings.Repeat("r", 32))

	signer, err := session.NewHS256Signer(sessCfg)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	return &Handler{
		log:      slog.Default(),
		cfg:      Config{CookiePath: "/", MaxBodyBytes: 1 << 20, CSRFTokenTTL: time.Hour},
		identity: &stubIdentityStore{},
		sessions: session.NewService(sessCfg, nil, ledger, signer),
		csrf:     newCSRFCache(time.Hour),
	}
}

func TestHandleRegister_IssuesSessionAndSetsCookies(t *testing.T) {
	ledger := &stubLedgerStore{}
	h := newRegisterTestHandler(t, ledger)

	mux := http.NewServeMux()
	h.Register(mux)

	body := `{"name":"New User","email":"new.user@example.com","password":"very-strong-password-1"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body=%s)", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if ledger.created != 1 {
		t.Fatalf("expected exactly one ledger row, got %d", ledger.created)
	}

	// Registration signs the user in: both session cookies arrive on the 201.
	res := rr.Result()
	var access, refresh *http.Cookie
	for _, c := range res.Cookies() {
		switch c.Name {
		case AccessCookieName:
			access = c
		case RefreshCookieName:
			refresh = c
		}
	}
	if access == nil || access.Value == "" {
		t.Fatalf("expected %s cookie on register", AccessCookieName)
	}
	if refresh == nil || refresh.Value == "" {
		t.Fatalf("expected %s cookie on register", RefreshCookieName)
	}
	if !access.HttpOnly || !refresh.HttpOnly {
		t.Fatalf("session cookies must be HttpOnly")
	}

	var envelope struct {
		User *struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		AccessExpiresAt  time.Time `json:"access_expires_at"`
		RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.User == nil || envelope.User.Email != "new.user@example.com" {
		t.Fatalf("expected user in register response, got %+v", envelope.User)
	}
	if envelope.AccessExpiresAt.IsZero() || envelope.RefreshExpiresAt.IsZero() {
		t.Fatalf("expected expiries in register response")
	}
	if !envelope.RefreshExpiresAt.After(envelope.AccessExpiresAt) {
		t.Fatalf("refresh expiry %v should outlive access expiry %v",
			envelope.RefreshExpiresAt, envelope.AccessExpiresAt)
	}
}

func TestHandleLogout_CountsOnce(t *testing.T) {
	h := newRegisterTestHandler(t, &stubLedgerStore{})

	mux := http.NewServeMux()
	h.Register(mux)

	before := testutil.ToFloat64(metrics.Logouts)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "some-refresh-token"})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if got := testutil.ToFloat64(metrics.Logouts) - before; got != 1 {
		t.Fatalf("logout counter moved by %v, want 1", got)
	}
}

func TestSessionEnvelope_OmitsUserWhenAbsent(t *testing.T) {
	b, err := json.Marshal(sessionEnvelope{
		AccessExpiresAt:  time.Now().UTC(),
		RefreshExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), `"user"`) {
		t.Fatalf("envelope without a user must omit the user key, got %s", b)
	}
}
