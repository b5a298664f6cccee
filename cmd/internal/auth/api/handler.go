package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"traq/cmd/identity"
	"traq/cmd/internal/auth/session"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Handler wires HTTP auth endpoints to the identity and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	pool *pgxpool.Pool

	identity identity.Store
	sessions *session.Service

	csrf *csrfCache
}

// NewHandler constructs an auth Handler over the shared pool.
func NewHandler(log *slog.Logger, pool *pgxpool.Pool, cfg Config, sessCfg session.Config) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if pool == nil {
		return nil, errors.New("auth: nil db pool")
	}

	idStore, err := identity.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}

	signer, err := session.NewHS256Signer(sessCfg)
	if err != nil {
		return nil, err
	}
	sessStore := session.NewPostgresStore(pool)

	return &Handler{
		log:      log,
		cfg:      cfg,
		pool:     pool,
		identity: idStore,
		sessions: session.NewService(sessCfg, pool, sessStore, signer),
		csrf:     newCSRFCache(cfg.CSRFTokenTTL),
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.Handle("GET /auth/me", h.RequireUser(http.HandlerFunc(h.handleMe)))
	mux.HandleFunc("GET /auth/csrf", h.handleCSRF)
}

// SessionService exposes the underlying session service to sibling packages.
func (h *Handler) SessionService() *session.Service {
	if h == nil {
		return nil
	}
	return h.sessions
}

// IdentityStore exposes the credential store to sibling packages.
func (h *Handler) IdentityStore() identity.Store {
	if h == nil {
		return nil
	}
	return h.identity
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	u, err := h.identity.Register(ctx, identity.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Now:      now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid registration input")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	// A fresh account is signed in immediately: the same token pair a login
	// would mint, delivered on the 201.
	issued, err := h.sessions.IssueSession(ctx, now, u.ID, session.ClientMeta{IP: ip, UserAgent: ua})
	if err != nil {
		h.log.Error("auth.register.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditRegister(ctx, u.ID, ip, ua)
	h.setSessionCookies(w, issued.AccessToken, issued.AccessExp, issued.RefreshToken, issued.RefreshExp)

	user := toUserResponse(u)
	writeJSON(w, http.StatusCreated, sessionEnvelope{
		User:             &user,
		AccessExpiresAt:  issued.AccessExp,
		RefreshExpiresAt: issued.RefreshExp,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := identity.NormalizeEmail(req.Email)
	if email == "" || strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	// Throttle before touching the credential store.
	if blocked, retryAfter, err := h.checkLoginIPThrottle(ctx, ip, now); err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, ip, ua, email, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter, err := h.checkLoginEmailThrottle(ctx, email, now); err != nil {
		h.log.Error("auth.login.throttle_email.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, ip, ua, email, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	u, err := h.identity.Authenticate(ctx, email, req.Password, now)
	if err != nil {
		switch {
		case identity.IsBlocked(err):
			h.auditLoginFailed(ctx, ip, ua, email, "blocked")
			writeBlockedError(w, "account is blocked, contact an administrator")
		case errors.Is(err, identity.ErrInvalidCredentials), identity.IsNotFound(err):
			h.auditLoginFailed(ctx, ip, ua, email, "invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		default:
			h.log.Error("auth.login.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	issued, err := h.sessions.IssueSession(ctx, now, u.ID, session.ClientMeta{IP: ip, UserAgent: ua})
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLoginSuccess(ctx, u.ID, issued.RecordID, ip, ua)
	h.setSessionCookies(w, issued.AccessToken, issued.AccessExp, issued.RefreshToken, issued.RefreshExp)

	user := toUserResponse(u)
	writeJSON(w, http.StatusOK, sessionEnvelope{
		User:             &user,
		AccessExpiresAt:  issued.AccessExp,
		RefreshExpiresAt: issued.RefreshExp,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := h.refreshTokenFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "refresh token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.sessions.Rotate(ctx, now, refreshToken, session.ClientMeta{IP: ip, UserAgent: ua})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReuseDetected):
			// All of the user's sessions are gone; force a fresh login.
			h.auditRefreshReuse(ctx, ip, ua)
			h.clearSessionCookies(w)
			writeError(w, http.StatusForbidden, "token_reuse_detected", "potential token reuse detected, all sessions revoked")
		case errors.Is(err, session.ErrTokenExpired):
			h.clearSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "token_expired", "refresh token expired")
		case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrTokenNotFound):
			h.clearSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.auditRefreshSuccess(ctx, issued.RecordID, ip, ua)
	h.setSessionCookies(w, issued.AccessToken, issued.AccessExp, issued.RefreshToken, issued.RefreshExp)

	writeJSON(w, http.StatusOK, sessionEnvelope{
		AccessExpiresAt:  issued.AccessExp,
		RefreshExpiresAt: issued.RefreshExp,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	// Logout succeeds no matter what state the token is in. A missing or
	// already-revoked token still clears the cookies.
	refreshToken, _ := h.refreshTokenFromCookie(r)
	if err := h.sessions.Logout(ctx, now, refreshToken); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogout(ctx, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	token, exp, err := h.csrf.Issue(now)
	if err != nil {
		h.log.Error("auth.csrf.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// Readable by the frontend so it can echo the token in a header.
	h.setCookie(w, CSRFCookieName, token, exp, false)
	writeJSON(w, http.StatusOK, csrfResponse{Token: token, ExpiresAt: exp})
}

// ---- helpers ----

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
