package authapi

import (
	"context"
	"net/http"
	"time"

	"traq/cmd/identity"
	"traq/cmd/internal/softdelete"
)

type contextKey int

const userContextKey contextKey = iota

// UserFromContext returns the authenticated user attached by RequireUser.
func UserFromContext(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(userContextKey).(identity.User)
	return u, ok
}

// RequireUser verifies the access cookie, loads the (not deleted) user and
// attaches it to the request context. Blocked users are rejected.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := h.authenticate(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, u)))
	})
}

// RequireRole wraps RequireUser and additionally demands one of the given
// roles, answering 403 otherwise.
func (h *Handler) RequireRole(next http.Handler, roles ...identity.Role) http.Handler {
	return h.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := UserFromContext(r.Context())
		for _, role := range roles {
			if u.Role == role {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
	}))
}

// RequireCSRF enforces the double-submit check on state-changing methods.
func (h *Handler) RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if !h.csrfDoubleSubmitValid(r, time.Now().UTC()) {
			writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	token, ok := h.accessTokenFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return identity.User{}, false
	}

	claims, err := h.sessions.VerifyAccess(token, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return identity.User{}, false
	}

	u, err := h.identity.GetByID(r.Context(), claims.UserID, softdelete.Active)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "user not found")
			return identity.User{}, false
		}
		h.log.Error("auth.middleware.load_user.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return identity.User{}, false
	}
	if u.Blocked {
		writeBlockedError(w, "account is blocked")
		return identity.User{}, false
	}

	return u, true
}
