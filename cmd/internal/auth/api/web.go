package authapi

import (
	"net/http"
	"strings"
	"time"
)

func (h *Handler) setSessionCookies(w http.ResponseWriter, accessToken string, accessExp time.Time, refreshToken string, refreshExp time.Time) {
	h.setCookie(w, AccessCookieName, accessToken, accessExp, true)
	h.setCookie(w, RefreshCookieName, refreshToken, refreshExp, true)
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	if h == nil || w == nil {
		return
	}
	h.expireCookie(w, AccessCookieName, true)
	h.expireCookie(w, RefreshCookieName, true)
}

func (h *Handler) accessTokenFromCookie(r *http.Request) (string, bool) {
	return cookieValue(r, AccessCookieName)
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) (string, bool) {
	return cookieValue(r, RefreshCookieName)
}

func cookieValue(r *http.Request, name string) (string, bool) {
	if r == nil {
		return "", false
	}
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return "", false
	}
	return v, true
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time, httpOnly bool) {
	if h == nil || w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.SameSite(),
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	if h == nil || w == nil || strings.TrimSpace(name) == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.SameSite(),
	})
}
