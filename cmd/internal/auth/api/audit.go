package authapi

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"
)

func (h *Handler) auditRegister(ctx context.Context, userID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.register", &userID, ip, ua, nil)
}

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua string, email string, reason string) {
	h.insertAudit(ctx, "auth.login.failed", nil, ip, ua, map[string]any{
		"email":  email,
		"reason": reason,
	})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID string, recordID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.login.success", &userID, ip, ua, map[string]any{
		"session_id": recordID,
	})
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua string, email string, retryAfter time.Duration) {
	h.insertAudit(ctx, "auth.login.rate_limited", nil, ip, ua, map[string]any{
		"email":         email,
		"retry_after_s": int64(retryAfter.Seconds()),
	})
}

func (h *Handler) auditRefreshSuccess(ctx context.Context, recordID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.refresh.success", nil, ip, ua, map[string]any{
		"session_id": recordID,
	})
}

func (h *Handler) auditRefreshReuse(ctx context.Context, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.refresh.reuse_detected", nil, ip, ua, nil)
}

func (h *Handler) auditLogout(ctx context.Context, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout", nil, ip, ua, nil)
}

func (h *Handler) insertAudit(ctx context.Context, action string, userID *string, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.pool == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO traq.activity_log (
			actor_id, action, resource_type, created_at, ip, user_agent, meta
		) VALUES ($1, $2, 'session', now(), $3, $4, $5::jsonb)
	`, userID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func (h *Handler) insertAuditResource(ctx context.Context, action string, actorID *string, resourceType, resourceID string, ip net.IP, ua string) {
	if h == nil || h.pool == nil {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO traq.activity_log (
			actor_id, action, resource_type, resource_id, created_at, ip, user_agent
		) VALUES ($1, $2, $3, $4, now(), $5, $6)
	`, actorID, action, resourceType, resourceID, ipVal, trimOrNil(ua))
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
