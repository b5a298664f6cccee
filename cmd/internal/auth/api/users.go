package authapi

import (
	"net/http"
	"time"

	"traq/cmd/identity"
	"traq/cmd/internal/softdelete"
)

type updateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

type setBlockedRequest struct {
	Blocked bool `json:"blocked"`
}

type usersResponse struct {
	Users []userResponse `json:"users"`
}

// RegisterAdmin wires the admin-only user management routes onto the mux.
func (h *Handler) RegisterAdmin(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}

	admin := func(fn http.HandlerFunc) http.Handler {
		return h.RequireRole(h.RequireCSRF(fn), identity.RoleAdmin)
	}

	mux.Handle("GET /users", h.RequireRole(http.HandlerFunc(h.handleListUsers), identity.RoleAdmin))
	mux.Handle("GET /users/{id}", h.RequireRole(http.HandlerFunc(h.handleGetUser), identity.RoleAdmin))
	mux.Handle("PATCH /users/{id}", admin(h.handleUpdateUser))
	mux.Handle("PATCH /users/{id}/role", admin(h.handleAssignRole))
	mux.Handle("PATCH /users/{id}/block", admin(h.handleSetBlocked))
	mux.Handle("DELETE /users/{id}", admin(h.handleDeleteUser))
	mux.Handle("POST /users/{id}/restore", admin(h.handleRestoreUser))
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.identity.List(r.Context(), 0)
	if err != nil {
		h.log.Error("auth.users.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := usersResponse{Users: make([]userResponse, 0, len(users))}
	for _, u := range users {
		out.Users = append(out.Users, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.identity.GetByID(r.Context(), r.PathValue("id"), softdelete.Active)
	if err != nil {
		h.writeUserError(w, "auth.users.get", err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	now := time.Now().UTC()
	u, err := h.identity.Update(r.Context(), r.PathValue("id"), identity.UpdateInput{
		Name:  req.Name,
		Email: req.Email,
	}, now)
	if err != nil {
		h.writeUserError(w, "auth.users.update", err)
		return
	}

	h.auditAdminAction(r, "user.updated", u.ID)
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	role, ok := identity.ParseRole(req.Role)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown role")
		return
	}

	now := time.Now().UTC()
	u, err := h.identity.AssignRole(r.Context(), r.PathValue("id"), role, now)
	if err != nil {
		h.writeUserError(w, "auth.users.role", err)
		return
	}

	h.auditAdminAction(r, "user.role_assigned", u.ID)
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleSetBlocked(w http.ResponseWriter, r *http.Request) {
	var req setBlockedRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	now := time.Now().UTC()
	u, err := h.identity.SetBlocked(r.Context(), r.PathValue("id"), req.Blocked, now)
	if err != nil {
		h.writeUserError(w, "auth.users.block", err)
		return
	}

	h.auditAdminAction(r, "user.block_changed", u.ID)
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := UserFromContext(r.Context())

	now := time.Now().UTC()
	id := r.PathValue("id")
	if err := h.identity.SoftDelete(r.Context(), id, actor.ID, now); err != nil {
		h.writeUserError(w, "auth.users.delete", err)
		return
	}

	h.auditAdminAction(r, "user.deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRestoreUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.identity.Restore(r.Context(), id); err != nil {
		h.writeUserError(w, "auth.users.restore", err)
		return
	}

	h.auditAdminAction(r, "user.restored", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeUserError(w http.ResponseWriter, op string, err error) {
	switch {
	case identity.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case identity.IsConflict(err):
		writeError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
	case identity.IsAdminProtected(err):
		writeError(w, http.StatusForbidden, "admin_protected", "administrator accounts cannot be blocked or deleted")
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) auditAdminAction(r *http.Request, action, targetID string) {
	actor, ok := UserFromContext(r.Context())
	var actorID *string
	if ok {
		actorID = &actor.ID
	}
	h.insertAuditResource(r.Context(), action, actorID, "user", targetID,
		clientIP(r, h.cfg.TrustProxy), r.UserAgent())
}
