package board

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"traq/cmd/identity"
	authapi "traq/cmd/internal/auth/api"
	"traq/cmd/internal/softdelete"
)

// Publisher receives activity entries that actually landed in the trail.
// The feed gateway implements it; tests use a recording stub.
type Publisher interface {
	Publish(entry ActivityEntry)
}

// NoopPublisher discards entries.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ActivityEntry) {}

// Handler wires the board HTTP endpoints to the store.
type Handler struct {
	log          *slog.Logger
	store        Store
	auth         *authapi.Handler
	publisher    Publisher
	maxBodyBytes int64
}

// NewHandler constructs a board Handler. The auth handler supplies the
// RequireUser/RequireCSRF middleware.
func NewHandler(log *slog.Logger, store Store, auth *authapi.Handler, publisher Publisher, maxBodyBytes int64) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("board: nil store")
	}
	if auth == nil {
		return nil, errors.New("board: nil auth handler")
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Handler{
		log:          log,
		store:        store,
		auth:         auth,
		publisher:    publisher,
		maxBodyBytes: maxBodyBytes,
	}, nil
}

// Register wires board routes onto the provided mux. Every route requires a
// live session; mutations additionally pass the CSRF check.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}

	authed := func(fn http.HandlerFunc) http.Handler {
		return h.auth.RequireUser(fn)
	}
	mutating := func(fn http.HandlerFunc) http.Handler {
		return h.auth.RequireUser(h.auth.RequireCSRF(fn))
	}

	mux.Handle("POST /projects", mutating(h.handleCreateProject))
	mux.Handle("GET /projects", authed(h.handleListProjects))
	mux.Handle("GET /projects/{id}", authed(h.handleGetProject))
	mux.Handle("PATCH /projects/{id}", mutating(h.handleUpdateProject))
	mux.Handle("DELETE /projects/{id}", mutating(h.handleDeleteProject))

	mux.Handle("POST /projects/{id}/tasks", mutating(h.handleCreateTask))
	mux.Handle("GET /projects/{id}/tasks", authed(h.handleListTasks))
	mux.Handle("GET /tasks/{id}", authed(h.handleGetTask))
	mux.Handle("PATCH /tasks/{id}", mutating(h.handleUpdateTask))
	mux.Handle("PATCH /tasks/{id}/status", mutating(h.handleTaskStatus))
	mux.Handle("DELETE /tasks/{id}", mutating(h.handleDeleteTask))

	mux.Handle("POST /tasks/{id}/comments", mutating(h.handleCreateComment))
	mux.Handle("GET /tasks/{id}/comments", authed(h.handleListComments))
	mux.Handle("DELETE /comments/{id}", mutating(h.handleDeleteComment))

	mux.Handle("GET /activity", authed(h.handleListActivity))
}

// ---- projects ----

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	actor, _ := authapi.UserFromContext(r.Context())
	if !CanCreateProject(actor) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	var req createProjectRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	now := time.Now().UTC()
	p, err := h.store.CreateProject(r.Context(), CreateProjectInput{
		Title:       req.Title,
		Description: req.Description,
		OwnerID:     actor.ID,
		StartDate:   req.StartDate,
		DueDate:     req.DueDate,
		Now:         now,
	})
	if err != nil {
		h.writeStoreError(w, "board.create_project", err)
		return
	}

	h.recordActivity(r, actor, "project.created", "project", p.ID, nil, now)
	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListProjects(r.Context(), 0)
	if err != nil {
		h.writeStoreError(w, "board.list_projects", err)
		return
	}
	out := make([]projectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, toProjectResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProject(r.Context(), r.PathValue("id"), softdelete.Active)
	if err != nil {
		h.writeStoreError(w, "board.get_project", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	actor, _ := authapi.UserFromContext(r.Context())

	p, err := h.store.GetProject(r.Context(), r.PathValue("id"), softdelete.Active)
	if err != nil {
		h.writeStoreError(w, "board.update_project", err)
		return
	}
	if !CanEditProject(actor, p) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	var req updateProjectRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	in := UpdateProjectInput{
		Title:       req.Title,
		Description: req.Description,
		StartDate:   req.StartDate,
		DueDate:     req.DueDate,
	}
	if req.Status != nil {
		status, ok := ParseProjectStatus(*req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown project status")
			return
		}
		in.Status = &status
	}

	now := time.Now().UTC()
	updated, err := h.store.UpdateProject(r.Context(), p.ID, in, now)
	if err != nil {
		h.writeStoreError(w, "board.update_project", err)
		return
	}

	h.recordActivity(r, actor, "project.updated", "project", updated.ID, nil, now)
	writeJSON(w, http.StatusOK, toProjectResponse(updated))
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	actor, _ := authapi.UserFromContext(r.Context())
	if !CanDeleteProject(actor) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	now := time.Now().UTC()
	id := r.PathValue("id")
	if err := h.store.SoftDeleteProject(r.Context(), id, actor.ID, now); err != nil {
		h.writeStoreError(w, "board.delete_project", err)
		return
	}

	h.recordActivity(r, actor, "project.deleted", "project", id, nil, now)
	w.WriteHeader(http.StatusNoContent)
}

// ---- tasks ----

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	actor, _ := authapi.UserFromContext(r.Context())

	p, err := h.store.GetProject(r.Context(), r.PathValue("id"), softdelete.Active)
	if err != nil {
		h.writeStoreError(w, "board.create_task", err)
		return
	}
	if !CanEditProject(actor, p) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	var req createTaskRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	now := time.Now().UTC()
	t, err := h.store.CreateTask(r.Context(), CreateTaskInput{
		ProjectID:   p.ID,
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
		Now:         now,
	})
	if err != nil {
		h.writeStoreError(w, "board.create_task", err)
		return
	}

	h.recordActivity(r, actor, "task.created", "task", t.ID, map[string]any{"project_id": p.ID}, now)
	writeJSON(w, http.StatusCreated, toTaskResponse(t))
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListTasksByProject(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		h.writeStoreError(w, "board.list_tasks", err)
		return
	}
	out := make([]taskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTask(r.Context(), r.PathValue("id"), softdelete.Active)
	if err != nil {
		h.writeStoreError(w, "board.get_task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	actor, _ := authapi.UserFromContext(r.Context())

	t, err := h.store.GetTask(r.Context(), r.PathValue("id"), softdelete.Active)
	if err != nil {
		h.writeStoreError(w, "board.update_task", err)
		return
	}
	if !CanEditTask(actor, t) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	now := time.Now().UTC()
	updated, err := h.store.UpdateTask(r.Context(), t.ID, UpdateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	}, now)
	if err != nil {
		h.writeStoreError(w, "board.update_task", err)
		return
	}

	h.recordActivity(r, actor, "task.updated", "task", updated.ID, nil, now)
	writeJSON(w, http.StatusOK, toTaskResponse(updated))
}

func (h *Handler) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := authapi.UserFromContext(r.Context())

	t, err := h.store.GetTask(r.Context(), r.PathValue("id"), softdelete.Active)
	if err != nil {
		h.writeStoreError(w, "board.task_status", err)
		return
	}
	if !CanChangeTaskStatus(actor, t) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	var req taskStatusRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	status, ok := ParseTaskStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown task status")
		return
	}

	now := time.Now().UTC()
	updated, err := h.store.SetTaskStatus(r.Context(), t.ID, status, now)
	if err != nil {
		h.writeStoreError(w, "board.task_status", err)
		return
	}

	h.recordActivity(r, actor, "task.status_changed", "task", updated.ID, map[string]any{
		"from": string(t.Status),
		"to":   string(status),
	}, now)
	writeJSON(w, http.StatusOK, toTaskResponse(updated))
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	actor, _ := authapi.UserFromContext(r.Context())

	t, err := h.store.GetTask(r.Context(), r.PathValue("id"), softdelete.Active)
	if err != nil {
		h.writeStoreError(w, "board.delete_task", err)
		return
	}
	if !CanDeleteTask(actor, t) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	now := time.Now().UTC()
	if err := h.store.SoftDeleteTask(r.Context(), t.ID, actor.ID, now); err != nil {
		h.writeStoreError(w, "board.delete_task", err)
		return
	}

	h.recordActivity(r, actor, "task.deleted", "task", t.ID, nil, now)
	w.WriteHeader(http.StatusNoContent)
}

// ---- comments ----

func (h *Handler) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	actor, _ := authapi.UserFromContext(r.Context())

	var req createCommentRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	now := time.Now().UTC()
	c, err := h.store.CreateComment(r.Context(), CreateCommentInput{
		TaskID:   r.PathValue("id"),
		AuthorID: actor.ID,
		Content:  req.Content,
		Now:      now,
	})
	if err != nil {
		h.writeStoreError(w, "board.create_comment", err)
		return
	}

	h.recordActivity(r, actor, "comment.created", "task", c.TaskID, map[string]any{"comment_id": c.ID}, now)
	writeJSON(w, http.StatusCreated, toCommentResponse(c))
}

func (h *Handler) handleListComments(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListCommentsByTask(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		h.writeStoreError(w, "board.list_comments", err)
		return
	}
	out := make([]commentResponse, 0, len(items))
	for _, c := range items {
		out = append(out, toCommentResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	actor, _ := authapi.UserFromContext(r.Context())

	c, err := h.store.GetComment(r.Context(), r.PathValue("id"), softdelete.Active)
	if err != nil {
		h.writeStoreError(w, "board.delete_comment", err)
		return
	}
	if !CanDeleteComment(actor, c) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return
	}

	now := time.Now().UTC()
	if err := h.store.SoftDeleteComment(r.Context(), c.ID, actor.ID, now); err != nil {
		h.writeStoreError(w, "board.delete_comment", err)
		return
	}

	h.recordActivity(r, actor, "comment.deleted", "task", c.TaskID, map[string]any{"comment_id": c.ID}, now)
	w.WriteHeader(http.StatusNoContent)
}

// ---- activity ----

func (h *Handler) handleListActivity(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListActivity(r.Context(), 0)
	if err != nil {
		h.writeStoreError(w, "board.list_activity", err)
		return
	}
	out := make([]activityResponse, 0, len(items))
	for _, e := range items {
		out = append(out, toActivityResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- helpers ----

func (h *Handler) recordActivity(r *http.Request, actor identity.User, action, resourceType, resourceID string, meta map[string]any, now time.Time) {
	inserted, err := h.store.InsertActivity(r.Context(), ActivityInput{
		ActorID:      &actor.ID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   &resourceID,
		Meta:         meta,
		Now:          now,
	})
	if err != nil {
		h.log.Error("board.activity.insert.fail", "err", err, "action", action)
		return
	}
	if inserted {
		h.publisher.Publish(ActivityEntry{
			ActorID:      &actor.ID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   &resourceID,
			Meta:         meta,
			CreatedAt:    now,
		})
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
	case IsForbidden(err):
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
