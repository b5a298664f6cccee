package board

import "time"

type createProjectRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartDate   *time.Time `json:"start_date"`
	DueDate     *time.Time `json:"due_date"`
}

type updateProjectRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	StartDate   *time.Time `json:"start_date"`
	DueDate     *time.Time `json:"due_date"`
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssigneeID  *string    `json:"assignee_id"`
	Priority    *int       `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

type updateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	AssigneeID  *string    `json:"assignee_id"`
	Priority    *int       `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

type taskStatusRequest struct {
	Status string `json:"status"`
}

type createCommentRequest struct {
	Content string `json:"content"`
}

type projectResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	OwnerID     string     `json:"owner_id"`
	Status      string     `json:"status"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type taskResponse struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	AssigneeID      *string    `json:"assignee_id,omitempty"`
	Status          string     `json:"status"`
	Priority        int        `json:"priority"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	CommentsCount   int        `json:"comments_count"`
	LatestCommentAt *time.Time `json:"latest_comment_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type commentResponse struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type activityResponse struct {
	ID           int64          `json:"id"`
	ActorID      *string        `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *string        `json:"resource_id,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toProjectResponse(p Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		OwnerID:     p.OwnerID,
		Status:      string(p.Status),
		StartDate:   p.StartDate,
		DueDate:     p.DueDate,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toTaskResponse(t Task) taskResponse {
	return taskResponse{
		ID:              t.ID,
		ProjectID:       t.ProjectID,
		Title:           t.Title,
		Description:     t.Description,
		AssigneeID:      t.AssigneeID,
		Status:          string(t.Status),
		Priority:        t.Priority,
		DueDate:         t.DueDate,
		CommentsCount:   t.CommentsCount,
		LatestCommentAt: t.LatestCommentAt,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func toCommentResponse(c Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		TaskID:    c.TaskID,
		AuthorID:  c.AuthorID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toActivityResponse(e ActivityEntry) activityResponse {
	return activityResponse{
		ID:           e.ID,
		ActorID:      e.ActorID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Meta:         e.Meta,
		CreatedAt:    e.CreatedAt,
	}
}
