package board

import (
	"context"
	"time"

	"traq/cmd/internal/softdelete"
)

// CreateProjectInput describes a new project.
type CreateProjectInput struct {
	Title       string
	Description string
	OwnerID     string
	StartDate   *time.Time
	DueDate     *time.Time
	Now         time.Time
}

// UpdateProjectInput carries mutable project fields. Nil fields are left
// unchanged.
type UpdateProjectInput struct {
	Title       *string
	Description *string
	Status      *ProjectStatus
	StartDate   *time.Time
	DueDate     *time.Time
}

// CreateTaskInput describes a new task inside a project.
type CreateTaskInput struct {
	ProjectID   string
	Title       string
	Description string
	AssigneeID  *string
	Priority    *int
	DueDate     *time.Time
	Now         time.Time
}

// UpdateTaskInput carries mutable task fields. Nil fields are left
// unchanged; Status moves through its own path so role rules can see the
// previous value.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	AssigneeID  *string
	Priority    *int
	DueDate     *time.Time
}

// CreateCommentInput describes a new comment on a task.
type CreateCommentInput struct {
	TaskID   string
	AuthorID string
	Content  string
	Now      time.Time
}

// ActivityInput describes one activity-trail row.
type ActivityInput struct {
	ActorID      *string
	Action       string
	ResourceType string
	ResourceID   *string
	Meta         map[string]any
	Now          time.Time
}

// Store is the board persistence boundary. Every read applies the
// soft-delete filter unless the caller passes softdelete.All explicitly.
type Store interface {
	CreateProject(ctx context.Context, in CreateProjectInput) (Project, error)
	GetProject(ctx context.Context, id string, v softdelete.Visibility) (Project, error)
	ListProjects(ctx context.Context, limit int) ([]Project, error)
	UpdateProject(ctx context.Context, id string, in UpdateProjectInput, now time.Time) (Project, error)

	// SoftDeleteProject marks the project and all of its live tasks deleted
	// in a single transaction.
	SoftDeleteProject(ctx context.Context, id string, actorID string, now time.Time) error

	CreateTask(ctx context.Context, in CreateTaskInput) (Task, error)
	GetTask(ctx context.Context, id string, v softdelete.Visibility) (Task, error)
	ListTasksByProject(ctx context.Context, projectID string, limit int) ([]Task, error)
	UpdateTask(ctx context.Context, id string, in UpdateTaskInput, now time.Time) (Task, error)
	SetTaskStatus(ctx context.Context, id string, status TaskStatus, now time.Time) (Task, error)
	SoftDeleteTask(ctx context.Context, id string, actorID string, now time.Time) error

	// CreateComment inserts the comment and bumps the task's
	// comments_count/latest_comment_at in the same transaction.
	CreateComment(ctx context.Context, in CreateCommentInput) (Comment, error)
	GetComment(ctx context.Context, id string, v softdelete.Visibility) (Comment, error)
	ListCommentsByTask(ctx context.Context, taskID string, limit int) ([]Comment, error)
	SoftDeleteComment(ctx context.Context, id string, actorID string, now time.Time) error

	// InsertActivity appends a trail row. A row identical in actor, action
	// and resource to one written within the previous five seconds is
	// silently dropped.
	InsertActivity(ctx context.Context, in ActivityInput) (bool, error)
	ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error)
}
