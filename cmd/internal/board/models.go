package board

import (
	"strings"
	"time"

	"traq/cmd/internal/softdelete"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
)

// ParseProjectStatus validates a raw status string.
func ParseProjectStatus(raw string) (ProjectStatus, bool) {
	switch ProjectStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case ProjectActive:
		return ProjectActive, true
	case ProjectCompleted:
		return ProjectCompleted, true
	default:
		return "", false
	}
}

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in-progress"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
)

// ParseTaskStatus validates a raw status string.
func ParseTaskStatus(raw string) (TaskStatus, bool) {
	switch TaskStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case TaskTodo:
		return TaskTodo, true
	case TaskInProgress:
		return TaskInProgress, true
	case TaskDone:
		return TaskDone, true
	case TaskBlocked:
		return TaskBlocked, true
	default:
		return "", false
	}
}

// Terminal reports whether leaving this status requires admin privileges.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskBlocked
}

// ValidPriority bounds task priority.
func ValidPriority(p int) bool { return p >= 0 && p <= 5 }

// DefaultPriority is assigned when a task is created without one.
const DefaultPriority = 3

// Project is a container for tasks owned by a single user.
type Project struct {
	ID          string
	Title       string
	Description string
	OwnerID     string
	Status      ProjectStatus
	StartDate   *time.Time
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	softdelete.Fields
}

// Task belongs to exactly one project.
type Task struct {
	ID              string
	ProjectID       string
	Title           string
	Description     string
	AssigneeID      *string
	Status          TaskStatus
	Priority        int
	DueDate         *time.Time
	CommentsCount   int
	LatestCommentAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	softdelete.Fields
}

// Comment is attached to a task.
type Comment struct {
	ID        string
	TaskID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time

	softdelete.Fields
}

// ActivityEntry is one append-only row of the activity trail.
type ActivityEntry struct {
	ID           int64
	ActorID      *string
	Action       string
	ResourceType string
	ResourceID   *string
	Meta         map[string]any
	CreatedAt    time.Time
}
