package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"traq/cmd/identity"
	"traq/cmd/internal/softdelete"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL (traq.projects,
// traq.tasks, traq.comments, traq.activity_log).
//
// The pgx pool is owned by the caller; this store must not close it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed board store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("board: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

var _ Store = (*PostgresStore)(nil)

const projectColumns = `
	id, title, description, owner_id, status, start_date, due_date,
	created_at, updated_at, deleted, deleted_at, deleted_by
`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.OwnerID,
		&p.Status,
		&p.StartDate,
		&p.DueDate,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.Deleted,
		&p.DeletedAt,
		&p.DeletedBy,
	)
	return p, err
}

const taskColumns = `
	id, project_id, title, description, assignee_id, status, priority,
	due_date, comments_count, latest_comment_at,
	created_at, updated_at, deleted, deleted_at, deleted_by
`

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ID,
		&t.ProjectID,
		&t.Title,
		&t.Description,
		&t.AssigneeID,
		&t.Status,
		&t.Priority,
		&t.DueDate,
		&t.CommentsCount,
		&t.LatestCommentAt,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.Deleted,
		&t.DeletedAt,
		&t.DeletedBy,
	)
	return t, err
}

const commentColumns = `
	id, task_id, author_id, content,
	created_at, updated_at, deleted, deleted_at, deleted_by
`

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(
		&c.ID,
		&c.TaskID,
		&c.AuthorID,
		&c.Content,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.Deleted,
		&c.DeletedAt,
		&c.DeletedBy,
	)
	return c, err
}

// ---- projects ----

func (s *PostgresStore) CreateProject(ctx context.Context, in CreateProjectInput) (Project, error) {
	const op = "board.CreateProject"

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Project{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "title is required"}
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return Project{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "owner is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := identity.NewULID(now)
	if err != nil {
		return Project{}, fmt.Errorf("%s: %w", op, err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO traq.projects (
			id, title, description, owner_id, status, start_date, due_date,
			created_at, updated_at, deleted, deleted_at, deleted_by
		) VALUES (
			$1, $2, $3, $4, 'active', $5, $6,
			$7, $7, FALSE, NULL, NULL
		)
		RETURNING `+projectColumns, id, title, strings.TrimSpace(in.Description), in.OwnerID, in.StartDate, in.DueDate, now)

	p, err := scanProject(row)
	if err != nil {
		return Project{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string, v softdelete.Visibility) (Project, error) {
	const op = "board.GetProject"

	q := `SELECT ` + projectColumns + ` FROM traq.projects WHERE id = $1`
	if pred := softdelete.Predicate("", v); pred != "" {
		q += ` AND ` + pred
	}

	p, err := scanProject(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, NotFoundError{Op: op, Resource: "project"}
		}
		return Project{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, limit int) ([]Project, error) {
	const op = "board.ListProjects"

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+`
		FROM traq.projects
		WHERE `+softdelete.Predicate("", softdelete.Active)+`
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, id string, in UpdateProjectInput, now time.Time) (Project, error) {
	const op = "board.UpdateProject"

	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return Project{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "title cannot be empty"}
	}
	if in.Status != nil {
		if _, ok := ParseProjectStatus(string(*in.Status)); !ok {
			return Project{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown status"}
		}
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE traq.projects SET
			title       = COALESCE($2, title),
			description = COALESCE($3, description),
			status      = COALESCE($4, status),
			start_date  = COALESCE($5, start_date),
			due_date    = COALESCE($6, due_date),
			updated_at  = $7
		WHERE id = $1 AND `+softdelete.Predicate("", softdelete.Active)+`
		RETURNING `+projectColumns,
		id, trimPtr(in.Title), trimPtr(in.Description), in.Status, in.StartDate, in.DueDate, now)

	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, NotFoundError{Op: op, Resource: "project"}
		}
		return Project{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// SoftDeleteProject cascades to the project's live tasks. Both marks land in
// one transaction so a crash cannot leave orphaned visible tasks.
func (s *PostgresStore) SoftDeleteProject(ctx context.Context, id string, actorID string, now time.Time) error {
	const op = "board.SoftDeleteProject"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE traq.projects
		SET deleted = TRUE, deleted_at = $2, deleted_by = $3, updated_at = $2
		WHERE id = $1 AND deleted = FALSE
	`, id, now, actorID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "project"}
	}

	_, err = tx.Exec(ctx, `
		UPDATE traq.tasks
		SET deleted = TRUE, deleted_at = $2, deleted_by = $3, updated_at = $2
		WHERE project_id = $1 AND deleted = FALSE
	`, id, now, actorID)
	if err != nil {
		return fmt.Errorf("%s: cascade: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// ---- tasks ----

func (s *PostgresStore) CreateTask(ctx context.Context, in CreateTaskInput) (Task, error) {
	const op = "board.CreateTask"

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "title is required"}
	}

	priority := DefaultPriority
	if in.Priority != nil {
		if !ValidPriority(*in.Priority) {
			return Task{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "priority out of range"}
		}
		priority = *in.Priority
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// The parent project must be live.
	if _, err := s.GetProject(ctx, in.ProjectID, softdelete.Active); err != nil {
		return Task{}, err
	}

	id, err := identity.NewULID(now)
	if err != nil {
		return Task{}, fmt.Errorf("%s: %w", op, err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO traq.tasks (
			id, project_id, title, description, assignee_id, status, priority,
			due_date, comments_count, latest_comment_at,
			created_at, updated_at, deleted, deleted_at, deleted_by
		) VALUES (
			$1, $2, $3, $4, $5, 'todo', $6,
			$7, 0, NULL,
			$8, $8, FALSE, NULL, NULL
		)
		RETURNING `+taskColumns,
		id, in.ProjectID, title, strings.TrimSpace(in.Description), in.AssigneeID, priority, in.DueDate, now)

	t, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string, v softdelete.Visibility) (Task, error) {
	const op = "board.GetTask"

	q := `SELECT ` + taskColumns + ` FROM traq.tasks WHERE id = $1`
	if pred := softdelete.Predicate("", v); pred != "" {
		q += ` AND ` + pred
	}

	t, err := scanTask(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, NotFoundError{Op: op, Resource: "task"}
		}
		return Task{}, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasksByProject(ctx context.Context, projectID string, limit int) ([]Task, error) {
	const op = "board.ListTasksByProject"

	if limit <= 0 || limit > 500 {
		limit = 200
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM traq.tasks
		WHERE project_id = $1 AND `+softdelete.Predicate("", softdelete.Active)+`
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateTask(ctx context.Context, id string, in UpdateTaskInput, now time.Time) (Task, error) {
	const op = "board.UpdateTask"

	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return Task{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "title cannot be empty"}
	}
	if in.Priority != nil && !ValidPriority(*in.Priority) {
		return Task{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "priority out of range"}
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE traq.tasks SET
			title       = COALESCE($2, title),
			description = COALESCE($3, description),
			assignee_id = COALESCE($4, assignee_id),
			priority    = COALESCE($5, priority),
			due_date    = COALESCE($6, due_date),
			updated_at  = $7
		WHERE id = $1 AND `+softdelete.Predicate("", softdelete.Active)+`
		RETURNING `+taskColumns,
		id, trimPtr(in.Title), trimPtr(in.Description), in.AssigneeID, in.Priority, in.DueDate, now)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, NotFoundError{Op: op, Resource: "task"}
		}
		return Task{}, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (s *PostgresStore) SetTaskStatus(ctx context.Context, id string, status TaskStatus, now time.Time) (Task, error) {
	const op = "board.SetTaskStatus"

	if _, ok := ParseTaskStatus(string(status)); !ok {
		return Task{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown status"}
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE traq.tasks
		SET status = $2, updated_at = $3
		WHERE id = $1 AND `+softdelete.Predicate("", softdelete.Active)+`
		RETURNING `+taskColumns, id, status, now)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, NotFoundError{Op: op, Resource: "task"}
		}
		return Task{}, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (s *PostgresStore) SoftDeleteTask(ctx context.Context, id string, actorID string, now time.Time) error {
	const op = "board.SoftDeleteTask"

	tag, err := s.pool.Exec(ctx, `
		UPDATE traq.tasks
		SET deleted = TRUE, deleted_at = $2, deleted_by = $3, updated_at = $2
		WHERE id = $1 AND deleted = FALSE
	`, id, now, actorID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "task"}
	}
	return nil
}

// ---- comments ----

func (s *PostgresStore) CreateComment(ctx context.Context, in CreateCommentInput) (Comment, error) {
	const op = "board.CreateComment"

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return Comment{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "content is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := identity.NewULID(now)
	if err != nil {
		return Comment{}, fmt.Errorf("%s: %w", op, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Comment{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Counter bump and insert land together or not at all.
	tag, err := tx.Exec(ctx, `
		UPDATE traq.tasks
		SET comments_count = comments_count + 1, latest_comment_at = $2, updated_at = $2
		WHERE id = $1 AND deleted = FALSE
	`, in.TaskID, now)
	if err != nil {
		return Comment{}, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return Comment{}, NotFoundError{Op: op, Resource: "task"}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO traq.comments (
			id, task_id, author_id, content,
			created_at, updated_at, deleted, deleted_at, deleted_by
		) VALUES (
			$1, $2, $3, $4,
			$5, $5, FALSE, NULL, NULL
		)
		RETURNING `+commentColumns, id, in.TaskID, in.AuthorID, content, now)

	c, err := scanComment(row)
	if err != nil {
		return Comment{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Comment{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return c, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id string, v softdelete.Visibility) (Comment, error) {
	const op = "board.GetComment"

	q := `SELECT ` + commentColumns + ` FROM traq.comments WHERE id = $1`
	if pred := softdelete.Predicate("", v); pred != "" {
		q += ` AND ` + pred
	}

	c, err := scanComment(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Comment{}, NotFoundError{Op: op, Resource: "comment"}
		}
		return Comment{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (s *PostgresStore) ListCommentsByTask(ctx context.Context, taskID string, limit int) ([]Comment, error) {
	const op = "board.ListCommentsByTask"

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+commentColumns+`
		FROM traq.comments
		WHERE task_id = $1 AND `+softdelete.Predicate("", softdelete.Active)+`
		ORDER BY created_at ASC
		LIMIT $2
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SoftDeleteComment(ctx context.Context, id string, actorID string, now time.Time) error {
	const op = "board.SoftDeleteComment"

	tag, err := s.pool.Exec(ctx, `
		UPDATE traq.comments
		SET deleted = TRUE, deleted_at = $2, deleted_by = $3, updated_at = $2
		WHERE id = $1 AND deleted = FALSE
	`, id, now, actorID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "comment"}
	}
	return nil
}

// ---- activity ----

// InsertActivity appends one trail row. An identical row (actor, action,
// resource) written within the previous five seconds is suppressed; the
// return value reports whether a row was written.
func (s *PostgresStore) InsertActivity(ctx context.Context, in ActivityInput) (bool, error) {
	const op = "board.InsertActivity"

	action := strings.TrimSpace(in.Action)
	if action == "" {
		return false, OpError{Op: op, Kind: ErrInvalidInput, Msg: "action is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var metaVal *string
	if len(in.Meta) > 0 {
		if b, err := json.Marshal(in.Meta); err == nil {
			v := string(b)
			metaVal = &v
		}
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO traq.activity_log (actor_id, action, resource_type, resource_id, meta, created_at)
		SELECT $1, $2, $3, $4, $5::jsonb, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM traq.activity_log
			WHERE actor_id IS NOT DISTINCT FROM $1
			  AND action = $2
			  AND resource_type = $3
			  AND resource_id IS NOT DISTINCT FROM $4
			  AND created_at > $6 - interval '5 seconds'
		)
	`, in.ActorID, action, in.ResourceType, in.ResourceID, metaVal, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	const op = "board.ListActivity"

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_id, action, resource_type, resource_id, meta, created_at
		FROM traq.activity_log
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Meta)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
