package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"traq/cmd/internal/softdelete"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL (traq.users).
//
// Design notes:
// - The pgx pool is owned by the caller; this store must not close it.
// - Unique email is enforced by a partial index over non-deleted rows; the
//   23505 mapping below covers the register race the pre-check cannot.
// - The admin-protection invariant lives here so no handler can bypass it.
type PostgresStore struct {
	pool *pgxpool.Pool

	// dummyHash keeps Authenticate timing comparable when the email does
	// not resolve to a user.
	dummyHash string
}

// NewPostgresStore constructs a Postgres-backed credential store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}

	st := &PostgresStore{pool: pool}
	if hash, err := HashPassword("dummy-password-for-timing-only"); err == nil {
		st.dummyHash = hash
	}
	return st, nil
}

const userColumns = `
	id, name, email, role, blocked, last_login_at,
	created_at, updated_at, deleted, deleted_at, deleted_by
`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.Blocked,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.Deleted,
		&u.DeletedAt,
		&u.DeletedBy,
	)
	return u, err
}

// Register creates a user with default role=member, blocked=false.
func (s *PostgresStore) Register(ctx context.Context, in RegisterInput) (User, error) {
	const op = "identity.Register"

	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if !ValidName(name) {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "name too short"}
	}
	if !ValidEmail(email) {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid email"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Optimistic pre-check; the partial unique index still backstops races.
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM traq.users
			WHERE email_norm = $1 AND deleted = FALSE
		)
	`, NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	id, err := NewULID(now)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO traq.users (
			id, name, email, email_norm, password_hash, role, blocked,
			created_at, updated_at, deleted, deleted_at, deleted_by
		) VALUES (
			$1, $2, $3, $4, $5, 'member', FALSE,
			$6, $6, FALSE, NULL, NULL
		)
	`, id, name, email, NormalizeEmail(email), hash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return User{
		ID:        id,
		Name:      name,
		Email:     email,
		Role:      RoleMember,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Authenticate resolves email+password to a user.
func (s *PostgresStore) Authenticate(ctx context.Context, email, password string, now time.Time) (User, error) {
	const op = "identity.Authenticate"

	var (
		u    User
		hash string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`, password_hash
		FROM traq.users
		WHERE email_norm = $1 AND deleted = FALSE
	`, NormalizeEmail(email)).Scan(
		&u.ID, &u.Name, &u.Email, &u.Role, &u.Blocked, &u.LastLoginAt,
		&u.CreatedAt, &u.UpdatedAt, &u.Deleted, &u.DeletedAt, &u.DeletedBy,
		&hash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Timing resistance: burn a verify even when the user is missing.
		if s.dummyHash != "" {
			_, _ = VerifyPassword(password, s.dummyHash)
		}
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	// Password checked first so a probe cannot distinguish a blocked account
	// without knowing its credentials.
	if u.Blocked {
		return User{}, OpError{Op: op, Kind: ErrBlocked}
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE traq.users SET last_login_at = $2 WHERE id = $1
	`, u.ID, now); err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.LastLoginAt = &now

	return u, nil
}

// GetByID loads a user by ID, honoring the soft-delete visibility.
func (s *PostgresStore) GetByID(ctx context.Context, id string, v softdelete.Visibility) (User, error) {
	const op = "identity.GetByID"

	q := `SELECT ` + userColumns + ` FROM traq.users WHERE id = $1`
	if p := softdelete.Predicate("", v); p != "" {
		q += ` AND ` + p
	}

	u, err := scanUser(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// List returns up to limit non-deleted users, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]User, error) {
	const op = "identity.List"

	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM traq.users
		WHERE `+softdelete.Predicate("", softdelete.Active)+`
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

// Update mutates profile fields; nil fields are left unchanged.
func (s *PostgresStore) Update(ctx context.Context, id string, in UpdateInput, now time.Time) (User, error) {
	const op = "identity.Update"

	u, err := s.GetByID(ctx, id, softdelete.Active)
	if err != nil {
		return User{}, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if !ValidName(name) {
			return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "name too short"}
		}
		u.Name = name
	}
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if !ValidEmail(email) {
			return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid email"}
		}
		u.Email = email
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE traq.users
		SET name = $2, email = $3, email_norm = $4, updated_at = $5
		WHERE id = $1 AND deleted = FALSE
	`, id, u.Name, u.Email, NormalizeEmail(u.Email), now)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.UpdatedAt = now

	return u, nil
}

// AssignRole sets the user's role.
func (s *PostgresStore) AssignRole(ctx context.Context, id string, role Role, now time.Time) (User, error) {
	const op = "identity.AssignRole"

	tag, err := s.pool.Exec(ctx, `
		UPDATE traq.users
		SET role = $2, updated_at = $3
		WHERE id = $1 AND deleted = FALSE
	`, id, role, now)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	return s.GetByID(ctx, id, softdelete.Active)
}

// SetBlocked persists the blocked flag; administrators are protected.
func (s *PostgresStore) SetBlocked(ctx context.Context, id string, blocked bool, now time.Time) (User, error) {
	const op = "identity.SetBlocked"

	u, err := s.GetByID(ctx, id, softdelete.Active)
	if err != nil {
		return User{}, err
	}
	if u.Role == RoleAdmin {
		return User{}, OpError{Op: op, Kind: ErrAdminProtected, Msg: "administrators cannot be blocked"}
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE traq.users
		SET blocked = $2, updated_at = $3
		WHERE id = $1 AND deleted = FALSE
	`, id, blocked, now)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	u.Blocked = blocked
	u.UpdatedAt = now
	return u, nil
}

// SoftDelete marks the user deleted; administrators are protected.
func (s *PostgresStore) SoftDelete(ctx context.Context, id string, actorID string, now time.Time) error {
	const op = "identity.SoftDelete"

	u, err := s.GetByID(ctx, id, softdelete.Active)
	if err != nil {
		return err
	}
	if u.Role == RoleAdmin {
		return OpError{Op: op, Kind: ErrAdminProtected, Msg: "administrators cannot be deleted"}
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE traq.users
		SET deleted = TRUE, deleted_at = $2, deleted_by = $3, updated_at = $2
		WHERE id = $1 AND deleted = FALSE
	`, id, now, nullIfEmpty(actorID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Restore reverses a soft delete.
func (s *PostgresStore) Restore(ctx context.Context, id string) error {
	const op = "identity.Restore"

	tag, err := s.pool.Exec(ctx, `
		UPDATE traq.users
		SET deleted = FALSE, deleted_at = NULL, deleted_by = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
