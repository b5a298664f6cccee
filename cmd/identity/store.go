package identity

import (
	"context"
	"time"

	"traq/cmd/internal/softdelete"
)

// RegisterInput describes a new-user registration.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Now      time.Time
}

// UpdateInput carries profile fields mutable through the admin surface.
// Nil fields are left unchanged. Passwords change through a dedicated path,
// never here.
type UpdateInput struct {
	Name  *string
	Email *string
}

// Store is the credential-store persistence boundary.
//
// Every read applies the soft-delete filter unless the caller passes
// softdelete.All explicitly.
type Store interface {
	// Register creates a user with role=member, blocked=false.
	// Duplicate email yields a ConflictError, including the race where two
	// registrations pass the pre-check simultaneously.
	Register(ctx context.Context, in RegisterInput) (User, error)

	// Authenticate resolves email+password to a user.
	// Unknown email and password mismatch are indistinguishable
	// (ErrInvalidCredentials); a blocked account fails with ErrBlocked after
	// the password check. Success records last_login_at.
	Authenticate(ctx context.Context, email, password string, now time.Time) (User, error)

	GetByID(ctx context.Context, id string, v softdelete.Visibility) (User, error)
	List(ctx context.Context, limit int) ([]User, error)
	Update(ctx context.Context, id string, in UpdateInput, now time.Time) (User, error)
	AssignRole(ctx context.Context, id string, role Role, now time.Time) (User, error)

	// SetBlocked persists the blocked flag. Targeting an administrator fails
	// with ErrAdminProtected regardless of the actor.
	SetBlocked(ctx context.Context, id string, blocked bool, now time.Time) (User, error)

	// SoftDelete marks the user deleted. Administrators cannot be deleted.
	SoftDelete(ctx context.Context, id string, actorID string, now time.Time) error

	// Restore reverses a soft delete, clearing all three fields.
	Restore(ctx context.Context, id string) error
}
