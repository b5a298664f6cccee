package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")

	// ErrInvalidCredentials covers both unknown email and password mismatch.
	// The two cases are deliberately indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrBlocked is returned when an otherwise valid login hits a blocked
	// account. Unlike ErrInvalidCredentials it is user-visible.
	ErrBlocked = errors.New("account_blocked")

	// ErrAdminProtected is returned when blocking or soft-deleting would
	// target an administrator account.
	ErrAdminProtected = errors.New("admin_protected")
)
