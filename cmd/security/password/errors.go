package password

import "errors"

var (
	// ErrInvalidHash is returned for malformed or unsupported encoded hashes.
	ErrInvalidHash = errors.New("invalid password hash")

	// ErrPasswordTooShort is returned when a password is below the policy minimum.
	ErrPasswordTooShort = errors.New("password too short")

	// ErrPasswordTooLong is returned when a password exceeds the policy maximum.
	ErrPasswordTooLong = errors.New("password too long")
)
