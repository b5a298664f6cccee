package session

import "errors"

var (
	// ErrInvalidToken is returned when a token fails signature or claim
	// verification, including expiry of the token itself.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenNotFound is returned when a verified refresh token has no
	// ledger row (never issued, or the store was cleared).
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenExpired is returned when the ledger row's expiry has passed.
	ErrTokenExpired = errors.New("refresh token expired")

	// ErrReuseDetected is returned when a revoked refresh token is presented
	// again. By the time the caller sees it, every ledger row for that user
	// has been revoked.
	ErrReuseDetected = errors.New("refresh token reuse detected")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
