package session

import (
	"context"
	"net"
	"time"
)

// ClientMeta describes the client that was issued a refresh token.
type ClientMeta struct {
	IP        net.IP
	UserAgent string
}

// Record mirrors one traq.refresh_tokens row: the audit/validity entry for a
// single issued refresh token.
//
// Invariants:
//   - TokenHash is unique across all records.
//   - Once Revoked, a record is terminal; it is never un-revoked and never
//     hard-deleted.
//   - ReplacedByID is set only when revocation happened through rotation,
//     never by reuse-detected mass revocation.
type Record struct {
	ID        string
	UserID    string
	TokenHash string

	IP        net.IP
	UserAgent string

	CreatedAt time.Time
	ExpiresAt time.Time

	Revoked      bool
	RevokedAt    *time.Time
	ReplacedByID *string
}

// Store abstracts persistence for the token ledger.
//
// Implementations must enforce token-hash uniqueness at the store level and
// provide the row-locking semantics GetByTokenHashForUpdate requires.
type Store interface {
	// Create inserts a new ledger row and returns its ID.
	Create(ctx context.Context, now time.Time, userID string, meta ClientMeta, tokenHash string, expiresAt time.Time) (string, error)

	// GetByTokenHash loads a ledger row by token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (Record, error)

	// Revoke revokes the row matching tokenHash if one exists; idempotent,
	// and a no-op when no row matches (logout semantics).
	Revoke(ctx context.Context, now time.Time, tokenHash string) error

	// RevokeAll revokes every row belonging to userID (idempotent).
	RevokeAll(ctx context.Context, now time.Time, userID string) error

	// ListByUser returns all ledger rows for a user, newest first.
	// The ledger is an audit trail, so revoked rows are included.
	ListByUser(ctx context.Context, userID string) ([]Record, error)
}

// refreshState classifies a ledger row presented for rotation.
type refreshState int

const (
	// refreshReuse: the row was already revoked. Whoever presents its token
	// is replaying a rotated (or logged-out) credential.
	refreshReuse refreshState = iota
	// refreshExpired: the row outlived its expiry without being revoked.
	refreshExpired
	// refreshValid: rotation may proceed.
	refreshValid
)

// classifyRecord is the rotation decision in pure form. Revocation wins over
// expiry: replaying a revoked token is a security signal even when the token
// would have expired anyway.
func classifyRecord(rec Record, now time.Time) refreshState {
	if rec.Revoked {
		return refreshReuse
	}
	if !rec.ExpiresAt.After(now) {
		return refreshExpired
	}
	return refreshValid
}
