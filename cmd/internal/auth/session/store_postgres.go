package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore implements Store using PostgreSQL (traq.refresh_tokens).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed token ledger.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new ledger row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, meta ClientMeta, tokenHash string, expiresAt time.Time) (string, error) {
	id := ulid.Make().String()

	var ip net.IP
	if meta.IP != nil {
		ip = meta.IP
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO traq.refresh_tokens (
			id, user_id, token_hash,
			ip, user_agent, created_at, expires_at,
			revoked, revoked_at, replaced_by_id
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			FALSE, NULL, NULL
		)
	`, id, userID, tokenHash, ip, nullIfBlank(meta.UserAgent), now, expiresAt)
	if err != nil {
		return "", err
	}

	return id, nil
}

const recordColumns = `
	id, user_id, token_hash,
	ip, user_agent, created_at, expires_at,
	revoked, revoked_at, replaced_by_id
`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec Record
		ip  *net.IP
		ua  *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.TokenHash,
		&ip,
		&ua,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.Revoked,
		&rec.RevokedAt,
		&rec.ReplacedByID,
	)
	if err != nil {
		return Record{}, err
	}
	if ip != nil {
		rec.IP = *ip
	}
	if ua != nil {
		rec.UserAgent = *ua
	}
	return rec, nil
}

// GetByTokenHash loads a ledger row by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM traq.refresh_tokens
		WHERE token_hash = $1
	`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrTokenNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Revoke revokes the row matching tokenHash (idempotent; no-op when absent).
// revoked_at is preserved if the row was already revoked.
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE traq.refresh_tokens
		SET revoked = TRUE,
		    revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1
	`, tokenHash, now)
	return err
}

// RevokeAll revokes every row belonging to userID (idempotent).
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE traq.refresh_tokens
		SET revoked = TRUE,
		    revoked_at = COALESCE(revoked_at, $2)
		WHERE user_id = $1
	`, userID, now)
	return err
}

// ListByUser returns all ledger rows for a user, newest first, revoked
// included: the ledger doubles as an audit trail.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM traq.refresh_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullIfBlank(s string) any {
	if s == "" {
		return nil
	}
	return s
}
