package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
)

func getByTokenHashForUpdateTx(ctx context.Context, tx pgx.Tx, tokenHash string) (Record, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM traq.refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrTokenNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func createTx(ctx context.Context, tx pgx.Tx, now time.Time, userID string, meta ClientMeta, tokenHash string, expiresAt time.Time) (string, error) {
	id := ulid.Make().String()

	var ip net.IP
	if meta.IP != nil {
		ip = meta.IP
	}

	_, err := tx.Exec(ctx, `
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

// markRotatedTx revokes the old row and links it to its replacement.
// replaced_by_id is set only here: reuse-detected mass revocation never
// writes a lineage pointer.
func markRotatedTx(ctx context.Context, tx pgx.Tx, now time.Time, oldID string, newID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE traq.refresh_tokens
		SET revoked = TRUE,
		    revoked_at = $2,
		    replaced_by_id = $3
		WHERE id = $1
	`, oldID, now, newID)
	return err
}

func revokeAllTx(ctx context.Context, tx pgx.Tx, now time.Time, userID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE traq.refresh_tokens
		SET revoked = TRUE,
		    revoked_at = COALESCE(revoked_at, $2)
		WHERE user_id = $1
	`, userID, now)
	return err
}
