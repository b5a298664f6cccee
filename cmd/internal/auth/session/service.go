package session

import (
	"context"
	"strings"
	"time"

	"traq/cmd/internal/metrics"
	"traq/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Service implements the high-level session operations: issuing token pairs,
// refresh rotation with reuse detection, logout, and access-token
// verification for the request middleware.
type Service struct {
	cfg    Config
	signer TokenSigner
	store  Store

	// pool is used to create explicit transactions for rotation safety.
	pool *pgxpool.Pool
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	RecordID     string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service. The pool is required because rotation must
// run inside a single transaction.
func NewService(cfg Config, pool *pgxpool.Pool, store Store, signer TokenSigner) *Service {
	return &Service{cfg: cfg, pool: pool, store: store, signer: signer}
}

// IssueSession signs a fresh access/refresh pair for userID and persists the
// refresh token's ledger row.
//
// The ledger stores only the token's hash; store-level uniqueness on that
// hash guarantees no two calls can race to create duplicate rows for the
// same token string.
func (s *Service) IssueSession(ctx context.Context, now time.Time, userID string, meta ClientMeta) (Issued, error) {
	accessToken, accessExp, err := s.signer.SignAccess(userID, now)
	if err != nil {
		return Issued{}, err
	}

	refreshToken, refreshExp, err := s.signer.SignRefresh(userID, now)
	if err != nil {
		return Issued{}, err
	}

	recordID, err := s.store.Create(ctx, now, userID, meta, token.HashLedgerTokenHex(refreshToken), refreshExp)
	if err != nil {
		return Issued{}, err
	}

	metrics.SessionsIssued.Inc()

	return Issued{
		RecordID:     recordID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshToken,
		RefreshExp:   refreshExp,
	}, nil
}

// VerifyAccess verifies an access token and returns its claims.
// The middleware resolves the claims to a live user afterwards.
func (s *Service) VerifyAccess(tokenStr string, now time.Time) (Claims, error) {
	return s.signer.VerifyAccess(tokenStr, now)
}

// Rotate performs refresh rotation with reuse detection.
//
// Protocol over the presented token t:
//   - Verify t's signature and expiry independently of the ledger; failure
//     is ErrInvalidToken (a row might not even exist for a forged token).
//   - Lock the ledger row by token hash (SELECT ... FOR UPDATE).
//   - No row: ErrTokenNotFound.
//   - Row revoked: reuse. Revoke every ledger row for that user inside the
//     same transaction, commit, and return ErrReuseDetected. Concurrent
//     replays of the same token serialize on the row lock and both observe
//     revoked=true; the second mass revocation is a no-op.
//   - Row live: sign a new pair, insert the new ledger row and mark the old
//     one revoked with its lineage pointer, all in one transaction. Both
//     writes commit together or neither does.
//
// The service never retries; any failure surfaces to the caller immediately.
func (s *Service) Rotate(ctx context.Context, now time.Time, refreshPlain string, meta ClientMeta) (Issued, error) {
	refreshPlain = strings.TrimSpace(refreshPlain)
	if refreshPlain == "" || len(refreshPlain) > 4096 {
		return Issued{}, ErrInvalidToken
	}

	claims, err := s.signer.VerifyRefresh(refreshPlain, now)
	if err != nil {
		return Issued{}, ErrInvalidToken
	}

	tokenHash := token.HashLedgerTokenHex(refreshPlain)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Issued{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := getByTokenHashForUpdateTx(ctx, tx, tokenHash)
	if err != nil {
		return Issued{}, err
	}

	// The signed user id and the ledger row must agree; a mismatch means the
	// ledger key collided or the token was tampered with.
	if rec.UserID != claims.UserID {
		return Issued{}, ErrInvalidToken
	}

	switch classifyRecord(rec, now) {
	case refreshReuse:
		// Security incident: a rotated token is being replayed. Fan out the
		// revocation to every row the user has, whatever their state.
		if err := revokeAllTx(ctx, tx, now, rec.UserID); err != nil {
			return Issued{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Issued{}, err
		}
		metrics.ReuseDetected.Inc()
		return Issued{}, ErrReuseDetected

	case refreshExpired:
		return Issued{}, ErrTokenExpired
	}

	newAccess, accessExp, err := s.signer.SignAccess(rec.UserID, now)
	if err != nil {
		return Issued{}, err
	}
	newRefresh, refreshExp, err := s.signer.SignRefresh(rec.UserID, now)
	if err != nil {
		return Issued{}, err
	}

	newID, err := createTx(ctx, tx, now, rec.UserID, meta, token.HashLedgerTokenHex(newRefresh), refreshExp)
	if err != nil {
		return Issued{}, err
	}
	if err := markRotatedTx(ctx, tx, now, rec.ID, newID); err != nil {
		return Issued{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Issued{}, err
	}

	metrics.SessionsRotated.Inc()

	return Issued{
		RecordID:     newID,
		AccessToken:  newAccess,
		AccessExp:    accessExp,
		RefreshToken: newRefresh,
		RefreshExp:   refreshExp,
	}, nil
}

// Logout revokes the ledger row for the presented refresh token.
// Idempotent: already-revoked and unknown tokens are not errors, so the
// caller can always clear cookies unconditionally.
func (s *Service) Logout(ctx context.Context, now time.Time, refreshPlain string) error {
	refreshPlain = strings.TrimSpace(refreshPlain)
	if refreshPlain == "" {
		return nil
	}
	if err := s.store.Revoke(ctx, now, token.HashLedgerTokenHex(refreshPlain)); err != nil {
		return err
	}
	metrics.Logouts.Inc()
	return nil
}
