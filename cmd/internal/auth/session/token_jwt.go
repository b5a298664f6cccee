package session

import (
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Claims is the minimal identity envelope carried by both token kinds.
type Claims struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// TokenSigner issues and verifies the signed access/refresh token pair.
type TokenSigner interface {
	SignAccess(userID string, now time.Time) (token string, exp time.Time, err error)
	SignRefresh(userID string, now time.Time) (token string, exp time.Time, err error)
	VerifyAccess(token string, now time.Time) (Claims, error)
	VerifyRefresh(token string, now time.Time) (Claims, error)
}

type hs256Signer struct {
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clockSkew  time.Duration

	accessSecret  []byte
	refreshSecret []byte
}

// NewHS256Signer builds a TokenSigner using HMAC-SHA256 with independent
// secrets per token kind. A jti is set on every token so that two tokens
// minted for the same user within the same second never collide as ledger
// keys.
func NewHS256Signer(cfg Config) (TokenSigner, error) {
	if len(cfg.AccessSecret) < 32 || len(cfg.RefreshSecret) < 32 {
		return nil, ErrConfig
	}

	return &hs256Signer{
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		clockSkew:     cfg.ClockSkew,
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
	}, nil
}

func (s *hs256Signer) SignAccess(userID string, now time.Time) (string, time.Time, error) {
	return s.sign(userID, now, s.accessTTL, s.accessSecret)
}

func (s *hs256Signer) SignRefresh(userID string, now time.Time) (string, time.Time, error) {
	return s.sign(userID, now, s.refreshTTL, s.refreshSecret)
}

func (s *hs256Signer) sign(userID string, now time.Time, ttl time.Duration, secret []byte) (string, time.Time, error) {
	exp := now.Add(ttl)

	jti, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", time.Time{}, err
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   userID,
		ID:        jti.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (s *hs256Signer) VerifyAccess(token string, now time.Time) (Claims, error) {
	return s.verify(token, now, s.accessSecret)
}

func (s *hs256Signer) VerifyRefresh(token string, now time.Time) (Claims, error) {
	return s.verify(token, now, s.refreshSecret)
}

func (s *hs256Signer) verify(token string, now time.Time, secret []byte) (Claims, error) {
	claims := jwt.RegisteredClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{
		UserID:  claims.Subject,
		TokenID: claims.ID,
		Issuer:  claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
