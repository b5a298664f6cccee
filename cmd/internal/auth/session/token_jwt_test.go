package session

import (
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = []byte(strings.Repeat("a", 32))
	cfg.RefreshSecret = []byte(strings.Repeat("r", 32))
	return cfg
}

func TestHS256_IssueAndVerify(t *testing.T) {
	signer, err := NewHS256Signer(testConfig())
	if err != nil {
		t.Fatalf("NewHS256Signer: %v", err)
	}

	now := time.Now().UTC()
	tok, exp, err := signer.SignAccess("01HZZZZZZZZZZZZZZZZZZZZZZZ", now)
	if err != nil {
		t.Fatalf("SignAccess: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := signer.VerifyAccess(tok, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != "01HZZZZZZZZZZZZZZZZZZZZZZZ" {
		t.Fatalf("UserID mismatch: %q", claims.UserID)
	}
	if claims.TokenID == "" {
		t.Fatalf("expected non-empty jti")
	}
}

func TestHS256_TokenKindsAreNotInterchangeable(t *testing.T) {
	signer, err := NewHS256Signer(testConfig())
	if err != nil {
		t.Fatalf("NewHS256Signer: %v", err)
	}

	now := time.Now().UTC()
	refresh, _, err := signer.SignRefresh("u1", now)
	if err != nil {
		t.Fatalf("SignRefresh: %v", err)
	}

	if _, err := signer.VerifyAccess(refresh, now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken verifying refresh as access, got %v", err)
	}

	access, _, err := signer.SignAccess("u1", now)
	if err != nil {
		t.Fatalf("SignAccess: %v", err)
	}
	if _, err := signer.VerifyRefresh(access, now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken verifying access as refresh, got %v", err)
	}
}

func TestHS256_ExpiredTokenRejected(t *testing.T) {
	cfg := testConfig()
	cfg.ClockSkew = 0

	signer, err := NewHS256Signer(cfg)
	if err != nil {
		t.Fatalf("NewHS256Signer: %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := signer.SignAccess("u1", now)
	if err != nil {
		t.Fatalf("SignAccess: %v", err)
	}

	if _, err := signer.VerifyAccess(tok, now.Add(cfg.AccessTTL+time.Minute)); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestHS256_TamperedTokenRejected(t *testing.T) {
	signer, err := NewHS256Signer(testConfig())
	if err != nil {
		t.Fatalf("NewHS256Signer: %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := signer.SignRefresh("u1", now)
	if err != nil {
		t.Fatalf("SignRefresh: %v", err)
	}

	tampered := tok[:len(tok)-2] + "xx"
	if _, err := signer.VerifyRefresh(tampered, now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestHS256_UniqueTokensWithinSameInstant(t *testing.T) {
	signer, err := NewHS256Signer(testConfig())
	if err != nil {
		t.Fatalf("NewHS256Signer: %v", err)
	}

	now := time.Now().UTC()
	a, _, err := signer.SignRefresh("u1", now)
	if err != nil {
		t.Fatalf("SignRefresh: %v", err)
	}
	b, _, err := signer.SignRefresh("u1", now)
	if err != nil {
		t.Fatalf("SignRefresh: %v", err)
	}
	if a == b {
		t.Fatalf("two refresh tokens minted at the same instant must differ")
	}
}
