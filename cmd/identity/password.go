package identity

import (
	"errors"

	"traq/cmd/security/password"
)

// HashPassword returns a PHC-style Argon2id hash string.
// The baseline minimum of 8 characters holds even if env policy is looser.
func HashPassword(plain string) (string, error) {
	cfg := password.FromEnv()
	if cfg.MinLength < 8 {
		cfg.MinLength = 8
	}

	enc, err := cfg.Hash(plain)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort):
			return "", OpError{Op: "identity.HashPassword", Kind: ErrInvalidInput, Msg: "password too short"}
		case errors.Is(err, password.ErrPasswordTooLong):
			return "", OpError{Op: "identity.HashPassword", Kind: ErrInvalidInput, Msg: "password too long"}
		default:
			return "", err
		}
	}
	return enc, nil
}

// VerifyPassword checks a password against a PHC Argon2id hash.
// Malformed hashes verify as false without leaking why.
func VerifyPassword(plain string, encodedPHC string) (bool, error) {
	cfg := password.FromEnv()

	ok, err := cfg.Verify(encodedPHC, plain)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}
