package token

import "errors"

var (
	// ErrHMACKeyMissing indicates TRAQ_TOKEN_HMAC_KEY is not set or blank.
	ErrHMACKeyMissing = errors.New("token hmac key missing")

	// ErrHMACKeyTooShort indicates the configured key is below the required minimum length.
	ErrHMACKeyTooShort = errors.New("token hmac key too short")
)
