// Package token provides the hashing primitives used to derive server-side
// lookup keys for refresh tokens and other opaque credentials.
//
// The plaintext of a signed refresh token is never persisted; the token
// ledger stores a 64-char hex digest produced here. When TRAQ_TOKEN_HMAC_KEY
// is set the digest is HMAC-SHA256; otherwise plain SHA-256 is used for
// development.
package token
