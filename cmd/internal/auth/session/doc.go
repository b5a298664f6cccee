// Package session implements traq's dual-token session core.
//
// Access and refresh tokens are short-lived HS256 JWTs carrying only the
// user id (plus a unique jti). Every refresh token issuance is mirrored by a
// ledger row in Postgres storing the token's hash, client metadata, expiry,
// and revocation state. Refresh rotation runs inside a single transaction
// with the ledger row locked; presenting an already-rotated token is treated
// as reuse and revokes every ledger row belonging to that user.
//
// Transport (cookies, HTTP) is intentionally out of scope here.
package session
