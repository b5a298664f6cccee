// Package authapi exposes the HTTP surface for registration, login,
// refresh rotation, logout and the authenticated-user endpoints. Tokens
// travel in HttpOnly cookies; state-changing routes additionally require
// a CSRF double-submit token.
package authapi
