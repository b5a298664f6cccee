package identity

import (
	"regexp"
	"strings"
	"time"

	"traq/cmd/internal/softdelete"
)

// Role is a user's access level. Route guards consume it directly.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RolePM     Role = "pm"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleMember:
		return RoleMember, true
	case RoleAdmin:
		return RoleAdmin, true
	case RolePM:
		return RolePM, true
	default:
		return "", false
	}
}

// User is traq's security principal.
//
// Invariant: administrator accounts are never blocked and never soft-deleted
// (enforced by the store, not the schema).
type User struct {
	ID    string
	Name  string
	Email string
	Role  Role

	Blocked     bool
	LastLoginAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	softdelete.Fields
}

var emailRe = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailRe.MatchString(strings.TrimSpace(s))
}

// ValidName reports whether a display name meets the minimum length.
func ValidName(s string) bool {
	return len(strings.TrimSpace(s)) >= 2
}
