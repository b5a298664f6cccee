// Package softdelete defines the shared soft-delete contract for users,
// projects, tasks and comments.
//
// Deletion is never physical for these entity types. Every read path must
// apply Predicate explicitly; there is no implicit query hook, so a missing
// filter is visible in code review.
package softdelete

import "time"

// Visibility selects whether soft-deleted rows are returned by a read.
type Visibility int

const (
	// Active filters out soft-deleted rows. This is the default everywhere.
	Active Visibility = iota
	// All includes soft-deleted rows; callers must opt in explicitly.
	All
)

// Fields is the soft-delete column triple embedded by each entity.
type Fields struct {
	Deleted   bool
	DeletedAt *time.Time
	DeletedBy *string
}

// MarkDeleted sets the triple for a soft delete performed by actorID.
func (f *Fields) MarkDeleted(now time.Time, actorID string) {
	f.Deleted = true
	f.DeletedAt = &now
	if actorID != "" {
		f.DeletedBy = &actorID
	} else {
		f.DeletedBy = nil
	}
}

// MarkRestored reverses a soft delete, clearing all three fields.
func (f *Fields) MarkRestored() {
	f.Deleted = false
	f.DeletedAt = nil
	f.DeletedBy = nil
}

// Predicate returns the SQL condition enforcing v for the given table alias,
// or "" when deleted rows are included. Callers append it with AND to their
// WHERE clause.
//
// The alias must be a trusted identifier (a literal in the calling query),
// never user input.
func Predicate(alias string, v Visibility) string {
	if v == All {
		return ""
	}
	if alias == "" {
		return "deleted = FALSE"
	}
	return alias + ".deleted = FALSE"
}
