// Package board implements projects, tasks, comments and the activity
// trail. Reads go through the soft-delete filter; project deletion
// cascades to the project's tasks inside one transaction.
package board
