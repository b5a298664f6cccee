package board

import "traq/cmd/identity"

// Role rules. Kept as pure functions so the handlers stay thin and the
// rules stay unit-testable.

// CanCreateProject limits project creation to admins and project managers.
func CanCreateProject(actor identity.User) bool {
	return actor.Role == identity.RoleAdmin || actor.Role == identity.RolePM
}

// CanEditProject allows admins, project managers and the owner.
func CanEditProject(actor identity.User, p Project) bool {
	if actor.Role == identity.RoleAdmin || actor.Role == identity.RolePM {
		return true
	}
	return actor.ID == p.OwnerID
}

// CanDeleteProject is admin-only because deletion cascades to tasks.
func CanDeleteProject(actor identity.User) bool {
	return actor.Role == identity.RoleAdmin
}

// CanEditTask rejects non-admin edits once a task is done.
func CanEditTask(actor identity.User, t Task) bool {
	if actor.Role == identity.RoleAdmin {
		return true
	}
	if t.Status == TaskDone {
		return false
	}
	if actor.Role == identity.RolePM {
		return true
	}
	return t.AssigneeID != nil && *t.AssigneeID == actor.ID
}

// CanDeleteTask mirrors CanEditTask but is limited to admins and PMs.
func CanDeleteTask(actor identity.User, t Task) bool {
	if actor.Role == identity.RoleAdmin {
		return true
	}
	if t.Status == TaskDone {
		return false
	}
	return actor.Role == identity.RolePM
}

// CanChangeTaskStatus allows admins always; PMs and the assignee may move a
// task unless its current status is terminal (done or blocked), which only
// an admin can leave.
func CanChangeTaskStatus(actor identity.User, t Task) bool {
	if actor.Role == identity.RoleAdmin {
		return true
	}
	if t.Status.Terminal() {
		return false
	}
	if actor.Role == identity.RolePM {
		return true
	}
	return t.AssigneeID != nil && *t.AssigneeID == actor.ID
}

// CanDeleteComment allows admins and the comment's author.
func CanDeleteComment(actor identity.User, c Comment) bool {
	return actor.Role == identity.RoleAdmin || actor.ID == c.AuthorID
}
