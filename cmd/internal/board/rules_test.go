package board

import (
	"testing"

	"traq/cmd/identity"
)

func user(id string, role identity.Role) identity.User {
	return identity.User{ID: id, Role: role}
}

func strPtr(s string) *string { return &s }

func TestProjectRules(t *testing.T) {
	admin := user("a1", identity.RoleAdmin)
	pm := user("p1", identity.RolePM)
	member := user("m1", identity.RoleMember)
	owner := user("o1", identity.RoleMember)

	proj := Project{ID: "pr1", OwnerID: "o1"}

	if !CanCreateProject(admin) || !CanCreateProject(pm) {
		t.Fatalf("admin and pm must be able to create projects")
	}
	if CanCreateProject(member) {
		t.Fatalf("member must not create projects")
	}

	if !CanEditProject(owner, proj) {
		t.Fatalf("owner must edit own project")
	}
	if CanEditProject(member, proj) {
		t.Fatalf("unrelated member must not edit project")
	}

	if !CanDeleteProject(admin) {
		t.Fatalf("admin must delete projects")
	}
	if CanDeleteProject(pm) || CanDeleteProject(owner) {
		t.Fatalf("project deletion is admin-only")
	}
}

func TestTaskEditRules(t *testing.T) {
	admin := user("a1", identity.RoleAdmin)
	pm := user("p1", identity.RolePM)
	assignee := user("u1", identity.RoleMember)
	other := user("u2", identity.RoleMember)

	open := Task{ID: "t1", Status: TaskInProgress, AssigneeID: strPtr("u1")}
	done := Task{ID: "t2", Status: TaskDone, AssigneeID: strPtr("u1")}

	if !CanEditTask(assignee, open) || !CanEditTask(pm, open) {
		t.Fatalf("assignee and pm must edit open tasks")
	}
	if CanEditTask(other, open) {
		t.Fatalf("unrelated member must not edit tasks")
	}
	if CanEditTask(pm, done) || CanEditTask(assignee, done) {
		t.Fatalf("finished tasks are admin-only")
	}
	if !CanEditTask(admin, done) {
		t.Fatalf("admin must edit finished tasks")
	}

	if CanDeleteTask(pm, done) {
		t.Fatalf("pm must not delete finished tasks")
	}
	if !CanDeleteTask(admin, done) || !CanDeleteTask(pm, open) {
		t.Fatalf("admin deletes anything, pm deletes open tasks")
	}
	if CanDeleteTask(assignee, open) {
		t.Fatalf("members must not delete tasks")
	}
}

func TestTaskStatusRules(t *testing.T) {
	admin := user("a1", identity.RoleAdmin)
	pm := user("p1", identity.RolePM)
	assignee := user("u1", identity.RoleMember)
	other := user("u2", identity.RoleMember)

	open := Task{ID: "t1", Status: TaskTodo, AssigneeID: strPtr("u1")}
	blocked := Task{ID: "t2", Status: TaskBlocked, AssigneeID: strPtr("u1")}
	done := Task{ID: "t3", Status: TaskDone, AssigneeID: strPtr("u1")}

	if !CanChangeTaskStatus(assignee, open) || !CanChangeTaskStatus(pm, open) {
		t.Fatalf("assignee and pm must move open tasks")
	}
	if CanChangeTaskStatus(other, open) {
		t.Fatalf("unrelated member must not move tasks")
	}

	for _, terminal := range []Task{blocked, done} {
		if CanChangeTaskStatus(pm, terminal) || CanChangeTaskStatus(assignee, terminal) {
			t.Fatalf("only admin may leave %s", terminal.Status)
		}
		if !CanChangeTaskStatus(admin, terminal) {
			t.Fatalf("admin must be able to leave %s", terminal.Status)
		}
	}
}

func TestCommentRules(t *testing.T) {
	admin := user("a1", identity.RoleAdmin)
	author := user("u1", identity.RoleMember)
	other := user("u2", identity.RolePM)

	c := Comment{ID: "c1", AuthorID: "u1"}

	if !CanDeleteComment(author, c) || !CanDeleteComment(admin, c) {
		t.Fatalf("author and admin must delete the comment")
	}
	if CanDeleteComment(other, c) {
		t.Fatalf("non-author pm must not delete the comment")
	}
}

func TestParseTaskStatus(t *testing.T) {
	for _, raw := range []string{"todo", " In-Progress ", "DONE", "blocked"} {
		if _, ok := ParseTaskStatus(raw); !ok {
			t.Fatalf("ParseTaskStatus(%q) rejected", raw)
		}
	}
	if _, ok := ParseTaskStatus("cancelled"); ok {
		t.Fatalf("unknown status must be rejected")
	}

	if !TaskDone.Terminal() || !TaskBlocked.Terminal() {
		t.Fatalf("done and blocked are terminal")
	}
	if TaskTodo.Terminal() || TaskInProgress.Terminal() {
		t.Fatalf("todo and in-progress are not terminal")
	}
}
