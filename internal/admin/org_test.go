package admin

import (
	"context"
	"errors"
	"testing"

	"gatehouse.org/internal/auth"
)

func TestRoleLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRole(ctx, RoleInput{Name: "Bad", Permissions: []auth.Permission{grant(auth.SubjectRole, auth.UserDelete)}})
	if msg := validationMessage(t, err); msg != "Invalid permissions: ROLE, USER_DELETE" {
		t.Fatalf("message = %q", msg)
	}

	role, err := f.svc.CreateRole(ctx, RoleInput{Name: " Auditors ", Permissions: []auth.Permission{grant(auth.SubjectHistory, auth.ActionListing)}})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.Name != "Auditors" || len(role.Permissions) != 1 {
		t.Fatalf("unexpected role: %+v", role)
	}
	_, err = f.svc.CreateRole(ctx, RoleInput{Name: "Auditors"})
	if msg := validationMessage(t, err); msg != "Role already exists" {
		t.Fatalf("message = %q", msg)
	}

	byName, err := f.svc.GetRole(ctx, "Auditors")
	if err != nil || byName.ID != role.ID || len(byName.Permissions) != 1 {
		t.Fatalf("GetRole by name: %+v, %v", byName, err)
	}

	res, err := f.svc.DeleteRole(ctx, role.ID)
	if err != nil || res.Message != "Role deleted successfully" {
		t.Fatalf("DeleteRole: %+v, %v", res, err)
	}
	_, err = f.svc.GetRole(ctx, role.ID)
	var nf *auth.NotFoundError
	if !errors.As(err, &nf) || nf.Message != "Role not found" {
		t.Fatalf("deleted role: %v", err)
	}
	// the name is free again once the role is gone
	if _, err := f.svc.CreateRole(ctx, RoleInput{Name: "Auditors"}); err != nil {
		t.Fatalf("recreate: %v", err)
	}
}

func TestUpdateRolePermissionsRevokesMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.user(t, "pat", true)
	outsider := f.user(t, "quinn", true)
	role, err := f.svc.CreateRole(ctx, RoleInput{Name: "Support", Permissions: []auth.Permission{grant(auth.SubjectUser, auth.UserListing)}})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := f.svc.SetRoles(ctx, member.ID, []string{role.ID}); err != nil {
		t.Fatalf("SetRoles: %v", err)
	}
	f.login(t, "pat")
	f.login(t, "quinn")

	desc := "first line"
	updated, err := f.svc.UpdateRole(ctx, RoleUpdate{ID: role.ID, Name: "Support L1", Description: &desc})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if updated.Name != "Support L1" || len(updated.Permissions) != 1 {
		t.Fatalf("nil permissions should keep the set: %+v", updated)
	}
	if tokens := f.tokensOf(t, member.ID); len(tokens) != 1 {
		t.Fatalf("rename revoked member sessions: %v", tokens)
	}

	updated, err = f.svc.UpdateRole(ctx, RoleUpdate{ID: role.ID, Name: "Support L1", Permissions: []auth.Permission{}})
	if err != nil {
		t.Fatalf("clear permissions: %v", err)
	}
	if len(updated.Permissions) != 0 {
		t.Fatalf("permissions = %+v", updated.Permissions)
	}
	if updated.Description != "first line" {
		t.Fatalf("omitted description should be kept, got %q", updated.Description)
	}
	if tokens := f.tokensOf(t, member.ID); len(tokens) != 0 {
		t.Fatalf("member sessions survive: %v", tokens)
	}
	if tokens := f.tokensOf(t, outsider.ID); len(tokens) != 1 {
		t.Fatalf("outsider sessions touched: %v", tokens)
	}

	other, _ := f.svc.CreateRole(ctx, RoleInput{Name: "Other"})
	_, err = f.svc.UpdateRole(ctx, RoleUpdate{ID: other.ID, Name: "Support L1"})
	if msg := validationMessage(t, err); msg != "Role already exists" {
		t.Fatalf("message = %q", msg)
	}
}

func TestDepartmentTreeAndCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateDepartment(ctx, DepartmentInput{Name: "Orphan", ParentID: "00000000-0000-0000-0000-000000000000"})
	if msg := validationMessage(t, err); msg != "Parent department does not exist" {
		t.Fatalf("message = %q", msg)
	}

	root, err := f.svc.CreateDepartment(ctx, DepartmentInput{Name: "Company"})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	eng, err := f.svc.CreateDepartment(ctx, DepartmentInput{Name: "Engineering", ParentID: root.ID})
	if err != nil {
		t.Fatalf("create eng: %v", err)
	}
	web, err := f.svc.CreateDepartment(ctx, DepartmentInput{Name: "Web", ParentID: eng.ID})
	if err != nil {
		t.Fatalf("create web: %v", err)
	}
	if _, err := f.svc.CreateDepartment(ctx, DepartmentInput{Name: "Web"}); validationMessage(t, err) != "Department already exists" {
		t.Fatalf("duplicate name: %v", err)
	}

	tree, err := f.svc.DepartmentTree(ctx)
	if err != nil {
		t.Fatalf("DepartmentTree: %v", err)
	}
	if len(tree) != 1 || tree[0].ID != root.ID || len(tree[0].Children) != 1 ||
		tree[0].Children[0].ID != eng.ID || tree[0].Children[0].Children[0].ID != web.ID {
		t.Fatalf("unexpected tree: %+v", tree)
	}

	cases := []struct {
		name string
		in   DepartmentUpdate
	}{
		{"self parent", DepartmentUpdate{ID: root.ID, Name: "Company", ParentID: root.ID}},
		{"descendant parent", DepartmentUpdate{ID: root.ID, Name: "Company", ParentID: web.ID}},
		{"ancestor child", DepartmentUpdate{ID: web.ID, Name: "Web", ParentID: eng.ID, Children: []string{root.ID}}},
		{"self child", DepartmentUpdate{ID: eng.ID, Name: "Engineering", ParentID: root.ID, Children: []string{eng.ID}}},
	}
	for _, tc := range cases {
		_, err := f.svc.UpdateDepartment(ctx, tc.in)
		if msg := validationMessage(t, err); msg != "Department cannot be its own ancestor" {
			t.Fatalf("%s: message = %q", tc.name, msg)
		}
	}

	// move Web to the top and adopt Engineering's old spot
	moved, err := f.svc.UpdateDepartment(ctx, DepartmentUpdate{ID: web.ID, Name: "Web", Children: []string{}})
	if err != nil {
		t.Fatalf("move web: %v", err)
	}
	if moved.ParentID != "" {
		t.Fatalf("parent = %q", moved.ParentID)
	}
	updated, err := f.svc.UpdateDepartment(ctx, DepartmentUpdate{ID: root.ID, Name: "Company", Children: []string{web.ID}})
	if err != nil {
		t.Fatalf("set children: %v", err)
	}
	if len(updated.Children) != 1 || updated.Children[0].ID != web.ID {
		t.Fatalf("children = %+v", updated.Children)
	}
	gone, err := f.svc.GetDepartment(ctx, eng.ID)
	if err != nil || gone.ParentID != "" {
		t.Fatalf("engineering should be detached: %+v, %v", gone, err)
	}

	if _, err := f.svc.DeleteDepartment(ctx, root.ID); err != nil {
		t.Fatalf("DeleteDepartment: %v", err)
	}
	tree, _ = f.svc.DepartmentTree(ctx)
	if len(tree) != 2 {
		t.Fatalf("children of a deleted department should become roots: %+v", tree)
	}
	_, err = f.svc.GetDepartment(ctx, root.ID)
	var nf *auth.NotFoundError
	if !errors.As(err, &nf) || nf.Message != "Department does not exist" {
		t.Fatalf("deleted department: %v", err)
	}
}

func TestMenu(t *testing.T) {
	f := newFixture(t)

	anon := f.svc.Menu(context.Background())
	if len(anon) != 1 || anon[0].Slug != "home" || anon[0].Type != TopMenu {
		t.Fatalf("anonymous menu = %+v", anon)
	}

	u := &auth.User{ID: "u-1", Username: "viewer"}
	viewer := f.svc.Menu(as(u, grant(auth.SubjectUser, auth.UserListing)))
	if len(viewer) != 2 || viewer[1].Slug != "dashboard" || len(viewer[1].Children) != 1 {
		t.Fatalf("viewer menu = %+v", viewer)
	}

	deleter := f.svc.Menu(as(u, grant(auth.SubjectUser, auth.UserDelete)))
	var slugs []string
	for _, item := range deleter {
		if item.Type == ActionMenu {
			slugs = append(slugs, item.Slug)
		}
	}
	if len(slugs) != 2 || slugs[0] != "delete" || slugs[1] != "rollback" {
		t.Fatalf("action items = %v", slugs)
	}

	admin := f.svc.Menu(as(u, auth.Universal()))
	if len(admin) != 2+len(userActions) {
		t.Fatalf("admin menu has %d items", len(admin))
	}
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := EnsureAdmin(ctx, f.store, "", "")
	if err != nil || !created {
		t.Fatalf("EnsureAdmin: %v, %v", created, err)
	}
	created, err = EnsureAdmin(ctx, f.store, "ADMIN", "other")
	if err != nil || created {
		t.Fatalf("second EnsureAdmin: %v, %v", created, err)
	}

	sess, err := f.svc.Login(ctx, DefaultAdminUsername, DefaultAdminPassword, "")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	me, err := f.svc.Me(auth.ContextWithAuth(ctx, auth.NewAuthContext(sess.User, nil, sess.Token)))
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if len(me.Permissions) != 1 || !me.Permissions[0].IsUniversal() {
		t.Fatalf("admin permissions = %+v", me.Permissions)
	}
}

func TestCatalogAndHistory(t *testing.T) {
	f := newFixture(t)
	if len(f.svc.Catalog()) != len(auth.Catalog()) {
		t.Fatal("catalog mismatch")
	}
	ctx := context.Background()
	if _, err := f.svc.CreateDepartment(ctx, DepartmentInput{Name: "A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreateRole(ctx, RoleInput{Name: "R"}); err != nil {
		t.Fatal(err)
	}
	page, err := f.svc.History(ctx, auth.HistoryQuery{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if page.Total != 2 || page.Data[0].Subject != string(auth.SubjectRole) || page.Limit != auth.DefaultPageLimit {
		t.Fatalf("unexpected history page: %+v", page)
	}
}

func TestDepartmentUpdateKeepsOmittedDescription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.svc.CreateDepartment(ctx, DepartmentInput{Name: "Legal", Description: "contracts"})
	if err != nil {
		t.Fatalf("CreateDepartment: %v", err)
	}

	updated, err := f.svc.UpdateDepartment(ctx, DepartmentUpdate{ID: d.ID, Name: "Legal & Compliance"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if updated.Description != "contracts" {
		t.Fatalf("description = %q, want kept", updated.Description)
	}

	empty := ""
	updated, err = f.svc.UpdateDepartment(ctx, DepartmentUpdate{ID: d.ID, Name: "Legal & Compliance", Description: &empty})
	if err != nil {
		t.Fatalf("clear description: %v", err)
	}
	if updated.Description != "" {
		t.Fatalf("explicit empty description should clear it, got %q", updated.Description)
	}
}
