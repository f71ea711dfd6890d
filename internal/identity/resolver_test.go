package identity

import (
	"context"
	"testing"
)

func TestPrincipalSuperAdminBypass(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "root@example.com", "orig-pass-1")

	role, err := svc.CreateRole(ctx, SuperAdminRole, "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.AssignRoles(ctx, u.ID, []string{role.ID}); err != nil {
		t.Fatalf("AssignRoles: %v", err)
	}

	user, _ := store.Users(ctx).Find(ctx, u.ID)
	principal, err := svc.Principal(ctx, user)
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	if !principal.IsSuperAdmin {
		t.Fatal("expected super admin")
	}
	// Bypass holds even with an empty permission set.
	if len(principal.Permissions) != 0 {
		t.Fatalf("expected no explicit permissions, got %d", len(principal.Permissions))
	}
	if !principal.HasPermission(PermSettingsManage) || !principal.HasPermission("made.up.code") {
		t.Fatal("super admin must pass every permission check")
	}
}

func TestPrincipalSuperAdminNameIsCaseInsensitive(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "root@example.com", "orig-pass-1")

	role, err := svc.CreateRole(ctx, "SUPER ADMIN", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.AssignRoles(ctx, u.ID, []string{role.ID}); err != nil {
		t.Fatalf("AssignRoles: %v", err)
	}

	user, _ := store.Users(ctx).Find(ctx, u.ID)
	principal, err := svc.Principal(ctx, user)
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	if !principal.IsSuperAdmin {
		t.Fatal("expected case-insensitive super admin match")
	}
}

func TestInactiveRoleContributesNothing(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "ops@example.com", "orig-pass-1")

	role, err := svc.CreateRole(ctx, "Operator", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.SetRolePermissions(ctx, role.ID, []string{PermUsersView}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if err := svc.AssignRoles(ctx, u.ID, []string{role.ID}); err != nil {
		t.Fatalf("AssignRoles: %v", err)
	}
	if err := svc.DeactivateRole(ctx, role.ID); err != nil {
		t.Fatalf("DeactivateRole: %v", err)
	}

	user, _ := store.Users(ctx).Find(ctx, u.ID)
	principal, err := svc.Principal(ctx, user)
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	// The assignment row survives, but the deactivated role neither names
	// itself nor grants anything.
	if len(principal.Roles) != 0 {
		t.Fatalf("expected no role names, got %v", principal.Roles)
	}
	if principal.HasPermission(PermUsersView) {
		t.Fatal("deactivated role must not grant permissions")
	}
}

func TestEffectivePermissionsUnion(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "ops@example.com", "orig-pass-1")

	first, err := svc.CreateRole(ctx, "Readers", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	second, err := svc.CreateRole(ctx, "Writers", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.SetRolePermissions(ctx, first.ID, []string{PermUsersView, PermSubOrgsView}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if err := svc.SetRolePermissions(ctx, second.ID, []string{PermUsersView, PermUsersUpdate}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if err := svc.AssignRoles(ctx, u.ID, []string{first.ID, second.ID}); err != nil {
		t.Fatalf("AssignRoles: %v", err)
	}

	perms, err := svc.EffectivePermissions(ctx, u.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	want := []string{PermSubOrgsView, PermUsersUpdate, PermUsersView}
	if len(perms) != len(want) {
		t.Fatalf("expected %v, got %v", want, perms)
	}
	for i, code := range want {
		if perms[i] != code {
			t.Fatalf("expected %v in sorted order, got %v", want, perms)
		}
	}
}
