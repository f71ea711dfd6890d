package identity

import (
	"context"
	"sort"
	"strings"
)

// Principal is a user with resolved roles and effective permissions.
type Principal struct {
	User         *User
	Roles        []string
	Permissions  map[string]struct{}
	IsSuperAdmin bool
}

// HasPermission reports whether the principal may execute the operation
// identified by code. A super admin is authorized for everything.
func (p Principal) HasPermission(code string) bool {
	if p.IsSuperAdmin {
		return true
	}
	_, ok := p.Permissions[code]
	return ok
}

// SortedPermissions returns the effective permission codes in stable order.
func (p Principal) SortedPermissions() []string {
	out := make([]string, 0, len(p.Permissions))
	for code := range p.Permissions {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Principal resolves the user's roles and effective permissions. Inactive
// roles contribute nothing even while still assigned: assignment rows are not
// cleaned up eagerly, filtering happens here.
func (s *Service) Principal(ctx context.Context, user *User) (Principal, error) {
	roles, err := s.store.Roles(ctx).RolesForUser(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}

	principal := Principal{
		User:        user,
		Permissions: make(map[string]struct{}),
	}
	for _, role := range roles {
		if !role.IsActive {
			continue
		}
		principal.Roles = append(principal.Roles, role.Name)
		if strings.EqualFold(role.Name, SuperAdminRole) {
			principal.IsSuperAdmin = true
		}
		for _, perm := range role.Permissions {
			principal.Permissions[perm.Code] = struct{}{}
		}
	}
	sort.Strings(principal.Roles)
	return principal, nil
}

// EffectivePermissions returns the deduplicated permission codes reachable
// through the user's active roles.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	principal, err := s.Principal(ctx, user)
	if err != nil {
		return nil, err
	}
	return principal.SortedPermissions(), nil
}
