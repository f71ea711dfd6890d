package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"orgmesh.org/internal/audit"
	"orgmesh.org/internal/ids"
)

const passwordResetTTL = 24 * time.Hour

// CreateUser registers a user inside an organization. The email is normalized
// to lower case; uniqueness is enforced per organization by the store.
func (s *Service) CreateUser(ctx context.Context, orgID, subOrgID, email, password string, mustChangePassword bool) (*User, error) {
	orgID = strings.TrimSpace(orgID)
	email = strings.TrimSpace(strings.ToLower(email))
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrDomainRule)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrDomainRule)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:                 ids.New(),
		OrganizationID:     orgID,
		SubOrganizationID:  strings.TrimSpace(subOrgID),
		Email:              email,
		PasswordHash:       hash,
		Status:             StatusActive,
		MustChangePassword: mustChangePassword,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	_ = s.audit.Record(ctx, audit.Event{
		Entity:   "User",
		EntityID: user.ID,
		Action:   audit.ActionCreate,
		After:    map[string]any{"email": user.Email, "organization_id": user.OrganizationID},
	})
	return user, nil
}

// EnsureBootstrapAdmin creates the initial administrator for an organization
// when no user with the given email exists yet. The account is forced to
// change its password on first login and carries the super admin role,
// creating that role first when seeding has not run.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, orgID, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	existing, err := s.store.Users(ctx).FindByEmail(ctx, orgID, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user, err := s.CreateUser(ctx, orgID, "", email, password, true)
	if err != nil {
		return nil, err
	}
	role, err := s.store.Roles(ctx).FindByName(ctx, SuperAdminRole)
	if errors.Is(err, ErrNotFound) {
		role, err = s.CreateRole(ctx, SuperAdminRole, "Unrestricted administrative access")
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.Roles(ctx).AssignToUser(ctx, user.ID, role.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangeUserStatus applies an administrative status transition. Deactivating
// or locking a user revokes every active session.
func (s *Service) ChangeUserStatus(ctx context.Context, userID string, status UserStatus) error {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	before := user.Status

	switch status {
	case StatusActive:
		if err := s.store.Users(ctx).UpdateStatus(ctx, userID, StatusActive); err != nil {
			return err
		}
	case StatusInactive:
		if err := s.store.Users(ctx).UpdateStatus(ctx, userID, StatusInactive); err != nil {
			return err
		}
		if err := s.RevokeAllSessions(ctx, userID, "user deactivated"); err != nil {
			return err
		}
	case StatusLocked:
		if err := s.store.Users(ctx).Lock(ctx, userID, s.now().UTC().Add(lockoutWindow)); err != nil {
			return err
		}
		if err := s.RevokeAllSessions(ctx, userID, "user locked"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unsupported status transition to %s", ErrDomainRule, status)
	}

	action := audit.ActionDeactivate
	if status == StatusActive {
		action = audit.ActionActivate
	}
	_ = s.audit.Record(ctx, audit.Event{
		Entity:   "User",
		EntityID: userID,
		Action:   action,
		Before:   map[string]any{"status": before},
		After:    map[string]any{"status": status},
	})
	return nil
}

// UnlockUser clears a lockout ahead of the window: status back to Active,
// counter and expiry reset.
func (s *Service) UnlockUser(ctx context.Context, userID string) error {
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return err
	}
	return s.store.Users(ctx).Unlock(ctx, userID)
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every active session so stolen refresh credentials die with the
// old password.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.RevokeAllSessions(ctx, userID, "password changed"); err != nil {
		return err
	}
	_ = s.audit.Record(ctx, audit.Event{Entity: "User", EntityID: userID, Action: audit.ActionPasswordChange})
	return nil
}

// BeginPasswordReset issues a single-use reset token with a 24h expiry. The
// empty return for an unknown email is deliberate: the boundary must report
// success either way to avoid account enumeration.
func (s *Service) BeginPasswordReset(ctx context.Context, orgID, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users(ctx).FindByEmail(ctx, orgID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)
	expires := s.now().UTC().Add(passwordResetTTL)
	if err := s.store.Users(ctx).SetPasswordReset(ctx, user.ID, token, expires); err != nil {
		return "", err
	}
	return token, nil
}

// CompletePasswordReset consumes a reset token. The token is terminal either
// way: UpdatePassword clears it on success, and an expired or mismatched
// token fails with ErrInvalidToken.
func (s *Service) CompletePasswordReset(ctx context.Context, orgID, email, token, newPassword string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users(ctx).FindByEmail(ctx, orgID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	now := s.now().UTC()
	if user.PasswordResetToken == "" || user.PasswordResetToken != token ||
		user.PasswordResetExpiry == nil || !user.PasswordResetExpiry.After(now) {
		return ErrInvalidToken
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := s.RevokeAllSessions(ctx, user.ID, "password reset"); err != nil {
		return err
	}
	_ = s.audit.Record(ctx, audit.Event{Entity: "User", EntityID: user.ID, Action: audit.ActionPasswordChange})
	return nil
}

// CreateRole adds a role. System roles can only be created through seeding.
func (s *Service) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrDomainRule)
	}
	// Role names are unique ignoring case. Enforced here on top of the
	// lower(name) index because super admin is resolved by name.
	if _, err := s.store.Roles(ctx).FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: role %q", ErrAlreadyExists, name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := s.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	_ = s.audit.Record(ctx, audit.Event{
		Entity:   "Role",
		EntityID: role.ID,
		Action:   audit.ActionCreate,
		After:    map[string]any{"name": role.Name},
	})
	return role, nil
}

// UpdateRole renames a role. System roles reject mutation with a domain rule
// violation, not a generic error.
func (s *Service) UpdateRole(ctx context.Context, roleID, name, description string) error {
	role, err := s.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system roles cannot be modified", ErrDomainRule)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: role name is required", ErrDomainRule)
	}
	if ex, err := s.store.Roles(ctx).FindByName(ctx, name); err == nil && ex.ID != role.ID {
		return fmt.Errorf("%w: role %q", ErrAlreadyExists, name)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	before := map[string]any{"name": role.Name, "description": role.Description}
	role.Name = name
	role.Description = strings.TrimSpace(description)
	if err := s.store.Roles(ctx).Update(ctx, role); err != nil {
		return err
	}
	_ = s.audit.Record(ctx, audit.Event{
		Entity:   "Role",
		EntityID: role.ID,
		Action:   audit.ActionUpdate,
		Before:   before,
		After:    map[string]any{"name": role.Name, "description": role.Description},
	})
	return nil
}

// DeactivateRole disables a role so it stops contributing permissions.
// System roles cannot be deactivated.
func (s *Service) DeactivateRole(ctx context.Context, roleID string) error {
	role, err := s.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system roles cannot be deactivated", ErrDomainRule)
	}
	if !role.IsActive {
		return nil
	}
	role.IsActive = false
	if err := s.store.Roles(ctx).Update(ctx, role); err != nil {
		return err
	}
	_ = s.audit.Record(ctx, audit.Event{Entity: "Role", EntityID: role.ID, Action: audit.ActionDeactivate})
	return nil
}

// SetRolePermissions replaces the role's permission set with the given codes.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, codes []string) error {
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return err
	}
	deduped := dedupe(codes)
	if err := s.store.Roles(ctx).SetPermissions(ctx, roleID, deduped); err != nil {
		return err
	}
	_ = s.audit.Record(ctx, audit.Event{
		Entity:   "Role",
		EntityID: roleID,
		Action:   audit.ActionUpdate,
		After:    map[string]any{"permissions": deduped},
	})
	return nil
}

// AssignRoles attaches roles to a user; duplicate assignments are ignored by
// the store.
func (s *Service) AssignRoles(ctx context.Context, userID string, roleIDs []string) error {
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return err
	}
	for _, roleID := range dedupe(roleIDs) {
		if err := s.store.Roles(ctx).AssignToUser(ctx, userID, roleID); err != nil {
			return err
		}
	}
	_ = s.audit.Record(ctx, audit.Event{
		Entity:   "User",
		EntityID: userID,
		Action:   audit.ActionRoleAssignment,
		After:    map[string]any{"role_ids": roleIDs},
	})
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
