package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"orgmesh.org/internal/ids"
)

// memStore is an in-memory Store used by the engine tests. It honors the same
// contracts as the Postgres implementation, including the conditional revoke.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*User
	roles     map[string]*Role
	userRoles map[string]map[string]struct{}
	perms     map[string]Permission
	tokens    map[string]*RefreshToken
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*User),
		roles:     make(map[string]*Role),
		userRoles: make(map[string]map[string]struct{}),
		perms:     make(map[string]Permission),
		tokens:    make(map[string]*RefreshToken),
	}
}

func (m *memStore) Users(context.Context) UserStore                 { return memUsers{m} }
func (m *memStore) Roles(context.Context) RoleStore                 { return memRoles{m} }
func (m *memStore) RefreshTokens(context.Context) RefreshTokenStore { return memTokens{m} }

type memUsers struct{ *memStore }

func (s memUsers) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.users {
		if ex.OrganizationID == u.OrganizationID && ex.Email == u.Email && ex.DeletedAt == nil {
			return ErrAlreadyExists
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s memUsers) Find(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s memUsers) FindByEmail(_ context.Context, orgID, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.OrganizationID == orgID && u.Email == email && u.DeletedAt == nil {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s memUsers) RecordLoginFailure(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	u.FailedLoginAttempts++
	return u.FailedLoginAttempts, nil
}

func (s memUsers) Lock(_ context.Context, userID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = StatusLocked
	end := until
	u.LockoutEnd = &end
	return nil
}

func (s memUsers) RecordLoginSuccess(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockoutEnd = nil
	seen := at
	u.LastLoginAt = &seen
	if u.Status == StatusLocked {
		u.Status = StatusActive
	}
	return nil
}

func (s memUsers) Unlock(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if u.Status != StatusLocked {
		return nil
	}
	u.Status = StatusActive
	u.FailedLoginAttempts = 0
	u.LockoutEnd = nil
	return nil
}

func (s memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordResetToken = ""
	u.PasswordResetExpiry = nil
	u.FailedLoginAttempts = 0
	u.LockoutEnd = nil
	u.MustChangePassword = false
	return nil
}

func (s memUsers) UpdateStatus(_ context.Context, userID string, status UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	if status == StatusActive {
		u.FailedLoginAttempts = 0
		u.LockoutEnd = nil
	}
	return nil
}

func (s memUsers) SetPasswordReset(_ context.Context, userID, token string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordResetToken = token
	exp := expires
	u.PasswordResetExpiry = &exp
	return nil
}

func (s memUsers) AssignSubOrganization(_ context.Context, userID, subOrgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.SubOrganizationID = subOrgID
	return nil
}

type memRoles struct{ *memStore }

func (s memRoles) Create(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.roles {
		if strings.EqualFold(ex.Name, role.Name) {
			return ErrAlreadyExists
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (s memRoles) Find(_ context.Context, id string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	cp.Permissions = append([]Permission(nil), role.Permissions...)
	return &cp, nil
}

func (s memRoles) FindByName(_ context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if strings.EqualFold(role.Name, name) {
			cp := *role
			cp.Permissions = append([]Permission(nil), role.Permissions...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s memRoles) Update(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.roles[role.ID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range s.roles {
		if id != role.ID && strings.EqualFold(other.Name, role.Name) {
			return ErrAlreadyExists
		}
	}
	ex.Name = role.Name
	ex.Description = role.Description
	ex.IsActive = role.IsActive
	return nil
}

func (s memRoles) RolesForUser(_ context.Context, userID string) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Role
	for roleID := range s.userRoles[userID] {
		role, ok := s.roles[roleID]
		if !ok {
			continue
		}
		cp := *role
		cp.Permissions = append([]Permission(nil), role.Permissions...)
		out = append(out, cp)
	}
	return out, nil
}

func (s memRoles) SetPermissions(_ context.Context, roleID string, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	role.Permissions = nil
	for _, code := range codes {
		if p, ok := s.perms[code]; ok {
			role.Permissions = append(role.Permissions, p)
		}
	}
	return nil
}

func (s memRoles) AssignToUser(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	if s.userRoles[userID] == nil {
		s.userRoles[userID] = make(map[string]struct{})
	}
	s.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (s memRoles) EnsurePermissions(_ context.Context, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		if _, ok := s.perms[p.Code]; ok {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		s.perms[p.Code] = p
	}
	return nil
}

type memTokens struct{ *memStore }

func (s memTokens) Insert(_ context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[tok.Token] = &cp
	return nil
}

func (s memTokens) FindByValue(_ context.Context, token string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s memTokens) Revoke(_ context.Context, token, reason, replacedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok || tok.Revoked || !tok.ExpiresAt.After(at) {
		return ErrInvalidToken
	}
	tok.Revoked = true
	when := at
	tok.RevokedAt = &when
	tok.RevokedReason = reason
	tok.ReplacedByToken = replacedBy
	return nil
}

func (s memTokens) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, tok := range s.tokens {
		if tok.UserID != userID || tok.Revoked || !tok.ExpiresAt.After(at) {
			continue
		}
		tok.Revoked = true
		when := at
		tok.RevokedAt = &when
		tok.RevokedReason = reason
		n++
	}
	return n, nil
}

func (s memTokens) ListActiveForUser(_ context.Context, userID string, at time.Time) ([]*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*RefreshToken
	for _, tok := range s.tokens {
		if tok.UserID == userID && tok.IsActive(at) {
			cp := *tok
			out = append(out, &cp)
		}
	}
	return out, nil
}
