package identity

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity engine.
// Implementations own the transaction boundary: each method is atomic on its
// own, and the conditional operations below are the concurrency contract the
// engine relies on.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// UserStore manages user records and login bookkeeping.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByEmail matches on the lowercased email within one organization.
	FindByEmail(ctx context.Context, orgID, email string) (*User, error)

	// RecordLoginFailure increments the failed-attempt counter atomically
	// (a persisted increment, not read-modify-write) and returns the new
	// count.
	RecordLoginFailure(ctx context.Context, userID string) (int, error)
	// Lock sets status to Locked and opens the lockout window.
	Lock(ctx context.Context, userID string, until time.Time) error
	// RecordLoginSuccess resets the counter and lockout window, records the
	// login time, and moves a Locked account whose window elapsed back to
	// Active.
	RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error

	// Unlock moves a Locked account back to Active and clears the counter
	// and window; a no-op for accounts in any other status.
	Unlock(ctx context.Context, userID string) error

	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateStatus(ctx context.Context, userID string, status UserStatus) error
	SetPasswordReset(ctx context.Context, userID, token string, expires time.Time) error
	AssignSubOrganization(ctx context.Context, userID, subOrgID string) error
}

// RoleStore manages roles, their permissions and user assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	// FindByName matches the role name case-insensitively.
	FindByName(ctx context.Context, name string) (*Role, error)
	Update(ctx context.Context, role *Role) error
	// RolesForUser returns every role assigned to the user with nested
	// permissions, including inactive roles; filtering happens at
	// resolution time.
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
	SetPermissions(ctx context.Context, roleID string, codes []string) error
	AssignToUser(ctx context.Context, userID, roleID string) error
	EnsurePermissions(ctx context.Context, perms []Permission) error
}

// RefreshTokenStore manages the refresh credential lifecycle.
type RefreshTokenStore interface {
	Insert(ctx context.Context, tok *RefreshToken) error
	FindByValue(ctx context.Context, token string) (*RefreshToken, error)
	// Revoke is conditional: it succeeds only against a token that is
	// currently active (not revoked, not expired at time `at`) and returns
	// ErrInvalidToken otherwise. Two concurrent rotations of the same token
	// therefore cannot both succeed.
	Revoke(ctx context.Context, token, reason, replacedBy string, at time.Time) error
	// RevokeAllForUser revokes every active token for the user and returns
	// how many were revoked.
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error)
	ListActiveForUser(ctx context.Context, userID string, at time.Time) ([]*RefreshToken, error)
}
