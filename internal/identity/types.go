package identity

import "time"

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	StatusActive            UserStatus = "active"
	StatusInactive          UserStatus = "inactive"
	StatusLocked            UserStatus = "locked"
	StatusPendingActivation UserStatus = "pending_activation"
)

// User represents a person operating within an organization. Email uniqueness
// is scoped to (organization_id, lowercased email), not global. Users are
// never hard-deleted; DeletedAt marks soft deletion and query-time filtering
// is the store's responsibility.
type User struct {
	ID                  string
	OrganizationID      string
	SubOrganizationID   string // empty when attached directly to the organization
	Email               string
	PasswordHash        string
	Status              UserStatus
	FailedLoginAttempts int
	LockoutEnd          *time.Time
	MustChangePassword  bool
	LastLoginAt         *time.Time
	PasswordResetToken  string
	PasswordResetExpiry *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// IsLockedOut reports whether the lockout window is still open. Lockout is
// evaluated lazily: there is no scheduled unlock job, an elapsed window simply
// stops counting here.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// Role groups permissions. System roles are immutable: update and deactivate
// attempts fail with ErrDomainRule.
type Role struct {
	ID          string
	Name        string
	Description string
	IsSystem    bool
	IsActive    bool
	Permissions []Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is immutable reference data identified by a stable code.
type Permission struct {
	ID       string
	Code     string
	Name     string
	Category PermissionCategory
}

// RefreshToken is a persisted long-lived credential. Rotation links the
// revoked token to its successor through ReplacedByToken.
type RefreshToken struct {
	ID              string
	UserID          string
	Token           string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	Revoked         bool
	RevokedAt       *time.Time
	RevokedReason   string
	ReplacedByToken string
}

// IsActive reports whether the token can still be presented.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
