package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"orgmesh.org/internal/audit"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 7

	// Lockout policy: five straight failures close the account for a fixed
	// window. The window is evaluated lazily, never by a background job.
	lockoutThreshold = 5
	lockoutWindow    = 30 * time.Minute
)

// Service is the identity engine: credential verification and lockout,
// permission resolution, and signed-session issuance with rotating refresh
// credentials. All operations are request-scoped; concurrency guarantees come
// from the store's conditional updates, not in-process locking.
type Service struct {
	store Store
	now   func() time.Time
	audit audit.Recorder

	signingKey []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience overrides the token audience claim.
func WithAudience(audience string) ServiceOption {
	return func(s *Service) error {
		s.audience = strings.TrimSpace(audience)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAuditRecorder routes (entity, id, action, before, after) tuples to the
// given recorder.
func WithAuditRecorder(rec audit.Recorder) ServiceOption {
	return func(s *Service) error {
		if rec != nil {
			s.audit = rec
		}
		return nil
	}
}

// NewService constructs the identity engine. The signing key is the symmetric
// secret for access tokens and must not be empty.
func NewService(store Store, signingKey string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	signingKey = strings.TrimSpace(signingKey)
	if signingKey == "" {
		return nil, errors.New("identity: signing key is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		audit:      audit.Nop{},
		signingKey: []byte(signingKey),
		issuer:     "orgmesh",
		audience:   "orgmesh",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// EnsureBuiltins makes sure the permission catalog exists.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Roles(ctx).EnsurePermissions(ctx, BuiltinPermissions)
}
