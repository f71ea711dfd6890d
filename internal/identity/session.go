package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"orgmesh.org/internal/audit"
	"orgmesh.org/internal/ids"
	"orgmesh.org/internal/obs"
)

// refreshTokenBytes is the entropy of a refresh credential (512 bit).
const refreshTokenBytes = 64

const reasonRotated = "rotated"

// Claims is the verified content of an access token. Permissions are frozen
// at issuance; a permission change takes effect on the next refresh because
// rotation re-resolves them.
type Claims struct {
	Email              string   `json:"email"`
	OrganizationID     string   `json:"organization_id"`
	SubOrganizationID  string   `json:"sub_organization_id,omitempty"`
	MustChangePassword bool     `json:"must_change_password"`
	Roles              []string `json:"roles"`
	Permissions        []string `json:"permissions"`
	jwt.RegisteredClaims
}

// IsSuperAdmin mirrors Principal.IsSuperAdmin for claims-only verification at
// the edge.
func (c *Claims) IsSuperAdmin() bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, SuperAdminRole) {
			return true
		}
	}
	return false
}

// HasPermission checks an embedded permission code, honoring the super admin
// bypass.
func (c *Claims) HasPermission(code string) bool {
	if c.IsSuperAdmin() {
		return true
	}
	for _, p := range c.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// Session is an access/refresh credential pair.
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// IssueSession resolves the user's effective permissions and mints a signed
// access token plus a persisted refresh credential.
func (s *Service) IssueSession(ctx context.Context, user *User) (Session, Principal, error) {
	principal, err := s.Principal(ctx, user)
	if err != nil {
		return Session{}, Principal{}, err
	}
	session, err := s.mint(ctx, principal)
	if err != nil {
		return Session{}, Principal{}, err
	}
	return session, principal, nil
}

// RefreshSession rotates the presented refresh credential: the old token is
// revoked with reason "rotated" and linked to its replacement, permissions
// are re-resolved, and a brand-new pair is returned. A refresh credential is
// single-use; of two concurrent presentations exactly one succeeds, the loser
// observes ErrInvalidToken through the store's conditional revoke.
func (s *Service) RefreshSession(ctx context.Context, presented string) (Session, Principal, error) {
	now := s.now().UTC()
	tokens := s.store.RefreshTokens(ctx)

	record, err := tokens.FindByValue(ctx, presented)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RefreshRotations.WithLabelValues("rejected").Inc()
			return Session{}, Principal{}, ErrInvalidToken
		}
		return Session{}, Principal{}, err
	}
	if !record.IsActive(now) {
		obs.RefreshRotations.WithLabelValues("rejected").Inc()
		return Session{}, Principal{}, ErrInvalidToken
	}

	user, err := s.store.Users(ctx).Find(ctx, record.UserID)
	if err != nil {
		return Session{}, Principal{}, err
	}
	principal, err := s.Principal(ctx, user)
	if err != nil {
		return Session{}, Principal{}, err
	}

	// Generate the successor first so the revocation can link old to new,
	// then revoke conditionally: the losing side of a concurrent rotation
	// fails right here.
	next, err := newRefreshToken(user.ID, now, s.refreshTTL)
	if err != nil {
		return Session{}, Principal{}, err
	}
	if err := tokens.Revoke(ctx, record.Token, reasonRotated, next.Token, now); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			obs.RefreshRotations.WithLabelValues("lost_race").Inc()
		}
		return Session{}, Principal{}, err
	}

	accessToken, accessExp, err := s.signAccessToken(principal, now)
	if err != nil {
		return Session{}, Principal{}, err
	}
	if err := tokens.Insert(ctx, next); err != nil {
		return Session{}, Principal{}, err
	}

	obs.RefreshRotations.WithLabelValues("rotated").Inc()
	return Session{
		AccessToken:      accessToken,
		RefreshToken:     next.Token,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: next.ExpiresAt,
	}, principal, nil
}

// RevokeSession revokes a single refresh credential. It is idempotent:
// revoking an already-revoked or unknown token is a no-op.
func (s *Service) RevokeSession(ctx context.Context, token, reason string) error {
	err := s.store.RefreshTokens(ctx).Revoke(ctx, token, reason, "", s.now().UTC())
	if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// RevokeAllSessions revokes every active refresh credential for the user;
// used on password change, deactivation and lock.
func (s *Service) RevokeAllSessions(ctx context.Context, userID, reason string) error {
	n, err := s.store.RefreshTokens(ctx).RevokeAllForUser(ctx, userID, reason, s.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		_ = s.audit.Record(ctx, audit.Event{
			Entity:   "User",
			EntityID: userID,
			Action:   audit.ActionLogout,
			After:    map[string]any{"revoked": n, "reason": reason},
		})
	}
	return nil
}

// ParseAccessToken verifies signature, issuer, audience and expiry with zero
// clock-skew tolerance and returns the embedded claims.
func (s *Service) ParseAccessToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(0),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) mint(ctx context.Context, principal Principal) (Session, error) {
	now := s.now().UTC()
	accessToken, accessExp, err := s.signAccessToken(principal, now)
	if err != nil {
		return Session{}, err
	}
	refresh, err := newRefreshToken(principal.User.ID, now, s.refreshTTL)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.RefreshTokens(ctx).Insert(ctx, refresh); err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:      accessToken,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(principal Principal, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Email:              principal.User.Email,
		OrganizationID:     principal.User.OrganizationID,
		SubOrganizationID:  principal.User.SubOrganizationID,
		MustChangePassword: principal.User.MustChangePassword,
		Roles:              principal.Roles,
		Permissions:        principal.SortedPermissions(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   principal.User.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func newRefreshToken(userID string, now time.Time, ttl time.Duration) (*RefreshToken, error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}
