package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func login(t *testing.T, svc *Service, email, password string) LoginResult {
	t.Helper()
	res, err := svc.Login(context.Background(), "org-1", email, password)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Outcome != AttemptSuccess {
		t.Fatalf("expected success, got %s", res.Outcome)
	}
	return res
}

func TestRefreshRotationIsSingleUse(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, svc, "ops@example.com", "orig-pass-1")
	res := login(t, svc, "ops@example.com", "orig-pass-1")

	session, principal, err := svc.RefreshSession(ctx, res.Session.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if session.RefreshToken == res.Session.RefreshToken {
		t.Fatal("expected a fresh refresh credential")
	}
	if principal.User.Email != "ops@example.com" {
		t.Fatalf("unexpected principal: %s", principal.User.Email)
	}

	// The spent credential is linked to its successor.
	old, err := store.RefreshTokens(ctx).FindByValue(ctx, res.Session.RefreshToken)
	if err != nil {
		t.Fatalf("FindByValue: %v", err)
	}
	if !old.Revoked || old.RevokedReason != "rotated" {
		t.Fatalf("expected rotated revocation, got revoked=%v reason=%q", old.Revoked, old.RevokedReason)
	}
	if old.ReplacedByToken != session.RefreshToken {
		t.Fatal("expected replacement link to the new credential")
	}

	// Presenting it again loses.
	if _, _, err := svc.RefreshSession(ctx, res.Session.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	// The successor still works.
	if _, _, err := svc.RefreshSession(ctx, session.RefreshToken); err != nil {
		t.Fatalf("refresh successor: %v", err)
	}
}

func TestRefreshConcurrentRotationsSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, svc, "ops@example.com", "orig-pass-1")
	res := login(t, svc, "ops@example.com", "orig-pass-1")

	const workers = 16
	results := make(chan error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := svc.RefreshSession(ctx, res.Session.RefreshToken)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidToken):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one rotation to win, got %d", wins)
	}
	if losses != workers-1 {
		t.Fatalf("expected %d losers, got %d", workers-1, losses)
	}
}

func TestRefreshExpiredCredential(t *testing.T) {
	svc, _, clock := newTestService(t)
	seedUser(t, svc, "ops@example.com", "orig-pass-1")
	res := login(t, svc, "ops@example.com", "orig-pass-1")

	*clock = clock.Add(defaultRefreshTTL + time.Hour)

	if _, _, err := svc.RefreshSession(context.Background(), res.Session.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshUnknownCredential(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, _, err := svc.RefreshSession(context.Background(), "never-issued"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRevokeSessionIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, svc, "ops@example.com", "orig-pass-1")
	res := login(t, svc, "ops@example.com", "orig-pass-1")

	if err := svc.RevokeSession(ctx, res.Session.RefreshToken, "logout"); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if err := svc.RevokeSession(ctx, res.Session.RefreshToken, "logout"); err != nil {
		t.Fatalf("second RevokeSession: %v", err)
	}
	if err := svc.RevokeSession(ctx, "never-issued", "logout"); err != nil {
		t.Fatalf("RevokeSession unknown: %v", err)
	}

	if _, _, err := svc.RefreshSession(ctx, res.Session.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after revocation, got %v", err)
	}
}

func TestRevokeAllSessions(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "ops@example.com", "orig-pass-1")

	first := login(t, svc, "ops@example.com", "orig-pass-1")
	second := login(t, svc, "ops@example.com", "orig-pass-1")

	active, err := store.RefreshTokens(ctx).ListActiveForUser(ctx, u.ID, *clock)
	if err != nil {
		t.Fatalf("ListActiveForUser: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active credentials, got %d", len(active))
	}

	if err := svc.RevokeAllSessions(ctx, u.ID, "security event"); err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}

	active, _ = store.RefreshTokens(ctx).ListActiveForUser(ctx, u.ID, *clock)
	if len(active) != 0 {
		t.Fatalf("expected no active credentials, got %d", len(active))
	}
	for _, tok := range []string{first.Session.RefreshToken, second.Session.RefreshToken} {
		if _, _, err := svc.RefreshSession(ctx, tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	}
}

func TestParseAccessTokenExpiry(t *testing.T) {
	svc, _, clock := newTestService(t)
	seedUser(t, svc, "ops@example.com", "orig-pass-1")
	res := login(t, svc, "ops@example.com", "orig-pass-1")

	if _, err := svc.ParseAccessToken(res.Session.AccessToken); err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}

	*clock = clock.Add(defaultAccessTTL + time.Second)
	if _, err := svc.ParseAccessToken(res.Session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := svc.ParseAccessToken(res.Session.AccessToken + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
	if _, err := svc.ParseAccessToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseAccessTokenWrongKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	seedUser(t, svc, "ops@example.com", "orig-pass-1")
	res := login(t, svc, "ops@example.com", "orig-pass-1")

	other, err := NewService(newMemStore(), "a-different-secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := other.ParseAccessToken(res.Session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAccessTokenClaims(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "ops@example.com", "orig-pass-1")

	role, err := svc.CreateRole(ctx, "Operator", "day-to-day operations")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.SetRolePermissions(ctx, role.ID, []string{PermUsersView, PermSubOrgsView}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if err := svc.AssignRoles(ctx, u.ID, []string{role.ID}); err != nil {
		t.Fatalf("AssignRoles: %v", err)
	}
	if err := store.Users(ctx).AssignSubOrganization(ctx, u.ID, "sub-7"); err != nil {
		t.Fatalf("AssignSubOrganization: %v", err)
	}

	res := login(t, svc, "ops@example.com", "orig-pass-1")
	claims, err := svc.ParseAccessToken(res.Session.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.SubOrganizationID != "sub-7" {
		t.Fatalf("unexpected sub organization: %q", claims.SubOrganizationID)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "Operator" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
	if !claims.HasPermission(PermUsersView) || claims.HasPermission(PermUsersDelete) {
		t.Fatalf("unexpected permissions: %v", claims.Permissions)
	}
	if claims.IsSuperAdmin() {
		t.Fatal("operator must not be super admin")
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}
}
