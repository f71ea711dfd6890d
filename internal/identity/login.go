package identity

import (
	"context"
	"errors"
	"strings"

	"orgmesh.org/internal/audit"
	"orgmesh.org/internal/obs"
)

// AttemptOutcome is the tagged result of a login attempt.
type AttemptOutcome string

const (
	AttemptSuccess            AttemptOutcome = "success"
	AttemptInvalidCredentials AttemptOutcome = "invalid_credentials"
	AttemptLockedOut          AttemptOutcome = "locked_out"
	AttemptAccountNotActive   AttemptOutcome = "account_not_active"
)

// LoginResult carries the attempt outcome and, on success, a freshly minted
// session.
type LoginResult struct {
	Outcome   AttemptOutcome
	Session   Session
	Principal Principal
}

// Login verifies credentials for the user identified by (orgID, email) and
// issues a session on success.
//
// Check order is fixed and covered by tests: lockout window first, then
// account status, then the password hash. A locked-out user is rejected
// before any hash comparison; an unknown email and a wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, orgID, email, password string) (LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		obs.LoginAttempts.WithLabelValues(string(AttemptInvalidCredentials)).Inc()
		return LoginResult{Outcome: AttemptInvalidCredentials}, nil
	}

	user, err := s.store.Users(ctx).FindByEmail(ctx, orgID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.LoginAttempts.WithLabelValues(string(AttemptInvalidCredentials)).Inc()
			return LoginResult{Outcome: AttemptInvalidCredentials}, nil
		}
		return LoginResult{}, err
	}

	outcome, err := s.attempt(ctx, user, password)
	if err != nil {
		return LoginResult{}, err
	}
	obs.LoginAttempts.WithLabelValues(string(outcome)).Inc()
	if outcome != AttemptSuccess {
		return LoginResult{Outcome: outcome}, nil
	}

	session, principal, err := s.IssueSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	_ = s.audit.Record(ctx, audit.Event{Entity: "User", EntityID: user.ID, Action: audit.ActionLogin})
	return LoginResult{Outcome: AttemptSuccess, Session: session, Principal: principal}, nil
}

// Attempt runs the login/lockout state machine for an already-loaded user
// without issuing a session.
func (s *Service) Attempt(ctx context.Context, user *User, password string) (AttemptOutcome, error) {
	return s.attempt(ctx, user, password)
}

func (s *Service) attempt(ctx context.Context, user *User, password string) (AttemptOutcome, error) {
	now := s.now().UTC()

	// Reject before touching the hash: a locked account gets a distinct
	// failure reason and we skip the wasted bcrypt work.
	if user.IsLockedOut(now) {
		return AttemptLockedOut, nil
	}

	// Status gate. A stored Locked status whose window has elapsed falls
	// through: the successful attempt below resets it.
	switch user.Status {
	case StatusActive, StatusLocked:
	default:
		return AttemptAccountNotActive, nil
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		attempts, err := s.store.Users(ctx).RecordLoginFailure(ctx, user.ID)
		if err != nil {
			return "", err
		}
		user.FailedLoginAttempts = attempts
		if attempts >= lockoutThreshold {
			until := now.Add(lockoutWindow)
			if err := s.store.Users(ctx).Lock(ctx, user.ID, until); err != nil {
				return "", err
			}
			user.Status = StatusLocked
			user.LockoutEnd = &until
			obs.Lockouts.Inc()
			return AttemptLockedOut, nil
		}
		return AttemptInvalidCredentials, nil
	}

	if err := s.store.Users(ctx).RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return "", err
	}
	user.FailedLoginAttempts = 0
	user.LockoutEnd = nil
	user.LastLoginAt = &now
	if user.Status == StatusLocked {
		user.Status = StatusActive
	}
	return AttemptSuccess, nil
}
