package identity

import "errors"

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrAlreadyExists      = errors.New("identity: already exists")
	ErrDomainRule         = errors.New("identity: domain rule violation")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrLockedOut          = errors.New("identity: account locked")
	ErrAccountNotActive   = errors.New("identity: account not active")
	ErrInvalidToken       = errors.New("identity: token invalid or expired")
)
