package auth

import "errors"

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrNoSecret     = errors.New("token secret not configured")
	ErrForbidden    = errors.New("insufficient permissions")
)
