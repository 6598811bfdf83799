package server

import "errors"

// Sentinel errors for the auth core. Handlers map these to HTTP statuses;
// everything crossing a package boundary wraps one of them with %w so callers
// can branch with errors.Is.
var (
	// Token codec.
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("bad token signature")
	ErrTokenExpired   = errors.New("token expired")

	// User directory.
	ErrInvalidRecord = errors.New("invalid user record")
	ErrUserNotFound  = errors.New("user not found")

	// Identity provider client.
	ErrStateMismatch        = errors.New("state mismatch")
	ErrExchangeFailed       = errors.New("code exchange failed")
	ErrMissingProfileClaims = errors.New("missing profile claims")
)
