package domain

import "errors"

// Authentication failure taxonomy. Callers branch on these with errors.Is
// instead of catching typed exceptions; every validation failure maps to
// exactly one of them.
var (
	// ErrUnauthorized covers invalid credentials and invalid, expired or
	// blacklisted tokens. Never retried automatically.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrLocked means the account tripped the login-failure lockout.
	ErrLocked = errors.New("account temporarily locked")

	// ErrRateLimited means an abuse-control counter exceeded its window max.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidToken marks a refresh token that is absent, expired or
	// already revoked.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrStoreUnavailable propagates TTL-store outages. Issuance and
	// validation fail closed on it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUserNotFound is returned by user lookups.
	ErrUserNotFound = errors.New("user not found")
)
