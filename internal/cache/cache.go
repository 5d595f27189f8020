// Package cache defines the TTL key-value store every auth component
// coordinates through. All shared mutable state lives behind this contract;
// every mutating operation is a single atomic round trip so concurrent
// callers never need an application-level lock.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend outages. Callers treat it as transient and
// fail closed: no token is issued or accepted while the store is down.
var ErrUnavailable = errors.New("cache: store unavailable")

// Store is the TTL key-value contract shared by the key manager, token
// service, OTP manager and abuse control.
type Store interface {
	// Get unmarshals the value at key into dest. The second return is
	// false when the key is absent or expired.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Set stores value under key with the given TTL, replacing any
	// previous value. A non-positive ttl stores without expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes key and reports whether a value was actually
	// removed. The result is what makes revoke-on-use atomic: of two
	// racing consumers exactly one observes true.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key holds a live value.
	Exists(ctx context.Context, key string) (bool, error)

	// Increment atomically increments the integer at key and returns the
	// post-increment value. When the increment creates the key, ttl
	// establishes the fixed window.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
