// Package abuse implements fixed-window atomic counters for login-failure
// lockout and request rate limiting. Both policies share one primitive so
// their concurrency semantics cannot drift apart.
package abuse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dadyutenga/ShopApI/internal/cache"
	"github.com/dadyutenga/ShopApI/internal/domain"
)

// Limiter tracks abuse counters in the TTL store. Scope keys name the
// policy and subject, e.g. "loginfail:<email>" or "rate:otp:<ip>".
type Limiter struct {
	store  cache.Store
	logger *zap.Logger
}

// NewLimiter wires the limiter.
func NewLimiter(store cache.Store, logger *zap.Logger) *Limiter {
	return &Limiter{store: store, logger: logger}
}

// IsLocked reports whether scopeKey reached threshold within its window.
func (l *Limiter) IsLocked(ctx context.Context, scopeKey string, threshold int) (bool, error) {
	var count int64
	ok, err := l.store.Get(ctx, scopeKey, &count)
	if err != nil {
		return false, fmt.Errorf("load counter %s: %w", scopeKey, err)
	}
	return ok && count >= int64(threshold), nil
}

// IncrementFailure atomically bumps the counter, establishing the window on
// the first failure, and returns the post-increment count so callers can
// log at threshold crossings.
func (l *Limiter) IncrementFailure(ctx context.Context, scopeKey string, window time.Duration) (int64, error) {
	count, err := l.store.Increment(ctx, scopeKey, window)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", scopeKey, err)
	}
	return count, nil
}

// Reset clears the counter, typically on successful authentication.
func (l *Limiter) Reset(ctx context.Context, scopeKey string) error {
	if _, err := l.store.Delete(ctx, scopeKey); err != nil {
		return fmt.Errorf("reset %s: %w", scopeKey, err)
	}
	return nil
}

// EnforceRate counts one event against scopeKey and fails with
// domain.ErrRateLimited once the fixed window holds more than maxCount.
func (l *Limiter) EnforceRate(ctx context.Context, scopeKey string, window time.Duration, maxCount int) error {
	count, err := l.store.Increment(ctx, scopeKey, window)
	if err != nil {
		return fmt.Errorf("increment %s: %w", scopeKey, err)
	}
	if count > int64(maxCount) {
		l.logger.Warn("rate limit exceeded", zap.String("scope", scopeKey), zap.Int64("count", count))
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, scopeKey)
	}
	return nil
}
