// Package limiter implements per-caller token-bucket admission control. The
// caller is never made to wait: admission either succeeds immediately or is
// rejected with a retry-after hint. A failing backing store fails open so
// rate-limit infrastructure cannot become a single point of total failure.
package limiter

import (
	"context"
	"time"

	"github.com/davidbz/hestia/internal/domain"
	"github.com/davidbz/hestia/internal/observability"
)

// Store decides admission for one key. retryAfter is meaningful only when
// allowed is false.
type Store interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// Limiter implements domain.Admitter over a Store.
type Limiter struct {
	store Store
}

// NewLimiter creates a new rate limiter.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// Allow admits or rejects the call for the given caller key. Store failures
// fail open and log the degradation.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	allowed, retryAfter, err := l.store.Allow(ctx, key)
	if err != nil {
		observability.FromContext(ctx).Warn("rate limit store unavailable, failing open",
			observability.String("key", key),
			observability.Error(err))
		return nil
	}

	if !allowed {
		return &domain.RateLimitError{Key: key, RetryAfter: retryAfter}
	}

	return nil
}
