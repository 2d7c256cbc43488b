// Package retry re-issues classified-retryable upstream failures with
// bounded exponential backoff and jitter. Non-retryable failures propagate
// immediately; a hard attempt cap bounds the worst case.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/davidbz/hestia/internal/domain"
	"github.com/davidbz/hestia/internal/observability"
)

// Coordinator implements domain.Retrier.
type Coordinator struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	factor      float64
	jitter      float64
}

// NewCoordinator creates a retry coordinator. Jitter is the randomization
// band around each computed delay, as a fraction (0.2 means ±20%).
func NewCoordinator(maxAttempts int, baseDelay, maxDelay time.Duration, factor, jitter float64) *Coordinator {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	if factor < 1 {
		factor = 2
	}

	return &Coordinator{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		factor:      factor,
		jitter:      jitter,
	}
}

// Do runs op until it succeeds, fails non-retryably, exhausts the attempt
// cap, or the context ends. The final attempt's error is returned as-is.
func (c *Coordinator) Do(ctx context.Context, op func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseDelay
	policy.MaxInterval = c.maxDelay
	policy.Multiplier = c.factor
	policy.RandomizationFactor = c.jitter
	policy.MaxElapsedTime = 0
	policy.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil || !domain.IsRetryable(err) || attempt >= c.maxAttempts {
			return err
		}

		delay := policy.NextBackOff()
		observability.FromContext(ctx).Info("retrying upstream call",
			observability.Int("attempt", attempt),
			observability.Duration("delay", delay),
			observability.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &domain.CancellationError{Err: ctx.Err()}
		}
	}
}
