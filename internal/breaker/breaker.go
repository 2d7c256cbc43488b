// Package breaker implements the per-provider circuit breaker. Circuit state
// lives behind a Store with compare-and-set semantics so single-instance
// deployments can run on process memory while multi-instance deployments
// share state through Redis without ever observing a stale Closed circuit.
package breaker

import (
	"context"
	"time"

	"github.com/davidbz/hestia/internal/domain"
	"github.com/davidbz/hestia/internal/observability"
)

// State is the circuit position for one provider.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Circuit is the persisted per-provider breaker state. Version supports
// optimistic concurrency across instances; stores bump it on every accepted
// CompareAndSet.
type Circuit struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt"`
	ProbeInFlight       bool      `json:"probeInFlight"`
	Version             int64     `json:"version"`
}

// Store holds circuit state keyed by provider. Get returns a zero-value
// Closed circuit for unseen providers. CompareAndSet applies next only if
// the stored version still matches expectedVersion.
type Store interface {
	Get(ctx context.Context, provider domain.Provider) (Circuit, error)
	CompareAndSet(ctx context.Context, provider domain.Provider, expectedVersion int64, next Circuit) (bool, error)
}

const casAttempts = 4

// Breaker implements domain.CircuitGate.
type Breaker struct {
	store     Store
	threshold int
	cooldown  time.Duration
}

// NewBreaker creates a breaker that opens after threshold consecutive
// provider-attributable failures and probes again after cooldown.
func NewBreaker(store Store, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &Breaker{
		store:     store,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow decides whether a call to the provider may proceed. On admission it
// returns a record function that must be invoked with the call outcome; on
// rejection it returns a CircuitOpenError.
func (b *Breaker) Allow(ctx context.Context, provider domain.Provider) (func(error), error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		circuit, err := b.store.Get(ctx, provider)
		if err != nil {
			// A breaker store outage must not take the gateway down with it;
			// degrade to pass-through and keep serving.
			observability.FromContext(ctx).Warn("circuit store unavailable, passing through",
				observability.String("provider", string(provider)),
				observability.Error(err))
			return func(error) {}, nil
		}

		switch circuit.State {
		case StateClosed:
			return b.recorder(provider, false), nil

		case StateOpen:
			if time.Since(circuit.OpenedAt) < b.cooldown {
				return nil, &domain.CircuitOpenError{Provider: provider}
			}
			// Cooldown elapsed: try to claim the half-open probe slot.
			next := circuit
			next.State = StateHalfOpen
			next.ProbeInFlight = true
			ok, casErr := b.store.CompareAndSet(ctx, provider, circuit.Version, next)
			if casErr != nil {
				return func(error) {}, nil
			}
			if ok {
				observability.FromContext(ctx).Info("circuit half-open, probing",
					observability.String("provider", string(provider)))
				return b.recorder(provider, true), nil
			}
			// Another caller transitioned first; re-read and re-decide.

		case StateHalfOpen:
			if circuit.ProbeInFlight {
				return nil, &domain.CircuitOpenError{Provider: provider}
			}
			next := circuit
			next.ProbeInFlight = true
			ok, casErr := b.store.CompareAndSet(ctx, provider, circuit.Version, next)
			if casErr != nil {
				return func(error) {}, nil
			}
			if ok {
				return b.recorder(provider, true), nil
			}
		}
	}

	// Contention exhausted the CAS budget; treat as short-circuited.
	return nil, &domain.CircuitOpenError{Provider: provider}
}

// recorder builds the outcome callback for one admitted call.
func (b *Breaker) recorder(provider domain.Provider, probe bool) func(error) {
	return func(callErr error) {
		ctx := context.Background()

		for attempt := 0; attempt < casAttempts; attempt++ {
			circuit, err := b.store.Get(ctx, provider)
			if err != nil {
				return
			}

			next, changed := b.transition(circuit, probe, callErr)
			if !changed {
				return
			}

			ok, casErr := b.store.CompareAndSet(ctx, provider, circuit.Version, next)
			if casErr != nil || ok {
				if ok && next.State == StateOpen && circuit.State != StateOpen {
					observability.FromContext(ctx).Warn("circuit opened",
						observability.String("provider", string(provider)),
						observability.Int("consecutive_failures", next.ConsecutiveFailures))
				}
				return
			}
		}
	}
}

// transition computes the successor circuit for one recorded outcome.
func (b *Breaker) transition(circuit Circuit, probe bool, callErr error) (Circuit, bool) {
	success := callErr == nil
	providerFault := callErr != nil && domain.IsProviderFault(callErr)

	if probe {
		switch {
		case success:
			return Circuit{State: StateClosed}, true
		case providerFault:
			return Circuit{
				State:               StateOpen,
				ConsecutiveFailures: circuit.ConsecutiveFailures,
				OpenedAt:            time.Now(),
			}, true
		default:
			// Neutral outcome (cancellation, validation): release the probe
			// slot so the next caller may probe.
			next := circuit
			next.ProbeInFlight = false
			return next, true
		}
	}

	switch {
	case success:
		if circuit.ConsecutiveFailures == 0 {
			return circuit, false
		}
		return Circuit{State: StateClosed}, true

	case providerFault:
		next := circuit
		next.ConsecutiveFailures++
		if next.ConsecutiveFailures >= b.threshold {
			next.State = StateOpen
			next.OpenedAt = time.Now()
			next.ProbeInFlight = false
		}
		return next, true

	default:
		return circuit, false
	}
}
