package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the stable wire-level code for a gateway error.
type ErrorCode string

const (
	CodeValidation       ErrorCode = "validation_error"
	CodeRateLimited      ErrorCode = "rate_limited"
	CodeCircuitOpen      ErrorCode = "circuit_open"
	CodeProviderTimeout  ErrorCode = "provider_timeout"
	CodeProviderUpstream ErrorCode = "provider_upstream_error"
	CodeDedupTimeout     ErrorCode = "dedup_timeout"
	CodeCancelled        ErrorCode = "cancelled"
	CodeInternal         ErrorCode = "internal_error"
)

// Sentinel errors for agent configuration lookup. The store must signal
// "inactive" distinctly from "not found".
var (
	ErrAgentNotFound = errors.New("agent config not found")
	ErrAgentInactive = errors.New("agent config inactive")
)

// ValidationError indicates bad input. Never retried, rejected before any
// upstream call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// RateLimitError indicates admission was denied. RetryAfter hints when the
// caller may try again.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter)
}

// CircuitOpenError indicates the provider is known-bad and the call was
// rejected without contacting it.
type CircuitOpenError struct {
	Provider Provider
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %s", e.Provider)
}

// ProviderTimeoutError indicates the upstream call exceeded its hard ceiling.
type ProviderTimeoutError struct {
	Provider Provider
	Err      error
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out: %v", e.Provider, e.Err)
}

func (e *ProviderTimeoutError) Unwrap() error { return e.Err }

// ProviderUpstreamError indicates the provider answered badly or could not be
// reached. Status is the HTTP status, or zero for connection-level failures.
type ProviderUpstreamError struct {
	Provider Provider
	Status   int
	Err      error
}

func (e *ProviderUpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s returned status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s unreachable: %v", e.Provider, e.Err)
}

func (e *ProviderUpstreamError) Unwrap() error { return e.Err }

// DedupTimeoutError indicates an in-flight entry was force-evicted before its
// owning execution settled.
type DedupTimeoutError struct {
	Fingerprint string
}

func (e *DedupTimeoutError) Error() string {
	return fmt.Sprintf("deduplicated execution %s evicted before settlement", e.Fingerprint)
}

// CancellationError indicates the caller disconnected. It is not a failure,
// just a torn-down stream.
type CancellationError struct {
	Err error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("request cancelled: %v", e.Err)
}

func (e *CancellationError) Unwrap() error { return e.Err }

// CodeOf maps an error to its stable wire code.
func CodeOf(err error) ErrorCode {
	var (
		validation *ValidationError
		rateLimit  *RateLimitError
		circuit    *CircuitOpenError
		timeout    *ProviderTimeoutError
		upstream   *ProviderUpstreamError
		dedup      *DedupTimeoutError
		canceled   *CancellationError
	)

	switch {
	case errors.As(err, &validation):
		return CodeValidation
	case errors.As(err, &rateLimit):
		return CodeRateLimited
	case errors.As(err, &circuit):
		return CodeCircuitOpen
	case errors.As(err, &timeout):
		return CodeProviderTimeout
	case errors.As(err, &upstream):
		return CodeProviderUpstream
	case errors.As(err, &dedup):
		return CodeDedupTimeout
	case errors.As(err, &canceled), errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return CodeInternal
	}
}

// IsRetryable reports whether the retry coordinator may re-issue the call:
// timeouts, connection-level failures, 429, and 5xx. Everything else
// propagates immediately.
func IsRetryable(err error) bool {
	var timeout *ProviderTimeoutError
	if errors.As(err, &timeout) {
		return true
	}

	var upstream *ProviderUpstreamError
	if errors.As(err, &upstream) {
		return upstream.Status == 0 || upstream.Status == 429 || upstream.Status >= 500
	}

	return false
}

// IsProviderFault reports whether the failure is attributable to the provider
// and should count toward its circuit breaker. Caller cancellations and
// validation errors never count.
func IsProviderFault(err error) bool {
	var timeout *ProviderTimeoutError
	if errors.As(err, &timeout) {
		return true
	}

	var upstream *ProviderUpstreamError
	if errors.As(err, &upstream) {
		return upstream.Status == 0 || upstream.Status >= 500
	}

	return false
}

// ErrorEvent converts a pipeline error into the terminal error event for a
// stream.
func ErrorEvent(err error) SSEEvent {
	return SSEEvent{
		Type:    EventError,
		Code:    CodeOf(err),
		Message: err.Error(),
	}
}
