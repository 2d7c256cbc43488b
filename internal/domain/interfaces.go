package domain

import "context"

// Adapter translates between the canonical shapes and one provider family's
// wire format. Adapters are pure transformations: all I/O lives in the
// orchestrator so adapters stay testable with recorded fixtures.
type Adapter interface {
	// Provider returns the family this adapter serves.
	Provider() Provider

	// TransformRequest maps a canonical request onto the provider's wire
	// schema. It must not mutate its inputs and fails only on genuinely
	// unrepresentable input, with a ValidationError.
	TransformRequest(req *ChatRequest, cfg *AgentConfig) (*WireRequest, error)

	// TransformResponse maps a non-streaming provider response body to the
	// canonical response, substituting documented defaults for absent
	// optional fields.
	TransformResponse(body []byte) (*CanonicalResponse, error)

	// TransformStreamChunk maps one raw provider chunk to zero or more
	// canonical events, preserving upstream order. It must never block.
	TransformStreamChunk(chunk ProviderChunk) ([]SSEEvent, error)
}

// AdapterResolver resolves the provider enum to a concrete adapter once per
// request; adapters are never re-dispatched per chunk.
type AdapterResolver interface {
	Resolve(provider Provider) (Adapter, error)
}

// AgentConfigStore is the external configuration collaborator. Get returns
// ErrAgentNotFound for unknown ids; an inactive config is returned with
// IsActive false so callers can reject it distinctly.
type AgentConfigStore interface {
	Get(ctx context.Context, agentID string) (*AgentConfig, error)
}

// UpstreamClient is the single component performing provider I/O.
type UpstreamClient interface {
	// Do executes a non-streaming call and returns the response body.
	Do(ctx context.Context, provider Provider, wire *WireRequest) ([]byte, error)

	// Stream executes a streaming call. The returned channel is closed when
	// the upstream stream ends; a RawChunk with Err set is the last element
	// on mid-flight failure.
	Stream(ctx context.Context, provider Provider, wire *WireRequest) (<-chan RawChunk, error)
}

// Admitter performs per-caller admission control. A nil return admits the
// call; rejection is a RateLimitError. The caller is never made to wait.
type Admitter interface {
	Allow(ctx context.Context, key string) error
}

// CircuitGate guards calls to one provider. Allow returns a record function
// to be invoked with the call outcome, or a CircuitOpenError when the
// provider is short-circuited.
type CircuitGate interface {
	Allow(ctx context.Context, provider Provider) (record func(error), err error)
}

// Retrier re-issues classified-retryable failures with bounded backoff.
type Retrier interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// Subscription is one caller's view of a deduplicated execution. Events is
// closed after the terminal event; Leave detaches the subscriber without
// affecting others.
type Subscription interface {
	Events() <-chan SSEEvent
	Leave()
}

// Execution is the owning side of a deduplicated entry. Publish fans an event
// out to every subscriber in order; Finish settles the entry and closes all
// subscriber channels. Context is cancelled when no subscribers remain or the
// entry is force-evicted.
type Execution interface {
	Context() context.Context
	Publish(event SSEEvent)
	Finish()
}

// Deduper collapses concurrent identical requests into a single upstream
// execution. Join returns a non-nil Execution only for the first arrival of a
// fingerprint; later arrivals attach as subscribers.
type Deduper interface {
	Fingerprint(agentID, sessionID string, messages []Message) string
	Join(fingerprint string) (Subscription, Execution)
}

// SessionStore is the external session-persistence collaborator. Appends are
// fire-and-forget from the gateway's perspective.
type SessionStore interface {
	AppendMessages(ctx context.Context, sessionID string, messages []Message) error
}

// EventPublisher offloads auxiliary non-interactive work, fire-and-forget.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data map[string]any)
}
