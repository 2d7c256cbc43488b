package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/davidbz/hestia/internal/observability"
)

// TimeoutPolicy supplies the hard ceiling for calls to one provider.
type TimeoutPolicy interface {
	TimeoutFor(provider Provider) time.Duration
}

// GatewayService orchestrates the request pipeline:
// Dedup -> RateLimit -> CircuitBreaker -> Retry -> Adapter -> Normalizer.
// Deduplication comes first so fan-out subscribers do not each consume
// rate-limit budget; the breaker precedes retry so an open circuit does not
// burn retry attempts; retry wraps the upstream call so transient provider
// failures stay invisible above the adapter boundary.
type GatewayService struct {
	agents    AgentConfigStore
	adapters  AdapterResolver
	admitter  Admitter
	circuit   CircuitGate
	retrier   Retrier
	upstream  UpstreamClient
	dedup     Deduper
	sessions  SessionStore
	analytics EventPublisher
	timeouts  TimeoutPolicy

	// Non-streaming calls share one result value per fingerprint; streaming
	// calls need ordered fan-out and go through the dedup table instead.
	completes singleflight.Group
}

// NewGatewayService creates a new gateway service (DI constructor).
func NewGatewayService(
	agents AgentConfigStore,
	adapters AdapterResolver,
	admitter Admitter,
	circuit CircuitGate,
	retrier Retrier,
	upstream UpstreamClient,
	dedup Deduper,
	sessions SessionStore,
	analytics EventPublisher,
	timeouts TimeoutPolicy,
) *GatewayService {
	return &GatewayService{
		agents:    agents,
		adapters:  adapters,
		admitter:  admitter,
		circuit:   circuit,
		retrier:   retrier,
		upstream:  upstream,
		dedup:     dedup,
		sessions:  sessions,
		analytics: analytics,
		timeouts:  timeouts,
	}
}

// Stream handles a streaming chat request. The returned channel carries the
// canonical event sequence and is closed after its single terminal event.
// Admission errors that occur before any upstream call (rate limit, open
// circuit) arrive as the terminal error event.
func (g *GatewayService) Stream(ctx context.Context, req *ChatRequest) (<-chan SSEEvent, error) {
	cfg, adapter, err := g.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	callerKey := g.callerKey(ctx, req)
	fingerprint := g.dedup.Fingerprint(req.AgentID, req.SessionID, req.Messages)

	sub, exec := g.dedup.Join(fingerprint)
	if exec != nil {
		go g.run(exec, req, cfg, adapter, callerKey)
	} else {
		observability.FromContext(ctx).Info("joined in-flight execution",
			observability.String("fingerprint", fingerprint))
	}

	// A disconnecting caller tears down only its own fan-out; the shared
	// execution continues while other subscribers remain.
	go func() {
		<-ctx.Done()
		sub.Leave()
	}()

	return sub.Events(), nil
}

// Complete handles a non-streaming chat request.
func (g *GatewayService) Complete(ctx context.Context, req *ChatRequest) (*CanonicalResponse, error) {
	cfg, adapter, err := g.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	callerKey := g.callerKey(ctx, req)
	fingerprint := g.dedup.Fingerprint(req.AgentID, req.SessionID, req.Messages)

	// The shared call must not die with whichever caller happened to start
	// it: it runs on a context detached from caller cancellation, bounded
	// only by the provider timeout. A caller that disconnects stops waiting
	// without tearing the call down for the others.
	execCtx := context.WithoutCancel(ctx)
	results := g.completes.DoChan(fingerprint, func() (any, error) {
		return g.complete(execCtx, req, cfg, adapter, callerKey)
	})

	select {
	case <-ctx.Done():
		return nil, &CancellationError{Err: ctx.Err()}
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}

		resp := result.Val.(*CanonicalResponse)
		if result.Shared {
			observability.FromContext(ctx).Info("shared deduplicated completion",
				observability.String("fingerprint", fingerprint))
		}
		return resp, nil
	}
}

// admit validates the request and resolves its agent configuration and
// adapter. An inactive or missing config causes rejection before any
// upstream call.
func (g *GatewayService) admit(ctx context.Context, req *ChatRequest) (*AgentConfig, Adapter, error) {
	if req == nil {
		return nil, nil, &ValidationError{Reason: "request cannot be nil"}
	}
	if req.AgentID == "" {
		return nil, nil, &ValidationError{Reason: "agentId is required"}
	}
	if len(req.Messages) == 0 {
		return nil, nil, &ValidationError{Reason: "messages cannot be empty"}
	}
	for i, msg := range req.Messages {
		if msg.Role == "" {
			return nil, nil, &ValidationError{Reason: fmt.Sprintf("message %d has no role", i)}
		}
	}

	cfg, err := g.agents.Get(ctx, req.AgentID)
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			return nil, nil, &ValidationError{Reason: fmt.Sprintf("agent %s not found", req.AgentID)}
		}
		return nil, nil, fmt.Errorf("agent config lookup failed: %w", err)
	}
	if !cfg.IsActive {
		return nil, nil, &ValidationError{Reason: fmt.Sprintf("agent %s is inactive", req.AgentID)}
	}

	adapter, err := g.adapters.Resolve(cfg.Provider)
	if err != nil {
		return nil, nil, err
	}

	return cfg, adapter, nil
}

// callerKey is the rate-limit identity: the authenticated caller when known,
// falling back to the agent id.
func (g *GatewayService) callerKey(ctx context.Context, req *ChatRequest) string {
	if caller := observability.GetCaller(ctx); caller != "" {
		return caller
	}
	return req.AgentID
}

// run drives one owning streaming execution through the resilience pipeline
// and publishes normalized events to every dedup subscriber.
func (g *GatewayService) run(exec Execution, req *ChatRequest, cfg *AgentConfig, adapter Adapter, callerKey string) {
	ctx := observability.WithAgentID(exec.Context(), req.AgentID)
	ctx = observability.WithSessionID(ctx, req.SessionID)
	ctx = observability.WithProvider(ctx, string(cfg.Provider))
	logger := observability.FromContext(ctx)

	defer exec.Finish()

	norm := NewNormalizer(req.SessionID)
	publish := func(events []SSEEvent) {
		for _, event := range events {
			exec.Publish(event)
		}
	}

	if err := g.admitter.Allow(ctx, callerKey); err != nil {
		publish(norm.Fail(err))
		return
	}

	record, err := g.circuit.Allow(ctx, cfg.Provider)
	if err != nil {
		publish(norm.Fail(err))
		return
	}

	stream, cancel, err := g.openStream(ctx, req, cfg, adapter)
	record(err)
	if err != nil {
		logger.Error("upstream stream failed", observability.Error(err))
		publish(norm.Fail(err))
		return
	}
	defer cancel()

	for raw := range stream {
		if raw.Err != nil {
			logger.Warn("upstream stream interrupted", observability.Error(raw.Err))
			break
		}

		events, chunkErr := adapter.TransformStreamChunk(raw.Chunk)
		if chunkErr != nil {
			// One malformed chunk does not kill the stream.
			logger.Warn("dropping malformed chunk", observability.Error(chunkErr))
			continue
		}

		publish(norm.Normalize(events))
		if norm.Done() {
			break
		}
	}

	// Abrupt close without a provider done marker: synthesize the terminal
	// event rather than leaving the stream open. Post-first-byte failures
	// are terminal, never retried.
	publish(norm.Incomplete())

	g.afterExchange(req, norm.ChatID(), norm.Content(), norm.FinishReason(), norm.Usage())
}

// openStream establishes the upstream stream, retrying classified-retryable
// establishment failures. Retries never leak partial events: only the final
// attempt's stream reaches the normalizer.
func (g *GatewayService) openStream(
	ctx context.Context,
	req *ChatRequest,
	cfg *AgentConfig,
	adapter Adapter,
) (<-chan RawChunk, context.CancelFunc, error) {
	var (
		stream <-chan RawChunk
		cancel context.CancelFunc
	)

	err := g.retrier.Do(ctx, func(ctx context.Context) error {
		wire, err := adapter.TransformRequest(req, cfg)
		if err != nil {
			return err
		}

		attemptCtx, attemptCancel := context.WithTimeout(ctx, g.timeouts.TimeoutFor(cfg.Provider))
		s, err := g.upstream.Stream(attemptCtx, cfg.Provider, wire)
		if err != nil {
			attemptCancel()
			return err
		}

		stream = s
		cancel = attemptCancel
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return stream, cancel, nil
}

// complete executes one owning non-streaming call through the pipeline.
func (g *GatewayService) complete(
	ctx context.Context,
	req *ChatRequest,
	cfg *AgentConfig,
	adapter Adapter,
	callerKey string,
) (*CanonicalResponse, error) {
	ctx = observability.WithProvider(ctx, string(cfg.Provider))

	if err := g.admitter.Allow(ctx, callerKey); err != nil {
		return nil, err
	}

	record, err := g.circuit.Allow(ctx, cfg.Provider)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = g.retrier.Do(ctx, func(ctx context.Context) error {
		wire, err := adapter.TransformRequest(req, cfg)
		if err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeouts.TimeoutFor(cfg.Provider))
		defer cancel()

		b, err := g.upstream.Do(attemptCtx, cfg.Provider, wire)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	record(err)
	if err != nil {
		return nil, err
	}

	resp, err := adapter.TransformResponse(body)
	if err != nil {
		return nil, err
	}
	if resp.ChatID == "" {
		resp.ChatID = req.SessionID
	}

	g.afterExchange(req, resp.ChatID, resp.Content, resp.FinishReason, resp.Usage)

	return resp, nil
}

// afterExchange persists the exchange and offloads analytics. Both are
// fire-and-forget: their failure must not fail the response already
// delivered to the caller.
func (g *GatewayService) afterExchange(req *ChatRequest, chatID, content, finishReason string, usage Usage) {
	if content == "" || req.SessionID == "" {
		return
	}

	ctx := context.Background()

	last := req.Messages[len(req.Messages)-1]
	if err := g.sessions.AppendMessages(ctx, req.SessionID, []Message{
		last,
		{Role: "assistant", Content: content},
	}); err != nil {
		observability.FromContext(ctx).Warn("session append failed",
			observability.String("session_id", req.SessionID),
			observability.Error(err))
	}

	g.analytics.Publish(ctx, "chat_completed", map[string]any{
		"agent_id":          req.AgentID,
		"session_id":        req.SessionID,
		"chat_id":           chatID,
		"finish_reason":     finishReason,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
	})
}
