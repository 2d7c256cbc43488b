package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hestia/internal/dedup"
	"github.com/davidbz/hestia/internal/domain"
	gatewayhttp "github.com/davidbz/hestia/internal/http"
)

// mockAgents serves one active agent.
type mockAgents struct{}

func (mockAgents) Get(_ context.Context, agentID string) (*domain.AgentConfig, error) {
	if agentID != "agent-1" {
		return nil, domain.ErrAgentNotFound
	}
	return &domain.AgentConfig{
		ID:       "agent-1",
		Provider: domain.ProviderOpenAI,
		Endpoint: "http://upstream.test",
		Model:    "gpt-4o",
		IsActive: true,
	}, nil
}

type mockAdapter struct{}

func (mockAdapter) Provider() domain.Provider { return domain.ProviderOpenAI }

func (mockAdapter) TransformRequest(_ *domain.ChatRequest, _ *domain.AgentConfig) (*domain.WireRequest, error) {
	return &domain.WireRequest{URL: "http://upstream.test", Body: []byte("{}")}, nil
}

func (mockAdapter) TransformResponse(body []byte) (*domain.CanonicalResponse, error) {
	return &domain.CanonicalResponse{Content: string(body), FinishReason: domain.FinishStop}, nil
}

func (mockAdapter) TransformStreamChunk(chunk domain.ProviderChunk) ([]domain.SSEEvent, error) {
	if string(chunk.Data) == "end" {
		return []domain.SSEEvent{{Type: domain.EventEnd, FinishReason: domain.FinishStop}}, nil
	}
	return []domain.SSEEvent{{Type: domain.EventChunk, Content: string(chunk.Data)}}, nil
}

type mockResolver struct{}

func (mockResolver) Resolve(_ domain.Provider) (domain.Adapter, error) {
	return mockAdapter{}, nil
}

type mockAdmitter struct{ err error }

func (m *mockAdmitter) Allow(_ context.Context, _ string) error { return m.err }

type mockCircuit struct{ err error }

func (m *mockCircuit) Allow(_ context.Context, _ domain.Provider) (func(error), error) {
	if m.err != nil {
		return nil, m.err
	}
	return func(error) {}, nil
}

type passRetrier struct{}

func (passRetrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}

type mockUpstream struct {
	body   []byte
	chunks []string
	err    error
	hold   chan struct{}
}

func (m *mockUpstream) Do(_ context.Context, _ domain.Provider, _ *domain.WireRequest) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.body, nil
}

func (m *mockUpstream) Stream(_ context.Context, _ domain.Provider, _ *domain.WireRequest) (<-chan domain.RawChunk, error) {
	if m.err != nil {
		return nil, m.err
	}
	chunks := make(chan domain.RawChunk, len(m.chunks))
	for _, data := range m.chunks {
		chunks <- domain.RawChunk{Chunk: domain.ProviderChunk{Data: []byte(data)}}
	}
	if m.hold != nil {
		go func() {
			<-m.hold
			close(chunks)
		}()
	} else {
		close(chunks)
	}
	return chunks, nil
}

type noopSessions struct{}

func (noopSessions) AppendMessages(_ context.Context, _ string, _ []domain.Message) error { return nil }

type noopAnalytics struct{}

func (noopAnalytics) Publish(_ context.Context, _ string, _ map[string]any) {}

type fixedTimeouts struct{}

func (fixedTimeouts) TimeoutFor(_ domain.Provider) time.Duration { return time.Second }

type handlerFixture struct {
	admitter *mockAdmitter
	circuit  *mockCircuit
	upstream *mockUpstream
	handler  *gatewayhttp.Handler
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		admitter: &mockAdmitter{},
		circuit:  &mockCircuit{},
		upstream: &mockUpstream{body: []byte("answer"), chunks: []string{"Hel", "lo", "end"}},
	}

	gateway := domain.NewGatewayService(
		mockAgents{},
		mockResolver{},
		f.admitter,
		f.circuit,
		passRetrier{},
		f.upstream,
		dedup.NewTable(2*time.Second, 16),
		noopSessions{},
		noopAnalytics{},
		fixedTimeouts{},
	)
	f.handler = gatewayhttp.NewHandler(gateway)
	return f
}

func requestBody(stream bool) string {
	payload := map[string]any{
		"agentId":   "agent-1",
		"sessionId": "session-1",
		"messages":  []map[string]string{{"role": "user", "content": "Hello"}},
		"stream":    stream,
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func TestHandler_HandleChatCompletion(t *testing.T) {
	t.Run("should return the canonical response for a non-streaming request", func(t *testing.T) {
		f := newHandlerFixture()

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(requestBody(false)))
		rec := httptest.NewRecorder()

		f.handler.HandleChatCompletion(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp domain.CanonicalResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "answer", resp.Content)
		require.Equal(t, domain.FinishStop, resp.FinishReason)
	})

	t.Run("should reject non-POST methods", func(t *testing.T) {
		f := newHandlerFixture()

		req := httptest.NewRequest(http.MethodGet, "/chat/completions", nil)
		rec := httptest.NewRecorder()

		f.handler.HandleChatCompletion(rec, req)

		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("should return 400 with the validation code for a malformed body", func(t *testing.T) {
		f := newHandlerFixture()

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()

		f.handler.HandleChatCompletion(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), string(domain.CodeValidation))
	})

	t.Run("should return 400 for an unknown agent", func(t *testing.T) {
		f := newHandlerFixture()

		body := strings.Replace(requestBody(false), "agent-1", "agent-x", 1)
		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(body))
		rec := httptest.NewRecorder()

		f.handler.HandleChatCompletion(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should return 429 with a Retry-After header when rate limited", func(t *testing.T) {
		f := newHandlerFixture()
		f.admitter.err = &domain.RateLimitError{Key: "caller-1", RetryAfter: 2 * time.Second}

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(requestBody(false)))
		rec := httptest.NewRecorder()

		f.handler.HandleChatCompletion(rec, req)

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.Equal(t, "2", rec.Header().Get("Retry-After"))
		require.Contains(t, rec.Body.String(), string(domain.CodeRateLimited))
	})

	t.Run("should return 503 when the circuit is open", func(t *testing.T) {
		f := newHandlerFixture()
		f.circuit.err = &domain.CircuitOpenError{Provider: domain.ProviderOpenAI}

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(requestBody(false)))
		rec := httptest.NewRecorder()

		f.handler.HandleChatCompletion(rec, req)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Contains(t, rec.Body.String(), string(domain.CodeCircuitOpen))
	})

	t.Run("should return 502 for an upstream failure", func(t *testing.T) {
		f := newHandlerFixture()
		f.upstream.err = &domain.ProviderUpstreamError{Provider: domain.ProviderOpenAI, Status: 500}

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(requestBody(false)))
		rec := httptest.NewRecorder()

		f.handler.HandleChatCompletion(rec, req)

		require.Equal(t, http.StatusBadGateway, rec.Code)
		require.Contains(t, rec.Body.String(), string(domain.CodeProviderUpstream))
	})

	t.Run("should stream SSE frames ending with the terminal event", func(t *testing.T) {
		f := newHandlerFixture()

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(requestBody(true)))
		rec := httptest.NewRecorder()

		f.handler.HandleChatCompletion(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		body := rec.Body.String()
		frames := strings.Split(strings.TrimSpace(body), "\n\n")
		require.Len(t, frames, 4)
		require.True(t, strings.HasPrefix(frames[0], "event: chatId\n"))
		require.Contains(t, frames[1], `"content":"Hel"`)
		require.Contains(t, frames[2], `"content":"lo"`)
		require.True(t, strings.HasPrefix(frames[3], "event: end\n"))
		require.Contains(t, frames[3], `"finishReason":"stop"`)
	})

	t.Run("should return when the client disconnects mid-stream", func(t *testing.T) {
		f := newHandlerFixture()
		f.upstream.chunks = nil
		f.upstream.hold = make(chan struct{})

		ctx, cancel := context.WithCancel(context.Background())
		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(requestBody(true))).WithContext(ctx)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			defer close(done)
			f.handler.HandleChatCompletion(rec, req)
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler goroutine still blocked after client disconnect")
		}
		close(f.upstream.hold)
	})

	t.Run("should deliver streaming admission failures as an SSE error frame", func(t *testing.T) {
		f := newHandlerFixture()
		f.admitter.err = &domain.RateLimitError{Key: "caller-1", RetryAfter: time.Second}

		req := httptest.NewRequest(http.MethodPost, "/chat/completions", strings.NewReader(requestBody(true)))
		rec := httptest.NewRecorder()

		f.handler.HandleChatCompletion(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		require.Contains(t, rec.Body.String(), "event: error\n")
		require.Contains(t, rec.Body.String(), string(domain.CodeRateLimited))
	})
}

func TestHandler_HandleHealth(t *testing.T) {
	t.Run("should report healthy", func(t *testing.T) {
		f := newHandlerFixture()

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		f.handler.HandleHealth(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"status": "healthy"}`, rec.Body.String())
	})
}
