package fastgpt_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hestia/internal/adapter/fastgpt"
	"github.com/davidbz/hestia/internal/domain"
)

func testAgentConfig() *domain.AgentConfig {
	return &domain.AgentConfig{
		ID:         "agent-1",
		Provider:   domain.ProviderFastGPT,
		Endpoint:   "https://fastgpt.example.com",
		Credential: "fastgpt-key",
		IsActive:   true,
	}
}

func TestAdapter_TransformRequest(t *testing.T) {
	adapter := fastgpt.NewAdapter()

	t.Run("should carry the session id as chatId with detail mode on", func(t *testing.T) {
		req := &domain.ChatRequest{
			AgentID:   "agent-1",
			SessionID: "session-42",
			Messages:  []domain.Message{{Role: "user", Content: "Hello"}},
			Stream:    true,
			InitVars:  map[string]string{"city": "Berlin"},
		}

		wire, err := adapter.TransformRequest(req, testAgentConfig())

		require.NoError(t, err)
		require.Equal(t, "https://fastgpt.example.com/api/v1/chat/completions", wire.URL)
		require.Equal(t, "Bearer fastgpt-key", wire.Headers["Authorization"])

		var body map[string]any
		require.NoError(t, json.Unmarshal(wire.Body, &body))
		require.Equal(t, "session-42", body["chatId"])
		require.Equal(t, true, body["detail"])
		require.Equal(t, true, body["stream"])
		require.Equal(t, map[string]any{"city": "Berlin"}, body["variables"])
	})

	t.Run("should omit chatId and variables when absent", func(t *testing.T) {
		req := &domain.ChatRequest{
			AgentID:  "agent-1",
			Messages: []domain.Message{{Role: "user", Content: "Hello"}},
		}

		wire, err := adapter.TransformRequest(req, testAgentConfig())

		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(wire.Body, &body))
		require.NotContains(t, body, "chatId")
		require.NotContains(t, body, "variables")
	})
}

func TestAdapter_TransformResponse(t *testing.T) {
	adapter := fastgpt.NewAdapter()

	t.Run("should parse an OpenAI-shaped response with the chat id", func(t *testing.T) {
		body := []byte(`{
			"id": "chat-77",
			"choices": [{"message": {"content": "Done"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`)

		resp, err := adapter.TransformResponse(body)

		require.NoError(t, err)
		require.Equal(t, "chat-77", resp.ChatID)
		require.Equal(t, "Done", resp.Content)
		require.Equal(t, 5, resp.Usage.TotalTokens)
	})
}

func TestAdapter_TransformStreamChunk(t *testing.T) {
	adapter := fastgpt.NewAdapter()

	named := func(event, data string) domain.ProviderChunk {
		return domain.ProviderChunk{Event: event, Data: []byte(data)}
	}

	t.Run("should parse unnamed frames as answer chunks", func(t *testing.T) {
		events, err := adapter.TransformStreamChunk(named("", `{"choices": [{"delta": {"content": "Hi"}}]}`))

		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, domain.EventChunk, events[0].Type)
		require.Equal(t, "Hi", events[0].Content)
	})

	t.Run("should map node status frames to status events", func(t *testing.T) {
		events, err := adapter.TransformStreamChunk(named("flowNodeStatus", `{"status": "running", "name": "AI Chat"}`))

		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, domain.EventStatus, events[0].Type)
		require.Equal(t, "AI Chat", events[0].Content)
		require.NotEmpty(t, events[0].Data)
	})

	t.Run("should forward interactive frames opaquely", func(t *testing.T) {
		payload := `{"interactive": {"type": "userSelect", "params": {"userSelectOptions": []}}}`
		events, err := adapter.TransformStreamChunk(named("interactive", payload))

		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, domain.EventInteractive, events[0].Type)
		require.JSONEq(t, payload, string(events[0].Data))
	})

	t.Run("should map citation frames to dataset events", func(t *testing.T) {
		events, err := adapter.TransformStreamChunk(named("quote", `[{"sourceName": "doc.pdf"}]`))

		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, domain.EventDataset, events[0].Type)
	})

	t.Run("should map tool frames to tool events", func(t *testing.T) {
		for _, event := range []string{"toolCall", "toolParams", "toolResponse"} {
			events, err := adapter.TransformStreamChunk(named(event, `{"tool": {"name": "search"}}`))
			require.NoError(t, err)
			require.Len(t, events, 1)
			require.Equal(t, domain.EventTool, events[0].Type, "event %s", event)
		}
	})

	t.Run("should map workflow summaries to summary events", func(t *testing.T) {
		events, err := adapter.TransformStreamChunk(named("flowResponses", `[{"moduleName": "AI Chat"}]`))

		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, domain.EventSummary, events[0].Type)
	})

	t.Run("should map provider error frames to terminal error events", func(t *testing.T) {
		events, err := adapter.TransformStreamChunk(named("error", `{"message": "workflow failed"}`))

		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, domain.EventError, events[0].Type)
		require.Equal(t, domain.CodeProviderUpstream, events[0].Code)
		require.Equal(t, "workflow failed", events[0].Message)
		require.True(t, events[0].Terminal())
	})

	t.Run("should ignore unknown named frames", func(t *testing.T) {
		events, err := adapter.TransformStreamChunk(named("updateVariables", `{}`))

		require.NoError(t, err)
		require.Empty(t, events)
	})

	t.Run("should produce nothing for the done marker", func(t *testing.T) {
		events, err := adapter.TransformStreamChunk(named("answer", "[DONE]"))

		require.NoError(t, err)
		require.Empty(t, events)
	})
}
