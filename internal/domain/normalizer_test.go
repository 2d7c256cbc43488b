package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hestia/internal/domain"
)

func TestNormalizer_Normalize(t *testing.T) {
	t.Run("should emit chatId before the first event", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		out := norm.Normalize([]domain.SSEEvent{
			{Type: domain.EventChunk, Content: "Hello"},
		})

		require.Len(t, out, 2)
		require.Equal(t, domain.EventChatID, out[0].Type)
		require.Equal(t, "session-1", out[0].ChatID)
		require.Equal(t, domain.EventChunk, out[1].Type)
		require.Equal(t, "Hello", out[1].Content)
	})

	t.Run("should assign a fresh chat id when none is given", func(t *testing.T) {
		norm := domain.NewNormalizer("")

		require.NotEmpty(t, norm.ChatID())

		out := norm.Normalize([]domain.SSEEvent{{Type: domain.EventChunk, Content: "x"}})
		require.Equal(t, norm.ChatID(), out[0].ChatID)
	})

	t.Run("should pass a well-formed stream through with a single terminal event", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		var out []domain.SSEEvent
		out = append(out, norm.Normalize([]domain.SSEEvent{{Type: domain.EventChunk, Content: "Hel"}})...)
		out = append(out, norm.Normalize([]domain.SSEEvent{{Type: domain.EventChunk, Content: "lo"}})...)
		out = append(out, norm.Normalize([]domain.SSEEvent{{Type: domain.EventChunk, Content: "!"}})...)
		out = append(out, norm.Normalize([]domain.SSEEvent{
			{Type: domain.EventUsage, Usage: &domain.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8}},
			{Type: domain.EventEnd, FinishReason: domain.FinishStop},
		})...)

		require.Len(t, out, 6)
		require.Equal(t, domain.EventChatID, out[0].Type)
		require.Equal(t, domain.EventEnd, out[5].Type)
		require.Equal(t, domain.FinishStop, out[5].FinishReason)

		terminals := 0
		for _, event := range out {
			if event.Terminal() {
				terminals++
			}
		}
		require.Equal(t, 1, terminals)

		require.True(t, norm.Done())
		require.Equal(t, "Hello!", norm.Content())
		require.Equal(t, 8, norm.Usage().TotalTokens)
		require.Equal(t, domain.FinishStop, norm.FinishReason())
	})

	t.Run("should drop events after the terminal event", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		norm.Normalize([]domain.SSEEvent{{Type: domain.EventEnd, FinishReason: domain.FinishStop}})
		out := norm.Normalize([]domain.SSEEvent{{Type: domain.EventChunk, Content: "late"}})

		require.Empty(t, out)
	})

	t.Run("should default a missing finish reason to stop", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		out := norm.Normalize([]domain.SSEEvent{{Type: domain.EventEnd}})

		require.Equal(t, domain.FinishStop, out[len(out)-1].FinishReason)
		require.Equal(t, domain.FinishStop, norm.FinishReason())
	})
}

func TestNormalizer_Incomplete(t *testing.T) {
	t.Run("should synthesize the end event when the stream closes abruptly", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		norm.Normalize([]domain.SSEEvent{{Type: domain.EventChunk, Content: "partial"}})
		out := norm.Incomplete()

		require.Len(t, out, 1)
		require.Equal(t, domain.EventEnd, out[0].Type)
		require.Equal(t, domain.FinishIncomplete, out[0].FinishReason)
		require.True(t, norm.Done())
	})

	t.Run("should include accumulated usage when any was observed", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		norm.Normalize([]domain.SSEEvent{
			{Type: domain.EventChunk, Content: "partial"},
			{Type: domain.EventUsage, Usage: &domain.Usage{PromptTokens: 7, TotalTokens: 7}},
		})
		out := norm.Incomplete()

		require.Len(t, out, 2)
		require.Equal(t, domain.EventUsage, out[0].Type)
		require.Equal(t, 7, out[0].Usage.PromptTokens)
		require.Equal(t, domain.EventEnd, out[1].Type)
	})

	t.Run("should emit the chatId first when the stream produced nothing", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		out := norm.Incomplete()

		require.Len(t, out, 2)
		require.Equal(t, domain.EventChatID, out[0].Type)
		require.Equal(t, domain.EventEnd, out[1].Type)
	})

	t.Run("should produce nothing when the stream already ended", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		norm.Normalize([]domain.SSEEvent{{Type: domain.EventEnd, FinishReason: domain.FinishStop}})

		require.Empty(t, norm.Incomplete())
		require.Equal(t, domain.FinishStop, norm.FinishReason())
	})
}

func TestNormalizer_Fail(t *testing.T) {
	t.Run("should convert a pipeline error to the terminal error event", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		out := norm.Fail(&domain.RateLimitError{Key: "caller-1"})

		require.Len(t, out, 2)
		require.Equal(t, domain.EventChatID, out[0].Type)
		require.Equal(t, domain.EventError, out[1].Type)
		require.Equal(t, domain.CodeRateLimited, out[1].Code)
		require.True(t, norm.Done())
	})

	t.Run("should skip the chatId when the stream already started", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		norm.Normalize([]domain.SSEEvent{{Type: domain.EventChunk, Content: "x"}})
		out := norm.Fail(errors.New("boom"))

		require.Len(t, out, 1)
		require.Equal(t, domain.EventError, out[0].Type)
		require.Equal(t, domain.CodeInternal, out[0].Code)
	})

	t.Run("should produce nothing after the terminal event", func(t *testing.T) {
		norm := domain.NewNormalizer("session-1")

		norm.Normalize([]domain.SSEEvent{{Type: domain.EventEnd}})

		require.Empty(t, norm.Fail(errors.New("boom")))
	})
}
