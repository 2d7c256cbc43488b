package openai

import (
	"bytes"
	"time"

	"github.com/tidwall/gjson"

	"github.com/davidbz/hestia/internal/domain"
)

// doneMarker terminates an OpenAI-style stream.
var doneMarker = []byte("[DONE]")

// ParseResponse parses an OpenAI-schema non-streaming response body. Absent
// optional fields get documented defaults: empty content, "stop" finish
// reason, zero usage.
func ParseResponse(body []byte) (*domain.CanonicalResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, &domain.ValidationError{Reason: "provider response is not valid JSON"}
	}

	root := gjson.ParseBytes(body)
	choice := root.Get("choices.0")

	finishReason := choice.Get("finish_reason").String()
	if finishReason == "" {
		finishReason = domain.FinishStop
	}

	return &domain.CanonicalResponse{
		Content:      choice.Get("message.content").String(),
		FinishReason: finishReason,
		Usage: domain.Usage{
			PromptTokens:     int(root.Get("usage.prompt_tokens").Int()),
			CompletionTokens: int(root.Get("usage.completion_tokens").Int()),
			TotalTokens:      int(root.Get("usage.total_tokens").Int()),
		},
		FinishTime: time.Now(),
	}, nil
}

// ParseStreamChunk parses one OpenAI-schema stream chunk into canonical
// events. The "[DONE]" marker and keep-alive chunks produce no events; a
// chunk carrying finish_reason produces the end event.
func ParseStreamChunk(data []byte) ([]domain.SSEEvent, error) {
	if bytes.Equal(bytes.TrimSpace(data), doneMarker) {
		return nil, nil
	}

	if !gjson.ValidBytes(data) {
		// Tolerate malformed keep-alives rather than killing the stream.
		return nil, nil
	}

	root := gjson.ParseBytes(data)
	choice := root.Get("choices.0")

	var events []domain.SSEEvent

	if delta := choice.Get("delta.content"); delta.Exists() && delta.String() != "" {
		events = append(events, domain.SSEEvent{
			Type:    domain.EventChunk,
			Content: delta.String(),
		})
	}

	if reasoning := choice.Get("delta.reasoning_content"); reasoning.Exists() && reasoning.String() != "" {
		events = append(events, domain.SSEEvent{
			Type:    domain.EventReasoning,
			Content: reasoning.String(),
		})
	}

	if usage := root.Get("usage"); usage.IsObject() {
		events = append(events, domain.SSEEvent{
			Type: domain.EventUsage,
			Usage: &domain.Usage{
				PromptTokens:     int(usage.Get("prompt_tokens").Int()),
				CompletionTokens: int(usage.Get("completion_tokens").Int()),
				TotalTokens:      int(usage.Get("total_tokens").Int()),
			},
		})
	}

	if finish := choice.Get("finish_reason"); finish.Exists() && finish.String() != "" {
		events = append(events, domain.SSEEvent{
			Type:         domain.EventEnd,
			FinishReason: finish.String(),
		})
	}

	return events, nil
}
