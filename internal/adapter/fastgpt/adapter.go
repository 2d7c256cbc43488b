// Package fastgpt provides the adapter for FastGPT applications. FastGPT is
// a vendor-specific family: requests carry the chat id and workflow
// variables, and detail-mode streams interleave OpenAI-style answer chunks
// with named workflow events (node status, citations, interactive nodes,
// tool invocations, response summaries).
package fastgpt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/davidbz/hestia/internal/domain"
)

const chatPath = "/api/v1/chat/completions"

// Adapter implements domain.Adapter for FastGPT.
type Adapter struct{}

// NewAdapter creates a new FastGPT adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Provider returns the provider family identifier.
func (a *Adapter) Provider() domain.Provider {
	return domain.ProviderFastGPT
}

type wireRequest struct {
	ChatID    string            `json:"chatId,omitempty"`
	Stream    bool              `json:"stream"`
	Detail    bool              `json:"detail"`
	Variables map[string]string `json:"variables,omitempty"`
	Messages  []wireMessage     `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TransformRequest maps a canonical request onto the FastGPT wire schema.
// The session id becomes the FastGPT chatId and init vars become workflow
// variables. Detail mode is always on so workflow events reach the stream.
func (a *Adapter) TransformRequest(req *domain.ChatRequest, cfg *domain.AgentConfig) (*domain.WireRequest, error) {
	if len(req.Messages) == 0 {
		return nil, &domain.ValidationError{Reason: "messages cannot be empty"}
	}

	messages := make([]wireMessage, len(req.Messages))
	for i, msg := range req.Messages {
		switch msg.Role {
		case "user", "assistant", "system":
			messages[i] = wireMessage{Role: msg.Role, Content: msg.Content}
		default:
			return nil, &domain.ValidationError{Reason: fmt.Sprintf("unsupported role %q", msg.Role)}
		}
	}

	body, err := json.Marshal(wireRequest{
		ChatID:    req.SessionID,
		Stream:    req.Stream,
		Detail:    true,
		Variables: req.InitVars,
		Messages:  messages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return &domain.WireRequest{
		URL: cfg.Endpoint + chatPath,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + cfg.Credential,
		},
		Body: body,
	}, nil
}

// TransformResponse maps a non-streaming FastGPT response (OpenAI-shaped) to
// the canonical response.
func (a *Adapter) TransformResponse(body []byte) (*domain.CanonicalResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, &domain.ValidationError{Reason: "provider response is not valid JSON"}
	}

	root := gjson.ParseBytes(body)
	choice := root.Get("choices.0")

	finishReason := choice.Get("finish_reason").String()
	if finishReason == "" {
		finishReason = domain.FinishStop
	}

	resp := &domain.CanonicalResponse{
		ChatID:       root.Get("id").String(),
		Content:      choice.Get("message.content").String(),
		FinishReason: finishReason,
		Usage: domain.Usage{
			PromptTokens:     int(root.Get("usage.prompt_tokens").Int()),
			CompletionTokens: int(root.Get("usage.completion_tokens").Int()),
			TotalTokens:      int(root.Get("usage.total_tokens").Int()),
		},
		FinishTime: time.Now(),
	}
	return resp, nil
}

// TransformStreamChunk maps one detail-mode stream frame to canonical
// events. Unnamed frames follow the OpenAI chunk schema; named frames carry
// FastGPT workflow payloads forwarded opaquely.
func (a *Adapter) TransformStreamChunk(chunk domain.ProviderChunk) ([]domain.SSEEvent, error) {
	switch chunk.Event {
	case "", "answer":
		return a.parseAnswerChunk(chunk.Data)

	case "flowNodeStatus", "moduleStatus":
		status := gjson.GetBytes(chunk.Data, "name").String()
		if status == "" {
			status = gjson.GetBytes(chunk.Data, "status").String()
		}
		return []domain.SSEEvent{{Type: domain.EventStatus, Content: status, Data: chunk.Data}}, nil

	case "interactive":
		return []domain.SSEEvent{{Type: domain.EventInteractive, Data: chunk.Data}}, nil

	case "quote", "dataset":
		return []domain.SSEEvent{{Type: domain.EventDataset, Data: chunk.Data}}, nil

	case "toolCall", "toolParams", "toolResponse":
		return []domain.SSEEvent{{Type: domain.EventTool, Data: chunk.Data}}, nil

	case "flowResponses":
		return []domain.SSEEvent{{Type: domain.EventSummary, Data: chunk.Data}}, nil

	case "error":
		// Provider-level error frames end the stream; the normalizer treats
		// the error event as terminal.
		return []domain.SSEEvent{{
			Type:    domain.EventError,
			Code:    domain.CodeProviderUpstream,
			Message: gjson.GetBytes(chunk.Data, "message").String(),
		}}, nil

	default:
		return nil, nil
	}
}

func (a *Adapter) parseAnswerChunk(data []byte) ([]domain.SSEEvent, error) {
	events, err := parseOpenAIStyleChunk(data)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// parseOpenAIStyleChunk handles FastGPT answer frames, which follow the
// OpenAI delta schema with optional reasoning content.
func parseOpenAIStyleChunk(data []byte) ([]domain.SSEEvent, error) {
	if string(data) == "[DONE]" {
		return nil, nil
	}

	if !gjson.ValidBytes(data) {
		return nil, nil
	}

	root := gjson.ParseBytes(data)
	choice := root.Get("choices.0")

	var events []domain.SSEEvent

	if delta := choice.Get("delta.content"); delta.Exists() && delta.String() != "" {
		events = append(events, domain.SSEEvent{Type: domain.EventChunk, Content: delta.String()})
	}

	if reasoning := choice.Get("delta.reasoning_content"); reasoning.Exists() && reasoning.String() != "" {
		events = append(events, domain.SSEEvent{Type: domain.EventReasoning, Content: reasoning.String()})
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
		events = append(events, domain.SSEEvent{Type: domain.EventEnd, FinishReason: finish.String()})
	}

	return events, nil
}
