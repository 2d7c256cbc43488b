// Package anthropic provides the adapter for the Anthropic Messages API.
// Anthropic is a vendor-specific family: system prompts are a top-level
// field, streaming uses named SSE events over content blocks, and stop
// reasons use Anthropic vocabulary.
package anthropic

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/davidbz/hestia/internal/domain"
)

const (
	messagesPath     = "/v1/messages"
	anthropicVersion = "2023-06-01"

	// The Messages API requires max_tokens; this is the documented default
	// ceiling the gateway applies when the agent config does not override it.
	defaultMaxTokens = 4096
)

// Adapter implements domain.Adapter for Anthropic.
type Adapter struct{}

// NewAdapter creates a new Anthropic adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Provider returns the provider family identifier.
func (a *Adapter) Provider() domain.Provider {
	return domain.ProviderAnthropic
}

type wireRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TransformRequest maps a canonical request onto the Messages API schema.
// System messages are hoisted into the top-level system field.
func (a *Adapter) TransformRequest(req *domain.ChatRequest, cfg *domain.AgentConfig) (*domain.WireRequest, error) {
	if len(req.Messages) == 0 {
		return nil, &domain.ValidationError{Reason: "messages cannot be empty"}
	}

	var system string
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		case "user", "assistant":
			messages = append(messages, wireMessage{Role: msg.Role, Content: msg.Content})
		default:
			return nil, &domain.ValidationError{Reason: fmt.Sprintf("unsupported role %q", msg.Role)}
		}
	}

	if len(messages) == 0 {
		return nil, &domain.ValidationError{Reason: "at least one non-system message is required"}
	}

	body, err := json.Marshal(wireRequest{
		Model:     cfg.Model,
		System:    system,
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
		Stream:    req.Stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return &domain.WireRequest{
		URL: cfg.Endpoint + messagesPath,
		Headers: map[string]string{
			"Content-Type":      "application/json",
			"x-api-key":         cfg.Credential,
			"anthropic-version": anthropicVersion,
		},
		Body: body,
	}, nil
}

// TransformResponse maps a non-streaming Messages API response to the
// canonical response.
func (a *Adapter) TransformResponse(body []byte) (*domain.CanonicalResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, &domain.ValidationError{Reason: "provider response is not valid JSON"}
	}

	root := gjson.ParseBytes(body)

	var content string
	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			content += block.Get("text").String()
		}
		return true
	})

	promptTokens := int(root.Get("usage.input_tokens").Int())
	completionTokens := int(root.Get("usage.output_tokens").Int())

	return &domain.CanonicalResponse{
		Content:      content,
		FinishReason: mapStopReason(root.Get("stop_reason").String()),
		Usage: domain.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		FinishTime: time.Now(),
	}, nil
}

// TransformStreamChunk maps one named Messages API stream event to canonical
// events. Pings and block boundary events produce nothing.
func (a *Adapter) TransformStreamChunk(chunk domain.ProviderChunk) ([]domain.SSEEvent, error) {
	if !gjson.ValidBytes(chunk.Data) {
		return nil, nil
	}

	root := gjson.ParseBytes(chunk.Data)

	event := chunk.Event
	if event == "" {
		event = root.Get("type").String()
	}

	switch event {
	case "message_start":
		if input := root.Get("message.usage.input_tokens"); input.Exists() {
			return []domain.SSEEvent{{
				Type:  domain.EventUsage,
				Usage: &domain.Usage{PromptTokens: int(input.Int()), TotalTokens: int(input.Int())},
			}}, nil
		}
		return nil, nil

	case "content_block_delta":
		delta := root.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return []domain.SSEEvent{{Type: domain.EventChunk, Content: delta.Get("text").String()}}, nil
		case "thinking_delta":
			return []domain.SSEEvent{{Type: domain.EventReasoning, Content: delta.Get("thinking").String()}}, nil
		}
		return nil, nil

	case "message_delta":
		var events []domain.SSEEvent
		if output := root.Get("usage.output_tokens"); output.Exists() {
			events = append(events, domain.SSEEvent{
				Type:  domain.EventUsage,
				Usage: &domain.Usage{CompletionTokens: int(output.Int()), TotalTokens: int(output.Int())},
			})
		}
		if stop := root.Get("delta.stop_reason"); stop.Exists() && stop.String() != "" {
			events = append(events, domain.SSEEvent{
				Type:         domain.EventEnd,
				FinishReason: mapStopReason(stop.String()),
			})
		}
		return events, nil

	default:
		// ping, message_stop, content_block_start/stop carry nothing canonical.
		return nil, nil
	}
}

// mapStopReason translates Anthropic stop reasons to canonical finish
// reasons.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return domain.FinishStop
	case "max_tokens":
		return domain.FinishLength
	default:
		return reason
	}
}
