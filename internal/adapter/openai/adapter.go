// Package openai provides the adapter for the OpenAI-compatible HTTP API
// family (OpenAI itself plus compatible endpoints such as OpenRouter and
// local OpenAI-schema servers). The adapter is a pure transformation between
// the canonical shapes and the /chat/completions wire format; all I/O lives
// in the orchestrator.
package openai

import (
	"encoding/json"
	"fmt"

	"github.com/davidbz/hestia/internal/domain"
)

const completionsPath = "/chat/completions"

// Adapter implements domain.Adapter for the OpenAI-compatible family.
type Adapter struct{}

// NewAdapter creates a new OpenAI-compatible adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Provider returns the provider family identifier.
func (a *Adapter) Provider() domain.Provider {
	return domain.ProviderOpenAI
}

// wireRequest is the OpenAI chat completions request schema.
type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TransformRequest maps a canonical request onto the OpenAI wire schema.
func (a *Adapter) TransformRequest(req *domain.ChatRequest, cfg *domain.AgentConfig) (*domain.WireRequest, error) {
	body, err := BuildRequestBody(req, cfg.Model)
	if err != nil {
		return nil, err
	}

	return &domain.WireRequest{
		URL: cfg.Endpoint + completionsPath,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + cfg.Credential,
		},
		Body: body,
	}, nil
}

// TransformResponse maps a non-streaming response body to the canonical
// response.
func (a *Adapter) TransformResponse(body []byte) (*domain.CanonicalResponse, error) {
	return ParseResponse(body)
}

// TransformStreamChunk maps one raw stream chunk to canonical events.
func (a *Adapter) TransformStreamChunk(chunk domain.ProviderChunk) ([]domain.SSEEvent, error) {
	return ParseStreamChunk(chunk.Data)
}

// BuildRequestBody renders the shared OpenAI-schema request JSON. Azure
// reuses it because the two families differ only in transport details.
func BuildRequestBody(req *domain.ChatRequest, model string) ([]byte, error) {
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
		Model:    model,
		Messages: messages,
		Stream:   req.Stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return body, nil
}
