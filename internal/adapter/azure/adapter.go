// Package azure provides the adapter for Azure OpenAI deployments. Azure
// speaks the OpenAI chat completions schema but differs in transport: the
// deployment name is part of the URL path, authentication uses the api-key
// header, and an api-version query parameter is mandatory. Body and chunk
// parsing are shared with the openai package.
package azure

import (
	"fmt"

	"github.com/davidbz/hestia/internal/adapter/openai"
	"github.com/davidbz/hestia/internal/domain"
)

const apiVersion = "2024-06-01"

// Adapter implements domain.Adapter for Azure OpenAI.
type Adapter struct{}

// NewAdapter creates a new Azure OpenAI adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Provider returns the provider family identifier.
func (a *Adapter) Provider() domain.Provider {
	return domain.ProviderAzure
}

// TransformRequest maps a canonical request onto the Azure OpenAI wire
// schema.
func (a *Adapter) TransformRequest(req *domain.ChatRequest, cfg *domain.AgentConfig) (*domain.WireRequest, error) {
	if cfg.Model == "" {
		return nil, &domain.ValidationError{Reason: "azure deployment name (model) is required"}
	}

	body, err := openai.BuildRequestBody(req, cfg.Model)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		cfg.Endpoint, cfg.Model, apiVersion)

	return &domain.WireRequest{
		URL: url,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"api-key":      cfg.Credential,
		},
		Body: body,
	}, nil
}

// TransformResponse maps a non-streaming response body to the canonical
// response.
func (a *Adapter) TransformResponse(body []byte) (*domain.CanonicalResponse, error) {
	return openai.ParseResponse(body)
}

// TransformStreamChunk maps one raw stream chunk to canonical events.
func (a *Adapter) TransformStreamChunk(chunk domain.ProviderChunk) ([]domain.SSEEvent, error) {
	return openai.ParseStreamChunk(chunk.Data)
}
