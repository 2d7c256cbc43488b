package domain

import (
	"encoding/json"
	"time"
)

// Provider identifies an upstream completion provider family.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAzure     Provider = "azure"
	ProviderAnthropic Provider = "anthropic"
	ProviderFastGPT   Provider = "fastgpt"
)

// KnownProviders returns the closed set of supported provider families.
func KnownProviders() []Provider {
	return []Provider{ProviderOpenAI, ProviderAzure, ProviderAnthropic, ProviderFastGPT}
}

// AgentConfig is the read-only configuration resolved for an agent.
// It is owned by the external configuration store; the gateway only caches it.
type AgentConfig struct {
	ID         string   `json:"id"`
	Provider   Provider `json:"provider"`
	Endpoint   string   `json:"endpoint"`
	Credential string   `json:"credential"`
	Model      string   `json:"model"`
	IsActive   bool     `json:"isActive"`
}

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// ChatRequest is the unified inbound request. It is immutable once accepted
// into the pipeline.
type ChatRequest struct {
	AgentID   string            `json:"agentId"`
	SessionID string            `json:"sessionId"`
	Messages  []Message         `json:"messages"`
	Stream    bool              `json:"stream"`
	InitVars  map[string]string `json:"initVars,omitempty"`
}

// Usage tracks token consumption for one exchange.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add accumulates counts from another usage report.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// CanonicalResponse is the unified non-streaming response.
type CanonicalResponse struct {
	ChatID       string    `json:"chatId,omitempty"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finishReason"`
	Usage        Usage     `json:"usage"`
	FinishTime   time.Time `json:"finishTime"`
}

// EventType discriminates the canonical SSE event variants.
type EventType string

const (
	EventChunk       EventType = "chunk"
	EventStatus      EventType = "status"
	EventReasoning   EventType = "reasoning"
	EventInteractive EventType = "interactive"
	EventDataset     EventType = "dataset"
	EventSummary     EventType = "summary"
	EventTool        EventType = "tool"
	EventUsage       EventType = "usage"
	EventError       EventType = "error"
	EventEnd         EventType = "end"
	EventChatID      EventType = "chatId"
)

// SSEEvent is one canonical stream event. Which fields are populated depends
// on Type: Content carries chunk/reasoning/status text, Data carries opaque
// vendor payloads (interactive, dataset, tool, summary), Usage carries token
// counts, FinishReason is set on end events, Code and Message on error events.
type SSEEvent struct {
	Type         EventType       `json:"type"`
	Content      string          `json:"content,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
	Code         ErrorCode       `json:"code,omitempty"`
	Message      string          `json:"message,omitempty"`
	ChatID       string          `json:"chatId,omitempty"`
}

// Terminal reports whether the event closes its stream.
func (e SSEEvent) Terminal() bool {
	return e.Type == EventEnd || e.Type == EventError
}

// Finish reasons carried by end events.
const (
	FinishStop       = "stop"
	FinishLength     = "length"
	FinishIncomplete = "incomplete"
)

// WireRequest is a fully-formed provider HTTP request produced by an adapter.
// Adapters are pure; executing the request is the orchestrator's job.
type WireRequest struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// ProviderChunk is one raw frame read off a provider event stream. Event is
// the SSE event name when the provider uses named events, empty otherwise.
type ProviderChunk struct {
	Event string
	Data  []byte
}

// RawChunk is what the upstream client delivers per stream read. Err is set
// when the stream failed mid-flight; no further chunks follow it.
type RawChunk struct {
	Chunk ProviderChunk
	Err   error
}
