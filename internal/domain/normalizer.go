package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Normalizer turns the adapter's per-chunk event bursts into one canonical
// ordered outbound sequence. It guarantees exactly one terminal event per
// stream: if the upstream stream ends without a provider-level done marker,
// Incomplete synthesizes the end event instead of leaving the stream open.
// It also assigns the stable chatId on the first event and accumulates
// provider-reported token counts when no final usage summary arrives.
type Normalizer struct {
	chatID       string
	started      bool
	terminal     bool
	finishReason string
	sawUsage     bool
	usage        Usage
	content      strings.Builder
}

// NewNormalizer creates a normalizer for one stream. An empty chatID gets a
// freshly assigned token.
func NewNormalizer(chatID string) *Normalizer {
	if chatID == "" {
		chatID = uuid.New().String()
	}
	return &Normalizer{chatID: chatID}
}

// ChatID returns the stable chat id token for this stream.
func (n *Normalizer) ChatID() string {
	return n.chatID
}

// Content returns the accumulated assistant text, for session persistence.
func (n *Normalizer) Content() string {
	return n.content.String()
}

// FinishReason returns the finish reason of the terminal event, if any.
func (n *Normalizer) FinishReason() string {
	return n.finishReason
}

// Usage returns the accumulated token counts.
func (n *Normalizer) Usage() Usage {
	return n.usage
}

// Done reports whether the terminal event has been emitted.
func (n *Normalizer) Done() bool {
	return n.terminal
}

// Normalize processes one adapter event burst and returns the events to
// emit, in order. Events after the terminal event are dropped.
func (n *Normalizer) Normalize(events []SSEEvent) []SSEEvent {
	out := make([]SSEEvent, 0, len(events)+1)

	for _, event := range events {
		if n.terminal {
			break
		}

		if !n.started {
			n.started = true
			out = append(out, SSEEvent{Type: EventChatID, ChatID: n.chatID})
		}

		switch event.Type {
		case EventChunk:
			n.content.WriteString(event.Content)

		case EventUsage:
			if event.Usage != nil {
				n.sawUsage = true
				n.usage.Add(*event.Usage)
				event.Usage = &Usage{
					PromptTokens:     n.usage.PromptTokens,
					CompletionTokens: n.usage.CompletionTokens,
					TotalTokens:      n.usage.TotalTokens,
				}
			}

		case EventEnd:
			n.terminal = true
			n.finishReason = event.FinishReason
			if event.FinishReason == "" {
				event.FinishReason = FinishStop
				n.finishReason = FinishStop
			}

		case EventError:
			n.terminal = true
			n.finishReason = string(event.Code)
		}

		out = append(out, event)
	}

	return out
}

// Incomplete synthesizes the terminal sequence for a stream that ended
// abruptly without a provider done marker. It returns nothing if a terminal
// event was already emitted.
func (n *Normalizer) Incomplete() []SSEEvent {
	if n.terminal {
		return nil
	}
	n.terminal = true
	n.finishReason = FinishIncomplete

	out := make([]SSEEvent, 0, 3)
	if !n.started {
		n.started = true
		out = append(out, SSEEvent{Type: EventChatID, ChatID: n.chatID})
	}
	if n.sawUsage {
		out = append(out, SSEEvent{Type: EventUsage, Usage: &Usage{
			PromptTokens:     n.usage.PromptTokens,
			CompletionTokens: n.usage.CompletionTokens,
			TotalTokens:      n.usage.TotalTokens,
		}})
	}

	return append(out, SSEEvent{Type: EventEnd, FinishReason: FinishIncomplete})
}

// Fail converts a pipeline error into the terminal error event. It returns
// nothing if a terminal event was already emitted.
func (n *Normalizer) Fail(err error) []SSEEvent {
	if n.terminal {
		return nil
	}
	n.terminal = true

	event := ErrorEvent(err)
	n.finishReason = string(event.Code)

	if !n.started {
		n.started = true
		return []SSEEvent{{Type: EventChatID, ChatID: n.chatID}, event}
	}
	return []SSEEvent{event}
}
