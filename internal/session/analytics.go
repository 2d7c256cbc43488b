package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidbz/hestia/internal/observability"
)

// Analytics implements domain.EventPublisher by logging structured events.
// It stands in for the background-queue collaborator: only auxiliary
// non-interactive work goes through it, always fire-and-forget.
type Analytics struct{}

// NewAnalytics creates a logging analytics publisher.
func NewAnalytics() *Analytics {
	return &Analytics{}
}

// Publish implements domain.EventPublisher.
func (a *Analytics) Publish(ctx context.Context, eventType string, data map[string]any) {
	fields := make([]zap.Field, 0, len(data))
	for key, value := range data {
		fields = append(fields, zap.Any(key, value))
	}

	observability.FromContext(ctx).Info(eventType, fields...)
}
