package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/davidbz/hestia/internal/domain"
	"github.com/davidbz/hestia/internal/observability"
)

// Handler handles HTTP requests.
type Handler struct {
	gateway *domain.GatewayService
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(gateway *domain.GatewayService) *Handler {
	return &Handler{
		gateway: gateway,
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code         domain.ErrorCode `json:"code"`
	Message      string           `json:"message"`
	RetryAfterMs int64            `json:"retryAfterMs,omitempty"`
}

// HandleChatCompletion processes POST /chat/completions.
func (h *Handler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &domain.ValidationError{Reason: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	ctx = observability.WithAgentID(ctx, req.AgentID)
	ctx = observability.WithSessionID(ctx, req.SessionID)

	logger := observability.FromContext(ctx)
	logger.Info("chat request received",
		observability.Bool("stream", req.Stream),
		observability.Int("messages", len(req.Messages)),
	)

	if req.Stream {
		h.handleStream(ctx, w, &req)
		return
	}

	response, err := h.gateway.Complete(ctx, &req)
	if err != nil {
		logger.Error("completion failed", observability.Error(err))
		writeError(w, err)
		return
	}

	logger.Info("completion succeeded",
		observability.Int("tokens", response.Usage.TotalTokens),
		observability.String("finish_reason", response.FinishReason),
	)

	w.Header().Set("Content-Type", "application/json")
	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		logger.Error("failed to encode response", observability.Error(encodeErr))
	}
}

func (h *Handler) handleStream(ctx context.Context, w http.ResponseWriter, req *domain.ChatRequest) {
	logger := observability.FromContext(ctx)

	events, err := h.gateway.Stream(ctx, req)
	if err != nil {
		logger.Error("stream rejected", observability.Error(err))
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}

			data, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				logger.Error("failed to marshal event", observability.Error(marshalErr))
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()

			if event.Terminal() {
				logger.Info("stream completed",
					observability.String("event", string(event.Type)))
			}
		case <-ctx.Done():
			logger.Info("client disconnected mid-stream")
			return
		}
	}
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		// Already written status, can't change it, just log.
		return
	}
}

// writeError renders a classified error with its stable code and status.
func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)

	status := http.StatusInternalServerError
	detail := errorDetail{Code: code, Message: err.Error()}

	switch code {
	case domain.CodeValidation:
		status = http.StatusBadRequest
	case domain.CodeRateLimited:
		status = http.StatusTooManyRequests
		var rateErr *domain.RateLimitError
		if errors.As(err, &rateErr) {
			detail.RetryAfterMs = rateErr.RetryAfter.Milliseconds()
			seconds := int64(rateErr.RetryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		}
	case domain.CodeCircuitOpen:
		status = http.StatusServiceUnavailable
	case domain.CodeProviderTimeout, domain.CodeProviderUpstream:
		status = http.StatusBadGateway
	case domain.CodeDedupTimeout:
		status = http.StatusGatewayTimeout
	case domain.CodeCancelled:
		// Client is gone; nothing useful to write.
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}
