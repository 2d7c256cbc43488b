// Package upstream holds the single HTTP client that talks to providers. All
// provider I/O lives here so adapters stay pure and the orchestrator owns
// timeouts, cancellation, and failure classification.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/davidbz/hestia/internal/domain"
	"github.com/davidbz/hestia/internal/observability"
)

const maxErrorBodyBytes = 4096

// Client executes provider wire requests.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new upstream client. Timeouts are per-call via context,
// not per-client, because each provider carries its own ceiling.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{},
	}
}

// Do executes a non-streaming call and returns the raw response body.
func (c *Client) Do(ctx context.Context, provider domain.Provider, wire *domain.WireRequest) ([]byte, error) {
	resp, err := c.execute(ctx, provider, wire, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, provider, err)
	}

	return body, nil
}

// Stream executes a streaming call. The returned channel carries parsed SSE
// frames in upstream order and is closed when the stream ends; an element
// with Err set is always last.
func (c *Client) Stream(ctx context.Context, provider domain.Provider, wire *domain.WireRequest) (<-chan domain.RawChunk, error) {
	//nolint:bodyclose // Response body is closed in the reader goroutine
	resp, err := c.execute(ctx, provider, wire, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan domain.RawChunk)
	go c.readStream(ctx, provider, resp, chunks)

	return chunks, nil
}

// execute builds and performs the HTTP request, classifying failures into
// the gateway error taxonomy.
func (c *Client) execute(ctx context.Context, provider domain.Provider, wire *domain.WireRequest, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wire.URL, bytes.NewReader(wire.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range wire.Headers {
		req.Header.Set(key, value)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		return nil, &domain.ProviderUpstreamError{
			Provider: provider,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	return resp, nil
}

// readStream parses SSE framing off the response body: optional "event:"
// line, one or more "data:" lines, blank-line frame separator. Frame
// payloads are left opaque for the adapter.
func (c *Client) readStream(ctx context.Context, provider domain.Provider, resp *http.Response, chunks chan<- domain.RawChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	logger := observability.FromContext(ctx)

	var (
		event string
		data  [][]byte
	)

	flush := func() bool {
		if len(data) == 0 {
			event = ""
			return true
		}
		chunk := domain.ProviderChunk{
			Event: event,
			Data:  bytes.Join(data, []byte("\n")),
		}
		event = ""
		data = nil

		select {
		case chunks <- domain.RawChunk{Chunk: chunk}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()

		switch {
		case len(bytes.TrimSpace(line)) == 0:
			if !flush() {
				return
			}
		case bytes.HasPrefix(line, []byte("event:")):
			event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			payload := bytes.TrimSpace(line[len("data:"):])
			data = append(data, append([]byte(nil), payload...))
		default:
			// Comment lines and unknown fields are ignored per SSE.
		}
	}

	// Trailing frame without a final blank line.
	if !flush() {
		return
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("upstream stream read failed", observability.Error(err))
		select {
		case chunks <- domain.RawChunk{Err: classifyTransportError(ctx, provider, err)}:
		case <-ctx.Done():
		}
	}
}

// classifyTransportError maps transport failures onto the error taxonomy:
// caller cancellation, provider timeout, or connection-level provider fault.
func classifyTransportError(ctx context.Context, provider domain.Provider, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return &domain.CancellationError{Err: err}
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &domain.ProviderTimeoutError{Provider: provider, Err: err}
	default:
		return &domain.ProviderUpstreamError{Provider: provider, Status: 0, Err: err}
	}
}
