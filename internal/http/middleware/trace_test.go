package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hestia/internal/http/middleware"
	"github.com/davidbz/hestia/internal/observability"
)

func TestTrace(t *testing.T) {
	t.Run("should inject trace and request ids", func(t *testing.T) {
		var gotTraceID, gotRequestID string
		inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			gotTraceID = observability.GetTraceID(r.Context())
			gotRequestID = observability.GetRequestID(r.Context())
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/chat/completions", nil)

		middleware.Trace()(inner).ServeHTTP(rec, req)

		require.NotEmpty(t, gotTraceID)
		require.NotEmpty(t, gotRequestID)
		require.Equal(t, gotTraceID, rec.Header().Get("X-Trace-Id"))
		require.Equal(t, gotRequestID, rec.Header().Get("X-Request-Id"))
	})

	t.Run("should carry the caller identity from the header", func(t *testing.T) {
		var gotCaller string
		inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			gotCaller = observability.GetCaller(r.Context())
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/chat/completions", nil)
		req.Header.Set("X-Caller-Id", "caller-7")

		middleware.Trace()(inner).ServeHTTP(rec, req)

		require.Equal(t, "caller-7", gotCaller)
	})

	t.Run("should leave the caller empty when the header is absent", func(t *testing.T) {
		var gotCaller string
		inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			gotCaller = observability.GetCaller(r.Context())
		})

		middleware.Trace()(inner).ServeHTTP(httptest.NewRecorder(),
			httptest.NewRequest(http.MethodPost, "/chat/completions", nil))

		require.Empty(t, gotCaller)
	})
}
