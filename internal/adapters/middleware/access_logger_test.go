package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func serveLogged(t *testing.T, status int, req *http.Request) map[string]any {
	t.Helper()

	var buf bytes.Buffer

	handler := NewAccessLogger(zerolog.New(&buf)).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), req)

	if buf.Len() == 0 {
		return nil
	}

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output: %s", buf.String())

	return entry
}

func TestAccessLogger_LevelFollowsStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]string{
		http.StatusOK:                 "info",
		http.StatusNotFound:           "warn",
		http.StatusServiceUnavailable: "error",
	}

	for status, level := range cases {
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()

			entry := serveLogged(t, status, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.NotNil(t, entry)
			assert.Equal(t, level, entry["level"])
			assert.Equal(t, "http_access", entry["component"])
			assert.Equal(t, "/health", entry["path"])
			assert.Equal(t, float64(status), entry["status_code"])
			assert.Equal(t, float64(len(`{"status":"ok"}`)), entry["response_size_bytes"])
			assert.Contains(t, entry, "duration")
			assert.NotContains(t, entry, "query")
		})
	}
}

func TestAccessLogger_Skipped(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req = req.WithContext(context.WithValue(req.Context(), skipAccessLogKey, true))

	assert.Nil(t, serveLogged(t, http.StatusOK, req))
}

func TestAccessLogger_RequestAndTraceIDs(t *testing.T) {
	t.Parallel()

	traceID := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  trace.SpanID{0, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics?name=queue", nil)
	ctx := context.WithValue(req.Context(), chimiddleware.RequestIDKey, "host/abc-000001")
	ctx = trace.ContextWithSpanContext(ctx, spanCtx)

	entry := serveLogged(t, http.StatusOK, req.WithContext(ctx))

	require.NotNil(t, entry)
	assert.Equal(t, "host/abc-000001", entry["request_id"])
	assert.Equal(t, traceID.String(), entry["trace_id"])
	assert.Equal(t, "name=queue", entry["query"])
}

func TestAccessLogger_RouteFromRouter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	router := chi.NewRouter()
	router.Use(NewAccessLogger(zerolog.New(&buf)).Middleware)
	router.Get("/queues/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/queues/orders", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "/queues/{name}", entry["route"])
	assert.Equal(t, "/queues/orders", entry["path"])
	assert.Equal(t, "info", entry["level"])
}
