package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	skipAccessLogKey contextKey = "skip_access_log"
)

// AccessLogger writes one structured entry per admin request. The level follows
// the response class: 5xx is an error, 4xx a warning.
type AccessLogger struct {
	logger zerolog.Logger
}

func NewAccessLogger(logger zerolog.Logger) *AccessLogger {
	return &AccessLogger{
		logger: logger.With().Str("component", "http_access").Logger(),
	}
}

func (a *AccessLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skip, _ := r.Context().Value(skipAccessLogKey).(bool); skip {
			next.ServeHTTP(w, r)

			return
		}

		started := time.Now()
		recorder := NewStatusRecorder(w)

		next.ServeHTTP(recorder, r)

		elapsed := time.Since(started)

		event := a.eventFor(recorder.StatusCode()).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", routeLabel(r)).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Int("status_code", recorder.StatusCode()).
			Int64("response_size_bytes", recorder.BytesWritten()).
			Dur("duration", elapsed)

		if r.URL.RawQuery != "" {
			event.Str("query", r.URL.RawQuery)
		}

		if requestID := chimiddleware.GetReqID(r.Context()); requestID != "" {
			event.Str("request_id", requestID)
		}

		if spanCtx := trace.SpanContextFromContext(r.Context()); spanCtx.HasTraceID() {
			event.Str("trace_id", spanCtx.TraceID().String())
		}

		event.Msg("admin request served")
	})
}

func (a *AccessLogger) eventFor(statusCode int) *zerolog.Event {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return a.logger.Error()
	case statusCode >= http.StatusBadRequest:
		return a.logger.Warn()
	default:
		return a.logger.Info()
	}
}
