package middleware

import (
	"context"
	"net/http"
)

// HealthCheckFilter marks probe and scrape requests so the access logger skips them.
type HealthCheckFilter struct {
	probeEndpoints  map[string]struct{}
	logHealthChecks bool
}

func NewHealthCheckFilter(logHealthChecks bool, extra ...string) *HealthCheckFilter {
	endpoints := map[string]struct{}{
		"/health":  {},
		"/healthz": {},
		"/livez":   {},
		"/readyz":  {},
	}

	for _, path := range extra {
		endpoints[path] = struct{}{}
	}

	return &HealthCheckFilter{
		probeEndpoints:  endpoints,
		logHealthChecks: logHealthChecks,
	}
}

func (h *HealthCheckFilter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.logHealthChecks {
			next.ServeHTTP(w, r)

			return
		}

		if _, ok := h.probeEndpoints[r.URL.Path]; ok {
			ctx := context.WithValue(r.Context(), skipAccessLogKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))

			return
		}

		next.ServeHTTP(w, r)
	})
}
