package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	gw "rolegate/internal/gateway"
	"rolegate/internal/platform/telemetry"
)

// Metrics returns middleware that records HTTP request metrics, labelled by
// the matched chi route pattern. Place as the outermost middleware to capture
// the full request lifecycle.
func Metrics(m *telemetry.GatewayMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

			next.ServeHTTP(sw, r)

			m.RecordHTTPRequest(r.Context(), r.Method, routePattern(r), sw.Code, time.Since(start).Seconds())
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
