package middleware

import (
	"log/slog"
	"net/http"
	"time"

	gw "rolegate/internal/gateway"
)

// Logging returns a middleware that logs each request using slog. It installs
// a gateway.RequestInfo on the context so that inner middleware can report
// the principal and the guard's decision.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			info := &gw.RequestInfo{}

			next.ServeHTTP(sw, r.WithContext(gw.ContextWithRequestInfo(r.Context(), info)))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Code,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"request_id", gw.RequestIDFromContext(r.Context()),
				"principal_id", info.PrincipalID,
				"principal_role", info.PrincipalRole,
				"remote_addr", r.RemoteAddr,
			}
			if info.Operation != "" {
				attrs = append(attrs, "operation", info.Operation, "authz", info.Decision)
			}
			logger.Info("request", attrs...)
		})
	}
}
