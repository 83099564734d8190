package middleware

import (
	"net"
	"net/http"
	"strconv"

	"rolegate/internal/authz"
	"rolegate/internal/domain"
	gw "rolegate/internal/gateway"
	"rolegate/internal/platform/telemetry"
)

// RateLimit returns middleware that enforces rate limits per authenticated
// principal, or per client IP for anonymous requests. Place it after Auth so
// the principal is known.
// The metrics parameter is optional; pass nil to skip metric recording.
func RateLimit(limiter gw.RateLimiter, m *telemetry.GatewayMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, layer := rateLimitKey(r)
			result := limiter.Allow(key)
			setRateLimitHeaders(w.Header(), result)
			if !result.Allowed {
				m.RecordRateLimitDecision(r.Context(), layer, "denied")
				writeRateLimitError(w, result.RetryAfter)
				return
			}

			m.RecordRateLimitDecision(r.Context(), layer, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) (key, layer string) {
	if p, ok := authz.PrincipalFromContext(r.Context()); ok {
		return "principal:" + p.ID, "principal"
	}
	return "ip:" + clientIP(r), "ip"
}

func clientIP(r *http.Request) string {
	// Use RemoteAddr directly. X-Forwarded-For is client-controlled and
	// must not be trusted without a validated trusted proxy list.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func setRateLimitHeaders(h http.Header, result gw.RateLimitResult) {
	if result.Limit <= 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
}

func writeRateLimitError(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, domain.ErrorResponse{
		Error:      "rate_limited",
		Message:    "too many requests",
		RetryAfter: retryAfter,
	})
}
