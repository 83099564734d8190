package middleware

import (
	"net/http"

	"github.com/google/uuid"

	gw "rolegate/internal/gateway"
)

const maxRequestIDLen = 128

// RequestID assigns a unique request ID to each request. An incoming
// X-Request-ID header is preserved when it is non-empty and reasonably short.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(gw.ContextWithRequestID(r.Context(), id)))
	})
}
