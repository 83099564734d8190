package middleware

import (
	"net/http"

	"rolegate/internal/domain"
)

// MaxBodySize returns middleware that limits request body size to maxBytes.
// Requests that declare a larger Content-Length are rejected with 413 before
// reaching the guard; bodies without a declared length are capped with
// http.MaxBytesReader and fail on read.
func MaxBodySize(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, domain.ErrorResponse{
					Error:   "payload_too_large",
					Message: "request body too large",
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
