package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"rolegate/internal/domain"
)

// writeError writes the JSON error envelope with the given status.
func writeError(w http.ResponseWriter, status int, resp domain.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}
