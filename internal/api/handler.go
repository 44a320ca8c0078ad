// Package api provides HTTP handlers for the Auryn chat API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/auryn-chat/internal/domain"
	"github.com/samber/oops"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ServiceError writes err with the status StatusFor picks. Server-side
// failures are logged and reported without internal detail.
func ServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusBadRequest:
		Error(w, status, oops.GetPublic(err, "invalid request"))
	case http.StatusNotFound:
		Error(w, status, "not found")
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, status, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
