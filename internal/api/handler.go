// Package api provides the auxiliary HTTP handlers of the insight service
// and the JSON response helpers shared by every handler.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/gpa-insight/internal/store"
)

const defaultHealthCheckTimeout = 2 * time.Second

// Handler provides common handler utilities.
type Handler struct {
	// repo is nil when the insight log is disabled.
	repo store.Repository
}

// NewHandler creates a new Handler. repo may be nil.
func NewHandler(repo store.Repository) *Handler {
	return &Handler{repo: repo}
}

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

// NoStore marks a response as uncacheable.
func NoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}
