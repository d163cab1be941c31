package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/gpa-insight/internal/domain"
	"github.com/go-chi/chi/v5"
)

const bearerPrefix = "Bearer "

// HistoryHandler serves stored insights to an operator holding the admin
// token. The client key is chosen by the caller, so it is never trusted as
// a credential on its own.
type HistoryHandler struct {
	*Handler
	token string
}

// NewHistoryHandler creates a new history handler. An empty token disables
// the endpoint.
func NewHistoryHandler(base *Handler, token string) *HistoryHandler {
	return &HistoryHandler{Handler: base, token: strings.TrimSpace(token)}
}

// RegisterRoutes registers history routes.
func (h *HistoryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/insights", h.List)
}

// List returns the recent insights of the client named by ?client_key=,
// newest first.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.token == "" {
		Error(w, http.StatusNotFound, "insight history is disabled")
		return
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, bearerPrefix) {
		Error(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if !validToken(strings.TrimPrefix(auth, bearerPrefix), h.token) {
		Error(w, http.StatusForbidden, "invalid token")
		return
	}

	clientKey := strings.TrimSpace(r.URL.Query().Get("client_key"))
	if clientKey == "" {
		Error(w, http.StatusBadRequest, "client_key is required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.repo.RecentInsights(r.Context(), clientKey, limit)
	if err != nil {
		slog.Error("Failed to load insight history", "error", err, "client_key", clientKey)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []*domain.InsightRecord{}
	}

	NoStore(w)
	JSON(w, http.StatusOK, map[string]interface{}{"insights": records})
}

func validToken(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
