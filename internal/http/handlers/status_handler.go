package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"carelinkbridge/internal/models"
)

// StatusProvider exposes the latest device snapshot.
type StatusProvider interface {
	Latest() (models.Snapshot, bool)
}

// StatusHandler serves the latest snapshot.
type StatusHandler struct {
	provider StatusProvider
	logger   *zap.Logger
}

// NewStatusHandler returns handler.
func NewStatusHandler(provider StatusProvider, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{provider: provider, logger: logger}
}

// Get returns the latest snapshot, 404 until the first successful poll.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.provider.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no data yet")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
