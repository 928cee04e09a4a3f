package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"carelinkbridge/internal/models"
)

const (
	defaultEntriesLimit = 50
	maxEntriesLimit     = 1000
)

// EntriesLister reads persisted glucose entries.
type EntriesLister interface {
	RecentGlucose(ctx context.Context, limit int) ([]models.GlucoseEntry, error)
}

// EntriesHandler serves recent glucose entries.
type EntriesHandler struct {
	lister EntriesLister
	logger *zap.Logger
}

// NewEntriesHandler returns handler.
func NewEntriesHandler(lister EntriesLister, logger *zap.Logger) *EntriesHandler {
	return &EntriesHandler{lister: lister, logger: logger}
}

// List returns the last N entries, newest first.
func (h *EntriesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultEntriesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxEntriesLimit {
		limit = maxEntriesLimit
	}

	entries, err := h.lister.RecentGlucose(r.Context(), limit)
	if err != nil {
		h.logger.Error("list glucose entries", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read entries")
		return
	}
	if entries == nil {
		entries = []models.GlucoseEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
