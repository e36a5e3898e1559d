package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/internal/tracker"
	"github.com/dmitrymomot/mailroom/pkg/httperr"
)

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	filter := storage.ListLogsFilter{}

	if v := r.URL.Query().Get("system_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httperr.Render(w, httperr.BadRequest("invalid system_id", httperr.WithError(err)))
			return
		}
		filter.SystemID = &id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := storage.EmailStatus(v)
		if !status.Valid() {
			httperr.Render(w, httperr.BadRequest("unknown status"))
			return
		}
		filter.Status = &status
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			httperr.Render(w, httperr.BadRequest("invalid limit"))
			return
		}
		filter.Limit = limit
	}

	logs, err := h.logs.List(r.Context(), filter)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	l, err := h.logs.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

type updateLogStatusRequest struct {
	Status   storage.EmailStatus `json:"status"`
	Error    *string             `json:"error,omitempty"`
	Metadata map[string]any      `json:"metadata,omitempty"`
}

// updateLogStatus applies a manual status correction. The transition
// still goes through the state machine, so a log can never move backward
// this way.
func (h *Handler) updateLogStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	var req updateLogStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}

	l, err := h.logs.UpdateStatus(r.Context(), id, req.Status, storage.LogUpdate{
		Error:    req.Error,
		Metadata: req.Metadata,
	})
	if err != nil {
		if errors.Is(err, tracker.ErrInvalidTransition) {
			httperr.Render(w, httperr.Conflict(err.Error(), httperr.WithError(err)))
			return
		}
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (h *Handler) emailStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.stats.CountByStatus(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"email_stats": counts})
}

func (h *Handler) systemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.CountBySystem(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
