package handler

import (
	"net/http"

	"github.com/dmitrymomot/mailroom/internal/auth"
	"github.com/dmitrymomot/mailroom/internal/dispatch"
	"github.com/dmitrymomot/mailroom/pkg/httperr"
)

type sendResponse struct {
	Message string `json:"message"`
	JobID   int64  `json:"job_id"`
}

// send accepts an email for asynchronous delivery. The 202 only promises
// that the job is durably queued; delivery outcome lands in the log.
func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httperr.Render(w, httperr.Unauthorized("authentication required"))
		return
	}

	var req dispatch.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}

	perm := auth.PermSendDirect
	if req.Type == dispatch.TypeTemplate {
		perm = auth.PermSendTemplate
	}
	if !identity.Permissions.Has(perm) {
		httperr.Render(w, httperr.Forbidden("missing permission: "+perm, httperr.WithErrorCode(perm)))
		return
	}

	jobID, err := h.dispatcher.Dispatch(r.Context(), identity.ID, req)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, sendResponse{Message: "email queued for delivery", JobID: jobID})
}
