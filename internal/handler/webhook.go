package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/mailroom/pkg/httperr"
)

// maxWebhookBody caps notification payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// webhook receives provider delivery notifications. Authentication is
// the message signature, not API credentials.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httperr.Render(w, httperr.BadRequest("unreadable body", httperr.WithError(err)))
		return
	}

	if err := h.webhooks.Process(r.Context(), body); err != nil {
		h.log.WarnContext(r.Context(), "webhook rejected", slog.Any("error", err))
		httperr.Render(w, httperr.BadRequest("invalid notification", httperr.WithError(err)))
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}
