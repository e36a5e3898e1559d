package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/mailroom/internal/auth"
	"github.com/dmitrymomot/mailroom/internal/dispatch"
	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/pkg/httperr"
)

// Dispatcher accepts validated send requests into the queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, systemID uuid.UUID, req dispatch.SendRequest) (int64, error)
}

// SystemStore is the admin surface over authorized systems.
type SystemStore interface {
	List(ctx context.Context) ([]storage.AuthorizedSystem, error)
	FindByID(ctx context.Context, id uuid.UUID) (*storage.AuthorizedSystem, error)
	Create(ctx context.Context, p storage.CreateSystemParams) (*storage.AuthorizedSystem, error)
	Update(ctx context.Context, id uuid.UUID, p storage.UpdateSystemParams) (*storage.AuthorizedSystem, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// TemplateStore is the CRUD surface over email templates.
type TemplateStore interface {
	List(ctx context.Context) ([]storage.EmailTemplate, error)
	FindByID(ctx context.Context, id uuid.UUID) (*storage.EmailTemplate, error)
	Create(ctx context.Context, p storage.CreateTemplateParams) (*storage.EmailTemplate, error)
	Update(ctx context.Context, id uuid.UUID, p storage.UpdateTemplateParams) (*storage.EmailTemplate, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// LogTracker reads logs and applies manual status updates through the
// delivery state machine.
type LogTracker interface {
	Get(ctx context.Context, id uuid.UUID) (*storage.EmailLog, error)
	List(ctx context.Context, f storage.ListLogsFilter) ([]storage.EmailLog, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status storage.EmailStatus, u storage.LogUpdate) (*storage.EmailLog, error)
}

// StatsStore aggregates log counts for the admin dashboards.
type StatsStore interface {
	CountByStatus(ctx context.Context) (map[storage.EmailStatus]int64, error)
	CountBySystem(ctx context.Context) ([]storage.SystemEmailStats, error)
}

// WebhookProcessor consumes raw provider notification bodies.
type WebhookProcessor interface {
	Process(ctx context.Context, body []byte) error
}

// HealthCheck reports the liveness of one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler carries the wired dependencies of the HTTP surface.
type Handler struct {
	auth       *auth.Authenticator
	dispatcher Dispatcher
	systems    SystemStore
	templates  TemplateStore
	logs       LogTracker
	stats      StatsStore
	webhooks   WebhookProcessor
	checks     []HealthCheck
	log        *slog.Logger
}

func New(a *auth.Authenticator, dispatcher Dispatcher, systems SystemStore, templates TemplateStore, logs LogTracker, stats StatsStore, webhooks WebhookProcessor, checks []HealthCheck, log *slog.Logger) *Handler {
	return &Handler{
		auth:       a,
		dispatcher: dispatcher,
		systems:    systems,
		templates:  templates,
		logs:       logs,
		stats:      stats,
		webhooks:   webhooks,
		checks:     checks,
		log:        log,
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return httperr.BadRequest("malformed request body", httperr.WithError(err))
	}
	return nil
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, httperr.BadRequest("invalid "+param, httperr.WithError(err))
	}
	return id, nil
}

// renderError maps domain errors onto the HTTP taxonomy before writing
// the response. Unclassified errors are logged and masked as 500.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case httperr.As(err) != nil:
		// Already classified.
	case errors.Is(err, dispatch.ErrInvalidRequest):
		err = httperr.BadRequest(err.Error(), httperr.WithError(err))
	case errors.Is(err, storage.ErrNotFound):
		err = httperr.NotFound("not found", httperr.WithError(err))
	case errors.Is(err, storage.ErrDuplicateName):
		err = httperr.Conflict("name already taken", httperr.WithError(err))
	case errors.Is(err, storage.ErrUnknownPermissions):
		err = httperr.NotFound(err.Error(), httperr.WithError(err))
	default:
		h.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httperr.Render(w, err)
}
