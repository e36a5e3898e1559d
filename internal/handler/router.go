package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/mailroom/internal/auth"
)

// Router assembles the HTTP surface: the tenant-facing send endpoint,
// the admin API, the provider webhook and the health probe.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", h.health)
	r.Post("/webhook/notifications", h.webhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.auth.Middleware())

		r.Post("/email/send", h.send)

		r.Route("/templates", func(r chi.Router) {
			r.Use(auth.Require(auth.PermManageTemplates))
			r.Get("/", h.listTemplates)
			r.Post("/", h.createTemplate)
			r.Get("/{id}", h.getTemplate)
			r.Put("/{id}", h.updateTemplate)
			r.Delete("/{id}", h.deleteTemplate)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.Require(auth.PermAdmin))

			r.Route("/systems", func(r chi.Router) {
				r.Get("/", h.listSystems)
				r.Post("/", h.createSystem)
				r.Get("/{id}", h.getSystem)
				r.Put("/{id}", h.updateSystem)
				r.Delete("/{id}", h.deleteSystem)
			})

			r.Route("/logs", func(r chi.Router) {
				r.Get("/", h.listLogs)
				r.Get("/{id}", h.getLog)
				r.Put("/{id}/status", h.updateLogStatus)
			})

			r.Get("/stats/emails", h.emailStats)
			r.Get("/stats/systems", h.systemStats)
		})
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.InfoContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}
