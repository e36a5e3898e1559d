package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// health runs each registered dependency check with a short deadline and
// reports per-dependency state. Any failure turns the probe 503.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[check.Name] = err.Error()
			h.log.WarnContext(ctx, "health check failed",
				slog.String("dependency", check.Name),
				slog.Any("error", err))
			continue
		}
		results[check.Name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	respondJSON(w, status, map[string]any{
		"status":       overall,
		"dependencies": results,
	})
}
