package handler

import (
	"net/http"

	"github.com/dmitrymomot/mailroom/internal/auth"
	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/pkg/httperr"
)

type createSystemRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Permissions    []string `json:"permissions"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

type createSystemResponse struct {
	System *storage.AuthorizedSystem `json:"system"`
	APIKey string                    `json:"api_key"`
}

// createSystem registers a tenant. The plaintext API key appears in this
// response and nowhere else; only its hash is stored.
func (h *Handler) createSystem(w http.ResponseWriter, r *http.Request) {
	var req createSystemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	if req.Name == "" {
		httperr.Render(w, httperr.BadRequest("name is required"))
		return
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	system, err := h.systems.Create(r.Context(), storage.CreateSystemParams{
		Name:            req.Name,
		Description:     req.Description,
		APIKeyHash:      hash,
		PermissionCodes: req.Permissions,
		AllowedOrigins:  req.AllowedOrigins,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, createSystemResponse{System: system, APIKey: apiKey})
}

func (h *Handler) listSystems(w http.ResponseWriter, r *http.Request) {
	systems, err := h.systems.List(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, systems)
}

func (h *Handler) getSystem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	system, err := h.systems.FindByID(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, system)
}

type updateSystemRequest struct {
	Name           *string   `json:"name,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Permissions    *[]string `json:"permissions,omitempty"`
	AllowedOrigins *[]string `json:"allowed_origins,omitempty"`
	IsActive       *bool     `json:"is_active,omitempty"`
}

func (h *Handler) updateSystem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	var req updateSystemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}

	before, err := h.systems.FindByID(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	system, err := h.systems.Update(r.Context(), id, storage.UpdateSystemParams{
		Name:            req.Name,
		Description:     req.Description,
		PermissionCodes: req.Permissions,
		AllowedOrigins:  req.AllowedOrigins,
		IsActive:        req.IsActive,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	// Cached credentials are keyed by name; drop both old and new entries
	// so changes apply on the next request.
	h.auth.Invalidate(r.Context(), before.Name)
	h.auth.Invalidate(r.Context(), system.Name)

	respondJSON(w, http.StatusOK, system)
}

func (h *Handler) deleteSystem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	before, err := h.systems.FindByID(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if err := h.systems.Delete(r.Context(), id); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.auth.Invalidate(r.Context(), before.Name)

	w.WriteHeader(http.StatusNoContent)
}
