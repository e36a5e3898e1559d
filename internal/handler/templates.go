package handler

import (
	"net/http"

	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/pkg/httperr"
)

type createTemplateRequest struct {
	Name        string   `json:"name"`
	Subject     string   `json:"subject"`
	ContentHTML string   `json:"content_html,omitempty"`
	ContentText string   `json:"content_text,omitempty"`
	Variables   []string `json:"variables,omitempty"`
	IsActive    *bool    `json:"is_active,omitempty"`
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	if req.Name == "" || req.Subject == "" {
		httperr.Render(w, httperr.BadRequest("name and subject are required"))
		return
	}
	if req.ContentHTML == "" && req.ContentText == "" {
		httperr.Render(w, httperr.BadRequest("content_html or content_text is required"))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	tpl, err := h.templates.Create(r.Context(), storage.CreateTemplateParams{
		Name:        req.Name,
		Subject:     req.Subject,
		ContentHTML: req.ContentHTML,
		ContentText: req.ContentText,
		Variables:   req.Variables,
		IsActive:    active,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tpl)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.List(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, templates)
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	tpl, err := h.templates.FindByID(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tpl)
}

type updateTemplateRequest struct {
	Name        *string   `json:"name,omitempty"`
	Subject     *string   `json:"subject,omitempty"`
	ContentHTML *string   `json:"content_html,omitempty"`
	ContentText *string   `json:"content_text,omitempty"`
	Variables   *[]string `json:"variables,omitempty"`
	IsActive    *bool     `json:"is_active,omitempty"`
}

func (h *Handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	var req updateTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}

	tpl, err := h.templates.Update(r.Context(), id, storage.UpdateTemplateParams{
		Name:        req.Name,
		Subject:     req.Subject,
		ContentHTML: req.ContentHTML,
		ContentText: req.ContentText,
		Variables:   req.Variables,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tpl)
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if err := h.templates.Delete(r.Context(), id); err != nil {
		h.renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
