package template

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailroom/internal/storage"
)

// TemplateFinder loads active templates for rendering.
type TemplateFinder interface {
	FindActiveByID(ctx context.Context, id uuid.UUID) (*storage.EmailTemplate, error)
}

// Renderer resolves stored templates and substitutes {{variable}}
// placeholders from caller-supplied values.
type Renderer struct {
	templates TemplateFinder
}

func NewRenderer(templates TemplateFinder) *Renderer {
	return &Renderer{templates: templates}
}

// Rendered is the output of a template render.
type Rendered struct {
	TemplateID uuid.UUID
	Subject    string
	HTML       string
	Text       string
}

// placeholderRe matches {{name}} placeholders. Whitespace inside the
// braces is tolerated, so {{ name }} and {{name}} are equivalent.
var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Render loads the template and substitutes variables into its subject
// and bodies. Placeholders without a matching variable are left verbatim
// so a missing value never blocks a send. A missing or inactive template
// returns (nil, nil); the caller decides how to surface that.
func (r *Renderer) Render(ctx context.Context, id uuid.UUID, vars map[string]string) (*Rendered, error) {
	tpl, err := r.templates.FindActiveByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &Rendered{
		TemplateID: tpl.ID,
		Subject:    Substitute(tpl.Subject, vars),
		HTML:       Substitute(tpl.ContentHTML, vars),
		Text:       Substitute(tpl.ContentText, vars),
	}, nil
}

// Substitute replaces {{name}} placeholders in s with values from vars,
// leaving unmatched placeholders untouched.
func Substitute(s string, vars map[string]string) string {
	if s == "" || len(vars) == 0 && !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSpace(placeholderRe.FindStringSubmatch(match)[1])
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}
