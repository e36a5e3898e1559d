package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TemplateRepository persists email templates.
type TemplateRepository struct {
	pool *pgxpool.Pool
}

func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

const templateColumns = `id, name, subject, COALESCE(content_html, ''), COALESCE(content_text, ''), variables, is_active, created_at, updated_at`

func scanTemplate(row pgx.Row) (*EmailTemplate, error) {
	var t EmailTemplate
	err := row.Scan(&t.ID, &t.Name, &t.Subject, &t.ContentHTML, &t.ContentText, &t.Variables, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &t, nil
}

// FindByID returns a template regardless of its active flag.
func (r *TemplateRepository) FindByID(ctx context.Context, id uuid.UUID) (*EmailTemplate, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM email_templates WHERE id = $1`, id)
	return scanTemplate(row)
}

// FindActiveByID returns a template only when it exists and is active;
// otherwise ErrNotFound. The render path treats both cases the same.
func (r *TemplateRepository) FindActiveByID(ctx context.Context, id uuid.UUID) (*EmailTemplate, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM email_templates WHERE id = $1 AND is_active`, id)
	return scanTemplate(row)
}

// List returns all templates, newest first.
func (r *TemplateRepository) List(ctx context.Context) ([]EmailTemplate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM email_templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []EmailTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// CreateTemplateParams carries the fields for a new template.
type CreateTemplateParams struct {
	Name        string
	Subject     string
	ContentHTML string
	ContentText string
	Variables   []string
	IsActive    bool
}

func (r *TemplateRepository) Create(ctx context.Context, p CreateTemplateParams) (*EmailTemplate, error) {
	if p.Variables == nil {
		p.Variables = []string{}
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO email_templates (name, subject, content_html, content_text, variables, is_active)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		 RETURNING `+templateColumns,
		p.Name, p.Subject, p.ContentHTML, p.ContentText, p.Variables, p.IsActive)
	return scanTemplate(row)
}

// UpdateTemplateParams carries optional mutations; nil fields are left
// untouched.
type UpdateTemplateParams struct {
	Name        *string
	Subject     *string
	ContentHTML *string
	ContentText *string
	Variables   *[]string
	IsActive    *bool
}

func (r *TemplateRepository) Update(ctx context.Context, id uuid.UUID, p UpdateTemplateParams) (*EmailTemplate, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE email_templates SET
			name = COALESCE($2, name),
			subject = COALESCE($3, subject),
			content_html = COALESCE(NULLIF($4, ''), content_html),
			content_text = COALESCE(NULLIF($5, ''), content_text),
			variables = COALESCE($6, variables),
			is_active = COALESCE($7, is_active),
			updated_at = now()
		 WHERE id = $1
		 RETURNING `+templateColumns,
		id, p.Name, p.Subject, p.ContentHTML, p.ContentText, p.Variables, p.IsActive)
	return scanTemplate(row)
}

func (r *TemplateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM email_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
