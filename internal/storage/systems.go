package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/mailroom/pkg/db"
)

// SystemRepository persists authorized systems and their permission grants.
type SystemRepository struct {
	pool *pgxpool.Pool
}

func NewSystemRepository(pool *pgxpool.Pool) *SystemRepository {
	return &SystemRepository{pool: pool}
}

const systemColumns = `id, name, description, api_key_hash, allowed_origins, is_active, created_at, updated_at`

func scanSystem(row pgx.Row) (*AuthorizedSystem, error) {
	var s AuthorizedSystem
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.APIKeyHash, &s.AllowedOrigins, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &s, nil
}

// FindByName returns the system with the given client id (unique name),
// including its permission codes.
func (r *SystemRepository) FindByName(ctx context.Context, name string) (*AuthorizedSystem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+systemColumns+` FROM authorized_systems WHERE name = $1`, name)

	s, err := scanSystem(row)
	if err != nil {
		return nil, err
	}
	if s.Permissions, err = r.permissionCodes(ctx, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// FindByID returns the system with the given id, including its permission
// codes.
func (r *SystemRepository) FindByID(ctx context.Context, id uuid.UUID) (*AuthorizedSystem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+systemColumns+` FROM authorized_systems WHERE id = $1`, id)

	s, err := scanSystem(row)
	if err != nil {
		return nil, err
	}
	if s.Permissions, err = r.permissionCodes(ctx, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// List returns every registered system with its permission codes,
// ordered by name.
func (r *SystemRepository) List(ctx context.Context) ([]AuthorizedSystem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+systemColumns+` FROM authorized_systems ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	systems := []AuthorizedSystem{}
	for rows.Next() {
		s, err := scanSystem(rows)
		if err != nil {
			return nil, err
		}
		systems = append(systems, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range systems {
		if systems[i].Permissions, err = r.permissionCodes(ctx, systems[i].ID); err != nil {
			return nil, err
		}
	}
	return systems, nil
}

func (r *SystemRepository) permissionCodes(ctx context.Context, systemID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.code FROM permissions p
		 JOIN system_permissions sp ON sp.permission_id = p.id
		 WHERE sp.system_id = $1
		 ORDER BY p.code`, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// CreateSystemParams carries the fields for registering a new tenant.
type CreateSystemParams struct {
	Name            string
	Description     string
	APIKeyHash      string
	PermissionCodes []string
	AllowedOrigins  []string
}

// Create registers a new authorized system together with its permission
// grants in a single transaction, so a system never exists without them.
func (r *SystemRepository) Create(ctx context.Context, p CreateSystemParams) (*AuthorizedSystem, error) {
	if p.AllowedOrigins == nil {
		p.AllowedOrigins = []string{}
	}

	var system *AuthorizedSystem
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		permIDs, err := resolvePermissionIDs(ctx, tx, p.PermissionCodes)
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO authorized_systems (name, description, api_key_hash, allowed_origins)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+systemColumns,
			p.Name, p.Description, p.APIKeyHash, p.AllowedOrigins)

		system, err = scanSystem(row)
		if err != nil {
			return err
		}

		if err := grantPermissions(ctx, tx, system.ID, permIDs); err != nil {
			return err
		}

		system.Permissions = append([]string{}, p.PermissionCodes...)
		return nil
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	return system, nil
}

// UpdateSystemParams carries optional mutations; nil fields are left
// untouched. A non-nil PermissionCodes replaces the grant set wholesale.
type UpdateSystemParams struct {
	Name            *string
	Description     *string
	PermissionCodes *[]string
	AllowedOrigins  *[]string
	IsActive        *bool
}

// Update mutates a system. The permission set, when provided, is replaced
// rather than merged: old grants are discarded.
func (r *SystemRepository) Update(ctx context.Context, id uuid.UUID, p UpdateSystemParams) (*AuthorizedSystem, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE authorized_systems SET
				name = COALESCE($2, name),
				description = COALESCE($3, description),
				allowed_origins = COALESCE($4, allowed_origins),
				is_active = COALESCE($5, is_active),
				updated_at = now()
			 WHERE id = $1`,
			id, p.Name, p.Description, p.AllowedOrigins, p.IsActive)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if p.PermissionCodes != nil {
			permIDs, err := resolvePermissionIDs(ctx, tx, *p.PermissionCodes)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `DELETE FROM system_permissions WHERE system_id = $1`, id); err != nil {
				return err
			}
			if err := grantPermissions(ctx, tx, id, permIDs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr(err)
	}

	return r.FindByID(ctx, id)
}

// Delete removes a system; its grants and logs go with it via cascade.
func (r *SystemRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM authorized_systems WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func resolvePermissionIDs(ctx context.Context, tx pgx.Tx, codes []string) ([]uuid.UUID, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	rows, err := tx.Query(ctx, `SELECT id, code FROM permissions WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]uuid.UUID, len(codes))
	for rows.Next() {
		var (
			id   uuid.UUID
			code string
		)
		if err := rows.Scan(&id, &code); err != nil {
			return nil, err
		}
		found[code] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(codes))
	var missing []string
	for _, code := range codes {
		id, ok := found[code]
		if !ok {
			missing = append(missing, code)
			continue
		}
		ids = append(ids, id)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPermissions, strings.Join(missing, ", "))
	}
	return ids, nil
}

func grantPermissions(ctx context.Context, tx pgx.Tx, systemID uuid.UUID, permIDs []uuid.UUID) error {
	for _, permID := range permIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO system_permissions (system_id, permission_id) VALUES ($1, $2)`,
			systemID, permID); err != nil {
			return err
		}
	}
	return nil
}
