// Package storage implements the Postgres repositories behind the
// dispatch pipeline: authorized systems with their permission grants,
// email templates, and the email log audit trail.
package storage

import (
	"context"
	"embed"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/mailroom/pkg/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: record not found")

	// ErrDuplicateName is returned when a unique name is already taken.
	ErrDuplicateName = errors.New("storage: name already exists")

	// ErrUnknownPermissions is returned when permission codes cannot be
	// resolved to reference data.
	ErrUnknownPermissions = errors.New("storage: unknown permission codes")
)

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string, log *slog.Logger) error {
	return db.Migrate(ctx, pool, migrations, table, log)
}

// wrapErr maps low-level pgx errors to storage sentinels.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateName
	}
	return err
}
