package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies all pending goose migrations from the embedded
// filesystem. The pgx pool is bridged to database/sql because goose speaks
// the standard library interface; the wrapper shares the pool's
// connections, so it is not closed here.
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrations embed.FS, table string, log *slog.Logger) error {
	sqlDB := stdlib.OpenDBFromPool(pool)

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{log})
	goose.SetTableName(table)

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrSetDialect, err)
	}

	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return errors.Join(ErrMigrate, err)
	}

	return nil
}

type gooseLogger struct {
	log *slog.Logger
}

func (g *gooseLogger) Printf(format string, args ...any) {
	g.log.Info(fmt.Sprintf(format, args...))
}

func (g *gooseLogger) Fatalf(format string, args ...any) {
	// Error level only; goose returns the error up the stack and the
	// caller decides whether to exit.
	g.log.Error(fmt.Sprintf(format, args...))
}
