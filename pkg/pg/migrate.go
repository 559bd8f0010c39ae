package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrations is a set of goose SQL migrations, usually embedded in the binary
type Migrations struct {
	FS  fs.FS
	Dir string
}

// Migrate applies all pending migrations
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg Config, m Migrations, log logger) error {
	return withGoose(ctx, pool, cfg, m, log, func(db *sql.DB) error {
		return goose.UpContext(ctx, db, m.Dir)
	})
}

// Rollback reverts the latest applied migration
func Rollback(ctx context.Context, pool *pgxpool.Pool, cfg Config, m Migrations, log logger) error {
	return withGoose(ctx, pool, cfg, m, log, func(db *sql.DB) error {
		return goose.DownContext(ctx, db, m.Dir)
	})
}

// Version returns the current schema version
func Version(ctx context.Context, pool *pgxpool.Pool, cfg Config, m Migrations, log logger) (int64, error) {
	var version int64
	err := withGoose(ctx, pool, cfg, m, log, func(db *sql.DB) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		version = v
		return err
	})
	return version, err
}

// withGoose bridges the pgx pool to database/sql, which goose requires, and
// points goose at the migration filesystem
func withGoose(ctx context.Context, pool *pgxpool.Pool, cfg Config, m Migrations, log logger, fn func(*sql.DB) error) error {
	if m.FS == nil || m.Dir == "" {
		return errors.Join(ErrFailedToApplyMigrations, ErrMigrationPathNotProvided)
	}
	if _, err := fs.Stat(m.FS, m.Dir); err != nil {
		return errors.Join(ErrMigrationsDirNotFound, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close migration connection", "error", err)
		}
	}()

	goose.SetBaseFS(m.FS)
	goose.SetLogger(newSlogAdapter(log))
	goose.SetTableName(cfg.MigrationsTable)

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	if err := fn(db); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return nil
}

// migrateSlogAdapter routes goose's printf logging through the application logger
type migrateSlogAdapter struct {
	log logger
}

func newSlogAdapter(log logger) goose.Logger {
	return &migrateSlogAdapter{log: log}
}

func (a *migrateSlogAdapter) Fatalf(format string, v ...any) {
	a.log.ErrorContext(context.Background(), fmt.Sprintf(format, v...))
}

func (a *migrateSlogAdapter) Printf(format string, v ...any) {
	a.log.InfoContext(context.Background(), fmt.Sprintf(format, v...))
}
