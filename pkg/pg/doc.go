// Package pg bootstraps PostgreSQL access on top of pgx/v5: a retrying
// connection pool, goose/v3 migrations read from an fs.FS (usually an
// embed.FS shipped with the binary), a health check and error classifiers.
//
// # Usage
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, queue.PostgresMigrations(), slog.Default()); err != nil {
//	    return err
//	}
//
// IsDuplicateKeyError, IsForeignKeyViolationError and IsNotFoundError unwrap
// pgx errors so storage code can map them to domain errors.
package pg
