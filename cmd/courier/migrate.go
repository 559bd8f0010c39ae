package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/courier/pkg/config"
	"github.com/dmitrymomot/courier/pkg/logger"
	"github.com/dmitrymomot/courier/pkg/pg"
	"github.com/dmitrymomot/courier/pkg/queue"
)

func newMigrateCmd() *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL storage migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log, err := newLogger()
			if err != nil {
				return err
			}

			var cfg pg.Config
			if err := config.Load(&cfg); err != nil {
				log.ErrorContext(ctx, "failed to load configuration", logger.Error(err))
				return err
			}

			pool, err := pg.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if rollback {
				return pg.Rollback(ctx, pool, cfg, queue.PostgresMigrations(), log)
			}
			if err := pg.Migrate(ctx, pool, cfg, queue.PostgresMigrations(), log); err != nil {
				return err
			}

			version, err := pg.Version(ctx, pool, cfg, queue.PostgresMigrations(), log)
			if err != nil {
				return err
			}
			log.InfoContext(ctx, "migrations applied", logger.Component("migrate"), slog.Int64("version", version))
			return nil
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the most recent migration")
	return cmd
}
