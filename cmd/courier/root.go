package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/courier/pkg/config"
	"github.com/dmitrymomot/courier/pkg/logger"
	"github.com/dmitrymomot/courier/pkg/requestid"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:          "courier",
		Short:        "Notification delivery queue engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(envFiles) > 0 {
				return config.LoadEnv(envFiles...)
			}
			return nil
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "additional .env files to load")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	return root
}

// newLogger builds the process logger from the environment and makes it the default
func newLogger() (*slog.Logger, error) {
	var cfg logger.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}

	log := logger.FromConfig(cfg, logger.WithContextExtractors(requestid.LoggerExtractor()))
	logger.SetAsDefault(log)
	return log, nil
}
