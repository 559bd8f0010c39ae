package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/courier/modules/admin"
	"github.com/dmitrymomot/courier/pkg/archive"
	"github.com/dmitrymomot/courier/pkg/config"
	"github.com/dmitrymomot/courier/pkg/email"
	"github.com/dmitrymomot/courier/pkg/httpserver"
	"github.com/dmitrymomot/courier/pkg/logger"
	"github.com/dmitrymomot/courier/pkg/queue"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher pools, the retention sweeper and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	var (
		appCfg     appConfig
		queueCfg   queue.Config
		emailCfg   email.Config
		archiveCfg archive.Config
		httpCfg    httpserver.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&appCfg) },
		func() error { return config.Load(&queueCfg) },
		func() error { return config.Load(&emailCfg) },
		func() error { return config.Load(&archiveCfg) },
		func() error { return config.Load(&httpCfg) },
	} {
		if err := load(); err != nil {
			log.ErrorContext(ctx, "failed to load configuration", logger.Error(err))
			return err
		}
	}

	store, err := openStorage(ctx, appCfg.Storage, log.With(logger.Component("storage")))
	if err != nil {
		log.ErrorContext(ctx, "failed to open storage", logger.Error(err))
		return err
	}
	defer store.close()

	sender, releaseSender, err := email.NewSender(emailCfg)
	if err != nil {
		return err
	}
	defer releaseSender()
	transport, err := email.NewTransport(sender,
		email.WithTransportLogger(log.With(logger.Component("email"))))
	if err != nil {
		return err
	}

	archiver, err := archive.New(ctx, archiveCfg)
	if err != nil {
		return err
	}

	policies, err := policyOptions(appCfg, log)
	if err != nil {
		return err
	}

	svc, err := queue.NewService(store.storage, transport, append([]queue.ServiceOption{
		queue.WithConfig(queueCfg),
		queue.WithJobArchiver(archiver),
		queue.WithOnExhausted(onExhausted(log)),
		queue.WithLogger(log),
	}, policies...)...)
	if err != nil {
		return err
	}

	var readiness []func(context.Context) error
	if store.check != nil {
		readiness = append(readiness, store.check)
	}

	adminOpts, release, err := adminOptions(appCfg, log, readiness)
	if err != nil {
		return err
	}
	defer release()
	handler := admin.Router(svc, adminOpts...)

	server := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	log.InfoContext(ctx, "courier starting",
		logger.Component("serve"),
		logger.Group("config",
			slog.String("storage", appCfg.Storage),
			slog.String("email", emailCfg.Provider),
			slog.String("archive", archiveCfg.Driver),
			slog.String("addr", httpCfg.Addr)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(svc.Run(ctx))
	g.Go(func() error { return server.Run(ctx, handler) })
	return g.Wait()
}
