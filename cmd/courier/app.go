package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/courier/modules/admin"
	"github.com/dmitrymomot/courier/pkg/config"
	"github.com/dmitrymomot/courier/pkg/logger"
	"github.com/dmitrymomot/courier/pkg/pg"
	"github.com/dmitrymomot/courier/pkg/preferences"
	"github.com/dmitrymomot/courier/pkg/queue"
	"github.com/dmitrymomot/courier/pkg/quiethours"
	"github.com/dmitrymomot/courier/pkg/ratelimiter"
	"github.com/dmitrymomot/courier/pkg/redis"
)

// Storage drivers selectable with COURIER_STORAGE
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

var ErrUnknownStorage = errors.New("courier: unknown storage driver")

// appConfig holds the process-level settings that do not belong to a package
type appConfig struct {
	Storage             string        `env:"COURIER_STORAGE" envDefault:"memory" validate:"oneof=memory postgres redis"`
	QuietHoursFile      string        `env:"COURIER_QUIET_HOURS_FILE"`
	PreferencesFile     string        `env:"COURIER_PREFERENCES_FILE"`
	PreferencesCacheTTL time.Duration `env:"COURIER_PREFERENCES_CACHE_TTL" envDefault:"1m" validate:"gte=0"`
	AdminRateLimit      int           `env:"COURIER_ADMIN_RATE_LIMIT" envDefault:"600" validate:"min=0"` // requests per minute and client IP, 0 disables
	AdminRateBurst      int           `env:"COURIER_ADMIN_RATE_BURST" envDefault:"60" validate:"min=0"`
}

// backend is an opened storage together with its health probe and cleanup
type backend struct {
	storage queue.Storage
	check   func(context.Context) error
	close   func()
}

func openStorage(ctx context.Context, driver string, log *slog.Logger) (*backend, error) {
	switch driver {
	case StorageMemory, "":
		log.WarnContext(ctx, "using in-memory storage, jobs are lost on restart")
		return &backend{storage: queue.NewMemoryStorage(), close: func() {}}, nil

	case StoragePostgres:
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{
			storage: queue.NewPostgresStorage(pool),
			check:   pg.Healthcheck(pool),
			close:   pool.Close,
		}, nil

	case StorageRedis:
		var cfg redis.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := redis.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{
			storage: queue.NewRedisStorage(client, queue.WithRedisPrefix(cfg.KeyPrefix)),
			check:   redis.Healthcheck(client),
			close:   func() { _ = client.Close() },
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, driver)
}

// policyOptions loads the optional quiet-hours and preference files
func policyOptions(cfg appConfig, log *slog.Logger) ([]queue.ServiceOption, error) {
	var opts []queue.ServiceOption

	if cfg.QuietHoursFile != "" {
		oracle, err := quiethours.LoadFile(cfg.QuietHoursFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, queue.WithQuietHours(oracle))
		log.Info("quiet hours loaded", slog.String("file", cfg.QuietHoursFile))
	}

	if cfg.PreferencesFile != "" {
		static, err := preferences.LoadFile(cfg.PreferencesFile)
		if err != nil {
			return nil, err
		}

		var store queue.PreferenceStore = static
		if cfg.PreferencesCacheTTL > 0 {
			cached, err := preferences.NewCached(static, preferences.WithTTL(cfg.PreferencesCacheTTL))
			if err != nil {
				return nil, err
			}
			store = cached
		}
		opts = append(opts, queue.WithPreferences(store))
		log.Info("preferences loaded", slog.String("file", cfg.PreferencesFile))
	}

	return opts, nil
}

// adminOptions builds the admin router options; the returned func releases the limiter store
func adminOptions(cfg appConfig, log *slog.Logger, readiness []func(context.Context) error) ([]admin.Option, func(), error) {
	opts := []admin.Option{
		admin.WithLogger(log),
		admin.WithReadinessChecks(readiness...),
	}
	if cfg.AdminRateLimit <= 0 {
		return opts, func() {}, nil
	}

	store := ratelimiter.NewMemoryStore()
	limiter, err := ratelimiter.NewBucket(store, ratelimiter.PerMinute(cfg.AdminRateLimit, cfg.AdminRateBurst))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return append(opts, admin.WithRateLimit(limiter)), store.Close, nil
}

// onExhausted reports jobs that used up their attempts
func onExhausted(log *slog.Logger) queue.ExhaustedHandler {
	return func(ctx context.Context, err *queue.ExhaustedRetriesError) {
		log.ErrorContext(ctx, "notification delivery exhausted",
			logger.JobID(err.JobID.String()),
			logger.Kind(string(err.Kind)),
			logger.Attempt(err.Attempts),
			logger.Error(err.Err))
	}
}
