package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/courier/pkg/clientip"
	"github.com/dmitrymomot/courier/pkg/httpserver"
	"github.com/dmitrymomot/courier/pkg/logger"
	"github.com/dmitrymomot/courier/pkg/queue"
	"github.com/dmitrymomot/courier/pkg/ratelimiter"
	"github.com/dmitrymomot/courier/pkg/requestid"
)

// Service is the part of queue.Service the admin API drives
type Service interface {
	Enqueue(ctx context.Context, kind queue.Kind, payload queue.Payload, opts ...queue.EnqueueOption) (queue.Receipt, error)
	EnqueueBatch(ctx context.Context, recipients []queue.Recipient, tmpl queue.BatchTemplate, opts ...queue.EnqueueOption) (queue.BatchSummary, error)
	ScheduleDigest(ctx context.Context, userID string, window queue.DigestWindow, prefs queue.DigestPreferences) (queue.Receipt, error)
	Retry(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	Status(ctx context.Context, id uuid.UUID) (queue.JobView, error)
	History(ctx context.Context, id uuid.UUID) ([]queue.TransitionRecord, error)
	Batch(ctx context.Context, id uuid.UUID) (queue.BatchView, error)
	Stats(ctx context.Context) queue.QueueStats
	Pause()
	Resume()
	Paused() bool
}

// Option configures the admin router
type Option func(*options)

type options struct {
	logger        *slog.Logger
	readiness     []func(context.Context) error
	healthTimeout time.Duration
	limiter       *ratelimiter.Bucket
}

// WithLogger sets the logger for request errors
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReadinessChecks adds checks run by GET /health/ready
func WithReadinessChecks(checks ...func(context.Context) error) Option {
	return func(o *options) {
		o.readiness = append(o.readiness, checks...)
	}
}

// WithHealthTimeout bounds the readiness checks
func WithHealthTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.healthTimeout = d
		}
	}
}

// WithRateLimit limits requests per client IP. Health probes are not limited.
func WithRateLimit(limiter *ratelimiter.Bucket) Option {
	return func(o *options) {
		o.limiter = limiter
	}
}

type api struct {
	svc    Service
	logger *slog.Logger
}

// Router creates the admin API router.
//
//	r := chi.NewRouter()
//	r.Mount("/admin", admin.Router(svc,
//		admin.WithLogger(log),
//		admin.WithReadinessChecks(pg.Healthcheck(pool)),
//	))
func Router(svc Service, opts ...Option) chi.Router {
	o := &options{
		logger:        slog.Default(),
		healthTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	a := &api{svc: svc, logger: o.logger.With(logger.Component("admin"))}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", httpserver.HealthCheckHandler(a.logger, 0))
	r.Get("/health/ready", httpserver.HealthCheckHandler(a.logger, o.healthTimeout, o.readiness...))

	r.Group(func(r chi.Router) {
		if o.limiter != nil {
			r.Use(ratelimiter.Middleware(o.limiter, clientip.FromRequest))
		}

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", a.enqueue)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.status)
				r.Get("/history", a.history)
				r.Post("/cancel", a.cancel)
				r.Post("/retry", a.retry)
			})
		})
		r.Post("/batches", a.enqueueBatch)
		r.Get("/batches/{id}", a.batch)
		r.Post("/digests", a.scheduleDigest)

		r.Get("/stats", a.stats)
		r.Post("/pause", a.pause)
		r.Post("/resume", a.resume)
	})

	return r
}
