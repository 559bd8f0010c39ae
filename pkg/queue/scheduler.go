package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/courier/pkg/logger"
)

// QuietHoursOracle answers whether a notification should wait for the end of
// the user's do-not-disturb window
type QuietHoursOracle interface {
	ShouldDefer(ctx context.Context, userID string, kind Kind, priority Priority) (bool, error)
	NextAllowedTime(ctx context.Context, userID string, requested time.Time) (time.Time, error)
}

// RouteQueue picks the queue a kind is delivered from
func RouteQueue(kind Kind) QueueName {
	switch kind {
	case KindWeeklyDigest:
		return QueueDigest
	case KindRetry:
		return QueueRetry
	}
	return QueuePrimary
}

// Scheduler computes effective dispatch times
type Scheduler struct {
	oracle QuietHoursOracle
	now    func() time.Time
	logger *slog.Logger
}

// NewScheduler creates a new Scheduler. A nil oracle disables quiet hours.
func NewScheduler(oracle QuietHoursOracle, opts ...SchedulerOption) *Scheduler {
	options := &schedulerOptions{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		oracle: oracle,
		now:    options.now,
		logger: options.logger,
	}
}

// Schedule computes DispatchAt from the job's requested delay and quiet
// hours, routes the job and moves it to Scheduled. Jobs that are
// dispatching or terminal are rejected with *StateConflictError.
func (s *Scheduler) Schedule(ctx context.Context, job *Job) (time.Time, error) {
	to, err := nextState(ctx, job, EventSchedule)
	if err != nil {
		return time.Time{}, err
	}

	now := s.now()
	job.DispatchAt = s.DispatchTime(ctx, job, job.RequestedDelay, now)
	job.Queue = RouteQueue(job.Kind)
	job.State = to
	job.UpdatedAt = now

	return job.DispatchAt, nil
}

// DispatchTime returns now + max(delay, quiet-hours delay)
func (s *Scheduler) DispatchTime(ctx context.Context, job *Job, delay time.Duration, now time.Time) time.Time {
	delay = max(delay, 0)

	if job.RespectQuietHours && s.oracle != nil && job.UserID != "" {
		if quiet := s.quietDelay(ctx, job, now); quiet > delay {
			delay = quiet
		}
	}

	return now.Add(delay)
}

// quietDelay asks the oracle. Errors fail open: the job is not deferred.
func (s *Scheduler) quietDelay(ctx context.Context, job *Job, now time.Time) time.Duration {
	kind := job.DeliveryKind()

	deferred, err := s.oracle.ShouldDefer(ctx, job.UserID, kind, job.Priority)
	if err != nil {
		s.logOracleError(ctx, job, err)
		return 0
	}
	if !deferred {
		return 0
	}

	next, err := s.oracle.NextAllowedTime(ctx, job.UserID, now)
	if err != nil {
		s.logOracleError(ctx, job, err)
		return 0
	}

	return next.Sub(now)
}

func (s *Scheduler) logOracleError(ctx context.Context, job *Job, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.WarnContext(ctx, "quiet hours lookup failed, scheduling without deferral",
		logger.JobID(job.ID.String()),
		logger.UserID(job.UserID),
		logger.Error(err))
}

// SchedulerOption is a functional option for configuring a Scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithSchedulerClock overrides the time source
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(o *schedulerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
