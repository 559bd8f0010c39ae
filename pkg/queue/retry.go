package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dmitrymomot/courier/pkg/logger"
)

// MaxBackoff caps the exponential backoff
const MaxBackoff = 24 * time.Hour

// Backoff returns base * 2^(attempt-1), capped at MaxBackoff
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		if d >= MaxBackoff/2 {
			return MaxBackoff
		}
		d *= 2
	}
	return min(d, MaxBackoff)
}

// ExhaustedHandler is notified when a job reaches Failed
type ExhaustedHandler func(ctx context.Context, err *ExhaustedRetriesError)

// RetryCoordinator resolves delivery outcomes into lifecycle transitions
type RetryCoordinator struct {
	repo        DispatchRepository
	scheduler   *Scheduler
	tracker     *Tracker
	onExhausted ExhaustedHandler
	now         func() time.Time
	logger      *slog.Logger
}

// NewRetryCoordinator creates a new RetryCoordinator
func NewRetryCoordinator(repo DispatchRepository, scheduler *Scheduler, tracker *Tracker, opts ...RetryOption) (*RetryCoordinator, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &retryOptions{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	if scheduler == nil {
		scheduler = NewScheduler(nil, WithSchedulerClock(options.now), WithSchedulerLogger(options.logger))
	}

	return &RetryCoordinator{
		repo:        repo,
		scheduler:   scheduler,
		tracker:     tracker,
		onExhausted: options.onExhausted,
		now:         options.now,
		logger:      options.logger,
	}, nil
}

// Succeed moves a dispatching job to Sent
func (c *RetryCoordinator) Succeed(ctx context.Context, job *Job) error {
	to, err := nextState(ctx, job, EventSucceed)
	if err != nil {
		return err
	}

	now := c.now()
	from := job.State
	job.State = to
	job.LastError = ""
	job.TerminalAt = &now
	job.UpdatedAt = now

	if err := c.repo.UpdateJob(ctx, job, from); err != nil {
		return fmt.Errorf("mark job sent: %w", err)
	}

	c.recordTransition(ctx, job, from, map[string]string{"attempt": strconv.Itoa(job.Attempt)})
	return nil
}

// Fail handles a failed attempt. While attempts remain the job goes back to
// Scheduled with exponential backoff; otherwise, or when cause is marked
// Permanent, it becomes Failed. Returns the resulting state.
func (c *RetryCoordinator) Fail(ctx context.Context, job *Job, cause error) (State, error) {
	if cause == nil {
		cause = errors.New("unknown delivery failure")
	}

	event := EventFail
	if IsPermanent(cause) {
		event = EventAbort
	}

	to, err := nextState(ctx, job, event)
	if err != nil {
		return job.State, err
	}

	now := c.now()
	from := job.State
	meta := map[string]string{
		"attempt": strconv.Itoa(job.Attempt),
		"error":   cause.Error(),
	}

	job.State = to
	job.LastError = cause.Error()
	job.UpdatedAt = now

	if to == StateScheduled {
		backoff := Backoff(job.BaseBackoff, job.Attempt)
		job.RequestedDelay = backoff
		job.DispatchAt = c.scheduler.DispatchTime(ctx, job, backoff, now)
		meta["backoff"] = backoff.String()
	} else {
		job.TerminalAt = &now
	}

	if err := c.repo.UpdateJob(ctx, job, from); err != nil {
		return from, fmt.Errorf("record failed attempt: %w", err)
	}

	c.recordTransition(ctx, job, from, meta)

	if to == StateScheduled {
		c.logger.WarnContext(ctx, "delivery failed, retry scheduled",
			logger.JobID(job.ID.String()),
			logger.Kind(string(job.Kind)),
			logger.Attempt(job.Attempt),
			slog.Time("dispatch_at", job.DispatchAt),
			logger.Error(cause))
		return to, nil
	}

	exhausted := &ExhaustedRetriesError{
		JobID:    job.ID,
		Kind:     job.Kind,
		Attempts: job.Attempt,
		Err:      cause,
	}
	c.logger.ErrorContext(ctx, "delivery failed permanently",
		logger.JobID(job.ID.String()),
		logger.Kind(string(job.Kind)),
		logger.Attempt(job.Attempt),
		logger.Error(exhausted))

	if c.onExhausted != nil {
		c.onExhausted(ctx, exhausted)
	}

	return to, nil
}

// Claimed records the Scheduled -> Dispatching transition made by a worker claim
func (c *RetryCoordinator) Claimed(ctx context.Context, job *Job, workerID string) {
	c.recordTransition(ctx, job, StateScheduled, map[string]string{
		"attempt": strconv.Itoa(job.Attempt),
		"worker":  workerID,
	})
}

func (c *RetryCoordinator) recordTransition(ctx context.Context, job *Job, from State, meta map[string]string) {
	if c.tracker != nil {
		c.tracker.record(ctx, job.ID, from, job.State, meta)
	}
}

// RetryOption is a functional option for configuring a RetryCoordinator
type RetryOption func(*retryOptions)

type retryOptions struct {
	onExhausted ExhaustedHandler
	now         func() time.Time
	logger      *slog.Logger
}

// WithExhaustedHandler sets a hook called for every job that ends in Failed
func WithExhaustedHandler(h ExhaustedHandler) RetryOption {
	return func(o *retryOptions) {
		o.onExhausted = h
	}
}

// WithRetryClock overrides the time source
func WithRetryClock(now func() time.Time) RetryOption {
	return func(o *retryOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRetryLogger sets the logger for the coordinator
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(o *retryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
