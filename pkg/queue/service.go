package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/courier/pkg/logger"
)

// DigestPreferences is the subset of user preferences ScheduleDigest needs
type DigestPreferences struct {
	WeeklyDigestEnabled bool   `json:"weekly_digest_enabled"`
	Email               string `json:"email"`
	Name                string `json:"name,omitempty"`
}

// Service is the application-facing facade of the delivery engine
type Service struct {
	storage    Storage
	builder    *Builder
	scheduler  *Scheduler
	retry      *RetryCoordinator
	tracker    *Tracker
	splitter   *BatchSplitter
	dispatcher *Dispatcher
	gate       *Gate
	now        func() time.Time
	logger     *slog.Logger
}

// NewService wires the engine components on top of storage and transport
func NewService(storage Storage, transport Transport, opts ...ServiceOption) (*Service, error) {
	if storage == nil {
		return nil, ErrRepositoryNil
	}
	if transport == nil {
		return nil, ErrTransportNil
	}

	options := &serviceOptions{
		config: DefaultConfig(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	cfg := options.config
	log := options.logger

	builder := NewBuilder(
		WithPreferenceStore(options.prefs),
		WithDefaultMaxAttempts(cfg.MaxAttempts),
		WithBackoff(cfg.PrimaryBackoff),
		WithChunkBackoff(cfg.ChunkBackoff),
		WithBuilderClock(options.now),
		WithBuilderLogger(log.With(logger.Component("builder"))),
	)

	scheduler := NewScheduler(options.oracle,
		WithSchedulerClock(options.now),
		WithSchedulerLogger(log.With(logger.Component("scheduler"))),
	)

	tracker, err := NewTracker(storage,
		WithArchiver(options.archiver),
		WithRetention(cfg.Retention),
		WithSweepInterval(cfg.SweepInterval),
		WithTrackerClock(options.now),
		WithTrackerLogger(log.With(logger.Component("tracker"))),
	)
	if err != nil {
		return nil, err
	}

	retry, err := NewRetryCoordinator(storage, scheduler, tracker,
		WithExhaustedHandler(options.onExhausted),
		WithRetryClock(options.now),
		WithRetryLogger(log.With(logger.Component("retry"))),
	)
	if err != nil {
		return nil, err
	}

	gate := NewGate()

	dispatcher, err := NewDispatcher(storage, transport, retry,
		WithGate(gate),
		WithPool(string(QueuePrimary), cfg.PrimaryWorkers, QueuePrimary),
		WithPool(string(QueueDigest), cfg.DigestWorkers, QueueDigest),
		WithPool(string(QueueRetry), cfg.RetryWorkers, QueueRetry),
		WithPollInterval(cfg.PollInterval),
		WithDeliveryTimeout(cfg.DeliveryTimeout),
		WithClaimTimeout(cfg.ClaimTimeout),
		WithDispatcherClock(options.now),
		WithDispatcherLogger(log.With(logger.Component("dispatcher"))),
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		storage:    storage,
		builder:    builder,
		scheduler:  scheduler,
		retry:      retry,
		tracker:    tracker,
		splitter:   NewBatchSplitter(builder, cfg.ChunkSize, cfg.InterChunkDelay),
		dispatcher: dispatcher,
		gate:       gate,
		now:        options.now,
		logger:     log,
	}, nil
}

// Dispatcher exposes the worker pools, e.g. to drive them manually in tests
func (s *Service) Dispatcher() *Dispatcher { return s.dispatcher }

// Tracker exposes lifecycle queries and retention
func (s *Service) Tracker() *Tracker { return s.tracker }

// Run starts the dispatcher and the retention sweeper. Suitable for errgroup.
func (s *Service) Run(ctx context.Context) func() error {
	return func() error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(s.dispatcher.Run(ctx))
		g.Go(s.tracker.Run(ctx))
		return g.Wait()
	}
}

// Enqueue builds, schedules and stores a job. A disabled channel yields a
// receipt with Skipped set and no error.
func (s *Service) Enqueue(ctx context.Context, kind Kind, payload Payload, opts ...EnqueueOption) (Receipt, error) {
	job, err := s.builder.Build(ctx, kind, payload, opts...)
	if err != nil {
		if errors.Is(err, ErrChannelDisabled) {
			s.logger.DebugContext(ctx, "notification skipped, channel disabled",
				logger.Kind(string(kind)))
			return Receipt{Skipped: true}, nil
		}
		return Receipt{}, err
	}

	return s.persist(ctx, job, nil)
}

// ScheduleDigest enqueues a weekly digest for the window, dispatched at the
// end of the window at the earliest. When the digest is disabled it returns
// a skipped receipt without touching storage.
func (s *Service) ScheduleDigest(ctx context.Context, userID string, window DigestWindow, prefs DigestPreferences) (Receipt, error) {
	if !prefs.WeeklyDigestEnabled {
		return Receipt{Skipped: true}, nil
	}

	var opts []EnqueueOption
	if window.End.After(s.now()) {
		opts = append(opts, WithDispatchAt(window.End))
	}

	return s.Enqueue(ctx, KindWeeklyDigest, Payload{
		Recipient: &Recipient{UserID: userID, Email: prefs.Email, Name: prefs.Name},
		Template:  string(KindWeeklyDigest),
		Digest:    &window,
	}, opts...)
}

// Retry re-sends a failed job through the retry queue with a single attempt.
// While an earlier retry of the same job is still open, the call is
// rejected with *StateConflictError naming that retry job.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	original, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if original.State != StateFailed {
		return uuid.Nil, &StateConflictError{JobID: id, State: original.State, Op: "retry"}
	}

	if original.RetryID != nil {
		child, err := s.storage.GetJob(ctx, *original.RetryID)
		switch {
		case err == nil && !child.State.Terminal():
			return uuid.Nil, &StateConflictError{JobID: child.ID, State: child.State, Op: "retry"}
		case err != nil && !errors.Is(err, ErrJobNotFound):
			return uuid.Nil, fmt.Errorf("load retry of %s: %w", id, err)
		}
	}

	job := s.builder.buildRetry(original)

	// Link first: a crash before CreateJob leaves a dangling RetryID, which
	// the next call treats as closed.
	original.RetryID = &job.ID
	original.UpdatedAt = s.now()
	if err := s.storage.UpdateJob(ctx, original, StateFailed); err != nil {
		return uuid.Nil, err
	}

	receipt, err := s.persist(ctx, job, map[string]string{"parent_id": id.String()})
	if err != nil {
		if errors.Is(err, ErrDuplicateJob) {
			return uuid.Nil, &StateConflictError{JobID: job.ID, State: StateScheduled, Op: "retry"}
		}
		return uuid.Nil, err
	}
	return receipt.JobID, nil
}

// Cancel moves a queued or scheduled job to Cancelled. Dispatching and
// terminal jobs are rejected with *StateConflictError.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	job, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return false, err
	}

	to, err := nextState(ctx, job, EventCancel)
	if err != nil {
		return false, err
	}

	now := s.now()
	from := job.State
	job.State = to
	job.TerminalAt = &now
	job.UpdatedAt = now

	if err := s.storage.UpdateJob(ctx, job, from); err != nil {
		return false, err
	}

	s.tracker.record(ctx, id, from, to, nil)
	s.logger.InfoContext(ctx, "job cancelled",
		logger.JobID(id.String()),
		logger.Kind(string(job.Kind)))
	return true, nil
}

// Status returns the read-only view of a job
func (s *Service) Status(ctx context.Context, id uuid.UUID) (JobView, error) {
	job, err := s.tracker.Job(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	return job.View(), nil
}

// History returns the lifecycle transitions of a job
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]TransitionRecord, error) {
	return s.tracker.Transitions(ctx, id)
}

// Stats returns per-queue stats. It never fails.
func (s *Service) Stats(ctx context.Context) QueueStats {
	return s.tracker.Snapshot(ctx)
}

// Pause halts claiming. Stored jobs are kept.
func (s *Service) Pause() {
	if s.gate.Pause() {
		s.logger.Info("delivery paused")
	}
}

// Resume restarts claiming
func (s *Service) Resume() {
	if s.gate.Resume() {
		s.logger.Info("delivery resumed")
		s.dispatcher.Notify()
	}
}

// Paused reports whether delivery is paused
func (s *Service) Paused() bool {
	return s.gate.Paused()
}

// EnqueueBatch splits recipients into chunk jobs and stores them. It always
// returns a partial-success summary; only a malformed request is an error.
func (s *Service) EnqueueBatch(ctx context.Context, recipients []Recipient, tmpl BatchTemplate, opts ...EnqueueOption) (BatchSummary, error) {
	chunks, batch, err := s.splitter.Split(ctx, recipients, tmpl, opts...)
	if err != nil {
		return BatchSummary{}, err
	}

	summary := BatchSummary{BatchID: batch.ID, Total: batch.Total}

	for _, job := range chunks {
		payload, _ := job.DecodePayload()

		receipt, err := s.persist(ctx, job, map[string]string{"batch_id": batch.ID.String()})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to queue batch chunk",
				logger.BatchID(batch.ID.String()),
				logger.Error(err))
			batch.fail(payload.Recipients, err.Error())
			continue
		}

		batch.ChunkIDs = append(batch.ChunkIDs, job.ID)
		batch.Queued += len(payload.Recipients)
		summary.Chunks = append(summary.Chunks, receipt)
	}

	if err := s.storage.CreateBatch(ctx, batch); err != nil {
		s.logger.ErrorContext(ctx, "failed to store batch record",
			logger.BatchID(batch.ID.String()),
			logger.Error(err))
	}

	summary.Queued = batch.Queued
	summary.FailedToQueue = batch.FailedToQueue
	summary.Skipped = batch.Skipped
	summary.Failures = batch.Failures

	s.logger.InfoContext(ctx, "batch queued",
		logger.BatchID(batch.ID.String()),
		slog.Int("total", summary.Total),
		slog.Int("queued", summary.Queued),
		slog.Int("failed", summary.FailedToQueue),
		slog.Int("skipped", summary.Skipped),
		slog.Int("chunks", len(summary.Chunks)))

	return summary, nil
}

// Batch returns a batch with the current view of its chunks. Chunks already
// purged by retention are omitted.
func (s *Service) Batch(ctx context.Context, id uuid.UUID) (BatchView, error) {
	batch, err := s.storage.GetBatch(ctx, id)
	if err != nil {
		return BatchView{}, err
	}

	view := BatchView{BatchJob: *batch, Chunks: make([]JobView, 0, len(batch.ChunkIDs))}
	for _, chunkID := range batch.ChunkIDs {
		job, err := s.storage.GetJob(ctx, chunkID)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return BatchView{}, fmt.Errorf("load batch chunk %s: %w", chunkID, err)
		}
		view.Chunks = append(view.Chunks, job.View())
	}
	return view, nil
}

// persist schedules the job, stores it and wakes a worker when it is due
func (s *Service) persist(ctx context.Context, job *Job, meta map[string]string) (Receipt, error) {
	if _, err := s.scheduler.Schedule(ctx, job); err != nil {
		return Receipt{}, err
	}

	if err := s.storage.CreateJob(ctx, job); err != nil {
		return Receipt{}, fmt.Errorf("store job: %w", err)
	}

	s.tracker.record(ctx, job.ID, StateQueued, StateScheduled, meta)

	if !job.DispatchAt.After(s.now()) {
		s.dispatcher.Notify()
	}

	s.logger.DebugContext(ctx, "job scheduled",
		logger.JobID(job.ID.String()),
		logger.Kind(string(job.Kind)),
		logger.Queue(string(job.Queue)),
		slog.Int("priority", int(job.Priority)),
		slog.Time("dispatch_at", job.DispatchAt))

	return Receipt{JobID: job.ID, Queue: job.Queue, DispatchAt: job.DispatchAt}, nil
}
