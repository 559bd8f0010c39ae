package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/courier/pkg/logger"
)

// DefaultRetention is how long terminal jobs are kept before archival
const DefaultRetention = 7 * 24 * time.Hour

// Archiver receives terminal jobs before they are purged from storage
type Archiver interface {
	Archive(ctx context.Context, jobs []*Job) error
}

// ArchiverFunc adapts a function to Archiver
type ArchiverFunc func(ctx context.Context, jobs []*Job) error

// Archive implements Archiver
func (f ArchiverFunc) Archive(ctx context.Context, jobs []*Job) error { return f(ctx, jobs) }

// Tracker records lifecycle transitions and answers lifecycle queries
type Tracker struct {
	repo          TrackerRepository
	archiver      Archiver
	retention     time.Duration
	sweepInterval time.Duration
	sweepLimit    int
	now           func() time.Time
	logger        *slog.Logger
}

// NewTracker creates a new lifecycle tracker
func NewTracker(repo TrackerRepository, opts ...TrackerOption) (*Tracker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &trackerOptions{
		retention:     DefaultRetention,
		sweepInterval: 10 * time.Minute,
		sweepLimit:    500,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Tracker{
		repo:          repo,
		archiver:      options.archiver,
		retention:     options.retention,
		sweepInterval: options.sweepInterval,
		sweepLimit:    options.sweepLimit,
		now:           options.now,
		logger:        options.logger,
	}, nil
}

// RecordTransition appends one entry to the job's history
func (t *Tracker) RecordTransition(ctx context.Context, jobID uuid.UUID, from, to State, metadata map[string]string) error {
	rec := TransitionRecord{
		JobID:    jobID,
		From:     from,
		To:       to,
		At:       t.now(),
		Metadata: metadata,
	}
	if err := t.repo.AppendTransition(ctx, rec); err != nil {
		return fmt.Errorf("record transition %s -> %s: %w", from, to, err)
	}

	t.logger.DebugContext(ctx, "job transition",
		logger.JobID(jobID.String()),
		slog.String("from", string(from)),
		logger.State(string(to)))
	return nil
}

// record is RecordTransition for callers where history is best effort
func (t *Tracker) record(ctx context.Context, jobID uuid.UUID, from, to State, metadata map[string]string) {
	if err := t.RecordTransition(ctx, jobID, from, to, metadata); err != nil {
		t.logger.ErrorContext(ctx, "failed to record job transition",
			logger.JobID(jobID.String()),
			logger.Error(err))
	}
}

// Job returns the job by id or ErrJobNotFound
func (t *Tracker) Job(ctx context.Context, id uuid.UUID) (*Job, error) {
	return t.repo.GetJob(ctx, id)
}

// Transitions returns the job's history, oldest first
func (t *Tracker) Transitions(ctx context.Context, id uuid.UUID) ([]TransitionRecord, error) {
	return t.repo.ListTransitions(ctx, id)
}

// Stats returns a snapshot of one queue
func (t *Tracker) Stats(ctx context.Context, queue QueueName) (Stats, error) {
	return t.repo.Stats(ctx, queue, t.now())
}

// Snapshot aggregates stats of every queue. It never fails: a queue that
// cannot be read is reported as zero and the result is marked degraded.
func (t *Tracker) Snapshot(ctx context.Context) QueueStats {
	now := t.now()
	out := QueueStats{
		Queues:      make(map[QueueName]Stats, len(Queues())),
		CollectedAt: now,
	}

	for _, q := range Queues() {
		s, err := t.repo.Stats(ctx, q, now)
		if err != nil {
			t.logger.ErrorContext(ctx, "failed to collect queue stats",
				logger.Queue(string(q)),
				logger.Error(err))
			out.Degraded = true
			s = Stats{}
		}
		out.Queues[q] = s
		out.Total.Add(s)
	}

	return out
}

// Sweep archives and purges terminal jobs older than the retention window.
// Jobs are deleted only after the archiver accepted them.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	cutoff := t.now().Add(-t.retention)
	total := 0

	for {
		jobs, err := t.repo.ListTerminal(ctx, cutoff, t.sweepLimit)
		if err != nil {
			return total, fmt.Errorf("list terminal jobs: %w", err)
		}
		if len(jobs) == 0 {
			return total, nil
		}

		if t.archiver != nil {
			if err := t.archiver.Archive(ctx, jobs); err != nil {
				return total, fmt.Errorf("archive terminal jobs: %w", err)
			}
		}

		ids := make([]uuid.UUID, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		if err := t.repo.DeleteJobs(ctx, ids); err != nil {
			return total, fmt.Errorf("delete terminal jobs: %w", err)
		}
		total += len(jobs)

		if len(jobs) < t.sweepLimit {
			return total, nil
		}
	}
}

// Run sweeps periodically until ctx is done. Suitable for errgroup.
func (t *Tracker) Run(ctx context.Context) func() error {
	return func() error {
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := t.Sweep(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					t.logger.ErrorContext(ctx, "retention sweep failed", logger.Error(err))
					continue
				}
				if n > 0 {
					t.logger.InfoContext(ctx, "retention sweep completed", slog.Int("purged", n))
				}
			}
		}
	}
}

// TrackerOption is a functional option for configuring a Tracker
type TrackerOption func(*trackerOptions)

type trackerOptions struct {
	archiver      Archiver
	retention     time.Duration
	sweepInterval time.Duration
	sweepLimit    int
	now           func() time.Time
	logger        *slog.Logger
}

// WithArchiver sets where terminal jobs go before they are purged
func WithArchiver(a Archiver) TrackerOption {
	return func(o *trackerOptions) {
		o.archiver = a
	}
}

// WithRetention sets how long terminal jobs are kept
func WithRetention(d time.Duration) TrackerOption {
	return func(o *trackerOptions) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithSweepInterval sets how often Run sweeps
func WithSweepInterval(d time.Duration) TrackerOption {
	return func(o *trackerOptions) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithSweepLimit sets how many jobs are archived per round
func WithSweepLimit(n int) TrackerOption {
	return func(o *trackerOptions) {
		if n > 0 {
			o.sweepLimit = n
		}
	}
}

// WithTrackerClock overrides the time source
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(o *trackerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTrackerLogger sets the logger for the tracker
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(o *trackerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
