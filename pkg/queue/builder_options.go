package queue

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// BuilderOption is a functional option for configuring a Builder
type BuilderOption func(*builderOptions)

type builderOptions struct {
	prefs        PreferenceStore
	maxAttempts  int
	backoff      time.Duration
	chunkBackoff time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// WithPreferenceStore sets the store consulted before a job is built
func WithPreferenceStore(store PreferenceStore) BuilderOption {
	return func(o *builderOptions) {
		o.prefs = store
	}
}

// WithDefaultMaxAttempts sets the attempt ceiling of new jobs
func WithDefaultMaxAttempts(n int) BuilderOption {
	return func(o *builderOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoff sets the backoff base of primary, digest and retry jobs
func WithBackoff(d time.Duration) BuilderOption {
	return func(o *builderOptions) {
		if d > 0 {
			o.backoff = d
		}
	}
}

// WithChunkBackoff sets the backoff base of batch chunks
func WithChunkBackoff(d time.Duration) BuilderOption {
	return func(o *builderOptions) {
		if d > 0 {
			o.chunkBackoff = d
		}
	}
}

// WithBuilderClock overrides the time source
func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(o *builderOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithBuilderLogger sets the logger for the builder
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(o *builderOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// EnqueueOption is a functional option applied to a single enqueue request
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority          *Priority
	delay             time.Duration
	dispatchAt        *time.Time
	maxAttempts       int
	respectQuietHours bool
	exactDelay        *time.Duration
	batchID           *uuid.UUID
}

// WithPriority overrides the default priority of the kind
func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = &p
	}
}

// WithDelay sets the minimum delay before the job becomes eligible
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithDispatchAt sets the earliest dispatch time. Combined with WithDelay the later one wins.
func WithDispatchAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.dispatchAt = &t
	}
}

// WithMaxAttempts overrides the attempt ceiling (1-10)
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 && n <= 10 {
			o.maxAttempts = n
		}
	}
}

// WithoutQuietHours opts the job out of quiet-hours deferral
func WithoutQuietHours() EnqueueOption {
	return func(o *enqueueOptions) {
		o.respectQuietHours = false
	}
}

// withExactDelay pins RequestedDelay, ignoring caller delays. Used for batch staggering.
func withExactDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.exactDelay = &d
	}
}

func withBatch(id uuid.UUID) EnqueueOption {
	return func(o *enqueueOptions) {
		o.batchID = &id
	}
}
