package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueueRepository persists new jobs
type EnqueueRepository interface {
	// CreateJob stores a new job. ErrDuplicateJob if the id exists.
	CreateJob(ctx context.Context, job *Job) error
}

// DispatchRepository is used by dispatcher workers
type DispatchRepository interface {
	// ClaimJob atomically moves the best eligible job of the given queues from
	// Scheduled to Dispatching, incrementing Attempt and stamping
	// LastAttemptAt. Ordering is priority desc, DispatchAt asc, CreatedAt asc.
	// Returns ErrNoJobToClaim when nothing is eligible.
	ClaimJob(ctx context.Context, queues []QueueName, now time.Time) (*Job, error)

	// UpdateJob replaces the stored job if its current state equals expected,
	// otherwise it returns *StateConflictError and leaves the job untouched.
	UpdateJob(ctx context.Context, job *Job, expected State) error

	// ListStale returns Dispatching jobs claimed before cutoff
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)
}

// TrackerRepository backs lifecycle queries and retention
type TrackerRepository interface {
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	AppendTransition(ctx context.Context, rec TransitionRecord) error
	ListTransitions(ctx context.Context, id uuid.UUID) ([]TransitionRecord, error)

	// Stats classifies every stored job of the queue into exactly one bucket
	Stats(ctx context.Context, queue QueueName, now time.Time) (Stats, error)

	// ListTerminal returns terminal jobs whose TerminalAt is before the cutoff, oldest first
	ListTerminal(ctx context.Context, before time.Time, limit int) ([]*Job, error)

	// DeleteJobs removes jobs and their transition history
	DeleteJobs(ctx context.Context, ids []uuid.UUID) error
}

// BatchRepository persists bulk-send parents
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *BatchJob) error
	GetBatch(ctx context.Context, id uuid.UUID) (*BatchJob, error)
}

// Storage is the full queue storage contract implemented by
// MemoryStorage, PostgresStorage and RedisStorage
type Storage interface {
	EnqueueRepository
	DispatchRepository
	TrackerRepository
	BatchRepository
}
