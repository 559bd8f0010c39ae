package queue

import (
	"container/heap"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Storage for tests, local development and single
// process deployments. Each queue keeps a delayed heap ordered by DispatchAt
// and a ready heap ordered by priority; entries are invalidated lazily by a
// per-job sequence number.
type MemoryStorage struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*memoryRecord
	queues      map[QueueName]*memoryQueue
	transitions map[uuid.UUID][]TransitionRecord
	batches     map[uuid.UUID]*BatchJob
	seq         uint64
}

type memoryRecord struct {
	job *Job
	seq uint64
}

type memoryQueue struct {
	delayed delayedHeap
	ready   readyHeap
}

type heapEntry struct {
	id         uuid.UUID
	priority   Priority
	dispatchAt time.Time
	createdAt  time.Time
	seq        uint64
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:        make(map[uuid.UUID]*memoryRecord),
		queues:      make(map[QueueName]*memoryQueue),
		transitions: make(map[uuid.UUID][]TransitionRecord),
		batches:     make(map[uuid.UUID]*BatchJob),
	}
}

// CreateJob implements EnqueueRepository
func (ms *MemoryStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}

	ms.store(job.Clone())
	return nil
}

// ClaimJob implements DispatchRepository
func (ms *MemoryStorage) ClaimJob(ctx context.Context, queues []QueueName, now time.Time) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	var (
		best      *memoryQueue
		bestEntry heapEntry
	)

	for _, name := range queues {
		q, ok := ms.queues[name]
		if !ok {
			continue
		}
		ms.promote(q, now)

		entry, ok := ms.peekReady(q, now)
		if !ok {
			continue
		}
		if best == nil || entry.before(bestEntry) {
			best = q
			bestEntry = entry
		}
	}

	if best == nil {
		return nil, ErrNoJobToClaim
	}

	heap.Pop(&best.ready)

	rec := ms.jobs[bestEntry.id]
	claimedAt := now
	rec.job.State = StateDispatching
	rec.job.Attempt++
	rec.job.LastAttemptAt = &claimedAt
	rec.job.UpdatedAt = now
	ms.seq++
	rec.seq = ms.seq

	return rec.job.Clone(), nil
}

// promote moves due entries from the delayed heap to the ready heap
func (ms *MemoryStorage) promote(q *memoryQueue, now time.Time) {
	for q.delayed.Len() > 0 {
		top := q.delayed[0]
		if !ms.valid(top) {
			heap.Pop(&q.delayed)
			continue
		}
		if top.dispatchAt.After(now) {
			return
		}
		heap.Pop(&q.delayed)
		heap.Push(&q.ready, top)
	}
}

// peekReady drops stale ready entries and returns the best valid one
func (ms *MemoryStorage) peekReady(q *memoryQueue, now time.Time) (heapEntry, bool) {
	for q.ready.Len() > 0 {
		top := q.ready[0]
		if !ms.valid(top) {
			heap.Pop(&q.ready)
			continue
		}
		if !ms.jobs[top.id].job.Eligible(now) {
			// Clock moved backwards; park it until due again
			heap.Pop(&q.ready)
			heap.Push(&q.delayed, top)
			continue
		}
		return top, true
	}
	return heapEntry{}, false
}

func (ms *MemoryStorage) valid(e heapEntry) bool {
	rec, ok := ms.jobs[e.id]
	return ok && rec.seq == e.seq && rec.job.State == StateScheduled
}

// UpdateJob implements DispatchRepository
func (ms *MemoryStorage) UpdateJob(ctx context.Context, job *Job, expected State) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	if rec.job.State != expected {
		return &StateConflictError{JobID: job.ID, State: rec.job.State, Op: "update"}
	}

	ms.store(job.Clone())
	return nil
}

// store saves job and indexes it when it is waiting for dispatch. Caller holds the lock.
func (ms *MemoryStorage) store(job *Job) {
	ms.seq++
	ms.jobs[job.ID] = &memoryRecord{job: job, seq: ms.seq}

	if job.State != StateScheduled {
		return
	}

	q, ok := ms.queues[job.Queue]
	if !ok {
		q = &memoryQueue{}
		ms.queues[job.Queue] = q
	}
	heap.Push(&q.delayed, heapEntry{
		id:         job.ID,
		priority:   job.Priority,
		dispatchAt: job.DispatchAt,
		createdAt:  job.CreatedAt,
		seq:        ms.seq,
	})
}

// ListStale implements DispatchRepository
func (ms *MemoryStorage) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var stale []*Job
	for _, rec := range ms.jobs {
		j := rec.job
		if j.State == StateDispatching && j.LastAttemptAt != nil && j.LastAttemptAt.Before(cutoff) {
			stale = append(stale, j.Clone())
		}
	}

	slices.SortFunc(stale, func(a, b *Job) int { return a.LastAttemptAt.Compare(*b.LastAttemptAt) })
	return truncate(stale, limit), nil
}

// GetJob implements TrackerRepository
func (ms *MemoryStorage) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return rec.job.Clone(), nil
}

// AppendTransition implements TrackerRepository
func (ms *MemoryStorage) AppendTransition(ctx context.Context, rec TransitionRecord) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.transitions[rec.JobID] = append(ms.transitions[rec.JobID], rec)
	return nil
}

// ListTransitions implements TrackerRepository
func (ms *MemoryStorage) ListTransitions(ctx context.Context, id uuid.UUID) ([]TransitionRecord, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.jobs[id]; !ok {
		return nil, ErrJobNotFound
	}
	return slices.Clone(ms.transitions[id]), nil
}

// Stats implements TrackerRepository
func (ms *MemoryStorage) Stats(ctx context.Context, queue QueueName, now time.Time) (Stats, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var s Stats
	for _, rec := range ms.jobs {
		if rec.job.Queue == queue {
			s.Count(rec.job.State, rec.job.DispatchAt, now)
		}
	}
	return s, nil
}

// ListTerminal implements TrackerRepository
func (ms *MemoryStorage) ListTerminal(ctx context.Context, before time.Time, limit int) ([]*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []*Job
	for _, rec := range ms.jobs {
		j := rec.job
		if j.State.Terminal() && j.TerminalAt != nil && j.TerminalAt.Before(before) {
			out = append(out, j.Clone())
		}
	}

	slices.SortFunc(out, func(a, b *Job) int { return a.TerminalAt.Compare(*b.TerminalAt) })
	return truncate(out, limit), nil
}

// DeleteJobs implements TrackerRepository
func (ms *MemoryStorage) DeleteJobs(ctx context.Context, ids []uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, id := range ids {
		delete(ms.jobs, id)
		delete(ms.transitions, id)
	}
	return nil
}

// CreateBatch implements BatchRepository
func (ms *MemoryStorage) CreateBatch(ctx context.Context, batch *BatchJob) error {
	if batch == nil {
		return errors.New("batch cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.batches[batch.ID] = batch.Clone()
	return nil
}

// GetBatch implements BatchRepository
func (ms *MemoryStorage) GetBatch(ctx context.Context, id uuid.UUID) (*BatchJob, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	b, ok := ms.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return b.Clone(), nil
}

func truncate(jobs []*Job, limit int) []*Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}

// before orders entries by priority desc, DispatchAt asc, CreatedAt asc
func (e heapEntry) before(o heapEntry) bool {
	if e.priority != o.priority {
		return e.priority > o.priority
	}
	if !e.dispatchAt.Equal(o.dispatchAt) {
		return e.dispatchAt.Before(o.dispatchAt)
	}
	if !e.createdAt.Equal(o.createdAt) {
		return e.createdAt.Before(o.createdAt)
	}
	return e.seq < o.seq
}

type readyHeap []heapEntry

func (h readyHeap) Len() int           { return len(h) }
func (h readyHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h readyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)        { *h = append(*h, x.(heapEntry)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

type delayedHeap []heapEntry

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if !h[i].dispatchAt.Equal(h[j].dispatchAt) {
		return h[i].dispatchAt.Before(h[j].dispatchAt)
	}
	return h[i].seq < h[j].seq
}
func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)   { *h = append(*h, x.(heapEntry)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
