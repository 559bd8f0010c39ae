package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/pkg/queue"
)

// flakyStats fails Stats for one queue
type flakyStats struct {
	*queue.MemoryStorage
	broken queue.QueueName
}

func (f flakyStats) Stats(ctx context.Context, q queue.QueueName, now time.Time) (queue.Stats, error) {
	if q == f.broken {
		return queue.Stats{}, errors.New("connection reset")
	}
	return f.MemoryStorage.Stats(ctx, q, now)
}

func terminalJob(at time.Time) *queue.Job {
	j := scheduledJob(queue.QueuePrimary, 50, at, at)
	j.State = queue.StateSent
	j.TerminalAt = &at
	return j
}

func TestNewTracker(t *testing.T) {
	t.Parallel()

	_, err := queue.NewTracker(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)
}

func TestTracker_Snapshot(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	clock := newFakeClock()
	ctx := context.Background()

	require.NoError(t, storage.CreateJob(ctx, scheduledJob(queue.QueuePrimary, 50, clock.Now(), clock.Now())))
	require.NoError(t, storage.CreateJob(ctx, scheduledJob(queue.QueueDigest, 20, clock.Now(), clock.Now())))

	tracker, err := queue.NewTracker(flakyStats{MemoryStorage: storage, broken: queue.QueueDigest},
		queue.WithTrackerClock(clock.Now),
		queue.WithTrackerLogger(discardLogger))
	require.NoError(t, err)

	snap := tracker.Snapshot(ctx)
	assert.True(t, snap.Degraded)
	assert.Equal(t, queue.Stats{Waiting: 1}, snap.Queues[queue.QueuePrimary])
	assert.Equal(t, queue.Stats{}, snap.Queues[queue.QueueDigest])
	assert.Equal(t, 1, snap.Total.Total())
	assert.Len(t, snap.Queues, 3)

	_, err = tracker.Stats(ctx, queue.QueueDigest)
	assert.Error(t, err)
}

func TestTracker_Sweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("archives then purges expired jobs", func(t *testing.T) {
		storage := queue.NewMemoryStorage()
		clock := newFakeClock()

		var archived []uuid.UUID
		tracker, err := queue.NewTracker(storage,
			queue.WithRetention(24*time.Hour),
			queue.WithSweepLimit(2),
			queue.WithTrackerClock(clock.Now),
			queue.WithArchiver(queue.ArchiverFunc(func(_ context.Context, jobs []*queue.Job) error {
				for _, j := range jobs {
					archived = append(archived, j.ID)
				}
				return nil
			})))
		require.NoError(t, err)

		var expired []*queue.Job
		for i := range 5 {
			j := terminalJob(clock.Now().Add(-48*time.Hour + time.Duration(i)*time.Minute))
			expired = append(expired, j)
			require.NoError(t, storage.CreateJob(ctx, j))
		}
		fresh := terminalJob(clock.Now().Add(-time.Hour))
		require.NoError(t, storage.CreateJob(ctx, fresh))

		n, err := tracker.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Len(t, archived, 5)
		assert.Equal(t, expired[0].ID, archived[0])

		for _, j := range expired {
			_, err := storage.GetJob(ctx, j.ID)
			assert.ErrorIs(t, err, queue.ErrJobNotFound)
		}
		_, err = storage.GetJob(ctx, fresh.ID)
		assert.NoError(t, err)
	})

	t.Run("keeps jobs when archiving fails", func(t *testing.T) {
		storage := queue.NewMemoryStorage()
		clock := newFakeClock()

		tracker, err := queue.NewTracker(storage,
			queue.WithRetention(time.Hour),
			queue.WithTrackerClock(clock.Now),
			queue.WithArchiver(queue.ArchiverFunc(func(context.Context, []*queue.Job) error {
				return errors.New("bucket unavailable")
			})))
		require.NoError(t, err)

		j := terminalJob(clock.Now().Add(-2 * time.Hour))
		require.NoError(t, storage.CreateJob(ctx, j))

		n, err := tracker.Sweep(ctx)
		assert.Error(t, err)
		assert.Equal(t, 0, n)

		_, err = storage.GetJob(ctx, j.ID)
		assert.NoError(t, err)
	})
}

func TestTracker_RecordTransition(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	clock := newFakeClock()
	ctx := context.Background()

	tracker, err := queue.NewTracker(storage, queue.WithTrackerClock(clock.Now))
	require.NoError(t, err)

	job := scheduledJob(queue.QueuePrimary, 50, clock.Now(), clock.Now())
	require.NoError(t, storage.CreateJob(ctx, job))

	require.NoError(t, tracker.RecordTransition(ctx, job.ID, queue.StateQueued, queue.StateScheduled,
		map[string]string{"source": "test"}))

	history, err := tracker.Transitions(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, clock.Now(), history[0].At)
	assert.Equal(t, "test", history[0].Metadata["source"])
}
