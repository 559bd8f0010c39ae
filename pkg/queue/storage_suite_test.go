package queue_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/pkg/pg"
	"github.com/dmitrymomot/courier/pkg/queue"
)

// testStorage runs the storage contract against one backend
func testStorage(t *testing.T, newStorage func(t *testing.T) queue.Storage) {
	ctx := context.Background()
	base := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		s := newStorage(t)

		job := scheduledJob(queue.QueuePrimary, 70, base, base)
		job.UserID = "user-1"
		job.Payload = []byte(`{"template":"welcome"}`)
		job.BaseBackoff = 2 * time.Second
		require.NoError(t, s.CreateJob(ctx, job))
		assert.ErrorIs(t, s.CreateJob(ctx, job), queue.ErrDuplicateJob)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, queue.StateScheduled, got.State)
		assert.Equal(t, queue.Priority(70), got.Priority)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, 2*time.Second, got.BaseBackoff)
		assert.JSONEq(t, `{"template":"welcome"}`, string(got.Payload))
		assert.WithinDuration(t, base, got.DispatchAt, time.Millisecond)

		_, err = s.GetJob(ctx, uuid.New())
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})

	t.Run("claim order and attempt stamp", func(t *testing.T) {
		s := newStorage(t)

		low := scheduledJob(queue.QueueDigest, 20, base.Add(-time.Hour), base.Add(-time.Hour))
		high := scheduledJob(queue.QueuePrimary, 90, base, base)
		later := scheduledJob(queue.QueuePrimary, 90, base.Add(time.Hour), base)
		for _, j := range []*queue.Job{low, high, later} {
			require.NoError(t, s.CreateJob(ctx, j))
		}

		first, err := s.ClaimJob(ctx, queue.Queues(), base)
		require.NoError(t, err)
		assert.Equal(t, high.ID, first.ID)
		assert.Equal(t, queue.StateDispatching, first.State)
		assert.Equal(t, 1, first.Attempt)
		require.NotNil(t, first.LastAttemptAt)

		second, err := s.ClaimJob(ctx, queue.Queues(), base)
		require.NoError(t, err)
		assert.Equal(t, low.ID, second.ID)

		_, err = s.ClaimJob(ctx, queue.Queues(), base)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

		stored, err := s.GetJob(ctx, high.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StateDispatching, stored.State)
		assert.Equal(t, 1, stored.Attempt)
	})

	t.Run("priority wins over a large due backlog", func(t *testing.T) {
		s := newStorage(t)

		for i := range 600 {
			at := base.Add(-time.Hour).Add(time.Duration(i) * time.Second)
			require.NoError(t, s.CreateJob(ctx, scheduledJob(queue.QueuePrimary, 20, at, at)))
		}
		urgent := scheduledJob(queue.QueuePrimary, 90, base.Add(-time.Minute), base.Add(-time.Minute))
		require.NoError(t, s.CreateJob(ctx, urgent))

		claimed, err := s.ClaimJob(ctx, queue.Queues(), base)
		require.NoError(t, err)
		assert.Equal(t, urgent.ID, claimed.ID)

		// The backlog then drains oldest first
		next, err := s.ClaimJob(ctx, queue.Queues(), base)
		require.NoError(t, err)
		assert.Equal(t, queue.Priority(20), next.Priority)
		assert.WithinDuration(t, base.Add(-time.Hour), next.DispatchAt, time.Millisecond)
	})

	t.Run("compare and set", func(t *testing.T) {
		s := newStorage(t)

		job := scheduledJob(queue.QueuePrimary, 50, base, base)
		require.NoError(t, s.CreateJob(ctx, job))

		job.State = queue.StateCancelled
		job.TerminalAt = &base
		err := s.UpdateJob(ctx, job, queue.StateDispatching)
		var conflict *queue.StateConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, queue.StateScheduled, conflict.State)

		require.NoError(t, s.UpdateJob(ctx, job, queue.StateScheduled))

		_, err = s.ClaimJob(ctx, queue.Queues(), base)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

		assert.ErrorIs(t, s.UpdateJob(ctx, scheduledJob(queue.QueuePrimary, 50, base, base), queue.StateScheduled),
			queue.ErrJobNotFound)
	})

	t.Run("stale claims", func(t *testing.T) {
		s := newStorage(t)

		job := scheduledJob(queue.QueuePrimary, 50, base, base)
		require.NoError(t, s.CreateJob(ctx, job))
		_, err := s.ClaimJob(ctx, queue.Queues(), base)
		require.NoError(t, err)

		stale, err := s.ListStale(ctx, base, 10)
		require.NoError(t, err)
		assert.Empty(t, stale)

		stale, err = s.ListStale(ctx, base.Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, job.ID, stale[0].ID)
	})

	t.Run("transitions, stats and retention", func(t *testing.T) {
		s := newStorage(t)

		old := base.Add(-72 * time.Hour)
		done := scheduledJob(queue.QueuePrimary, 50, old, old)
		done.State = queue.StateSent
		done.TerminalAt = &old
		waiting := scheduledJob(queue.QueuePrimary, 50, base, base)
		delayed := scheduledJob(queue.QueuePrimary, 50, base.Add(time.Hour), base)
		for _, j := range []*queue.Job{done, waiting, delayed} {
			require.NoError(t, s.CreateJob(ctx, j))
		}

		require.NoError(t, s.AppendTransition(ctx, queue.TransitionRecord{
			JobID: done.ID, From: queue.StateDispatching, To: queue.StateSent, At: old,
			Metadata: map[string]string{"attempt": "1"},
		}))
		history, err := s.ListTransitions(ctx, done.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, queue.StateSent, history[0].To)
		assert.Equal(t, "1", history[0].Metadata["attempt"])

		_, err = s.ListTransitions(ctx, uuid.New())
		assert.ErrorIs(t, err, queue.ErrJobNotFound)

		stats, err := s.Stats(ctx, queue.QueuePrimary, base)
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{Waiting: 1, Delayed: 1, Sent: 1}, stats)

		terminal, err := s.ListTerminal(ctx, base.Add(-24*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, terminal, 1)
		assert.Equal(t, done.ID, terminal[0].ID)

		require.NoError(t, s.DeleteJobs(ctx, []uuid.UUID{done.ID}))
		_, err = s.GetJob(ctx, done.ID)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)

		stats, err = s.Stats(ctx, queue.QueuePrimary, base)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Total())
	})

	t.Run("batches", func(t *testing.T) {
		s := newStorage(t)

		chunk := uuid.New()
		batch := &queue.BatchJob{
			ID:            uuid.New(),
			Template:      "launch",
			ChunkIDs:      []uuid.UUID{chunk},
			Total:         3,
			Queued:        2,
			FailedToQueue: 1,
			Failures:      []queue.RecipientFailure{{Recipient: recipient(1), Reason: "email"}},
			CreatedAt:     base,
		}
		require.NoError(t, s.CreateBatch(ctx, batch))

		got, err := s.GetBatch(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{chunk}, got.ChunkIDs)
		assert.Equal(t, 2, got.Queued)
		require.Len(t, got.Failures, 1)
		assert.Equal(t, "email", got.Failures[0].Reason)

		_, err = s.GetBatch(ctx, uuid.New())
		assert.ErrorIs(t, err, queue.ErrBatchNotFound)
	})
}

func TestStorageContract_Memory(t *testing.T) {
	t.Parallel()

	testStorage(t, func(t *testing.T) queue.Storage {
		return queue.NewMemoryStorage()
	})
}

func TestStorageContract_Miniredis(t *testing.T) {
	t.Parallel()

	testStorage(t, func(t *testing.T) queue.Storage {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return queue.NewRedisStorage(client)
	})
}

func TestStorageContract_Redis(t *testing.T) {
	url := os.Getenv("COURIER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("COURIER_TEST_REDIS_URL not set")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	testStorage(t, func(t *testing.T) queue.Storage {
		prefix := "courier-test-" + uuid.NewString()
		t.Cleanup(func() {
			ctx := context.Background()
			iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		})
		return queue.NewRedisStorage(client, queue.WithRedisPrefix(prefix))
	})
}

func TestStorageContract_Postgres(t *testing.T) {
	url := os.Getenv("COURIER_TEST_PG_URL")
	if url == "" {
		t.Skip("COURIER_TEST_PG_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cfg := pg.Config{ConnectionString: url, MigrationsTable: "courier_test_schema_migrations"}
	require.NoError(t, pg.Migrate(ctx, pool, cfg, queue.PostgresMigrations(), slog.New(slog.DiscardHandler)))

	testStorage(t, func(t *testing.T) queue.Storage {
		_, err := pool.Exec(ctx, `TRUNCATE courier_job_transitions, courier_jobs, courier_batches`)
		require.NoError(t, err)
		return queue.NewPostgresStorage(pool)
	})
}
