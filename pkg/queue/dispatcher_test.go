package queue_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/pkg/queue"
)

func TestNewDispatcher(t *testing.T) {
	t.Parallel()

	_, err := queue.NewDispatcher(nil, &recorder{}, nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)

	_, err = queue.NewDispatcher(queue.NewMemoryStorage(), nil, nil)
	assert.ErrorIs(t, err, queue.ErrTransportNil)
}

func TestDispatcher_DeliveryTimeout(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	clock := newFakeClock()
	// Ignores its context and outlives the delivery timeout
	transport := queue.TransportFunc(func(ctx context.Context, job *queue.Job) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	d, err := queue.NewDispatcher(storage, transport, nil,
		queue.WithDeliveryTimeout(20*time.Millisecond),
		queue.WithDispatcherClock(clock.Now),
		queue.WithDispatcherLogger(discardLogger))
	require.NoError(t, err)

	job := scheduledJob(queue.QueuePrimary, 50, clock.Now(), clock.Now())
	job.BaseBackoff = queue.DefaultBackoff
	require.NoError(t, storage.CreateJob(context.Background(), job))

	require.True(t, d.ProcessNext(context.Background(), "w", queue.Queues()))

	got, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateScheduled, got.State)
	assert.Contains(t, got.LastError, "timed out")
}

func TestDispatcher_TransportPanic(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	clock := newFakeClock()
	transport := queue.TransportFunc(func(ctx context.Context, job *queue.Job) error {
		panic("template missing")
	})

	d, err := queue.NewDispatcher(storage, transport, nil,
		queue.WithDispatcherClock(clock.Now),
		queue.WithDispatcherLogger(discardLogger))
	require.NoError(t, err)

	job := scheduledJob(queue.QueuePrimary, 50, clock.Now(), clock.Now())
	require.NoError(t, storage.CreateJob(context.Background(), job))

	require.True(t, d.ProcessNext(context.Background(), "w", queue.Queues()))

	got, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateScheduled, got.State)
	assert.Contains(t, got.LastError, "panic")
}

func TestDispatcher_RecoverStale(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	clock := newFakeClock()
	ctx := context.Background()

	d, err := queue.NewDispatcher(storage, &recorder{}, nil,
		queue.WithClaimTimeout(5*time.Minute),
		queue.WithDispatcherClock(clock.Now),
		queue.WithDispatcherLogger(discardLogger))
	require.NoError(t, err)

	job := scheduledJob(queue.QueuePrimary, 50, clock.Now(), clock.Now())
	require.NoError(t, storage.CreateJob(ctx, job))

	// A worker claims the job and disappears
	_, err = storage.ClaimJob(ctx, queue.Queues(), clock.Now())
	require.NoError(t, err)

	n, err := d.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(6 * time.Minute)
	n, err = d.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateScheduled, got.State)
	assert.Equal(t, 1, got.Attempt)
	assert.Contains(t, got.LastError, "claim expired")
}

func TestDispatcher_StartStop(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	var delivered atomic.Int32
	transport := queue.TransportFunc(func(ctx context.Context, job *queue.Job) error {
		delivered.Add(1)
		return nil
	})

	d, err := queue.NewDispatcher(storage, transport, nil,
		queue.WithPool("primary", 2, queue.QueuePrimary),
		queue.WithPollInterval(10*time.Millisecond),
		queue.WithDispatcherLogger(discardLogger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Start(ctx))
	assert.ErrorIs(t, d.Start(ctx), queue.ErrDispatcherStarted)

	now := time.Now()
	for range 5 {
		require.NoError(t, storage.CreateJob(ctx, scheduledJob(queue.QueuePrimary, 50, now, now)))
	}
	d.Notify()

	assert.Eventually(t, func() bool { return delivered.Load() == 5 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop())
	assert.ErrorIs(t, d.Stop(), queue.ErrDispatcherNotStarted)
}

func TestService_Run(t *testing.T) {
	t.Parallel()

	transport := &recorder{}
	storage := queue.NewMemoryStorage()
	cfg := queue.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond

	svc, err := queue.NewService(storage, transport, queue.WithConfig(cfg), queue.WithLogger(discardLogger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx)() }()

	receipt, err := svc.Enqueue(context.Background(), queue.KindWelcome, welcome(1))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		view, err := svc.Status(context.Background(), receipt.JobID)
		return err == nil && view.State == queue.StateSent
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}
