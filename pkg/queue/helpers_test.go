package queue_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/pkg/queue"
)

var discardLogger = slog.New(slog.DiscardHandler)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubOracle defers every job until deferUntil unless it is zero
type stubOracle struct {
	deferUntil time.Time
	err        error
	calls      atomic.Int32
}

func (o *stubOracle) ShouldDefer(ctx context.Context, userID string, kind queue.Kind, priority queue.Priority) (bool, error) {
	o.calls.Add(1)
	if o.err != nil {
		return false, o.err
	}
	return !o.deferUntil.IsZero(), nil
}

func (o *stubOracle) NextAllowedTime(ctx context.Context, userID string, requested time.Time) (time.Time, error) {
	if o.deferUntil.After(requested) {
		return o.deferUntil, nil
	}
	return requested, nil
}

type prefsFunc func(ctx context.Context, userID string, kind queue.Kind) (bool, error)

func (f prefsFunc) IsChannelEnabled(ctx context.Context, userID string, kind queue.Kind) (bool, error) {
	return f(ctx, userID, kind)
}

// recorder is a transport that remembers delivered jobs and fails on demand
type recorder struct {
	mu        sync.Mutex
	delivered []*queue.Job
	fail      func(job *queue.Job) error
}

func (r *recorder) Deliver(ctx context.Context, job *queue.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, job)
	if r.fail != nil {
		return r.fail(job)
	}
	return nil
}

func (r *recorder) Delivered() []*queue.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*queue.Job(nil), r.delivered...)
}

func recipient(i int) queue.Recipient {
	return queue.Recipient{
		UserID: fmt.Sprintf("user-%d", i),
		Email:  fmt.Sprintf("user%d@example.com", i),
		Name:   fmt.Sprintf("User %d", i),
	}
}

func welcome(i int) queue.Payload {
	r := recipient(i)
	return queue.Payload{Recipient: &r, Template: "welcome"}
}

func newTestService(t *testing.T, transport queue.Transport, opts ...queue.ServiceOption) (*queue.Service, *queue.MemoryStorage, *fakeClock) {
	t.Helper()

	storage := queue.NewMemoryStorage()
	clock := newFakeClock()

	all := append([]queue.ServiceOption{
		queue.WithClock(clock.Now),
		queue.WithLogger(discardLogger),
	}, opts...)

	svc, err := queue.NewService(storage, transport, all...)
	require.NoError(t, err)
	return svc, storage, clock
}

// drain processes due jobs until none is left
func drain(svc *queue.Service) int {
	n := 0
	for svc.Dispatcher().ProcessNext(context.Background(), "test", queue.Queues()) {
		n++
	}
	return n
}
