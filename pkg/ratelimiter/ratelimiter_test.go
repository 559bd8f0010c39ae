package ratelimiter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/pkg/ratelimiter"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newBucket(t *testing.T, cfg ratelimiter.Config) (*ratelimiter.Bucket, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)}
	store := ratelimiter.NewMemoryStore(
		ratelimiter.WithCleanupInterval(0),
		ratelimiter.WithStoreClock(clock.Now))
	t.Cleanup(store.Close)

	b, err := ratelimiter.NewBucket(store, cfg, ratelimiter.WithClock(clock.Now))
	require.NoError(t, err)
	return b, clock
}

func TestNewBucket(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
	defer store.Close()

	tests := []struct {
		name string
		cfg  ratelimiter.Config
	}{
		{"zero capacity", ratelimiter.Config{RefillRate: 1, RefillInterval: time.Second}},
		{"zero rate", ratelimiter.Config{Capacity: 1, RefillInterval: time.Second}},
		{"zero interval", ratelimiter.Config{Capacity: 1, RefillRate: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ratelimiter.NewBucket(store, tt.cfg)
			assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
		})
	}

	_, err := ratelimiter.NewBucket(nil, ratelimiter.PerSecond(1, 1))
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
}

func TestBucket_Allow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, clock := newBucket(t, ratelimiter.PerSecond(1, 3))

	for i := range 3 {
		res, err := b.Allow(ctx, "example.com")
		require.NoError(t, err)
		assert.True(t, res.Allowed(), "request %d", i)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := b.Allow(ctx, "example.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.Equal(t, time.Second, res.RetryAfter())

	// Other keys have their own bucket
	res, err = b.Allow(ctx, "example.org")
	require.NoError(t, err)
	assert.True(t, res.Allowed())

	// Denied requests do not drain the bucket
	clock.Advance(time.Second)
	res, err = b.Allow(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed())
	assert.Equal(t, 0, res.Remaining)

	clock.Advance(10 * time.Second)
	res, err = b.Allow(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)

	_, err = b.AllowN(ctx, "example.com", 0)
	assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)
	_, err = b.AllowN(ctx, "example.com", 4)
	assert.ErrorIs(t, err, ratelimiter.ErrExceedsCapacity)

	require.NoError(t, b.Reset(ctx, "example.com"))
	res, err = b.Allow(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)
}

func TestBucket_Wait(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
	defer store.Close()
	b, err := ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       1,
		RefillRate:     1,
		RefillInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Wait(ctx, "k"))

	start := time.Now()
	require.NoError(t, b.Wait(ctx, "k"))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, b.Wait(cancelled, "k"), context.Canceled)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	b, _ := newBucket(t, ratelimiter.PerMinute(1, 2))
	h := ratelimiter.Middleware(b, func(r *http.Request) string {
		return r.Header.Get("X-Client")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(client string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if client != "" {
			req.Header.Set("X-Client", client)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("a").Code)
	assert.Equal(t, http.StatusNoContent, do("a").Code)

	rec := do("a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusNoContent, do("b").Code)
	for range 5 {
		assert.Equal(t, http.StatusNoContent, do("").Code)
	}
}
