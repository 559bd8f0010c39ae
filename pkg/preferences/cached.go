package preferences

import (
	"context"
	"time"

	"github.com/dmitrymomot/courier/pkg/cache"
	"github.com/dmitrymomot/courier/pkg/queue"
)

type cacheKey struct {
	userID string
	kind   queue.Kind
}

// Cached memoises answers of another store for a limited time.
// Errors are passed through and never cached.
type Cached struct {
	next  queue.PreferenceStore
	cache *cache.LRU[cacheKey, bool]
}

// CachedOption configures a Cached store
type CachedOption func(*cachedOptions)

type cachedOptions struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// WithCapacity bounds the number of cached answers
func WithCapacity(n int) CachedOption {
	return func(o *cachedOptions) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithTTL sets how long an answer is reused
func WithTTL(d time.Duration) CachedOption {
	return func(o *cachedOptions) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock overrides the time source used for expiry
func WithClock(now func() time.Time) CachedOption {
	return func(o *cachedOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewCached wraps next with an LRU cache
func NewCached(next queue.PreferenceStore, opts ...CachedOption) (*Cached, error) {
	if next == nil {
		return nil, ErrNilStore
	}
	o := &cachedOptions{
		capacity: 10_000,
		ttl:      time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Cached{
		next:  next,
		cache: cache.NewLRU[cacheKey, bool](o.capacity, cache.WithTTL(o.ttl), cache.WithClock(o.now)),
	}, nil
}

// IsChannelEnabled implements queue.PreferenceStore
func (c *Cached) IsChannelEnabled(ctx context.Context, userID string, kind queue.Kind) (bool, error) {
	key := cacheKey{userID: userID, kind: kind}
	if enabled, ok := c.cache.Get(key); ok {
		return enabled, nil
	}
	enabled, err := c.next.IsChannelEnabled(ctx, userID, kind)
	if err != nil {
		return false, err
	}
	c.cache.Put(key, enabled)
	return enabled, nil
}

// Invalidate drops the cached answer for one user and kind
func (c *Cached) Invalidate(userID string, kind queue.Kind) {
	c.cache.Remove(cacheKey{userID: userID, kind: kind})
}

// Purge drops every cached answer
func (c *Cached) Purge() {
	c.cache.Clear()
}
