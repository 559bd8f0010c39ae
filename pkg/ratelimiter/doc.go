// Package ratelimiter provides a token bucket limiter with an in-memory store.
//
// Courier uses it in two places: the email sender waits for a token per
// recipient domain before each send, and the admin API rejects bursts per
// client IP.
//
//	store := ratelimiter.NewMemoryStore()
//	defer store.Close()
//
//	limiter, err := ratelimiter.NewBucket(store, ratelimiter.PerSecond(10, 20))
//	if err != nil {
//		return err
//	}
//
//	if err := limiter.Wait(ctx, "example.com"); err != nil {
//		return err // ctx done
//	}
//
// A denied request does not drain the bucket, so Wait and Allow callers
// only pay for the tokens they actually get.
package ratelimiter
