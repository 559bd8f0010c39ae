// Package cache provides a generic, thread-safe LRU cache with optional
// time to live, used to memoise preference lookups.
//
//	c := cache.NewLRU[string, bool](10_000, cache.WithTTL(time.Minute))
//	c.Put("u1:welcome", true)
//	enabled, ok := c.Get("u1:welcome")
//
// Expired entries are dropped when they are next read or pushed out by
// newer entries; there is no background janitor.
package cache
