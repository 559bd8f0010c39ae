// Package preferences provides queue.PreferenceStore implementations: an
// in-memory Static store loadable from YAML, and Cached, which fronts any
// store with a TTL bound LRU cache.
package preferences
