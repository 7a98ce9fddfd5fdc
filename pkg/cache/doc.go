// Package cache provides the small key/value and counter abstractions used for
// token reuse and request rate limiting.
//
// Two backends are available: MemoryStore keeps state in the process using a
// bounded LRU, and RedisStore shares state between instances. Both implement
// Store and Counter.
//
//	store := cache.NewMemoryStore(cache.DefaultConfig())
//	count, resetIn, err := store.Incr(ctx, "ip:203.0.113.7", time.Minute)
package cache
