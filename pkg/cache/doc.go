// Package cache stores terminal APS job snapshots in Redis.
//
// Work items and translation manifests never change once they reach a
// terminal state. Caching the terminal snapshot lets a repeated wait on the
// same job return immediately instead of polling the service again.
// Non-terminal snapshots are never stored.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{Service: "da", Kind: "workitem", ID: id}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// poll the service, then:
//		entry, _ = cache.NewEntry(workItem, string(workItem.Status), 0)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - aps_job_cache_hits_total{kind}
//   - aps_job_cache_misses_total{kind}
//   - aps_job_cache_stores_total{kind}
//   - aps_job_cache_errors_total{operation}
package cache
