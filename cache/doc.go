// Package cache provides a generic, sharded in-memory cache with pluggable
// eviction policies (LRU by default), access-refreshed expiry, singleflight
// loading, eviction callbacks and lightweight metrics hooks.
//
// Design
//
//   - Concurrency: the cache is split into a power-of-two number of shards,
//     each protected by its own lock. Capacity is split evenly across shards.
//
//   - Storage: each shard keeps a map[K]*node for lookups and an intrusive
//     MRU↔LRU doubly linked list for ordering. All operations are O(1) expected.
//
//   - Policies: LRU is the default; 2Q resists scan pollution. See NamedPolicy.
//
//   - Expiry: with ExpireAfterAccess set, an entry not read or written for
//     that long is evicted, lazily by GetOrLoad or in bulk via ExpireStale.
//     Get reports an expired entry as absent without evicting it.
//
//   - Evictions: OnEvict(ctx, k, v, reason) runs outside the shard lock, so it may
//     block (e.g. flush the value somewhere). Until it returns the key stays
//     reserved: GetOrLoad waits rather than loading a copy that might predate
//     the flush. Get reports such a key as absent. Remove never calls OnEvict.
//
//   - GetOrLoad: coalesces concurrent loads for the same key using singleflight.
//     If Loader is nil, GetOrLoad returns ErrNoLoader.
//
// Basic usage
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{Capacity: 10_000})
//	c.Set("a", []byte("1"))
//	if v, ok := c.Get("a"); ok {
//	    _ = v
//	}
//	c.Remove("a")
//
// Write-back on eviction
//
//	c := cache.New[int64, *Player](cache.Options[int64, *Player]{
//	    Capacity:          3000,
//	    ExpireAfterAccess: 3 * time.Minute,
//	    Loader:            loadPlayer,
//	    OnEvict: func(_ context.Context, id int64, p *Player, _ cache.EvictReason) {
//	        savePlayer(p)
//	    },
//	})
package cache
