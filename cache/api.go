package cache

import "context"

// Cache is a sharded, in-memory key/value cache interface.
// All methods are safe for concurrent use by multiple goroutines.
type Cache[K comparable, V any] interface {
	// Add inserts k→v only if k is not present.
	// Returns false if the key already exists (no update is performed).
	Add(k K, v V) bool

	// Set inserts or updates k→v and promotes the entry.
	Set(k K, v V)

	// Get returns the value for k and a presence flag. It never blocks and
	// never evicts: an expired entry, or one whose eviction is in progress,
	// is reported absent.
	Get(k K) (V, bool)

	// Peek is Get without promotion, expiry or hit/miss accounting.
	Peek(k K) (V, bool)

	// GetOrLoad returns the value for k, loading it via Options.Loader on miss.
	// Concurrent loads for the same key are coalesced (singleflight).
	// If k is being evicted, GetOrLoad waits for OnEvict to finish first.
	// If no Loader was configured, returns ErrNoLoader.
	GetOrLoad(ctx context.Context, k K) (V, error)

	// Remove deletes k without invoking OnEvict and returns true on success.
	Remove(k K) bool

	// Evict removes k through OnEvict (reason EvictExplicit). ctx is handed
	// to OnEvict.
	Evict(ctx context.Context, k K) bool

	// ExpireStale evicts every entry idle past ExpireAfterAccess and
	// returns how many were evicted. ctx is handed to OnEvict.
	ExpireStale(ctx context.Context) int

	// Range calls fn for a point-in-time copy of the resident entries until
	// fn returns false. Entries being evicted are skipped.
	Range(fn func(k K, v V) bool)

	// Len returns the total number of resident entries across all shards.
	Len() int

	// Stats returns cumulative counters.
	Stats() Stats

	// Close marks the cache closed. Later operations are ignored.
	Close() error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions uint64
	Entries   int
}
