package cache

import (
	"context"
	"time"

	"github.com/IvanBrykalov/writebehind/policy"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictPolicy: chosen by the eviction policy on admission (e.g. 2Q).
	EvictPolicy EvictReason = iota
	// EvictSize: removed to keep the shard within Capacity.
	EvictSize
	// EvictExpired: not accessed within ExpireAfterAccess.
	EvictExpired
	// EvictExplicit: removed through Cache.Evict.
	EvictExplicit
)

func (r EvictReason) String() string {
	switch r {
	case EvictPolicy:
		return "policy"
	case EvictSize:
		return "size"
	case EvictExpired:
		return "expired"
	case EvictExplicit:
		return "explicit"
	}
	return "unknown"
}

// Metrics exposes cache-level observability hooks.
// NoopMetrics is used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int) // resident entries across all shards
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache behavior. Zero values are safe;
// defaults are applied in New():
//   - nil Policy   => LRU
//   - Shards <= 0  => auto (rounded up to power of two)
//   - nil Metrics  => NoopMetrics
type Options[K comparable, V any] struct {
	// Capacity is the entry count limit, split evenly across shards.
	Capacity int

	// Shards defines the number of shards. If 0, an automatic value is chosen
	// and rounded to the next power of two.
	Shards int

	// Policy is a pluggable eviction policy (LRU/2Q); nil => LRU.
	Policy policy.Policy[K, V]

	// ExpireAfterAccess evicts entries not read or written for this long
	// (0 = never). Expiration is applied lazily on access and by ExpireStale.
	ExpireAfterAccess time.Duration

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader func(ctx context.Context, k K) (V, error)

	// OnEvict is called for every eviction, outside the shard lock and
	// before the entry disappears: concurrent GetOrLoad calls for the key
	// wait until it returns. It is not called for Remove.
	//
	// ctx is the context of the call that triggered the eviction
	// (context.Background() for Add and Set).
	OnEvict func(ctx context.Context, k K, v V, reason EvictReason)
	Metrics Metrics

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}
