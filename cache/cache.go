package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/IvanBrykalov/writebehind/internal/singleflight"
	"github.com/IvanBrykalov/writebehind/internal/util"
	"github.com/IvanBrykalov/writebehind/policy/lru"
)

// ErrNoLoader is returned by GetOrLoad when no Loader was configured in Options.
var ErrNoLoader = errors.New("cache: no Loader provided")

// ErrClosed is returned by GetOrLoad after Close.
var ErrClosed = errors.New("cache: closed")

// cache is a sharded in-memory KV store with a pluggable eviction policy.
type cache[K comparable, V any] struct {
	shards []*shard[K, V]
	closed atomic.Bool
	total  util.PaddedAtomicInt64

	opt *Options[K, V]

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[K, V]
}

// New constructs a cache with the provided Options.
// Defaults:
//   - nil Metrics  -> NoopMetrics
//   - nil Policy   -> LRU
//   - Shards <= 0  -> auto, rounded up to the next power of two
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.Capacity <= 0 {
		panic("Capacity must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[K, V]()
	}

	sh := opt.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}
	// Never more shards than entries, or small caches would over-admit.
	for sh > 1 && sh > opt.Capacity {
		sh >>= 1
	}
	opt.Shards = sh

	c := &cache[K, V]{
		shards: make([]*shard[K, V], sh),
		opt:    &opt,
	}
	perShardCap := (opt.Capacity + sh - 1) / sh // ceil
	for i := range c.shards {
		c.shards[i] = newShard[K, V](perShardCap, c.opt, &c.total)
	}
	return c
}

// ---- Cache[K,V] implementation ----

func (c *cache[K, V]) Add(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	s := c.getShard(k)
	ok, vs := s.set(k, v, true)
	s.release(context.Background(), vs)
	return ok
}

func (c *cache[K, V]) Set(k K, v V) {
	if c.closed.Load() {
		return
	}
	c.set(context.Background(), k, v)
}

func (c *cache[K, V]) set(ctx context.Context, k K, v V) {
	s := c.getShard(k)
	_, vs := s.set(k, v, false)
	s.release(ctx, vs)
}

func (c *cache[K, V]) Get(k K) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	v, res, _, _ := c.getShard(k).get(k, false)
	if res != lookupHit {
		return zero, false
	}
	return v, true
}

func (c *cache[K, V]) Peek(k K) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	return c.getShard(k).peek(k)
}

func (c *cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	if v, ok, err := c.await(ctx, k); ok || err != nil {
		return v, err
	}
	if c.opt.Loader == nil {
		var zero V
		return zero, ErrNoLoader
	}

	return c.sf.Do(ctx, k, func(ctx context.Context) (V, error) {
		// double-check after flight join
		if v, ok, err := c.await(ctx, k); ok || err != nil {
			return v, err
		}
		v, err := c.opt.Loader(ctx, k)
		if err == nil && !c.closed.Load() {
			c.set(ctx, k, v)
		}
		return v, err
	})
}

// await is a lookup that blocks while k is being evicted.
func (c *cache[K, V]) await(ctx context.Context, k K) (V, bool, error) {
	var zero V
	s := c.getShard(k)
	for {
		if c.closed.Load() {
			return zero, false, ErrClosed
		}
		v, res, wait, vs := s.get(k, true)
		s.release(ctx, vs)
		switch res {
		case lookupHit:
			return v, true, nil
		case lookupMiss:
			return zero, false, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}
}

func (c *cache[K, V]) Remove(k K) bool {
	if c.closed.Load() {
		return false
	}
	return c.getShard(k).remove(k)
}

func (c *cache[K, V]) Evict(ctx context.Context, k K) bool {
	if c.closed.Load() {
		return false
	}
	s := c.getShard(k)
	vs := s.evict(k)
	s.release(ctx, vs)
	return len(vs) > 0
}

func (c *cache[K, V]) ExpireStale(ctx context.Context) int {
	if c.closed.Load() {
		return 0
	}
	total := 0
	for _, s := range c.shards {
		vs := s.expireStale()
		s.release(ctx, vs)
		total += len(vs)
	}
	return total
}

func (c *cache[K, V]) Range(fn func(k K, v V) bool) {
	for _, s := range c.shards {
		ks, vs := s.snapshot()
		for i := range ks {
			if !fn(ks[i], vs[i]) {
				return
			}
		}
	}
}

// Len returns the total number of resident entries across all shards.
func (c *cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

func (c *cache[K, V]) Stats() Stats {
	var st Stats
	for _, s := range c.shards {
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
		st.Evictions += s.evicts.Load()
		st.Entries += s.Len()
	}
	return st
}

// Close marks the cache as closed. Resident entries are kept and can still
// be visited with Range.
func (c *cache[K, V]) Close() error {
	c.closed.Store(true)
	return nil
}

// getShard picks a shard by hashing the key and masking with len-1.
// len(c.shards) is guaranteed to be a power of two.
func (c *cache[K, V]) getShard(k K) *shard[K, V] {
	return c.shards[util.Index(util.RouteHash(k), len(c.shards))]
}
