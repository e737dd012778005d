package cache

import (
	"context"
	"sync"
	"time"

	"github.com/IvanBrykalov/writebehind/internal/util"
	"github.com/IvanBrykalov/writebehind/policy"
)

// shard is an independent partition of the cache with its own lock, map,
// and an intrusive doubly linked list (head=MRU, tail=LRU).
//
// Evictions happen in two steps: under the lock a victim is detached from
// the list and marked evicting; after the lock is released OnEvict runs and
// the victim is dropped from the map (see release).
type shard[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu   sync.RWMutex
	m    map[K]*node[K, V]
	head *node[K, V] // MRU
	tail *node[K, V] // LRU
	len  int         // entries on the list (evicting nodes excluded)
	cap  int         // per-shard entry capacity

	pol policy.ShardPolicy[K, V]
	opt *Options[K, V]

	total *util.PaddedAtomicInt64 // resident entries across all shards

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

// victim is a detached node waiting for its OnEvict call.
type victim[K comparable, V any] struct {
	n      *node[K, V]
	reason EvictReason
}

type lookup int

const (
	lookupMiss lookup = iota
	lookupHit
	lookupEvicting
)

func newShard[K comparable, V any](capacity int, opt *Options[K, V], total *util.PaddedAtomicInt64) *shard[K, V] {
	s := &shard[K, V]{
		m:     make(map[K]*node[K, V], capacity),
		cap:   capacity,
		opt:   opt,
		total: total,
	}
	s.pol = opt.Policy.New(shardHooks[K, V]{s: s})
	return s
}

// get looks k up. With expire, an expired entry is detached and returned as
// a victim; without it the entry is only reported missing and stays for
// ExpireStale or the next expiring lookup. For lookupEvicting, wait is
// closed once the in-flight eviction completes.
func (s *shard[K, V]) get(k K, expire bool) (v V, res lookup, wait <-chan struct{}, vs []victim[K, V]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	switch {
	case !ok:
		res = lookupMiss
	case n.evicting != nil:
		return v, lookupEvicting, n.evicting, nil
	case s.expiredLocked(n, s.now()):
		if expire {
			vs = append(vs, s.detachLocked(n, EvictExpired))
		}
		res = lookupMiss
	default:
		s.pol.OnGet(n)
		n.access = s.now()
		s.hits.Add(1)
		s.opt.Metrics.Hit()
		return n.val, lookupHit, nil, nil
	}
	s.misses.Add(1)
	s.opt.Metrics.Miss()
	return v, res, nil, vs
}

// peek returns the resident value for k without touching order or counters.
func (s *shard[K, V]) peek(k K) (v V, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, found := s.m[k]
	if !found || n.evicting != nil || s.expiredLocked(n, s.now()) {
		return v, false
	}
	return n.val, true
}

// set inserts or updates k. With onlyNew, an existing resident entry is left
// untouched and false is returned.
func (s *shard[K, V]) set(k K, v V, onlyNew bool) (bool, []victim[K, V]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if n, ok := s.m[k]; ok && n.evicting == nil {
		if onlyNew {
			return false, nil
		}
		n.val = v
		n.access = now
		s.pol.OnUpdate(n)
		return true, s.enforceLimitsLocked(nil)
	}

	// New entry; an evicting node with the same key is simply replaced in
	// the map and finishes on its own.
	n := &node[K, V]{key: k, val: v, access: now}
	s.m[k] = n

	var vs []victim[K, V]
	if ev := s.pol.OnAdd(n); ev != nil {
		vs = append(vs, s.detachLocked(ev.(*node[K, V]), EvictPolicy))
	}
	return true, s.enforceLimitsLocked(vs)
}

// remove deletes k without a callback. Entries being evicted are left to
// finish.
func (s *shard[K, V]) remove(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok || n.evicting != nil {
		return false
	}
	s.pol.OnRemove(n)
	s.removeNode(n)
	delete(s.m, k)
	return true
}

// evict detaches k for an explicit eviction.
func (s *shard[K, V]) evict(k K) []victim[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok || n.evicting != nil {
		return nil
	}
	return []victim[K, V]{s.detachLocked(n, EvictExplicit)}
}

// expireStale detaches every resident entry idle past ExpireAfterAccess.
func (s *shard[K, V]) expireStale() []victim[K, V] {
	if s.opt.ExpireAfterAccess <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var vs []victim[K, V]
	for n := s.tail; n != nil; {
		prev := n.prev
		if s.expiredLocked(n, now) {
			vs = append(vs, s.detachLocked(n, EvictExpired))
		}
		n = prev
	}
	return vs
}

// snapshot copies the resident entries.
func (s *shard[K, V]) snapshot() ([]K, []V) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ks := make([]K, 0, s.len)
	vs := make([]V, 0, s.len)
	for n := s.head; n != nil; n = n.next {
		ks = append(ks, n.key)
		vs = append(vs, n.val)
	}
	return ks, vs
}

// Len returns the number of resident entries in this shard.
func (s *shard[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.len
}

// release runs OnEvict for each victim outside the lock, then drops it from
// the map and wakes waiters. A panicking callback still completes the
// eviction before the panic propagates. ctx is the triggering caller's.
func (s *shard[K, V]) release(ctx context.Context, vs []victim[K, V]) {
	for _, v := range vs {
		s.finish(ctx, v)
	}
	if len(vs) > 0 {
		s.opt.Metrics.Size(int(s.total.Load()))
	}
}

func (s *shard[K, V]) finish(ctx context.Context, v victim[K, V]) {
	defer func() {
		s.mu.Lock()
		if cur, ok := s.m[v.n.key]; ok && cur == v.n {
			delete(s.m, v.n.key)
		}
		close(v.n.evicting)
		s.mu.Unlock()
		s.evicts.Add(1)
		s.opt.Metrics.Evict(v.reason)
	}()
	if cb := s.opt.OnEvict; cb != nil {
		cb(ctx, v.n.key, v.n.val, v.reason)
	}
}

// -------------------- internals (mu held) --------------------

func (s *shard[K, V]) expiredLocked(n *node[K, V], now int64) bool {
	ttl := s.opt.ExpireAfterAccess
	return ttl > 0 && now-n.access > int64(ttl)
}

func (s *shard[K, V]) now() int64 {
	if s.opt.Clock != nil {
		return s.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// detachLocked takes n off the list and marks it evicting.
func (s *shard[K, V]) detachLocked(n *node[K, V], reason EvictReason) victim[K, V] {
	s.pol.OnRemove(n)
	s.removeNode(n)
	n.evicting = make(chan struct{})
	return victim[K, V]{n: n, reason: reason}
}

// enforceLimitsLocked detaches LRU entries until the shard is within capacity.
func (s *shard[K, V]) enforceLimitsLocked(vs []victim[K, V]) []victim[K, V] {
	for s.len > s.cap {
		tail := s.back()
		if tail == nil {
			break
		}
		vs = append(vs, s.detachLocked(tail, EvictSize))
	}
	s.opt.Metrics.Size(int(s.total.Load()))
	return vs
}

// insertFront inserts n at MRU in O(1).
func (s *shard[K, V]) insertFront(n *node[K, V]) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
	s.total.Add(1)
}

// moveToFront promotes n to MRU in O(1).
func (s *shard[K, V]) moveToFront(n *node[K, V]) {
	if n == s.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// removeNode unlinks n in O(1).
func (s *shard[K, V]) removeNode(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
	s.total.Add(-1)
}

// back returns the current LRU node in O(1).
func (s *shard[K, V]) back() *node[K, V] { return s.tail }

// -------------------- policy hooks --------------------

// shardHooks adapts the shard's list operations to policy.Hooks.
type shardHooks[K comparable, V any] struct{ s *shard[K, V] }

func (h shardHooks[K, V]) MoveToFront(x policy.Node[K, V]) { h.s.moveToFront(x.(*node[K, V])) }
func (h shardHooks[K, V]) PushFront(x policy.Node[K, V])   { h.s.insertFront(x.(*node[K, V])) }
func (h shardHooks[K, V]) Remove(x policy.Node[K, V])      { h.s.removeNode(x.(*node[K, V])) }
func (h shardHooks[K, V]) Back() policy.Node[K, V] {
	if t := h.s.back(); t != nil {
		return t
	}
	return nil
}
func (h shardHooks[K, V]) Len() int { return h.s.len }
