// Package twoq implements the 2Q eviction policy.
//
// New keys enter a small admission queue (A1in). Keys read again while there
// are promoted to the main LRU (Am); keys that fall out of A1in are
// remembered as ghosts (A1out) and skip A1in if they come back. One-off scans
// therefore churn A1in without flushing the hot set.
package twoq

import (
	"container/list"

	"github.com/IvanBrykalov/writebehind/policy"
)

// New returns a 2Q policy with per-shard queue sizes: young bounds A1in and
// ghosts bounds A1out. Both are at least 1.
func New[K comparable, V any](young, ghosts int) policy.Policy[K, V] {
	return factory[K, V]{young: max(young, 1), ghosts: max(ghosts, 1)}
}

type factory[K comparable, V any] struct {
	young  int
	ghosts int
}

func (f factory[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &twoQ[K, V]{
		h:        h,
		young:    queue[policy.Node[K, V]]{limit: f.young, idx: map[policy.Node[K, V]]*list.Element{}},
		ghosts:   queue[K]{limit: f.ghosts, idx: map[K]*list.Element{}},
		youngCap: f.young,
	}
}

// queue is a bounded MRU-first list with O(1) membership.
type queue[T comparable] struct {
	l     list.List
	idx   map[T]*list.Element
	limit int
}

func (q *queue[T]) has(v T) bool {
	_, ok := q.idx[v]
	return ok
}

func (q *queue[T]) push(v T) {
	if el, ok := q.idx[v]; ok {
		q.l.MoveToFront(el)
		return
	}
	q.idx[v] = q.l.PushFront(v)
}

func (q *queue[T]) drop(v T) bool {
	el, ok := q.idx[v]
	if !ok {
		return false
	}
	q.l.Remove(el)
	delete(q.idx, v)
	return true
}

func (q *queue[T]) oldest() (T, bool) {
	el := q.l.Back()
	if el == nil {
		var zero T
		return zero, false
	}
	return el.Value.(T), true
}

func (q *queue[T]) len() int { return q.l.Len() }

// twoQ keeps A1in and A1out; Am is the shard list itself minus A1in members.
type twoQ[K comparable, V any] struct {
	h        policy.Hooks[K, V]
	young    queue[policy.Node[K, V]]
	ghosts   queue[K]
	youngCap int
}

// OnAdd admits a returning ghost straight into Am; anything else goes to
// A1in, whose oldest member is nominated once A1in is over its limit.
func (q *twoQ[K, V]) OnAdd(n policy.Node[K, V]) policy.Node[K, V] {
	q.h.PushFront(n)
	if q.ghosts.drop(n.Key()) {
		return nil
	}
	q.young.push(n)
	if q.young.len() > q.youngCap {
		if old, ok := q.young.oldest(); ok {
			return old
		}
	}
	return nil
}

// OnGet promotes an A1in member to Am.
func (q *twoQ[K, V]) OnGet(n policy.Node[K, V]) {
	q.young.drop(n)
	q.h.MoveToFront(n)
}

func (q *twoQ[K, V]) OnUpdate(n policy.Node[K, V]) { q.OnGet(n) }

// OnRemove turns A1in members into ghosts; Am members leave no trace.
func (q *twoQ[K, V]) OnRemove(n policy.Node[K, V]) {
	if !q.young.drop(n) {
		return
	}
	q.ghosts.push(n.Key())
	for q.ghosts.len() > q.ghosts.limit {
		k, _ := q.ghosts.oldest()
		q.ghosts.drop(k)
	}
}
