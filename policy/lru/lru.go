// Package lru implements least-recently-used ordering: every add, read or
// write moves the entry to MRU and the shard trims from the LRU end.
package lru

import "github.com/IvanBrykalov/writebehind/policy"

type factory[K comparable, V any] struct{}

// New returns the LRU policy.
func New[K comparable, V any]() policy.Policy[K, V] { return factory[K, V]{} }

func (factory[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &lru[K, V]{h: h}
}

type lru[K comparable, V any] struct {
	h policy.Hooks[K, V]
}

// OnAdd links n at MRU. Capacity is enforced by the shard, so LRU never
// nominates a victim itself.
func (p *lru[K, V]) OnAdd(n policy.Node[K, V]) policy.Node[K, V] {
	p.h.PushFront(n)
	return nil
}

func (p *lru[K, V]) OnGet(n policy.Node[K, V])    { p.h.MoveToFront(n) }
func (p *lru[K, V]) OnUpdate(n policy.Node[K, V]) { p.h.MoveToFront(n) }
func (p *lru[K, V]) OnRemove(policy.Node[K, V])   {}
