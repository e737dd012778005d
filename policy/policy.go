// Package policy defines the contract between a cache shard and its eviction
// policy. The shard owns the key->node map and the MRU/LRU list; a policy
// decides where nodes go on that list and may nominate admission victims.
package policy

// Node is the minimal view of a cache entry a policy needs.
type Node[K comparable, V any] interface {
	Key() K
	Value() *V
}

// Hooks are the O(1) list operations a shard exposes to its policy.
// All calls happen under the shard lock.
type Hooks[K comparable, V any] interface {
	// MoveToFront promotes the node to MRU.
	MoveToFront(Node[K, V])
	// PushFront links a new node at MRU.
	PushFront(Node[K, V])
	// Remove unlinks the node; map bookkeeping stays with the shard.
	Remove(Node[K, V])
	// Back returns the current LRU node, or nil if the list is empty.
	Back() Node[K, V]
	// Len returns the number of linked nodes.
	Len() int
}

// ShardPolicy is a per-shard policy instance. All methods are invoked under
// the shard lock.
//
//   - OnAdd links the node and may return a victim; the shard evicts it and
//     reports it back through OnRemove.
//   - OnGet and OnUpdate record a use.
//   - OnRemove tells the policy a node left the list (eviction or removal).
type ShardPolicy[K comparable, V any] interface {
	OnAdd(Node[K, V]) (evict Node[K, V])
	OnGet(Node[K, V])
	OnUpdate(Node[K, V])
	OnRemove(Node[K, V])
}

// Policy creates shard-local instances bound to a shard's hooks.
type Policy[K comparable, V any] interface {
	New(Hooks[K, V]) ShardPolicy[K, V]
}
