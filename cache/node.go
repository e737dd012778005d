package cache

// node is an intrusive doubly linked list element owned by a shard.
type node[K comparable, V any] struct {
	key K
	val V

	// Intrusive list links: head is MRU, tail is LRU.
	prev *node[K, V]
	next *node[K, V]

	// Last access in UnixNano; drives ExpireAfterAccess.
	access int64

	// evicting is non-nil while OnEvict runs for this node. The node is
	// already off the list but stays in the map so lookups can wait on it;
	// the channel is closed once the node is gone.
	evicting chan struct{}
}

// Key returns the node key (part of policy.Node interface).
func (n *node[K, V]) Key() K { return n.key }

// Value returns a pointer to the stored value (part of policy.Node interface).
// Only valid under the shard lock.
func (n *node[K, V]) Value() *V { return &n.val }
