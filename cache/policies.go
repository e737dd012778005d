package cache

import (
	"fmt"
	"strings"

	"github.com/IvanBrykalov/writebehind/internal/util"
	"github.com/IvanBrykalov/writebehind/policy"
	"github.com/IvanBrykalov/writebehind/policy/lru"
	"github.com/IvanBrykalov/writebehind/policy/twoq"
)

// Policy names accepted by NamedPolicy.
const (
	PolicyLRU = "lru"
	Policy2Q  = "2q"
)

// NamedPolicy builds a policy by name for a cache of the given total capacity
// and shard count. 2Q gets a quarter of each shard for its admission queue
// and remembers as many ghosts as the shard holds.
func NamedPolicy[K comparable, V any](name string, capacity, shards int) (policy.Policy[K, V], error) {
	switch strings.ToLower(name) {
	case "", PolicyLRU:
		return lru.New[K, V](), nil
	case Policy2Q:
		if shards <= 0 {
			shards = util.ReasonableShardCount()
		}
		per := (capacity + shards - 1) / shards
		return twoq.New[K, V](per/4, per), nil
	}
	return nil, fmt.Errorf("cache: unknown policy %q", name)
}
