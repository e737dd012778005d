package entitycache

import (
	"log/slog"
	"time"

	"github.com/IvanBrykalov/writebehind/cache"
	"github.com/IvanBrykalov/writebehind/executor"
	"github.com/IvanBrykalov/writebehind/storage/routed"
	"github.com/IvanBrykalov/writebehind/tracker"
)

// Defaults applied by New and Register.
const (
	DefaultPersistInterval = time.Minute
	DefaultExpireAfter     = 3 * time.Minute
	DefaultMaxEntries      = 3000
	DefaultStopParallelism = 64
)

// Options configures a Service. Zero values are safe:
//   - IOLanes/CPULanes <= 0 => 2×GOMAXPROCS / GOMAXPROCS, rounded to a power of two
//   - PersistInterval == 0  => DefaultPersistInterval; < 0 disables the ticker
//   - nil Tracker           => tracker.New with the service logger
//   - nil metrics           => no-ops
type Options struct {
	IOLanes  int
	CPULanes int

	PersistInterval time.Duration

	// CallTimeout bounds each storage call (see routed.Options).
	CallTimeout time.Duration

	// StopParallelism caps concurrent full writes during Stop.
	StopParallelism int

	// Repository defaults, overridable per kind with RepoOption.
	ExpireAfterAccess time.Duration
	MaxEntries        int
	Policy            string

	Tracker *tracker.Tracker
	Logger  *slog.Logger

	Metrics        Metrics
	PoolMetrics    executor.Metrics
	StorageMetrics routed.Metrics
	// CacheMetrics, when set, supplies the metrics sink for each kind's cache.
	CacheMetrics func(kind string) cache.Metrics
}

// RepoOption overrides repository settings for one kind.
type RepoOption func(*repoConfig)

type repoConfig struct {
	expireAfter time.Duration
	maxEntries  int
	policy      string
	shards      int
	clock       cache.Clock
}

// WithExpireAfterAccess sets how long an entity may stay idle in the cache.
// Zero or negative disables expiry.
func WithExpireAfterAccess(d time.Duration) RepoOption {
	return func(c *repoConfig) { c.expireAfter = d }
}

// WithMaxEntries bounds the number of cached entities.
func WithMaxEntries(n int) RepoOption {
	return func(c *repoConfig) { c.maxEntries = n }
}

// WithPolicy selects the eviction policy by name ("lru" or "2q").
func WithPolicy(name string) RepoOption {
	return func(c *repoConfig) { c.policy = name }
}

// WithShards fixes the cache shard count.
func WithShards(n int) RepoOption {
	return func(c *repoConfig) { c.shards = n }
}

// WithClock overrides the cache time source.
func WithClock(clk cache.Clock) RepoOption {
	return func(c *repoConfig) { c.clock = clk }
}
