package entitycache

import "time"

// Metrics receives service-level signals. NoopMetrics is used by default.
type Metrics interface {
	// Load reports a cache miss resolved from storage (created=false) or by
	// inserting a fresh entity (created=true).
	Load(kind string, created bool, err error)
	// Flush reports a write issued for a cached entity: a partial update from
	// a sweep or Update, or a full write on eviction or Stop.
	Flush(kind string, full bool, err error)
	// Sweep reports one periodic pass over a kind.
	Sweep(kind string, scheduled, expired int, d time.Duration)
}

// NoopMetrics discards all signals.
type NoopMetrics struct{}

func (NoopMetrics) Load(string, bool, error)              {}
func (NoopMetrics) Flush(string, bool, error)             {}
func (NoopMetrics) Sweep(string, int, int, time.Duration) {}

var _ Metrics = NoopMetrics{}
