package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/writebehind/entitycache"
	"github.com/IvanBrykalov/writebehind/storage"
	"github.com/IvanBrykalov/writebehind/storage/routed"
)

// StorageAdapter implements routed.Metrics and entitycache.Metrics.
type StorageAdapter struct {
	writes   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	loads    *prometheus.CounterVec
	flushes  *prometheus.CounterVec
	swept    *prometheus.CounterVec
	sweepDur *prometheus.HistogramVec
}

// NewStorage registers write, load, flush and sweep metrics.
func NewStorage(reg prometheus.Registerer, ns string) *StorageAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &StorageAdapter{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "storage",
			Name:      "writes_total",
			Help:      "Storage writes by kind, operation and result",
		}, []string{"kind", "op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "storage",
			Name:      "write_duration_seconds",
			Help:      "Storage write latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "entitycache",
			Name:      "loads_total",
			Help:      "Cache misses resolved from storage (source=found) or by creating the entity (source=created)",
		}, []string{"kind", "source", "result"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "entitycache",
			Name:      "flushes_total",
			Help:      "Entity writes by mode (partial or full)",
		}, []string{"kind", "mode", "result"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "entitycache",
			Name:      "swept_total",
			Help:      "Entities visited by sweeps (outcome=checked) or expired by them (outcome=expired)",
		}, []string{"kind", "outcome"}),
		sweepDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "entitycache",
			Name:      "sweep_duration_seconds",
			Help:      "Time to expire and schedule one kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	reg.MustRegister(a.writes, a.latency, a.loads, a.flushes, a.swept, a.sweepDur)
	return a
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Write implements routed.Metrics.
func (a *StorageAdapter) Write(kind string, op storage.Op, d time.Duration, err error) {
	a.writes.WithLabelValues(kind, string(op), result(err)).Inc()
	a.latency.WithLabelValues(string(op)).Observe(d.Seconds())
}

// Load implements entitycache.Metrics.
func (a *StorageAdapter) Load(kind string, created bool, err error) {
	src := "found"
	if created {
		src = "created"
	}
	a.loads.WithLabelValues(kind, src, result(err)).Inc()
}

// Flush implements entitycache.Metrics.
func (a *StorageAdapter) Flush(kind string, full bool, err error) {
	mode := "partial"
	if full {
		mode = "full"
	}
	a.flushes.WithLabelValues(kind, mode, result(err)).Inc()
}

// Sweep implements entitycache.Metrics.
func (a *StorageAdapter) Sweep(kind string, scheduled, expired int, d time.Duration) {
	a.swept.WithLabelValues(kind, "checked").Add(float64(scheduled))
	a.swept.WithLabelValues(kind, "expired").Add(float64(expired))
	a.sweepDur.WithLabelValues(kind).Observe(d.Seconds())
}

var (
	_ routed.Metrics      = (*StorageAdapter)(nil)
	_ entitycache.Metrics = (*StorageAdapter)(nil)
)
