package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/writebehind/executor"
)

// PoolAdapter implements executor.Metrics. One adapter may serve several
// pools; series are labelled by pool name.
type PoolAdapter struct {
	submitted *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewPool registers executor metrics under ns_executor_*.
func NewPool(reg prometheus.Registerer, ns string) *PoolAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &PoolAdapter{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "executor",
			Name:      "submitted_total",
			Help:      "Units submitted to a pool",
		}, []string{"pool"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "executor",
			Name:      "failed_total",
			Help:      "Units that panicked",
		}, []string{"pool"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "executor",
			Name:      "unit_duration_seconds",
			Help:      "Run time of completed units",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"pool"}),
	}
	reg.MustRegister(a.submitted, a.failed, a.duration)
	return a
}

func (a *PoolAdapter) Submitted(pool string) { a.submitted.WithLabelValues(pool).Inc() }

func (a *PoolAdapter) Completed(pool string, d time.Duration) {
	a.duration.WithLabelValues(pool).Observe(d.Seconds())
}

func (a *PoolAdapter) Failed(pool string) { a.failed.WithLabelValues(pool).Inc() }

var _ executor.Metrics = (*PoolAdapter)(nil)
