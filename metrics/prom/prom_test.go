package prom

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/IvanBrykalov/writebehind/cache"
	"github.com/IvanBrykalov/writebehind/storage"
)

func TestCacheAdapter(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg, "wb", "cache", nil)

	a.Hit()
	a.Hit()
	a.Miss()
	a.Evict(cache.EvictExpired)
	a.Size(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.evicts.WithLabelValues("expired")))
	assert.Equal(t, 7.0, testutil.ToFloat64(a.entries))
}

func TestPerKindSharesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := PerKind(reg, "wb")

	players := f("players")
	items := f("items")
	players.Hit()
	items.Hit()
	items.Hit()

	assert.Equal(t, 1.0, testutil.ToFloat64(players.(*Adapter).hits))
	assert.Equal(t, 2.0, testutil.ToFloat64(items.(*Adapter).hits))
	n, err := testutil.GatherAndCount(reg, "wb_cache_hits_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPoolAdapter(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPool(reg, "wb")

	a.Submitted("io")
	a.Submitted("io")
	a.Completed("io", time.Millisecond)
	a.Failed("cpu")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.submitted.WithLabelValues("io")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.failed.WithLabelValues("cpu")))
	assert.Equal(t, 1, testutil.CollectAndCount(a.duration))
}

func TestStorageAdapter(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewStorage(reg, "wb")

	a.Write("players", storage.OpUpdate, time.Millisecond, nil)
	a.Write("players", storage.OpUpdate, time.Millisecond, errors.New("x"))
	a.Load("players", true, nil)
	a.Flush("players", true, nil)
	a.Flush("players", false, nil)
	a.Sweep("players", 3, 1, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.writes.WithLabelValues("players", "update", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.writes.WithLabelValues("players", "update", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.loads.WithLabelValues("players", "created", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.flushes.WithLabelValues("players", "full", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.flushes.WithLabelValues("players", "partial", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(a.swept.WithLabelValues("players", "checked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.swept.WithLabelValues("players", "expired")))
}
