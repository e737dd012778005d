package routed_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/writebehind/entity"
	"github.com/IvanBrykalov/writebehind/executor"
	"github.com/IvanBrykalov/writebehind/storage"
	"github.com/IvanBrykalov/writebehind/storage/memstore"
	"github.com/IvanBrykalov/writebehind/storage/routed"
	"github.com/IvanBrykalov/writebehind/storage/storetest"
	"github.com/IvanBrykalov/writebehind/tracker"
)

// laneSpy records which lane each write ran on.
type laneSpy struct {
	storage.Accessor

	mu      sync.Mutex
	calls   []spyCall
	readers []string
}

type spyCall struct {
	op   string
	lane string
	keys []any
}

func (s *laneSpy) note(ctx context.Context, op string, es ...entity.Entity) {
	name := ""
	if l := executor.LaneFromContext(ctx); l != nil {
		name = l.Name()
	}
	keys := make([]any, len(es))
	for i, e := range es {
		keys[i] = e.PrimaryKey()
	}
	s.mu.Lock()
	s.calls = append(s.calls, spyCall{op: op, lane: name, keys: keys})
	s.mu.Unlock()
}

func (s *laneSpy) Find(ctx context.Context, kind entity.Descriptor, pk any) (entity.Entity, error) {
	s.mu.Lock()
	s.readers = append(s.readers, laneName(ctx))
	s.mu.Unlock()
	return s.Accessor.Find(ctx, kind, pk)
}

func (s *laneSpy) Replace(ctx context.Context, kind entity.Descriptor, e entity.Entity) error {
	s.note(ctx, "replace", e)
	return s.Accessor.Replace(ctx, kind, e)
}

func (s *laneSpy) BatchInsert(ctx context.Context, kind entity.Descriptor, es []entity.Entity) error {
	s.note(ctx, "batch-insert", es...)
	return s.Accessor.BatchInsert(ctx, kind, es)
}

func (s *laneSpy) snapshot() []spyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spyCall(nil), s.calls...)
}

func laneName(ctx context.Context) string {
	if l := executor.LaneFromContext(ctx); l != nil {
		return l.Name()
	}
	return ""
}

type countingMetrics struct {
	mu     sync.Mutex
	ok     map[storage.Op]int
	failed map[storage.Op]int
}

func (m *countingMetrics) Write(_ string, op storage.Op, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failed[op]++
		return
	}
	m.ok[op]++
}

type fixture struct {
	store   *memstore.Store
	spy     *laneSpy
	pool    *executor.Pool
	acc     *routed.Accessor
	logs    *bytes.Buffer
	metrics *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memstore.New(),
		pool:    executor.New(executor.Options{Name: "io", Lanes: 4}),
		logs:    &bytes.Buffer{},
		metrics: &countingMetrics{ok: map[storage.Op]int{}, failed: map[storage.Op]int{}},
	}
	f.spy = &laneSpy{Accessor: f.store}
	log := slog.New(slog.NewJSONHandler(&syncWriter{w: f.logs}, nil))
	f.acc = routed.New(f.spy, f.pool, routed.Options{Logger: log, Metrics: f.metrics, CallTimeout: time.Second})
	t.Cleanup(func() { _ = f.pool.Shutdown(context.Background()) })
	return f
}

// drain waits until every queued write has run.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.pool.Shutdown(ctx))
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func TestWritesRunOnRouteLane(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	for i := int64(1); i <= 16; i++ {
		require.NoError(t, f.acc.Replace(ctx, storetest.Heroes, storetest.NewHero(t, i, "h", 1)))
	}
	f.drain(t)

	calls := f.spy.snapshot()
	require.Len(t, calls, 16)
	for _, c := range calls {
		want := f.pool.Lane(c.keys[0]).Name()
		assert.Equal(t, want, c.lane, "key %v", c.keys[0])
	}
	assert.Equal(t, 16, f.store.Len("heroes"))
	assert.Equal(t, 16, f.metrics.ok[storage.OpReplace])
}

func TestReadsRunInline(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Insert(t.Context(), storetest.Heroes, storetest.NewHero(t, 1, "a", 1)))

	got, err := f.acc.Find(t.Context(), storetest.Heroes, int64(1))
	require.NoError(t, err)
	assert.Equal(t, "a", got.(*storetest.Hero).Name)
	assert.Equal(t, []string{""}, f.spy.readers)
}

func TestBatchSplitsPerLane(t *testing.T) {
	f := newFixture(t)

	es := make([]entity.Entity, 32)
	for i := range es {
		es[i] = storetest.NewHero(t, int64(i+1), "h", 1)
	}
	require.NoError(t, f.acc.BatchInsert(t.Context(), storetest.Heroes, es))
	f.drain(t)

	calls := f.spy.snapshot()
	assert.LessOrEqual(t, len(calls), f.pool.Size())
	total := 0
	seen := map[string]bool{}
	for _, c := range calls {
		assert.False(t, seen[c.lane], "one batch call per lane")
		seen[c.lane] = true
		for _, k := range c.keys {
			assert.Equal(t, c.lane, f.pool.Lane(k).Name())
		}
		total += len(c.keys)
	}
	assert.Equal(t, 32, total)
	assert.Equal(t, 32, f.store.Len("heroes"))
}

func TestAsyncShortfallIsLogged(t *testing.T) {
	f := newFixture(t)

	var d tracker.Delta
	d.Set("level", 3)
	require.NoError(t, f.acc.Update(t.Context(), storetest.Heroes, storetest.NewHero(t, 9, "ghost", 1), d))
	f.drain(t)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(f.logs.Bytes()), &line))
	assert.Equal(t, "write affected unexpected document count", line["msg"])
	assert.Equal(t, "heroes", line["kind"])
	assert.Equal(t, "update", line["op"])
	assert.EqualValues(t, 1, line["expected"])
	assert.EqualValues(t, 0, line["actual"])
	assert.Equal(t, 1, f.metrics.failed[storage.OpUpdate])
}

func TestNowReturnsWriteError(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	h := storetest.NewHero(t, 1, "a", 1)

	require.NoError(t, f.acc.InsertNow(ctx, storetest.Heroes, h))
	err := f.acc.InsertNow(ctx, storetest.Heroes, h)

	var we *storage.WriteError
	require.ErrorAs(t, err, &we)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	var ef *executor.ExecutionFailure
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, f.pool.Lane(h.RouteKey()).Name(), ef.Lane)

	h.Level = 5
	require.NoError(t, f.acc.ReplaceNow(ctx, storetest.Heroes, h))
	doc, ok := f.store.Document("heroes", int64(1))
	require.True(t, ok)
	assert.JSONEq(t, `5`, string(doc["level"]))
}

func TestEmptyDeltaSkipsStorage(t *testing.T) {
	f := newFixture(t)
	h := storetest.NewHero(t, 1, "a", 1)

	require.NoError(t, f.acc.UpdateNow(t.Context(), storetest.Heroes, h, tracker.Delta{}))
	require.NoError(t, f.acc.Update(t.Context(), storetest.Heroes, h, tracker.Delta{}))
	f.drain(t)
	assert.Empty(t, f.store.Records())
	assert.Empty(t, f.logs.String())
}

func TestClosedPoolRejectsWrites(t *testing.T) {
	f := newFixture(t)
	f.drain(t)

	err := f.acc.Replace(t.Context(), storetest.Heroes, storetest.NewHero(t, 1, "a", 1))
	assert.ErrorIs(t, err, executor.ErrPoolClosed)
	err = f.acc.ReplaceNow(t.Context(), storetest.Heroes, storetest.NewHero(t, 2, "a", 1))
	assert.ErrorIs(t, err, executor.ErrPoolClosed)
}

func TestDeleteByKeyRoutesByPrimaryKey(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.BatchInsert(t.Context(), storetest.Heroes, []entity.Entity{
		storetest.NewHero(t, 1, "a", 1), storetest.NewHero(t, 2, "b", 1), storetest.NewHero(t, 3, "c", 1),
	}))

	require.NoError(t, f.acc.DeleteByKey(t.Context(), storetest.Heroes, int64(1)))
	require.NoError(t, f.acc.BatchDeleteByKey(t.Context(), storetest.Heroes, []any{int64(2), int64(3)}))
	f.drain(t)
	assert.Equal(t, 0, f.store.Len("heroes"))
	assert.Equal(t, 3, f.store.Count(storage.OpDelete, "heroes"))
}
