// Package routed wraps a storage.Accessor so that every write runs on the
// I/O lane owned by the entity's route key. Reads run inline on the caller.
//
// Asynchronous writes return once queued; their failures, including
// affected-count discrepancies, are logged and counted but never retried.
// The *Now variants block for the result and are what the entity cache uses
// for load-through inserts, eviction flushes and the shutdown sweep.
package routed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/IvanBrykalov/writebehind/entity"
	"github.com/IvanBrykalov/writebehind/executor"
	"github.com/IvanBrykalov/writebehind/internal/logger"
	"github.com/IvanBrykalov/writebehind/internal/telemetry"
	"github.com/IvanBrykalov/writebehind/storage"
	"github.com/IvanBrykalov/writebehind/tracker"
)

// DefaultCallTimeout bounds one storage call when Options.CallTimeout is 0.
const DefaultCallTimeout = 30 * time.Second

// Metrics receives one signal per completed storage write.
type Metrics interface {
	Write(kind string, op storage.Op, d time.Duration, err error)
}

// NoopMetrics discards all signals.
type NoopMetrics struct{}

func (NoopMetrics) Write(string, storage.Op, time.Duration, error) {}

// Options configures an Accessor. Zero values are safe.
type Options struct {
	// CallTimeout bounds each storage call, sync or async.
	CallTimeout time.Duration
	Logger      *slog.Logger
	Metrics     Metrics
}

// Accessor routes writes of next through pool.
type Accessor struct {
	next    storage.Accessor
	pool    *executor.Pool
	timeout time.Duration
	log     *slog.Logger
	metrics Metrics
}

var _ storage.Accessor = (*Accessor)(nil)

// New wraps next. pool is normally the service's I/O pool.
func New(next storage.Accessor, pool *executor.Pool, opt Options) *Accessor {
	if opt.CallTimeout <= 0 {
		opt.CallTimeout = DefaultCallTimeout
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	return &Accessor{
		next:    next,
		pool:    pool,
		timeout: opt.CallTimeout,
		log:     logger.Or(opt.Logger).With("component", "routed"),
		metrics: opt.Metrics,
	}
}

// Unwrap returns the wrapped accessor.
func (a *Accessor) Unwrap() storage.Accessor { return a.next }

// ---- reads ----

func (a *Accessor) Find(ctx context.Context, kind entity.Descriptor, pk any) (entity.Entity, error) {
	return a.next.Find(ctx, kind, pk)
}

func (a *Accessor) FindAll(ctx context.Context, kind entity.Descriptor) ([]entity.Entity, error) {
	return a.next.FindAll(ctx, kind)
}

// ---- asynchronous writes ----

func (a *Accessor) Insert(_ context.Context, kind entity.Descriptor, e entity.Entity) error {
	return a.submit(kind, storage.OpInsert, e.RouteKey(), e.PrimaryKey(), func(ctx context.Context) error {
		return a.next.Insert(ctx, kind, e)
	})
}

func (a *Accessor) Replace(_ context.Context, kind entity.Descriptor, e entity.Entity) error {
	return a.submit(kind, storage.OpReplace, e.RouteKey(), e.PrimaryKey(), func(ctx context.Context) error {
		return a.next.Replace(ctx, kind, e)
	})
}

func (a *Accessor) Update(_ context.Context, kind entity.Descriptor, e entity.Entity, d tracker.Delta) error {
	if d.IsEmpty() {
		return nil
	}
	return a.submit(kind, storage.OpUpdate, e.RouteKey(), e.PrimaryKey(), func(ctx context.Context) error {
		return a.next.Update(ctx, kind, e, d)
	})
}

func (a *Accessor) Delete(_ context.Context, kind entity.Descriptor, e entity.Entity) error {
	return a.submit(kind, storage.OpDelete, e.RouteKey(), e.PrimaryKey(), func(ctx context.Context) error {
		return a.next.Delete(ctx, kind, e)
	})
}

// DeleteByKey routes by pk because no entity is at hand. For kinds with a
// custom route key this lane may differ from the one the entity's other
// writes use, so ordering against them is not guaranteed.
func (a *Accessor) DeleteByKey(_ context.Context, kind entity.Descriptor, pk any) error {
	return a.submit(kind, storage.OpDelete, pk, pk, func(ctx context.Context) error {
		return a.next.DeleteByKey(ctx, kind, pk)
	})
}

// ---- batches: one accessor call per lane ----

func (a *Accessor) BatchInsert(_ context.Context, kind entity.Descriptor, es []entity.Entity) error {
	for lane, idx := range a.groupEntities(es) {
		part := pick(es, idx)
		a.submitBatch(kind, storage.OpInsert, lane, len(part), func(ctx context.Context) error {
			return a.next.BatchInsert(ctx, kind, part)
		})
	}
	return nil
}

func (a *Accessor) BatchUpdate(_ context.Context, kind entity.Descriptor, es []entity.Entity, ds []tracker.Delta) error {
	if len(es) != len(ds) {
		return &storage.WriteError{Op: storage.OpUpdate, Kind: kind.Name(), Expected: len(es), Actual: len(ds)}
	}
	for lane, idx := range a.groupEntities(es) {
		part, deltas := pick(es, idx), pick(ds, idx)
		a.submitBatch(kind, storage.OpUpdate, lane, len(part), func(ctx context.Context) error {
			return a.next.BatchUpdate(ctx, kind, part, deltas)
		})
	}
	return nil
}

func (a *Accessor) BatchDelete(_ context.Context, kind entity.Descriptor, es []entity.Entity) error {
	for lane, idx := range a.groupEntities(es) {
		part := pick(es, idx)
		a.submitBatch(kind, storage.OpDelete, lane, len(part), func(ctx context.Context) error {
			return a.next.BatchDelete(ctx, kind, part)
		})
	}
	return nil
}

func (a *Accessor) BatchDeleteByKey(_ context.Context, kind entity.Descriptor, pks []any) error {
	groups := make(map[int][]int)
	for i, pk := range pks {
		l := a.pool.LaneFor(pk)
		groups[l] = append(groups[l], i)
	}
	for lane, idx := range groups {
		part := pick(pks, idx)
		a.submitBatch(kind, storage.OpDelete, lane, len(part), func(ctx context.Context) error {
			return a.next.BatchDeleteByKey(ctx, kind, part)
		})
	}
	return nil
}

// ---- synchronous writes ----

// InsertNow inserts e on its lane and waits for the result.
func (a *Accessor) InsertNow(ctx context.Context, kind entity.Descriptor, e entity.Entity) error {
	return a.call(ctx, kind, storage.OpInsert, e, func(ctx context.Context) error {
		return a.next.Insert(ctx, kind, e)
	})
}

// ReplaceNow writes the full document of e on its lane and waits.
func (a *Accessor) ReplaceNow(ctx context.Context, kind entity.Descriptor, e entity.Entity) error {
	return a.call(ctx, kind, storage.OpReplace, e, func(ctx context.Context) error {
		return a.next.Replace(ctx, kind, e)
	})
}

// UpdateNow applies d to e's document on its lane and waits. An empty delta
// does not reach storage.
func (a *Accessor) UpdateNow(ctx context.Context, kind entity.Descriptor, e entity.Entity, d tracker.Delta) error {
	if d.IsEmpty() {
		return nil
	}
	return a.call(ctx, kind, storage.OpUpdate, e, func(ctx context.Context) error {
		return a.next.Update(ctx, kind, e, d)
	})
}

func (a *Accessor) Close() error { return a.next.Close() }

// ---- internals ----

func (a *Accessor) submit(kind entity.Descriptor, op storage.Op, route, pk any, fn func(context.Context) error) error {
	ok := a.pool.Run(route, func(ctx context.Context) {
		_ = a.do(ctx, kind.Name(), op, pk, 1, fn)
	})
	if !ok {
		return &executor.ExecutionFailure{Lane: a.pool.Lane(route).Name(), Err: executor.ErrPoolClosed}
	}
	return nil
}

func (a *Accessor) submitBatch(kind entity.Descriptor, op storage.Op, lane, n int, fn func(context.Context) error) {
	a.pool.RunOn(a.pool.LaneAt(lane), func(ctx context.Context) {
		_ = a.do(ctx, kind.Name(), op, nil, n, fn)
	})
}

func (a *Accessor) call(ctx context.Context, kind entity.Descriptor, op storage.Op, e entity.Entity, fn func(context.Context) error) error {
	_, err := a.pool.Call(ctx, e.RouteKey(), func(ctx context.Context) (any, error) {
		return nil, a.do(ctx, kind.Name(), op, e.PrimaryKey(), 1, fn)
	})
	return err
}

// do runs one storage call on the current lane with the call timeout, then
// traces, counts and logs its outcome.
func (a *Accessor) do(ctx context.Context, kind string, op storage.Op, pk any, n int, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	attrs := []trace.SpanStartOption{trace.WithAttributes(telemetry.Kind(kind), telemetry.Op(string(op)), telemetry.Count(n))}
	if pk != nil {
		attrs = append(attrs, trace.WithAttributes(telemetry.Key(pk)))
	}
	if l := executor.LaneFromContext(ctx); l != nil {
		attrs = append(attrs, trace.WithAttributes(telemetry.Lane(l.Name())))
	}
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanWrite, attrs...)

	start := time.Now()
	err := fn(ctx)
	a.metrics.Write(kind, op, time.Since(start), err)
	telemetry.End(span, err)

	if err != nil {
		a.logFailure(ctx, kind, op, pk, n, err)
	}
	return err
}

func (a *Accessor) logFailure(ctx context.Context, kind string, op storage.Op, pk any, n int, err error) {
	args := []any{logger.KeyKind, kind, logger.KeyOp, string(op), logger.KeyCount, n}
	if pk != nil {
		args = append(args, logger.KeyKey, pk)
	}
	if l := executor.LaneFromContext(ctx); l != nil {
		args = append(args, logger.KeyLane, l.Name())
	}
	var we *storage.WriteError
	if errors.As(err, &we) {
		args = append(args, logger.KeyExpected, we.Expected, logger.KeyActual, we.Actual)
		a.log.WarnContext(ctx, "write affected unexpected document count", append(args, logger.Err(err))...)
		return
	}
	a.log.ErrorContext(ctx, "write failed", append(args, logger.Err(err))...)
}

func (a *Accessor) groupEntities(es []entity.Entity) map[int][]int {
	groups := make(map[int][]int)
	for i, e := range es {
		l := a.pool.LaneFor(e.RouteKey())
		groups[l] = append(groups[l], i)
	}
	return groups
}

func pick[T any](xs []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out
}
