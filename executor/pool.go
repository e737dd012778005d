package executor

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/writebehind/internal/logger"
	"github.com/IvanBrykalov/writebehind/internal/util"
)

// Metrics receives pool-level signals. NoopMetrics is used by default.
type Metrics interface {
	Submitted(pool string)
	Completed(pool string, d time.Duration)
	Failed(pool string)
}

// NoopMetrics discards all signals.
type NoopMetrics struct{}

func (NoopMetrics) Submitted(string)                {}
func (NoopMetrics) Completed(string, time.Duration) {}
func (NoopMetrics) Failed(string)                   {}

var _ Metrics = NoopMetrics{}

// Options configures a Pool. Zero values are safe:
//   - Name == ""      => "pool"
//   - Multiplier <= 0 => 1
//   - Lanes <= 0      => nextPow2(Multiplier × GOMAXPROCS)
//   - nil Logger      => process logger
//   - nil Metrics     => NoopMetrics
type Options struct {
	// Name prefixes lane names ("io" => io-p0, io-p1, ...).
	Name string

	// Multiplier scales the lane count with available parallelism.
	// Use 2 for I/O-bound pools and 1 for CPU-bound pools.
	Multiplier int

	// Lanes fixes the lane count explicitly (rounded up to a power of two).
	Lanes int

	Logger  *slog.Logger
	Metrics Metrics
}

// Pool is a routed executor pool. All methods are safe for concurrent use.
type Pool struct {
	name    string
	lanes   []*Lane
	mask    uint64
	closed  atomic.Bool
	log     *slog.Logger
	metrics Metrics
}

// New constructs a pool and starts one goroutine per lane.
func New(opt Options) *Pool {
	if opt.Name == "" {
		opt.Name = "pool"
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}

	n := opt.Lanes
	if n <= 0 {
		n = util.LaneCount(opt.Multiplier)
	} else {
		n = int(util.NextPow2(uint64(n)))
	}

	p := &Pool{
		name:    opt.Name,
		lanes:   make([]*Lane, n),
		mask:    uint64(n - 1),
		log:     logger.Or(opt.Logger).With(logger.KeyPool, opt.Name),
		metrics: opt.Metrics,
	}
	for i := range p.lanes {
		p.lanes[i] = newLane(p, i)
		go p.lanes[i].loop()
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Size returns the number of lanes (a power of two).
func (p *Pool) Size() int { return len(p.lanes) }

// LaneFor returns the index of the lane that serializes work for key.
func (p *Pool) LaneFor(key any) int {
	return int(util.RouteHash(key) & p.mask)
}

// Lane returns the lane that serializes work for key.
func (p *Pool) Lane(key any) *Lane {
	return p.lanes[p.LaneFor(key)]
}

// LaneAt returns the lane at index i.
func (p *Pool) LaneAt(i int) *Lane { return p.lanes[i] }

// Run submits fn to the lane for key without waiting. A panic in fn is
// recovered and logged. Returns false if the pool is closed.
func (p *Pool) Run(key any, fn func(ctx context.Context)) bool {
	return p.RunOn(p.Lane(key), fn)
}

// RunOn submits fn to a specific lane (used by callers that group work by lane).
func (p *Pool) RunOn(l *Lane, fn func(ctx context.Context)) bool {
	if p.closed.Load() || !l.push(fn) {
		p.log.Warn("task rejected, pool closed", logger.KeyLane, l.name)
		return false
	}
	p.metrics.Submitted(p.name)
	return true
}

// Call submits fn to the lane for key and blocks for its result.
// The unit receives ctx annotated with its lane; when the caller is itself
// running on that lane, fn executes inline.
//
// Any error raised by fn, a panic in fn, ctx expiring before the result is
// ready, or a closed pool is reported as *ExecutionFailure. An expired ctx
// does not cancel the unit; fn should observe ctx itself.
func (p *Pool) Call(ctx context.Context, key any, fn func(ctx context.Context) (any, error)) (any, error) {
	l := p.Lane(key)

	if LaneFromContext(ctx) == l {
		v, err := p.callInline(ctx, l, fn)
		if err != nil {
			return nil, &ExecutionFailure{Lane: l.name, Err: err}
		}
		return v, nil
	}

	type result struct {
		v   any
		err error
	}
	ch := make(chan result, 1)
	unit := func(context.Context) {
		v, err := p.callInline(withLane(ctx, l), l, fn)
		ch <- result{v, err}
	}
	if !p.RunOn(l, unit) {
		return nil, &ExecutionFailure{Lane: l.name, Err: ErrPoolClosed}
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &ExecutionFailure{Lane: l.name, Err: r.err}
		}
		return r.v, nil
	case <-ctx.Done():
		return nil, &ExecutionFailure{Lane: l.name, Err: ctx.Err()}
	}
}

// callInline runs fn, converting a panic into a *PanicError.
func (p *Pool) callInline(ctx context.Context, l *Lane, fn func(context.Context) (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Value: r, Stack: debug.Stack()}
			l.failed.Add(1)
			p.metrics.Failed(p.name)
			p.log.Error("lane call panicked", logger.KeyLane, l.name, logger.Err(pe))
			v, err = nil, pe
		}
	}()
	return fn(ctx)
}

// CallFor is a typed wrapper around Pool.Call.
func CallFor[T any](ctx context.Context, p *Pool, key any, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := p.Call(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

// Shutdown stops accepting work, lets every lane drain its queue and waits for
// the lane goroutines to exit or ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, l := range p.lanes {
		l.close()
	}
	for _, l := range p.lanes {
		select {
		case <-l.done:
		case <-ctx.Done():
			p.log.Warn("shutdown deadline exceeded", logger.KeyLane, l.name, logger.KeyCount, l.Pending())
			return ctx.Err()
		}
	}
	p.log.Debug("pool drained", logger.KeyCount, len(p.lanes))
	return nil
}

// LaneStats is a point-in-time view of one lane.
type LaneStats struct {
	Name      string
	Pending   int
	Processed uint64
	Failed    uint64
}

// Stats returns per-lane counters.
func (p *Pool) Stats() []LaneStats {
	out := make([]LaneStats, len(p.lanes))
	for i, l := range p.lanes {
		out[i] = LaneStats{
			Name:      l.name,
			Pending:   l.Pending(),
			Processed: l.processed.Load(),
			Failed:    l.failed.Load(),
		}
	}
	return out
}

func laneName(pool string, i int) string {
	return pool + "-p" + strconv.Itoa(i)
}
