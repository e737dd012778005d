package executor

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/IvanBrykalov/writebehind/internal/logger"
	"github.com/IvanBrykalov/writebehind/internal/util"
)

// Lane is one single-worker execution context. Its queue is unbounded so a
// unit may submit follow-up work to its own lane without blocking.
type Lane struct {
	name  string
	index int
	pool  *Pool

	// ---- guarded by mu ----
	mu      sync.Mutex
	pending []func(context.Context)
	closed  bool

	signal chan struct{} // cap 1; nudges the worker after a push
	done   chan struct{} // closed when the worker exits

	_         util.CacheLinePad
	processed util.PaddedAtomicUint64
	failed    util.PaddedAtomicUint64
}

func newLane(p *Pool, index int) *Lane {
	return &Lane{
		name:   laneName(p.name, index),
		index:  index,
		pool:   p,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Name returns the lane's name, e.g. "io-p3".
func (l *Lane) Name() string { return l.name }

// Index returns the lane's position in its pool.
func (l *Lane) Index() int { return l.index }

// push enqueues fn. Returns false once the lane is closed.
func (l *Lane) push(fn func(context.Context)) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting work; the worker drains what is queued and exits.
func (l *Lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, not yet started units.
func (l *Lane) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// loop is the lane's worker goroutine.
func (l *Lane) loop() {
	defer close(l.done)

	ctx := withLane(context.Background(), l)
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		closed := l.closed
		l.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-l.signal
			continue
		}
		for i, fn := range batch {
			batch[i] = nil
			l.exec(ctx, fn)
		}
	}
}

// exec runs one unit, isolating the lane from its panics.
func (l *Lane) exec(ctx context.Context, fn func(context.Context)) {
	start := time.Now()
	err := safeRun(ctx, fn)
	l.processed.Add(1)
	if err != nil {
		l.failed.Add(1)
		l.pool.metrics.Failed(l.pool.name)
		l.pool.log.Error("lane task failed",
			logger.KeyLane, l.name,
			logger.Err(err),
			slog.String("stack", string(err.(*PanicError).Stack)),
		)
		return
	}
	l.pool.metrics.Completed(l.pool.name, time.Since(start))
}

func safeRun(ctx context.Context, fn func(context.Context)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn(ctx)
	return nil
}

type laneKey struct{}

func withLane(ctx context.Context, l *Lane) context.Context {
	return context.WithValue(ctx, laneKey{}, l)
}

// LaneFromContext returns the lane the current unit runs on, or nil when ctx
// does not originate from a lane.
func LaneFromContext(ctx context.Context) *Lane {
	l, _ := ctx.Value(laneKey{}).(*Lane)
	return l
}
