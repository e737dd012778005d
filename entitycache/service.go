package entitycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/writebehind/executor"
	"github.com/IvanBrykalov/writebehind/internal/logger"
	"github.com/IvanBrykalov/writebehind/internal/telemetry"
	"github.com/IvanBrykalov/writebehind/storage"
	"github.com/IvanBrykalov/writebehind/storage/routed"
	"github.com/IvanBrykalov/writebehind/tracker"
)

// repository is the untyped view the service drives.
type repository interface {
	name() string
	// sweep expires idle entities and schedules a dirty check for every
	// remaining one. It returns how many checks were scheduled and how many
	// entities expired.
	sweep(ctx context.Context, wg *sync.WaitGroup) (scheduled, expired int)
	// flushAll writes every cached entity in full.
	flushAll(ctx context.Context, g *errgroup.Group)
	close()
}

// Service owns the executor pools, the routed storage and the repositories.
type Service struct {
	io      *executor.Pool
	cpu     *executor.Pool
	store   *routed.Accessor
	tracker *tracker.Tracker
	repos   *xsync.MapOf[string, repository]

	opt     Options
	log     *slog.Logger
	metrics Metrics

	mu      sync.Mutex
	started bool
	stopped bool
	quit    chan struct{}
	done    chan struct{}
}

// New builds a service persisting through acc. The service does not close
// acc; the caller owns it.
func New(acc storage.Accessor, opt Options) *Service {
	if opt.PersistInterval == 0 {
		opt.PersistInterval = DefaultPersistInterval
	}
	if opt.StopParallelism <= 0 {
		opt.StopParallelism = DefaultStopParallelism
	}
	if opt.ExpireAfterAccess == 0 {
		opt.ExpireAfterAccess = DefaultExpireAfter
	}
	if opt.MaxEntries <= 0 {
		opt.MaxEntries = DefaultMaxEntries
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	log := logger.Or(opt.Logger)
	if opt.Tracker == nil {
		opt.Tracker = tracker.New(tracker.WithLogger(log))
	}

	io := executor.New(executor.Options{
		Name: "io", Multiplier: 2, Lanes: opt.IOLanes, Logger: log, Metrics: opt.PoolMetrics,
	})
	cpu := executor.New(executor.Options{
		Name: "cpu", Multiplier: 1, Lanes: opt.CPULanes, Logger: log, Metrics: opt.PoolMetrics,
	})

	return &Service{
		io:      io,
		cpu:     cpu,
		store:   routed.New(acc, io, routed.Options{CallTimeout: opt.CallTimeout, Logger: log, Metrics: opt.StorageMetrics}),
		tracker: opt.Tracker,
		repos:   xsync.NewMapOf[string, repository](),
		opt:     opt,
		log:     log.With("component", "entitycache"),
		metrics: opt.Metrics,
	}
}

func (s *Service) callTimeout() time.Duration {
	if s.opt.CallTimeout > 0 {
		return s.opt.CallTimeout
	}
	return routed.DefaultCallTimeout
}

// IO returns the pool storage writes run on.
func (s *Service) IO() *executor.Pool { return s.io }

// CPU returns the pool dirty checks and mutations run on.
func (s *Service) CPU() *executor.Pool { return s.cpu }

// Storage returns the routed accessor every repository writes through.
func (s *Service) Storage() *routed.Accessor { return s.store }

// Tracker returns the dirty-field tracker.
func (s *Service) Tracker() *tracker.Tracker { return s.tracker }

// Start launches the periodic persistence loop. It is a no-op when called
// twice, after Stop, or with a negative PersistInterval.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped || s.opt.PersistInterval < 0 {
		return
	}
	s.started = true
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.opt.PersistInterval)
	s.log.Info("persistence scheduler started", logger.KeyDuration, s.opt.PersistInterval)
}

func (s *Service) loop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				s.log.Warn("sweep failed", logger.Err(err))
			}
		case <-s.quit:
			return
		}
	}
}

// Sweep runs one persistence pass over every repository: idle entities are
// evicted (and written in full), then each cached entity is dirty-checked on
// its CPU lane and its changes are queued as a partial update. Sweep returns
// once every check has run; the writes themselves complete asynchronously.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSweep)
	defer span.End()

	var wg sync.WaitGroup
	total := 0
	s.repos.Range(func(_ string, r repository) bool {
		start := time.Now()
		n, expired := r.sweep(ctx, &wg)
		total += n
		s.metrics.Sweep(r.name(), n, expired, time.Since(start))
		return true
	})

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return total, ctx.Err()
	}
	span.SetAttributes(telemetry.Count(total))
	s.log.Debug("sweep done", logger.KeyCount, total)
	return total, nil
}

// Stop ends the persistence loop, writes every cached entity in full and
// waits for those writes, then drains the CPU pool and the I/O pool. After
// Stop, repositories reject loads.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if started {
		close(s.quit)
		<-s.done
	}

	s.repos.Range(func(_ string, r repository) bool {
		r.close()
		return true
	})

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSweep, trace.WithAttributes(telemetry.Full(true)))
	// One failed write must not cancel the others.
	var g errgroup.Group
	g.SetLimit(s.opt.StopParallelism)
	s.repos.Range(func(_ string, r repository) bool {
		r.flushAll(ctx, &g)
		return true
	})
	flushErr := g.Wait()
	telemetry.End(span, flushErr)
	if flushErr != nil {
		flushErr = fmt.Errorf("entitycache: final flush: %w", flushErr)
	}

	cpuErr := s.cpu.Shutdown(ctx)
	ioErr := s.io.Shutdown(ctx)
	s.log.Info("entity cache stopped")
	return errors.Join(flushErr, cpuErr, ioErr)
}

func (s *Service) register(r repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, loaded := s.repos.LoadOrStore(r.name(), r); loaded {
		return fmt.Errorf("%w: %s", ErrKindRegistered, r.name())
	}
	return nil
}
