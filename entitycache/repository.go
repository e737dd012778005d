package entitycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/writebehind/cache"
	"github.com/IvanBrykalov/writebehind/entity"
	"github.com/IvanBrykalov/writebehind/internal/logger"
	"github.com/IvanBrykalov/writebehind/internal/telemetry"
	"github.com/IvanBrykalov/writebehind/storage"
)

// Repository caches the entities of one kind.
type Repository[PK comparable, E entity.Keyed[PK]] struct {
	svc   *Service
	kind  *entity.Kind[PK, E]
	cache cache.Cache[PK, E]
	log   *slog.Logger
}

// Register creates the repository for kind. Each kind name may be
// registered once per service.
func Register[PK comparable, E entity.Keyed[PK]](s *Service, kind *entity.Kind[PK, E], opts ...RepoOption) (*Repository[PK, E], error) {
	cfg := repoConfig{
		expireAfter: s.opt.ExpireAfterAccess,
		maxEntries:  s.opt.MaxEntries,
		policy:      s.opt.Policy,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxEntries <= 0 {
		return nil, fmt.Errorf("entitycache: %s: max entries must be > 0", kind.Name())
	}
	if cfg.expireAfter < 0 {
		cfg.expireAfter = 0
	}

	pol, err := cache.NamedPolicy[PK, E](cfg.policy, cfg.maxEntries, cfg.shards)
	if err != nil {
		return nil, err
	}

	r := &Repository[PK, E]{
		svc:  s,
		kind: kind,
		log:  s.log.With(logger.KeyKind, kind.Name()),
	}
	var m cache.Metrics
	if s.opt.CacheMetrics != nil {
		m = s.opt.CacheMetrics(kind.Name())
	}
	r.cache = cache.New(cache.Options[PK, E]{
		Capacity:          cfg.maxEntries,
		Shards:            cfg.shards,
		Policy:            pol,
		ExpireAfterAccess: cfg.expireAfter,
		Loader:            r.load,
		OnEvict:           r.onEvict,
		Metrics:           m,
		Clock:             cfg.clock,
	})

	if err := s.register(r); err != nil {
		return nil, err
	}
	r.log.Debug("repository registered",
		"max_entries", cfg.maxEntries,
		"expire_after", cfg.expireAfter,
	)
	return r, nil
}

// Kind returns the repository's kind.
func (r *Repository[PK, E]) Kind() *entity.Kind[PK, E] { return r.kind }

// Get returns the cached entity for pk, loading it from storage on a miss.
// When storage has no document a fresh entity keyed pk is created and
// inserted before it is returned. Concurrent misses for one key share a
// single load. Failures are reported as *LoadError.
func (r *Repository[PK, E]) Get(ctx context.Context, pk PK) (E, error) {
	e, err := r.cache.GetOrLoad(ctx, pk)
	if err != nil {
		var zero E
		var le *LoadError
		if errors.As(err, &le) {
			return zero, err
		}
		return zero, &LoadError{Kind: r.kind.Name(), Key: pk, Err: err}
	}
	return e, nil
}

// Cached returns the entity for pk only if it is resident. It never loads,
// evicts or blocks; an expired entity is reported absent.
func (r *Repository[PK, E]) Cached(pk PK) (E, bool) {
	return r.cache.Get(pk)
}

// Do loads the entity for pk and runs fn with it on the entity's CPU lane,
// where mutations are safe. The error is fn's, or a *LoadError.
//
// fn only ever sees the cached instance: if the entity was evicted between
// the load and fn's turn on the lane, it is reloaded and fn runs on the
// fresh copy.
func (r *Repository[PK, E]) Do(ctx context.Context, pk PK, fn func(ctx context.Context, e E) error) error {
	for {
		e, err := r.Get(ctx, pk)
		if err != nil {
			return err
		}
		detached := false
		_, err = r.svc.cpu.Call(ctx, e.RouteKey(), func(ctx context.Context) (any, error) {
			if cur, ok := r.cache.Peek(pk); !ok || any(cur) != any(e) {
				detached = true
				return nil, nil
			}
			return nil, fn(ctx, e)
		})
		if err != nil || !detached {
			return err
		}
		r.log.Debug("entity left the cache before its mutation ran, reloading", logger.KeyKey, pk)
	}
}

// Update persists e's changed fields now. The dirty check runs on e's CPU
// lane and the partial update is written before Update returns; nothing is
// written when no field changed.
func (r *Repository[PK, E]) Update(ctx context.Context, e E) error {
	_, err := r.svc.cpu.Call(ctx, e.RouteKey(), func(ctx context.Context) (any, error) {
		d, err := r.svc.tracker.Check(e)
		if err != nil {
			return nil, err
		}
		if d.IsEmpty() {
			return nil, nil
		}
		err = r.svc.store.UpdateNow(ctx, r.kind, e, d)
		r.svc.metrics.Flush(r.kind.Name(), false, err)
		return nil, err
	})
	return err
}

// Delete drops pk from the cache without writing it and deletes its
// document. A cached entity is dropped on its CPU lane, after any dirty
// check already queued for it; the delete itself is queued on the I/O lane
// and completes asynchronously.
func (r *Repository[PK, E]) Delete(ctx context.Context, pk PK) error {
	e, ok := r.cache.Peek(pk)
	if !ok {
		r.cache.Remove(pk)
		return r.svc.store.DeleteByKey(ctx, r.kind, pk)
	}
	_, err := r.svc.cpu.Call(ctx, e.RouteKey(), func(ctx context.Context) (any, error) {
		r.cache.Remove(pk)
		r.svc.tracker.Reset(e)
		return nil, r.svc.store.Delete(ctx, r.kind, e)
	})
	return err
}

// Evict removes pk from the cache, writing it in full first. It reports
// whether pk was resident.
func (r *Repository[PK, E]) Evict(ctx context.Context, pk PK) bool {
	return r.cache.Evict(ctx, pk)
}

// Preload caches every stored entity of the kind that is not cached yet and
// returns how many were added.
func (r *Repository[PK, E]) Preload(ctx context.Context) (int, error) {
	all, err := r.svc.store.FindAll(ctx, r.kind)
	if err != nil {
		return 0, &LoadError{Kind: r.kind.Name(), Err: err}
	}
	n := 0
	for _, x := range all {
		e, ok := x.(E)
		if !ok {
			return n, &LoadError{Kind: r.kind.Name(), Key: x.PrimaryKey(), Err: fmt.Errorf("unexpected type %T", x)}
		}
		if err := r.svc.tracker.Prime(e); err != nil {
			return n, &LoadError{Kind: r.kind.Name(), Key: e.Key(), Err: err}
		}
		if r.cache.Add(e.Key(), e) {
			n++
		}
	}
	r.log.Info("preloaded", logger.KeyCount, n)
	return n, nil
}

// Len returns the number of cached entities.
func (r *Repository[PK, E]) Len() int { return r.cache.Len() }

// Stats returns the cache counters.
func (r *Repository[PK, E]) Stats() cache.Stats { return r.cache.Stats() }

// ---- service hooks ----

func (r *Repository[PK, E]) name() string { return r.kind.Name() }

func (r *Repository[PK, E]) sweep(ctx context.Context, wg *sync.WaitGroup) (scheduled, expired int) {
	expired = r.cache.ExpireStale(ctx)
	r.cache.Range(func(_ PK, e E) bool {
		wg.Add(1)
		ok := r.svc.cpu.Run(e.RouteKey(), func(context.Context) {
			defer wg.Done()
			r.persistDelta(ctx, e)
		})
		if !ok {
			wg.Done()
			return false
		}
		scheduled++
		return true
	})
	return scheduled, expired
}

// persistDelta runs on e's CPU lane.
func (r *Repository[PK, E]) persistDelta(ctx context.Context, e E) {
	d, err := r.svc.tracker.Check(e)
	if err != nil {
		r.log.Error("dirty check failed", logger.KeyKey, e.Key(), logger.Err(err))
		return
	}
	if d.IsEmpty() {
		return
	}
	err = r.svc.store.Update(ctx, r.kind, e, d)
	r.svc.metrics.Flush(r.kind.Name(), false, err)
	if err != nil {
		r.log.Warn("partial update not queued", logger.KeyKey, e.Key(), logger.Err(err))
	}
}

func (r *Repository[PK, E]) flushAll(ctx context.Context, g *errgroup.Group) {
	r.cache.Range(func(_ PK, e E) bool {
		g.Go(func() error { return r.flush(ctx, e) })
		return true
	})
}

// flush writes e in full and waits for the result. The document is encoded
// on e's CPU lane, after every mutation and dirty check queued before it.
func (r *Repository[PK, E]) flush(ctx context.Context, e E) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFlush,
		trace.WithAttributes(telemetry.Kind(r.kind.Name()), telemetry.Key(e.Key()), telemetry.Full(true)))
	_, err := r.svc.cpu.Call(ctx, e.RouteKey(), func(ctx context.Context) (any, error) {
		return nil, r.svc.store.ReplaceNow(ctx, r.kind, e)
	})
	telemetry.End(span, err)
	r.svc.metrics.Flush(r.kind.Name(), true, err)
	return err
}

// onEvict runs with the context of the call that caused the eviction, so an
// eviction triggered from e's own lane flushes inline.
func (r *Repository[PK, E]) onEvict(ctx context.Context, pk PK, e E, reason cache.EvictReason) {
	if err := r.flush(context.WithoutCancel(ctx), e); err != nil {
		r.log.Error("flush on eviction failed",
			logger.KeyKey, pk,
			logger.KeyReason, reason.String(),
			logger.Err(err),
		)
		return
	}
	r.log.Debug("evicted", logger.KeyKey, pk, logger.KeyReason, reason.String())
}

func (r *Repository[PK, E]) close() { _ = r.cache.Close() }

// load is the cache loader: find, or create and insert. It runs detached
// from the caller's cancellation, bounded by the call timeout.
func (r *Repository[PK, E]) load(ctx context.Context, pk PK) (E, error) {
	ctx, cancel := context.WithTimeout(ctx, r.svc.callTimeout())
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLoad,
		trace.WithAttributes(telemetry.Kind(r.kind.Name()), telemetry.Key(pk)))

	e, created, err := r.findOrCreate(ctx, pk)
	if err == nil {
		err = r.svc.tracker.Prime(e)
	}
	telemetry.End(span, err)
	r.svc.metrics.Load(r.kind.Name(), created, err)
	if err != nil {
		var zero E
		return zero, &LoadError{Kind: r.kind.Name(), Key: pk, Err: err}
	}
	if created {
		r.log.Debug("created", logger.KeyKey, pk)
	}
	return e, nil
}

func (r *Repository[PK, E]) findOrCreate(ctx context.Context, pk PK) (E, bool, error) {
	var zero E
	found, err := r.svc.store.Find(ctx, r.kind, pk)
	if err == nil {
		e, ok := found.(E)
		if !ok {
			return zero, false, fmt.Errorf("unexpected type %T", found)
		}
		return e, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return zero, false, err
	}

	e, err := r.kind.Create(pk)
	if err != nil {
		return zero, false, err
	}
	err = r.svc.store.InsertNow(ctx, r.kind, e)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Inserted by someone else since the read.
		found, err := r.svc.store.Find(ctx, r.kind, pk)
		if err != nil {
			return zero, false, err
		}
		e, ok := found.(E)
		if !ok {
			return zero, false, fmt.Errorf("unexpected type %T", found)
		}
		return e, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return e, true, nil
}
