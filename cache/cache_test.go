package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type fakeClock struct{ t atomic.Int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

type evictLog[K comparable] struct {
	mu      sync.Mutex
	keys    []K
	reasons []EvictReason
}

func (l *evictLog[K]) record(k K, reason EvictReason) {
	l.mu.Lock()
	l.keys = append(l.keys, k)
	l.reasons = append(l.reasons, reason)
	l.mu.Unlock()
}

func (l *evictLog[K]) snapshot() ([]K, []EvictReason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]K(nil), l.keys...), append([]EvictReason(nil), l.reasons...)
}

// Reads refresh the idle deadline; an untouched entry expires.
func TestCache_ExpireAfterAccess(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	var log evictLog[string]
	c := New[string, string](Options[string, string]{
		Capacity:          4,
		ExpireAfterAccess: 100 * time.Millisecond,
		Clock:             clk,
		OnEvict:           func(_ context.Context, k string, _ string, r EvictReason) { log.record(k, r) },
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("x", "v")
	clk.add(80 * time.Millisecond)
	if _, ok := c.Get("x"); !ok {
		t.Fatal("fresh miss")
	}
	clk.add(80 * time.Millisecond)
	if _, ok := c.Get("x"); !ok {
		t.Fatal("read must refresh the idle deadline")
	}
	clk.add(101 * time.Millisecond)
	if _, ok := c.Get("x"); ok {
		t.Fatal("idle entry must expire")
	}
	// Get only hides the entry; the eviction is left to an expiring call.
	if keys, _ := log.snapshot(); len(keys) != 0 {
		t.Fatalf("Get must not run OnEvict, got %v", keys)
	}
	if _, err := c.GetOrLoad(context.Background(), "x"); err != ErrNoLoader {
		t.Fatalf("want ErrNoLoader after the expired entry is evicted, got %v", err)
	}

	keys, reasons := log.snapshot()
	if len(keys) != 1 || keys[0] != "x" || reasons[0] != EvictExpired {
		t.Fatalf("want one expired eviction of x, got %v %v", keys, reasons)
	}
}

func TestCache_ExpireStale(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	var flushed atomic.Int32
	c := New[int, int](Options[int, int]{
		Capacity:          16,
		Shards:            4,
		ExpireAfterAccess: time.Minute,
		Clock:             clk,
		OnEvict:           func(context.Context, int, int, EvictReason) { flushed.Add(1) },
	})
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 6; i++ {
		c.Set(i, i)
	}
	clk.add(30 * time.Second)
	c.Set(100, 100) // fresh
	c.Get(0)        // refreshed

	if n := c.ExpireStale(context.Background()); n != 0 {
		t.Fatalf("nothing is idle yet, expired %d", n)
	}
	clk.add(45 * time.Second)
	if n := c.ExpireStale(context.Background()); n != 5 {
		t.Fatalf("want 5 expired, got %d", n)
	}
	if got := flushed.Load(); got != 5 {
		t.Fatalf("OnEvict must run per expired entry, got %d", got)
	}
	if c.Len() != 2 {
		t.Fatalf("want 2 resident, got %d", c.Len())
	}
}

// Add inserts only if key is absent; Set updates; Remove deletes silently.
func TestCache_BasicAddSetGetRemove(t *testing.T) {
	t.Parallel()

	var evicted atomic.Int32
	c := New[string, int](Options[string, int]{
		Capacity: 8,
		OnEvict:  func(context.Context, string, int, EvictReason) { evicted.Add(1) },
	})
	t.Cleanup(func() { _ = c.Close() })

	if !c.Add("a", 1) {
		t.Fatal("Add a=1 must be true")
	}
	if c.Add("a", 2) {
		t.Fatal("Add duplicate must be false")
	}

	c.Set("a", 11)
	if v, ok := c.Get("a"); !ok || v != 11 {
		t.Fatalf("Get a want 11, got %v ok=%v", v, ok)
	}

	if !c.Remove("a") {
		t.Fatal("Remove a must be true")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("a must be absent after Remove")
	}
	if evicted.Load() != 0 {
		t.Fatal("Remove must not call OnEvict")
	}
}

// Single shard, small capacity: accessing "a" promotes it, inserting "c"
// evicts the LRU entry ("b") through OnEvict.
func TestCache_EvictionLRU(t *testing.T) {
	t.Parallel()

	var log evictLog[string]
	c := New[string, int](Options[string, int]{
		Capacity: 2,
		Shards:   1,
		OnEvict:  func(_ context.Context, k string, _ int, r EvictReason) { log.record(k, r) },
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expect hit for a")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("b must be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a must survive (promoted)")
	}
	keys, reasons := log.snapshot()
	if len(keys) != 1 || keys[0] != "b" || reasons[0] != EvictSize {
		t.Fatalf("want size eviction of b, got %v %v", keys, reasons)
	}
	if st := c.Stats(); st.Evictions != 1 || st.Entries != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

// With room for one entry, loading a second evicts the first.
func TestCache_CapacityOne(t *testing.T) {
	t.Parallel()

	var log evictLog[int]
	c := New[int, string](Options[int, string]{
		Capacity: 1,
		OnEvict:  func(_ context.Context, k int, _ string, r EvictReason) { log.record(k, r) },
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set(1, "one")
	c.Set(2, "two")
	keys, _ := log.snapshot()
	if len(keys) != 1 || keys[0] != 1 {
		t.Fatalf("want key 1 evicted, got %v", keys)
	}
	if c.Len() != 1 {
		t.Fatalf("want 1 resident, got %d", c.Len())
	}
}

func TestCache_ExplicitEvict(t *testing.T) {
	t.Parallel()

	var log evictLog[string]
	c := New[string, int](Options[string, int]{
		Capacity: 4,
		OnEvict:  func(_ context.Context, k string, _ int, r EvictReason) { log.record(k, r) },
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1)
	if !c.Evict(context.Background(), "a") {
		t.Fatal("Evict a must be true")
	}
	if c.Evict(context.Background(), "a") {
		t.Fatal("second Evict must be false")
	}
	keys, reasons := log.snapshot()
	if len(keys) != 1 || reasons[0] != EvictExplicit {
		t.Fatalf("want one explicit eviction, got %v %v", keys, reasons)
	}
}

// OnEvict runs without the shard lock, so it may use the cache itself.
func TestCache_OnEvictOutsideLock(t *testing.T) {
	t.Parallel()

	var c Cache[string, int]
	seenSelf := make(chan bool, 1)
	c = New[string, int](Options[string, int]{
		Capacity: 1,
		Shards:   1,
		OnEvict: func(_ context.Context, k string, _ int, _ EvictReason) {
			_, ok := c.Get(k)
			seenSelf <- ok
			c.Get("b")
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1)
	done := make(chan struct{})
	go func() {
		c.Set("b", 2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnEvict deadlocked against the shard lock")
	}
	if <-seenSelf {
		t.Fatal("Get must report an evicting key as absent")
	}
}

// A load for a key whose eviction is in flight waits for OnEvict to finish,
// so it never reads data older than the flush.
func TestCache_GetOrLoadWaitsForEviction(t *testing.T) {
	t.Parallel()

	var (
		flushed atomic.Bool
		release = make(chan struct{})
		inEvict = make(chan struct{})
	)
	c := New[string, string](Options[string, string]{
		Capacity: 4,
		OnEvict: func(context.Context, string, string, EvictReason) {
			close(inEvict)
			<-release
			flushed.Store(true)
		},
		Loader: func(_ context.Context, k string) (string, error) {
			if !flushed.Load() {
				return "", fmt.Errorf("load of %s ran before its flush", k)
			}
			return "reloaded", nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("k", "v")
	go c.Evict(context.Background(), "k")
	<-inEvict

	res := make(chan error, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), "k")
		if err == nil && v != "reloaded" {
			err = fmt.Errorf("got %q", v)
		}
		res <- err
	}()

	select {
	case err := <-res:
		t.Fatalf("GetOrLoad returned during eviction: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if err := <-res; err != nil {
		t.Fatal(err)
	}
}

func TestCache_GetOrLoadContextWhileEvicting(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	inEvict := make(chan struct{})
	c := New[int, int](Options[int, int]{
		Capacity: 4,
		OnEvict: func(context.Context, int, int, EvictReason) {
			close(inEvict)
			<-release
		},
		Loader: func(context.Context, int) (int, error) { return 1, nil },
	})
	t.Cleanup(func() {
		close(release)
		_ = c.Close()
	})

	c.Set(1, 1)
	go c.Evict(context.Background(), 1)
	<-inEvict

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.GetOrLoad(ctx, 1); err != context.DeadlineExceeded {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestCache_Range(t *testing.T) {
	t.Parallel()

	c := New[int, int](Options[int, int]{Capacity: 64, Shards: 4})
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 10; i++ {
		c.Set(i, i*i)
	}
	seen := map[int]int{}
	c.Range(func(k, v int) bool {
		seen[k] = v
		return true
	})
	if len(seen) != 10 || seen[3] != 9 {
		t.Fatalf("unexpected range result %v", seen)
	}

	n := 0
	c.Range(func(int, int) bool {
		n++
		return n < 3
	})
	if n != 3 {
		t.Fatalf("Range must stop when fn returns false, visited %d", n)
	}
}

func TestCache_Closed(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{
		Capacity: 4,
		Loader:   func(context.Context, string) (int, error) { return 1, nil },
	})
	c.Set("a", 1)
	_ = c.Close()

	if _, ok := c.Get("a"); ok {
		t.Fatal("Get after Close must miss")
	}
	if _, err := c.GetOrLoad(context.Background(), "a"); err != ErrClosed {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	n := 0
	c.Range(func(string, int) bool { n++; return true })
	if n != 1 {
		t.Fatal("Range still visits resident entries after Close")
	}
}

// Concurrent GetOrLoad calls for the same key trigger the Loader once.
func TestCache_GetOrLoad_Singleflight(t *testing.T) {
	var calls int64

	c := New[string, string](Options[string, string]{
		Capacity: 64,
		Loader: func(_ context.Context, k string) (string, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(5 * time.Millisecond) // simulate I/O
			return "v:" + k, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	const N = 64
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := c.GetOrLoad(ctx, "k")
			if err != nil {
				return err
			}
			if v != "v:k" {
				return fmt.Errorf("got %q", v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("loader must run exactly once, got %d", got)
	}
	if _, err := New[int, int](Options[int, int]{Capacity: 1}).GetOrLoad(ctx, 1); err != ErrNoLoader {
		t.Fatalf("want ErrNoLoader, got %v", err)
	}
}

func TestNamedPolicy(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "lru", "LRU", "2q"} {
		p, err := NamedPolicy[string, int](name, 100, 4)
		if err != nil || p == nil {
			t.Fatalf("%q: %v", name, err)
		}
		c := New[string, int](Options[string, int]{Capacity: 100, Shards: 4, Policy: p})
		c.Set("a", 1)
		if _, ok := c.Get("a"); !ok {
			t.Fatalf("%q: miss after Set", name)
		}
	}
	if _, err := NamedPolicy[string, int]("arc", 100, 4); err == nil {
		t.Fatal("unknown policy must fail")
	}
}

// Peek neither promotes nor counts.
func TestCache_PeekLeavesOrderAndCounters(t *testing.T) {
	t.Parallel()

	var log evictLog[string]
	c := New[string, int](Options[string, int]{
		Capacity: 2,
		Shards:   1,
		OnEvict:  func(_ context.Context, k string, _ int, r EvictReason) { log.record(k, r) },
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", 1)
	c.Set("b", 2)
	if v, ok := c.Peek("a"); !ok || v != 1 {
		t.Fatalf("Peek(a) = %d, %v", v, ok)
	}
	if _, ok := c.Peek("zzz"); ok {
		t.Fatal("Peek of a missing key must miss")
	}
	c.Set("c", 3)

	keys, _ := log.snapshot()
	if len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("Peek must not promote: want a evicted, got %v", keys)
	}
	if st := c.Stats(); st.Hits != 0 || st.Misses != 0 {
		t.Fatalf("Peek must not count: %+v", st)
	}
}
