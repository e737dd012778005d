// Package singleflight coalesces concurrent loads of the same key.
package singleflight

import (
	"context"
	"fmt"
	"sync"
)

// Group runs at most one fn per key at a time; concurrent callers for the
// key share its result.
//
// fn runs on its own goroutine under a context that keeps the first caller's
// values but not its cancellation, so a caller giving up never fails the
// others. Every caller, the first one included, returns ctx.Err() once its
// own ctx ends; fn keeps running and its result still reaches later waiters.
// fn must bound itself (e.g. with a timeout).
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed once val/err are published
	val  V
	err  error
	dups int // callers that joined after the first
}

// PanicError is handed to every caller when fn panicked.
type PanicError struct{ Value any }

func (p *PanicError) Error() string { return fmt.Sprintf("singleflight: load panicked: %v", p.Value) }

// Do runs fn once for key, or joins the call already in flight.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(ctx context.Context) (V, error)) (V, error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	c, ok := g.m[key]
	if ok {
		c.dups++
	} else {
		c = &call[V]{done: make(chan struct{})}
		g.m[key] = c
		go g.run(context.WithoutCancel(ctx), key, c, fn)
	}
	g.mu.Unlock()

	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (g *Group[K, V]) run(ctx context.Context, key K, c *call[V], fn func(context.Context) (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			c.val, c.err = zero, &PanicError{Value: r}
		}
		g.publish(key, c)
	}()
	c.val, c.err = fn(ctx)
}

func (g *Group[K, V]) publish(key K, c *call[V]) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
	close(c.done)
}

// InFlight returns the number of keys with a running call.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
