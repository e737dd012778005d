package cache

import (
	"context"
	"strings"
	"testing"
)

// Fuzz basic Set/Get/Evict/Remove semantics under arbitrary string inputs.
func FuzzCache_SetGetRemove(f *testing.F) {
	f.Add("", "")
	f.Add("a", "1")
	f.Add("αβγ", "δ")
	f.Add("emoji🙂", "🙂🙂")
	f.Add("long", strings.Repeat("x", 1024))

	f.Fuzz(func(t *testing.T, k, v string) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}

		var flushedKey, flushedVal string
		flushes := 0
		c := New[string, string](Options[string, string]{
			Capacity: 16,
			OnEvict: func(_ context.Context, fk, fv string, _ EvictReason) {
				flushedKey, flushedVal = fk, fv
				flushes++
			},
		})
		t.Cleanup(func() { _ = c.Close() })

		c.Set(k, v)
		got, ok := c.Get(k)
		if !ok || got != v {
			t.Fatalf("after Set/Get: want %q, got %q ok=%v", v, got, ok)
		}

		if c.Add(k, "other") {
			t.Fatalf("Add duplicate returned true")
		}
		if got2, ok := c.Get(k); !ok || got2 != v {
			t.Fatalf("after duplicate Add: want %q, got %q ok=%v", v, got2, ok)
		}

		if !c.Evict(context.Background(), k) {
			t.Fatalf("Evict must return true")
		}
		if flushes != 1 || flushedKey != k || flushedVal != v {
			t.Fatalf("OnEvict got (%q, %q) x%d", flushedKey, flushedVal, flushes)
		}

		if !c.Add(k, v) {
			t.Fatalf("Add after Evict must return true")
		}
		if !c.Remove(k) {
			t.Fatalf("Remove must return true")
		}
		if _, ok := c.Get(k); ok {
			t.Fatalf("key must be absent after Remove")
		}
		if flushes != 1 {
			t.Fatalf("Remove must not flush")
		}
	})
}
