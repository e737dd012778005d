package tracker

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/IvanBrykalov/writebehind/internal/logger"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithCodec replaces the default JSON snapshot codec.
func WithCodec(c SnapshotCodec) Option {
	return func(t *Tracker) {
		if c != nil {
			t.codec = c
		}
	}
}

// WithLogger sets the logger used for snapshot failures.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// Tracker computes field-level deltas for tracked entities. It is stateless
// apart from its configuration; per-entity state lives in each entity's
// Fingerprints. Safe for concurrent use as long as each entity is checked from
// one goroutine at a time.
type Tracker struct {
	codec SnapshotCodec
	log   *slog.Logger
}

// New returns a Tracker using the JSON snapshot codec.
func New(opts ...Option) *Tracker {
	t := &Tracker{codec: JSONCodec{}}
	for _, o := range opts {
		o(t)
	}
	if t.log == nil {
		t.log = logger.L()
	}
	return t
}

// Check returns the fields of e that changed since the previous Check (or
// Prime) and records their new fingerprints, so calling Check again without
// further mutation yields an empty Delta.
//
// Values in the Delta never alias e: mutable values are deep copies.
// A field that cannot be snapshotted is logged and left out; its stale
// fingerprint makes the next Check try again.
func (t *Tracker) Check(e Tracked) (Delta, error) {
	var d Delta
	err := t.walk(e, &d)
	return d, err
}

// Prime records the current state of every field without producing a delta.
// Use it right after an entity is loaded from or written to storage.
func (t *Tracker) Prime(e Tracked) error {
	return t.walk(e, nil)
}

// Reset forgets the recorded state of e.
func (t *Tracker) Reset(e Tracked) {
	e.Fingerprints().Reset()
}

// Schema returns the cached schema of e's type.
func (t *Tracker) Schema(e any) (*Schema, error) {
	return SchemaOf(reflect.TypeOf(e))
}

func (t *Tracker) walk(e Tracked, d *Delta) error {
	rv := reflect.ValueOf(e)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: got %T", ErrNotStruct, e)
	}
	s, err := SchemaOf(rv.Type())
	if err != nil {
		return err
	}
	fp := e.Fingerprints()
	sv := rv.Elem()
	for i := range s.Fields {
		f := &s.Fields[i]
		t.checkField(e, fp, f, sv.FieldByIndex(f.Index), d)
	}
	return nil
}

// checkField updates fp for one field and appends to d (when non-nil) if the
// field changed.
func (t *Tracker) checkField(e Tracked, fp *Fingerprints, f *Field, v reflect.Value, d *Delta) {
	if f.Nullable() && v.IsNil() {
		if fp.Has(f.Name) {
			fp.forget(f.Name)
			if d != nil {
				d.Clear(f.Name)
			}
		}
		return
	}

	cls := f.class
	typ := f.Type
	if cls == classDynamic {
		typ = v.Elem().Type()
		cls = classify(typ)
	}

	h := cheapHash(v, 0)
	prev, seen := fp.hash(f.Name)

	switch cls {
	case classExact:
		if seen && prev == h {
			return
		}
		fp.setHash(f.Name, h)
		fp.dropSnapshot(f.Name)
		if d != nil {
			d.Set(f.Name, v.Interface())
		}

	case classImmutable:
		cur := v.Interface()
		if s, ok := fp.snapshot(f.Name); ok && sameValue(s.value, cur) {
			// Equal values may still hash apart, e.g. one instant in two zones.
			if !seen || prev != h {
				fp.setHash(f.Name, h)
			}
			return
		}
		fp.setHash(f.Name, h)
		fp.setSnapshot(f.Name, snapshot{value: cur})
		if d != nil {
			d.Set(f.Name, cur)
		}

	default:
		data, err := t.codec.Marshal(v.Interface())
		if err != nil {
			t.logSkip(e, f.Name, "snapshot", err)
			return
		}
		if s, ok := fp.snapshot(f.Name); ok && s.data != nil && bytes.Equal(s.data, data) {
			// Same content; the identity may have moved (e.g. reassigned slice).
			fp.setHash(f.Name, h)
			return
		}
		if d != nil {
			cp, err := t.codec.Unmarshal(data, typ)
			if err != nil {
				t.logSkip(e, f.Name, "copy", err)
				return
			}
			d.Set(f.Name, cp)
		}
		fp.setHash(f.Name, h)
		fp.setSnapshot(f.Name, snapshot{data: data})
	}
}

func sameValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if equalOperands(a, b) {
		return true
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	return va.IsValid() && vb.IsValid() && va.Type() == vb.Type() && sameBits(va, vb)
}

func equalOperands(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// sameBits compares two values of one type field by field, with floats
// compared by bit pattern so a NaN equals itself.
func sameBits(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Float32, reflect.Float64:
		return math.Float64bits(a.Float()) == math.Float64bits(b.Float())
	case reflect.Complex64, reflect.Complex128:
		ca, cb := a.Complex(), b.Complex()
		return math.Float64bits(real(ca)) == math.Float64bits(real(cb)) &&
			math.Float64bits(imag(ca)) == math.Float64bits(imag(cb))
	case reflect.Bool:
		return a.Bool() == b.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return a.Int() == b.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return a.Uint() == b.Uint()
	case reflect.String:
		return a.String() == b.String()
	case reflect.Pointer, reflect.UnsafePointer:
		return a.Pointer() == b.Pointer()
	case reflect.Array:
		for i := 0; i < a.Len(); i++ {
			if !sameBits(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Struct:
		if a.Type() == timeType && a.CanInterface() {
			return a.Interface().(time.Time).Equal(b.Interface().(time.Time))
		}
		for i := 0; i < a.NumField(); i++ {
			if !sameBits(a.Field(i), b.Field(i)) {
				return false
			}
		}
		return true
	}
	return false
}

type keyed interface {
	PrimaryKey() any
}

func (t *Tracker) logSkip(e Tracked, field, stage string, err error) {
	args := []any{
		logger.KeyField, field,
		slog.String("stage", stage),
		logger.Err(err),
		slog.String("type", fmt.Sprintf("%T", e)),
	}
	if k, ok := e.(keyed); ok {
		args = append(args, logger.KeyKey, k.PrimaryKey())
	}
	t.log.Warn("field skipped in dirty check", args...)
}
