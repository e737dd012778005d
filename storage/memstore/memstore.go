// Package memstore is an in-memory storage.Accessor. Documents are kept in
// their encoded form, so reads always return fresh instances. Every write is
// recorded, which makes the store useful for asserting persistence behaviour
// in tests.
package memstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/IvanBrykalov/writebehind/entity"
	"github.com/IvanBrykalov/writebehind/storage"
	"github.com/IvanBrykalov/writebehind/tracker"
)

// Record is one applied write.
type Record struct {
	Op     storage.Op
	Kind   string
	Key    string
	Fields []string // updated fields, for OpUpdate
}

type collection struct {
	mu   sync.RWMutex
	docs map[string]storage.Document
}

// Store is safe for concurrent use.
type Store struct {
	colls  *xsync.MapOf[string, *collection]
	closed atomic.Bool

	mu      sync.Mutex
	records []Record

	// Hook, when set, runs before every write and may fail it.
	hook atomic.Pointer[func(Record) error]
}

// New returns an empty store.
func New() *Store {
	return &Store{colls: xsync.NewMapOf[string, *collection]()}
}

var _ storage.Accessor = (*Store)(nil)

// SetHook installs fn to run before each write; a non-nil error fails the
// write. Pass nil to remove it.
func (s *Store) SetHook(fn func(Record) error) {
	if fn == nil {
		s.hook.Store(nil)
		return
	}
	s.hook.Store(&fn)
}

func (s *Store) coll(kind string) *collection {
	c, _ := s.colls.LoadOrCompute(kind, func() *collection {
		return &collection{docs: make(map[string]storage.Document)}
	})
	return c
}

func (s *Store) before(r Record) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if fn := s.hook.Load(); fn != nil {
		return (*fn)(r)
	}
	return nil
}

func (s *Store) record(r Record) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
}

// Records returns the applied writes in order.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Count returns how many writes of op were applied to kind (any kind when
// kind is "").
func (s *Store) Count(op storage.Op, kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.Op == op && (kind == "" || r.Kind == kind) {
			n++
		}
	}
	return n
}

// Reset clears the write log.
func (s *Store) Reset() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

// Document returns the stored document for (kind, pk).
func (s *Store) Document(kind string, pk any) (storage.Document, bool) {
	c := s.coll(kind)
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[storage.KeyString(pk)]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Len returns the number of documents of kind.
func (s *Store) Len(kind string) int {
	c := s.coll(kind)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func (s *Store) Find(ctx context.Context, kind entity.Descriptor, pk any) (entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	c := s.coll(kind.Name())
	c.mu.RLock()
	d, ok := c.docs[storage.KeyString(pk)]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d.Decode(kind)
}

func (s *Store) FindAll(ctx context.Context, kind entity.Descriptor) ([]entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	c := s.coll(kind.Name())
	c.mu.RLock()
	docs := make([]storage.Document, 0, len(c.docs))
	for _, k := range storage.SortedKeys(c.docs) {
		docs = append(docs, c.docs[k])
	}
	c.mu.RUnlock()

	out := make([]entity.Entity, 0, len(docs))
	for _, d := range docs {
		e, err := d.Decode(kind)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, kind entity.Descriptor, e entity.Entity) error {
	n, err := s.insert(ctx, kind, e)
	if err != nil {
		return err
	}
	if n == 0 {
		return &storage.WriteError{Op: storage.OpInsert, Kind: kind.Name(), Key: e.PrimaryKey(), Expected: 1, Err: storage.ErrDuplicateKey}
	}
	return nil
}

func (s *Store) BatchInsert(ctx context.Context, kind entity.Descriptor, es []entity.Entity) error {
	done := 0
	for _, e := range es {
		n, err := s.insert(ctx, kind, e)
		if err != nil {
			return err
		}
		done += n
	}
	return storage.CheckCount(storage.OpInsert, kind.Name(), nil, len(es), done)
}

func (s *Store) insert(ctx context.Context, kind entity.Descriptor, e entity.Entity) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r := Record{Op: storage.OpInsert, Kind: kind.Name(), Key: storage.KeyString(e.PrimaryKey())}
	if err := s.before(r); err != nil {
		return 0, err
	}
	doc, err := storage.Encode(e)
	if err != nil {
		return 0, err
	}
	c := s.coll(kind.Name())
	c.mu.Lock()
	if _, exists := c.docs[r.Key]; exists {
		c.mu.Unlock()
		return 0, nil
	}
	c.docs[r.Key] = doc
	c.mu.Unlock()
	s.record(r)
	return 1, nil
}

func (s *Store) Replace(ctx context.Context, kind entity.Descriptor, e entity.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := Record{Op: storage.OpReplace, Kind: kind.Name(), Key: storage.KeyString(e.PrimaryKey())}
	if err := s.before(r); err != nil {
		return err
	}
	doc, err := storage.Encode(e)
	if err != nil {
		return err
	}
	c := s.coll(kind.Name())
	c.mu.Lock()
	c.docs[r.Key] = doc
	c.mu.Unlock()
	s.record(r)
	return nil
}

func (s *Store) Update(ctx context.Context, kind entity.Descriptor, e entity.Entity, d tracker.Delta) error {
	n, err := s.update(ctx, kind, e, d)
	if err != nil {
		return err
	}
	return storage.CheckCount(storage.OpUpdate, kind.Name(), e.PrimaryKey(), 1, n)
}

func (s *Store) BatchUpdate(ctx context.Context, kind entity.Descriptor, es []entity.Entity, ds []tracker.Delta) error {
	if len(es) != len(ds) {
		return &storage.WriteError{Op: storage.OpUpdate, Kind: kind.Name(), Expected: len(es), Actual: len(ds)}
	}
	done := 0
	for i := range es {
		n, err := s.update(ctx, kind, es[i], ds[i])
		if err != nil {
			return err
		}
		done += n
	}
	return storage.CheckCount(storage.OpUpdate, kind.Name(), nil, len(es), done)
}

func (s *Store) update(ctx context.Context, kind entity.Descriptor, e entity.Entity, d tracker.Delta) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r := Record{Op: storage.OpUpdate, Kind: kind.Name(), Key: storage.KeyString(e.PrimaryKey()), Fields: d.Fields()}
	if err := s.before(r); err != nil {
		return 0, err
	}
	c := s.coll(kind.Name())
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.docs[r.Key]
	if !ok {
		return 0, nil
	}
	next := cur.Clone()
	if err := next.Apply(d); err != nil {
		return 0, err
	}
	c.docs[r.Key] = next
	s.record(r)
	return 1, nil
}

func (s *Store) Delete(ctx context.Context, kind entity.Descriptor, e entity.Entity) error {
	return s.DeleteByKey(ctx, kind, e.PrimaryKey())
}

func (s *Store) DeleteByKey(ctx context.Context, kind entity.Descriptor, pk any) error {
	n, err := s.delete(ctx, kind, pk)
	if err != nil {
		return err
	}
	return storage.CheckCount(storage.OpDelete, kind.Name(), pk, 1, n)
}

func (s *Store) BatchDelete(ctx context.Context, kind entity.Descriptor, es []entity.Entity) error {
	pks := make([]any, len(es))
	for i, e := range es {
		pks[i] = e.PrimaryKey()
	}
	return s.BatchDeleteByKey(ctx, kind, pks)
}

func (s *Store) BatchDeleteByKey(ctx context.Context, kind entity.Descriptor, pks []any) error {
	done := 0
	for _, pk := range pks {
		n, err := s.delete(ctx, kind, pk)
		if err != nil {
			return err
		}
		done += n
	}
	return storage.CheckCount(storage.OpDelete, kind.Name(), nil, len(pks), done)
}

func (s *Store) delete(ctx context.Context, kind entity.Descriptor, pk any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r := Record{Op: storage.OpDelete, Kind: kind.Name(), Key: storage.KeyString(pk)}
	if err := s.before(r); err != nil {
		return 0, err
	}
	c := s.coll(kind.Name())
	c.mu.Lock()
	_, ok := c.docs[r.Key]
	delete(c.docs, r.Key)
	c.mu.Unlock()
	if !ok {
		return 0, nil
	}
	s.record(r)
	return 1, nil
}

// Close makes later calls fail with storage.ErrClosed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
