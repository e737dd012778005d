// Package badgerstore is a storage.Accessor backed by an embedded BadgerDB.
//
// Documents are stored as JSON under "<kind>/<key>", so a kind's documents
// form one contiguous key range and FindAll is a prefix scan.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/IvanBrykalov/writebehind/entity"
	"github.com/IvanBrykalov/writebehind/internal/logger"
	"github.com/IvanBrykalov/writebehind/storage"
	"github.com/IvanBrykalov/writebehind/tracker"
)

// Options configures Open.
type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps everything in RAM; nothing touches disk.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	Logger     *slog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	db     *badgerdb.DB
	closed atomic.Bool
}

var _ storage.Accessor = (*Store)(nil)

// Open opens (or creates) the database described by opt.
func Open(opt Options) (*Store, error) {
	if !opt.InMemory && opt.Dir == "" {
		return nil, errors.New("badgerstore: Dir is required unless InMemory is set")
	}
	bo := badgerdb.DefaultOptions(opt.Dir).
		WithInMemory(opt.InMemory).
		WithSyncWrites(opt.SyncWrites).
		WithLogger(badgerLogger{logger.Or(opt.Logger).With("component", "badger")})
	if opt.InMemory {
		bo = bo.WithDir("").WithValueDir("")
	}
	db, err := badgerdb.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// ============================================================================
// Keys
// ============================================================================

const sep = "/"

func keyDoc(kind string, pk any) []byte {
	return []byte(kind + sep + storage.KeyString(pk))
}

func keyPrefix(kind string) []byte {
	return []byte(kind + sep)
}

// ============================================================================
// Reads
// ============================================================================

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return nil
}

func (s *Store) Find(ctx context.Context, kind entity.Descriptor, pk any) (entity.Entity, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var doc storage.Document
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		doc, err = getDoc(txn, keyDoc(kind.Name(), pk))
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badgerstore: find %s: %w", kind.Name(), err)
	}
	return doc.Decode(kind)
}

func (s *Store) FindAll(ctx context.Context, kind entity.Descriptor) ([]entity.Entity, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []entity.Entity
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := keyPrefix(kind.Name())
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc storage.Document
			err := it.Item().Value(func(val []byte) error {
				var err error
				doc, err = storage.ParseDocument(val)
				return err
			})
			if err != nil {
				return err
			}
			e, err := doc.Decode(kind)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore: find all %s: %w", kind.Name(), err)
	}
	return out, nil
}

func getDoc(txn *badgerdb.Txn, key []byte) (storage.Document, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var doc storage.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.ParseDocument(val)
		return err
	})
	return doc, err
}

func putDoc(txn *badgerdb.Txn, key []byte, doc storage.Document) error {
	data, err := doc.Bytes()
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// ============================================================================
// Writes
// ============================================================================

// step applies one element of a write inside txn and reports how many
// documents it affected.
type step func(txn *badgerdb.Txn, i int) (int, error)

// apply runs n steps in as few transactions as badger allows, committing
// early when a transaction grows too big.
func (s *Store) apply(ctx context.Context, n int, fn step) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	done := 0
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		c, err := fn(txn, i)
		if errors.Is(err, badgerdb.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return done, err
			}
			txn = s.db.NewTransaction(true)
			c, err = fn(txn, i)
		}
		if err != nil {
			return done, err
		}
		done += c
	}
	if err := txn.Commit(); err != nil {
		return done, err
	}
	return done, nil
}

func insertStep(kind string, es []entity.Entity) step {
	return func(txn *badgerdb.Txn, i int) (int, error) {
		key := keyDoc(kind, es[i].PrimaryKey())
		if _, err := txn.Get(key); err == nil {
			return 0, nil
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return 0, err
		}
		doc, err := storage.Encode(es[i])
		if err != nil {
			return 0, err
		}
		return 1, putDoc(txn, key, doc)
	}
}

func (s *Store) Insert(ctx context.Context, kind entity.Descriptor, e entity.Entity) error {
	n, err := s.apply(ctx, 1, insertStep(kind.Name(), []entity.Entity{e}))
	if err != nil {
		return err
	}
	if n == 0 {
		return &storage.WriteError{Op: storage.OpInsert, Kind: kind.Name(), Key: e.PrimaryKey(), Expected: 1, Err: storage.ErrDuplicateKey}
	}
	return nil
}

func (s *Store) BatchInsert(ctx context.Context, kind entity.Descriptor, es []entity.Entity) error {
	n, err := s.apply(ctx, len(es), insertStep(kind.Name(), es))
	if err != nil {
		return err
	}
	return storage.CheckCount(storage.OpInsert, kind.Name(), nil, len(es), n)
}

func (s *Store) Replace(ctx context.Context, kind entity.Descriptor, e entity.Entity) error {
	doc, err := storage.Encode(e)
	if err != nil {
		return err
	}
	_, err = s.apply(ctx, 1, func(txn *badgerdb.Txn, _ int) (int, error) {
		return 1, putDoc(txn, keyDoc(kind.Name(), e.PrimaryKey()), doc)
	})
	return err
}

func updateStep(kind string, es []entity.Entity, ds []tracker.Delta) step {
	return func(txn *badgerdb.Txn, i int) (int, error) {
		key := keyDoc(kind, es[i].PrimaryKey())
		doc, err := getDoc(txn, key)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if err := doc.Apply(ds[i]); err != nil {
			return 0, err
		}
		return 1, putDoc(txn, key, doc)
	}
}

func (s *Store) Update(ctx context.Context, kind entity.Descriptor, e entity.Entity, d tracker.Delta) error {
	n, err := s.apply(ctx, 1, updateStep(kind.Name(), []entity.Entity{e}, []tracker.Delta{d}))
	if err != nil {
		return err
	}
	return storage.CheckCount(storage.OpUpdate, kind.Name(), e.PrimaryKey(), 1, n)
}

func (s *Store) BatchUpdate(ctx context.Context, kind entity.Descriptor, es []entity.Entity, ds []tracker.Delta) error {
	if len(es) != len(ds) {
		return &storage.WriteError{Op: storage.OpUpdate, Kind: kind.Name(), Expected: len(es), Actual: len(ds)}
	}
	n, err := s.apply(ctx, len(es), updateStep(kind.Name(), es, ds))
	if err != nil {
		return err
	}
	return storage.CheckCount(storage.OpUpdate, kind.Name(), nil, len(es), n)
}

func deleteStep(kind string, pks []any) step {
	return func(txn *badgerdb.Txn, i int) (int, error) {
		key := keyDoc(kind, pks[i])
		if _, err := txn.Get(key); errors.Is(err, badgerdb.ErrKeyNotFound) {
			return 0, nil
		} else if err != nil {
			return 0, err
		}
		return 1, txn.Delete(key)
	}
}

func (s *Store) Delete(ctx context.Context, kind entity.Descriptor, e entity.Entity) error {
	return s.DeleteByKey(ctx, kind, e.PrimaryKey())
}

func (s *Store) DeleteByKey(ctx context.Context, kind entity.Descriptor, pk any) error {
	n, err := s.apply(ctx, 1, deleteStep(kind.Name(), []any{pk}))
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
	n, err := s.apply(ctx, len(pks), deleteStep(kind.Name(), pks))
	if err != nil {
		return err
	}
	return storage.CheckCount(storage.OpDelete, kind.Name(), nil, len(pks), n)
}

// Close flushes and closes the database. Later calls fail with
// storage.ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Error(trim(f, v)) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warn(trim(f, v)) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debug(trim(f, v)) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.l.Debug(trim(f, v)) }

func trim(f string, v []interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(f, v...))
}
