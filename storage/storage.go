// Package storage defines the document-store contract the entity cache
// persists through, plus the document encoding shared by the bundled stores.
//
// Implementations:
//   - storage/memstore: in-memory, for tests and demos
//   - storage/badgerstore: embedded BadgerDB
//   - storage/routed: wraps any Accessor and runs writes on I/O lanes
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/IvanBrykalov/writebehind/entity"
	"github.com/IvanBrykalov/writebehind/tracker"
)

var (
	// ErrNotFound is returned by Find when no document has the key.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateKey is wrapped by Insert when a document with the key exists.
	ErrDuplicateKey = errors.New("storage: duplicate key")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: closed")
)

// Op names a write operation in errors and logs.
type Op string

const (
	OpInsert  Op = "insert"
	OpReplace Op = "replace"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
)

// Accessor is a document store keyed by (kind, primary key).
//
// Writes report a *WriteError when fewer documents were affected than
// expected (e.g. an update of a missing key). Batches apply every element
// they can and report the shortfall once.
type Accessor interface {
	Find(ctx context.Context, kind entity.Descriptor, pk any) (entity.Entity, error)
	FindAll(ctx context.Context, kind entity.Descriptor) ([]entity.Entity, error)

	Insert(ctx context.Context, kind entity.Descriptor, e entity.Entity) error
	BatchInsert(ctx context.Context, kind entity.Descriptor, es []entity.Entity) error

	// Replace writes the full document, creating it if absent.
	Replace(ctx context.Context, kind entity.Descriptor, e entity.Entity) error

	// Update applies a field delta to the stored document; cleared fields
	// become null.
	Update(ctx context.Context, kind entity.Descriptor, e entity.Entity, d tracker.Delta) error
	// BatchUpdate applies ds[i] to es[i].
	BatchUpdate(ctx context.Context, kind entity.Descriptor, es []entity.Entity, ds []tracker.Delta) error

	Delete(ctx context.Context, kind entity.Descriptor, e entity.Entity) error
	DeleteByKey(ctx context.Context, kind entity.Descriptor, pk any) error
	BatchDelete(ctx context.Context, kind entity.Descriptor, es []entity.Entity) error
	BatchDeleteByKey(ctx context.Context, kind entity.Descriptor, pks []any) error

	Close() error
}

// WriteError reports a write that affected a different number of documents
// than expected.
type WriteError struct {
	Op       Op
	Kind     string
	Key      any // nil for batches
	Expected int
	Actual   int
	Err      error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("storage: %s %s", e.Op, e.Kind)
	if e.Key != nil {
		msg += fmt.Sprintf(" key=%v", e.Key)
	}
	msg += fmt.Sprintf(": expected %d affected, got %d", e.Expected, e.Actual)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() error { return e.Err }

// CheckCount returns a *WriteError when actual != expected, nil otherwise.
func CheckCount(op Op, kind string, key any, expected, actual int) error {
	if expected == actual {
		return nil
	}
	return &WriteError{Op: op, Kind: kind, Key: key, Expected: expected, Actual: actual}
}
