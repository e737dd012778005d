package util

import (
	"sync/atomic"
	"unsafe"
)

const cacheLine = 64

// CacheLinePad separates hot fields onto their own cache line.
type CacheLinePad struct{ _ [cacheLine]byte }

// PaddedAtomicInt64 is an atomic.Int64 occupying a full cache line, for
// counters bumped from many lanes or shards at once.
type PaddedAtomicInt64 struct {
	atomic.Int64
	_ [cacheLine - 8]byte
}

// PaddedAtomicUint64 is the unsigned counterpart.
type PaddedAtomicUint64 struct {
	atomic.Uint64
	_ [cacheLine - 8]byte
}

var (
	_ [cacheLine - int(unsafe.Sizeof(PaddedAtomicInt64{}))]byte
	_ [cacheLine - int(unsafe.Sizeof(PaddedAtomicUint64{}))]byte
)
