package entitycache

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned when registering with a stopped service.
	ErrStopped = errors.New("entitycache: service stopped")
	// ErrKindRegistered is returned by Register for a kind name already in use.
	ErrKindRegistered = errors.New("entitycache: kind already registered")
)

// LoadError reports a failure to produce the entity for a key: the read,
// the construction of a fresh entity or its initial insert.
type LoadError struct {
	Kind string
	Key  any
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("entitycache: load %s key=%v: %v", e.Kind, e.Key, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
