package entity

import (
	"errors"
	"regexp"
)

// Descriptor is the untyped handle storage uses to name a kind and decode
// its documents.
type Descriptor interface {
	Name() string
	New() Entity
}

// Kind describes one entity type: its collection name and how to make an
// empty instance.
type Kind[PK comparable, E Keyed[PK]] struct {
	name    string
	factory func() E
}

var kindName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

var (
	ErrKindName    = errors.New("entity: kind name must start with a letter and contain only letters, digits, '_', '.' or '-'")
	ErrKindFactory = errors.New("entity: kind factory is nil")
)

// NewKind returns a kind named name whose instances come from factory.
func NewKind[PK comparable, E Keyed[PK]](name string, factory func() E) (*Kind[PK, E], error) {
	if !kindName.MatchString(name) {
		return nil, ErrKindName
	}
	if factory == nil {
		return nil, ErrKindFactory
	}
	return &Kind[PK, E]{name: name, factory: factory}, nil
}

// MustKind is NewKind that panics on error, for package-level kind variables.
func MustKind[PK comparable, E Keyed[PK]](name string, factory func() E) *Kind[PK, E] {
	k, err := NewKind[PK](name, factory)
	if err != nil {
		panic(err)
	}
	return k
}

func (k *Kind[PK, E]) Name() string { return k.name }

// New returns an empty instance as Entity.
func (k *Kind[PK, E]) New() Entity { return k.factory() }

// Make returns an empty typed instance.
func (k *Kind[PK, E]) Make() E { return k.factory() }

// Create returns an empty instance with its primary key assigned.
func (k *Kind[PK, E]) Create(pk PK) (E, error) {
	e := k.factory()
	if err := e.SetKey(pk); err != nil {
		var zero E
		return zero, err
	}
	return e, nil
}
