// Package entity defines the cached, persisted unit: an identity (primary
// key), a routing key that pins all its work to one lane, and the dirty-check
// state the tracker keeps alongside it.
package entity

import (
	"errors"

	"github.com/IvanBrykalov/writebehind/tracker"
)

// ErrKeyAlreadySet is returned by SetKey when the primary key was assigned before.
var ErrKeyAlreadySet = errors.New("entity: primary key already set")

// Entity is the untyped view used by storage and scheduling code.
type Entity interface {
	tracker.Tracked

	// PrimaryKey returns the identity, unique within the entity's kind.
	PrimaryKey() any
	// RouteKey selects the lane that serializes work on this entity.
	// Entities sharing a route key are processed in submission order.
	RouteKey() any
}

// Keyed is the typed view with a concrete primary key type.
type Keyed[PK comparable] interface {
	Entity
	Key() PK
	SetKey(pk PK) error
}

// Base carries the identity and tracking state. Embed it by value:
//
//	type Player struct {
//		entity.Base[int64]
//		Name  string `json:"name"`
//		Level int    `json:"level"`
//	}
//
// Embedders may override RouteKey to co-locate related entities on one lane.
type Base[PK comparable] struct {
	ID PK `json:"_id" entity:"_id,id"`

	keySet bool
	fp     tracker.Fingerprints
}

// Key returns the primary key.
func (b *Base[PK]) Key() PK { return b.ID }

// PrimaryKey returns the primary key as any.
func (b *Base[PK]) PrimaryKey() any { return b.ID }

// SetKey assigns the primary key once.
func (b *Base[PK]) SetKey(pk PK) error {
	var zero PK
	if b.keySet || b.ID != zero {
		return ErrKeyAlreadySet
	}
	b.ID = pk
	b.keySet = true
	return nil
}

// RouteKey defaults to the primary key.
func (b *Base[PK]) RouteKey() any { return b.ID }

// Fingerprints exposes the dirty-check state to the tracker.
func (b *Base[PK]) Fingerprints() *tracker.Fingerprints { return &b.fp }
