// Package storetest provides a conformance suite for storage.Accessor
// implementations.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    storetest.RunConformanceSuite(t, func(t *testing.T) storage.Accessor {
//	        return memstore.New()
//	    })
//	}
//
// The factory receives *testing.T so stores can use t.TempDir() and
// t.Cleanup() for teardown.
package storetest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/writebehind/entity"
	"github.com/IvanBrykalov/writebehind/storage"
	"github.com/IvanBrykalov/writebehind/tracker"
)

// StoreFactory creates a fresh Accessor for each test.
type StoreFactory func(t *testing.T) storage.Accessor

// Hero is the entity the suite stores.
type Hero struct {
	entity.Base[int64]
	Name  string         `json:"name"`
	Level int            `json:"level"`
	Tags  []string       `json:"tags"`
	Guild *string        `json:"guild"`
	Stats map[string]int `json:"stats"`
}

// Heroes is the kind used by the suite. Villains shares its type under
// another name.
var (
	Heroes   = entity.MustKind[int64]("heroes", func() *Hero { return &Hero{} })
	Villains = entity.MustKind[int64]("villains", func() *Hero { return &Hero{} })
)

// NewHero returns a keyed hero.
func NewHero(t *testing.T, id int64, name string, level int) *Hero {
	t.Helper()
	h, err := Heroes.Create(id)
	require.NoError(t, err)
	h.Name, h.Level = name, level
	return h
}

// RunConformanceSuite runs every conformance test against factory.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("InsertFind", func(t *testing.T) { testInsertFind(t, factory) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, factory) })
	t.Run("FindMissing", func(t *testing.T) { testFindMissing(t, factory) })
	t.Run("FindAll", func(t *testing.T) { testFindAll(t, factory) })
	t.Run("ReplaceUpserts", func(t *testing.T) { testReplaceUpserts(t, factory) })
	t.Run("UpdateDelta", func(t *testing.T) { testUpdateDelta(t, factory) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, factory) })
	t.Run("BatchUpdateShortfall", func(t *testing.T) { testBatchUpdateShortfall(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("BatchDelete", func(t *testing.T) { testBatchDelete(t, factory) })
}

func testInsertFind(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	guild := "red"
	h := NewHero(t, 1, "Ayla", 3)
	h.Tags = []string{"mage"}
	h.Guild = &guild
	h.Stats = map[string]int{"hp": 10}
	require.NoError(t, s.Insert(ctx, Heroes, h))

	got, err := s.Find(ctx, Heroes, int64(1))
	require.NoError(t, err)
	loaded, ok := got.(*Hero)
	require.True(t, ok, "Find must return the kind's type, got %T", got)
	assert.Equal(t, int64(1), loaded.Key())
	assert.Equal(t, "Ayla", loaded.Name)
	assert.Equal(t, 3, loaded.Level)
	assert.Equal(t, []string{"mage"}, loaded.Tags)
	require.NotNil(t, loaded.Guild)
	assert.Equal(t, "red", *loaded.Guild)
	assert.Equal(t, map[string]int{"hp": 10}, loaded.Stats)
	assert.NotSame(t, h, loaded)
}

func testInsertDuplicate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	require.NoError(t, s.Insert(ctx, Heroes, NewHero(t, 1, "a", 1)))
	err := s.Insert(ctx, Heroes, NewHero(t, 1, "b", 2))
	var we *storage.WriteError
	require.ErrorAs(t, err, &we)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	assert.Equal(t, storage.OpInsert, we.Op)

	got, err := s.Find(ctx, Heroes, int64(1))
	require.NoError(t, err)
	assert.Equal(t, "a", got.(*Hero).Name, "duplicate insert must not overwrite")

	err = s.BatchInsert(ctx, Heroes, []entity.Entity{NewHero(t, 1, "c", 1), NewHero(t, 2, "d", 1)})
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 2, we.Expected)
	assert.Equal(t, 1, we.Actual)
}

func testFindMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	_, err := s.Find(t.Context(), Heroes, int64(404))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testFindAll(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	require.NoError(t, s.BatchInsert(ctx, Heroes, []entity.Entity{
		NewHero(t, 1, "a", 1), NewHero(t, 2, "b", 2), NewHero(t, 3, "c", 3),
	}))
	all, err := s.FindAll(ctx, Heroes)
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, e := range all {
		names = append(names, e.(*Hero).Name)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, names)
}

func testReplaceUpserts(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	h := NewHero(t, 5, "a", 1)
	require.NoError(t, s.Replace(ctx, Heroes, h), "replace creates missing documents")
	h.Name = "b"
	require.NoError(t, s.Replace(ctx, Heroes, h))

	got, err := s.Find(ctx, Heroes, int64(5))
	require.NoError(t, err)
	assert.Equal(t, "b", got.(*Hero).Name)
}

func testUpdateDelta(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	guild := "red"
	h := NewHero(t, 1, "a", 1)
	h.Guild = &guild
	require.NoError(t, s.Insert(ctx, Heroes, h))

	var d tracker.Delta
	d.Set("level", 7)
	d.Set("tags", []string{"x", "y"})
	d.Clear("guild")
	require.NoError(t, s.Update(ctx, Heroes, h, d))

	got, err := s.Find(ctx, Heroes, int64(1))
	require.NoError(t, err)
	loaded := got.(*Hero)
	assert.Equal(t, "a", loaded.Name, "fields outside the delta are untouched")
	assert.Equal(t, 7, loaded.Level)
	assert.Equal(t, []string{"x", "y"}, loaded.Tags)
	assert.Nil(t, loaded.Guild)
}

func testUpdateMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)

	var d tracker.Delta
	d.Set("level", 2)
	err := s.Update(t.Context(), Heroes, NewHero(t, 9, "ghost", 1), d)
	var we *storage.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 1, we.Expected)
	assert.Equal(t, 0, we.Actual)
	assert.Equal(t, int64(9), we.Key)
}

func testBatchUpdateShortfall(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	a, b := NewHero(t, 1, "a", 1), NewHero(t, 2, "b", 1)
	require.NoError(t, s.Insert(ctx, Heroes, a))

	var d1, d2 tracker.Delta
	d1.Set("level", 4)
	d2.Set("level", 5)
	err := s.BatchUpdate(ctx, Heroes, []entity.Entity{a, b}, []tracker.Delta{d1, d2})
	var we *storage.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 2, we.Expected)
	assert.Equal(t, 1, we.Actual)

	got, err := s.Find(ctx, Heroes, int64(1))
	require.NoError(t, err)
	assert.Equal(t, 4, got.(*Hero).Level, "present documents are still updated")
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	h := NewHero(t, 1, "a", 1)
	require.NoError(t, s.Insert(ctx, Heroes, h))
	require.NoError(t, s.Delete(ctx, Heroes, h))
	_, err := s.Find(ctx, Heroes, int64(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.DeleteByKey(ctx, Heroes, int64(1))
	var we *storage.WriteError
	require.True(t, errors.As(err, &we), "deleting a missing key reports a shortfall")
	assert.Equal(t, storage.OpDelete, we.Op)
}

func testBatchDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	hs := []entity.Entity{NewHero(t, 1, "a", 1), NewHero(t, 2, "b", 1), NewHero(t, 3, "c", 1)}
	require.NoError(t, s.BatchInsert(ctx, Heroes, hs))
	require.NoError(t, s.BatchDelete(ctx, Heroes, hs[:2]))

	err := s.BatchDeleteByKey(ctx, Heroes, []any{int64(3), int64(4)})
	var we *storage.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 1, we.Actual)

	all, err := s.FindAll(ctx, Heroes)
	require.NoError(t, err)
	assert.Empty(t, all)
}
