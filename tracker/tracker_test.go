package tracker

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tracked struct{ fp Fingerprints }

func (t *tracked) Fingerprints() *Fingerprints { return &t.fp }

type player struct {
	tracked
	ID     int64          `json:"_id"`
	Name   string         `json:"name"`
	Level  int            `json:"level"`
	Tags   []string       `json:"tags,omitempty"`
	Attrs  map[string]int `json:"attrs"`
	Seen   time.Time      `json:"seen"`
	Guild  *string        `json:"guild"`
	Extra  any            `json:"extra"`
	Secret string         `json:"-"`
	Nick   string         `entity:"nickname" json:"nick"`
}

func primed(t *testing.T, tr *Tracker, p *player) *player {
	t.Helper()
	require.NoError(t, tr.Prime(p))
	d, err := tr.Check(p)
	require.NoError(t, err)
	require.True(t, d.IsEmpty(), "primed entity must have no delta, got %v", d.Fields())
	return p
}

func TestSchema_Fields(t *testing.T) {
	t.Parallel()

	s, err := SchemaOf(reflect.TypeOf(&player{}))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "level", "tags", "attrs", "seen", "guild", "extra", "nickname"}, s.Names())
	require.NotNil(t, s.ID)
	assert.Equal(t, "_id", s.ID.Name)

	f, ok := s.Field("level")
	require.True(t, ok)
	assert.Equal(t, classExact, f.class)
	f, _ = s.Field("seen")
	assert.Equal(t, classImmutable, f.class)
	f, _ = s.Field("attrs")
	assert.Equal(t, classMutable, f.class)
	assert.True(t, f.Nullable())

	again, err := SchemaOf(reflect.TypeOf(player{}))
	require.NoError(t, err)
	assert.Same(t, s, again, "schemas are cached per type")

	_, err = SchemaOf(reflect.TypeOf(42))
	assert.ErrorIs(t, err, ErrNotStruct)
}

func TestCheck_FirstCheckProposesNonNullFields(t *testing.T) {
	t.Parallel()

	tr := New()
	p := &player{ID: 1, Name: "A", Level: 1}
	d, err := tr.Check(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "level", "seen", "nickname"}, d.Fields())

	d, err = tr.Check(p)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
}

func TestCheck_SingleFieldChange(t *testing.T) {
	t.Parallel()

	tr := New()
	p := primed(t, tr, &player{ID: 1, Name: "A", Level: 1})

	p.Level = 2
	d, err := tr.Check(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"level": 2}, d.ToMap())

	d, err = tr.Check(p)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty(), "delta is consumed")
}

func TestCheck_IdentityIsNeverDiffed(t *testing.T) {
	t.Parallel()

	tr := New()
	p := primed(t, tr, &player{ID: 1, Name: "A"})
	p.ID = 2
	p.Secret = "hidden"
	d, err := tr.Check(p)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
}

func TestCheck_ClearOnce(t *testing.T) {
	t.Parallel()

	tr := New()
	g := "red"
	p := primed(t, tr, &player{Guild: &g})

	p.Guild = nil
	d, err := tr.Check(p)
	require.NoError(t, err)
	c, ok := d.Get("guild")
	require.True(t, ok)
	assert.True(t, c.Cleared)
	assert.Equal(t, map[string]any{"guild": nil}, d.ToMap())

	d, err = tr.Check(p)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty(), "clear is reported once")

	blue := "blue"
	p.Guild = &blue
	d, err = tr.Check(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"guild"}, d.Fields())
}

func TestCheck_InPlaceMapMutation(t *testing.T) {
	t.Parallel()

	tr := New()
	p := primed(t, tr, &player{Attrs: map[string]int{"hp": 1}})

	p.Attrs["hp"] = 2
	d, err := tr.Check(p)
	require.NoError(t, err)
	c, ok := d.Get("attrs")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"hp": 2}, c.Value)

	// The delta holds a copy, not the live map.
	p.Attrs["hp"] = 3
	assert.Equal(t, map[string]int{"hp": 2}, c.Value)

	d, err = tr.Check(p)
	require.NoError(t, err)
	c, _ = d.Get("attrs")
	assert.Equal(t, map[string]int{"hp": 3}, c.Value)
}

func TestCheck_InPlaceSliceMutation(t *testing.T) {
	t.Parallel()

	tr := New()
	p := primed(t, tr, &player{Tags: []string{"a", "b"}})

	p.Tags[0] = "z"
	d, err := tr.Check(p)
	require.NoError(t, err)
	c, ok := d.Get("tags")
	require.True(t, ok)
	assert.Equal(t, []string{"z", "b"}, c.Value)

	// Reassigning an equal slice is not a change.
	p.Tags = []string{"z", "b"}
	d, err = tr.Check(p)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
}

func TestCheck_TimeComparedByInstant(t *testing.T) {
	t.Parallel()

	tr := New()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	p := primed(t, tr, &player{Seen: now})

	p.Seen = now.UTC()
	d, err := tr.Check(p)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())

	p.Seen = now.Add(time.Second)
	d, err = tr.Check(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"seen"}, d.Fields())
}

func TestCheck_DynamicFields(t *testing.T) {
	t.Parallel()

	tr := New()
	p := primed(t, tr, &player{Extra: 5})

	p.Extra = 6
	d, err := tr.Check(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"extra": 6}, d.ToMap())

	p.Extra = []int{1}
	d, err = tr.Check(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"extra": []int{1}}, d.ToMap())
}

func TestCheck_UnserializableFieldIsSkipped(t *testing.T) {
	t.Parallel()

	tr := New()
	p := primed(t, tr, &player{Name: "A"})

	p.Name = "B"
	p.Extra = make(chan int)
	d, err := tr.Check(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, d.Fields())

	p.Extra = "ok"
	d, err = tr.Check(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"extra": "ok"}, d.ToMap())
}

type countingCodec struct {
	JSONCodec
	marshals int
}

func (c *countingCodec) Marshal(v any) ([]byte, error) {
	c.marshals++
	return c.JSONCodec.Marshal(v)
}

func TestCheck_ScalarsSkipSnapshots(t *testing.T) {
	t.Parallel()

	codec := &countingCodec{}
	tr := New(WithCodec(codec))
	p := primed(t, tr, &player{Name: "A", Level: 3})
	assert.Zero(t, codec.marshals, "scalar fields never serialize")

	p.Tags = []string{"x"}
	_, err := tr.Check(p)
	require.NoError(t, err)
	assert.Equal(t, 1, codec.marshals)
}

type failingCodec struct{ JSONCodec }

func (failingCodec) Marshal(any) ([]byte, error) { return nil, errors.New("nope") }

func TestCheck_FailedSnapshotIsRetried(t *testing.T) {
	t.Parallel()

	p := &player{Attrs: map[string]int{"a": 1}}
	d, err := New(WithCodec(failingCodec{})).Check(p)
	require.NoError(t, err)
	_, ok := d.Get("attrs")
	assert.False(t, ok)
	assert.False(t, p.fp.Has("attrs"), "no fingerprint recorded on failure")

	d, err = New().Check(p)
	require.NoError(t, err)
	_, ok = d.Get("attrs")
	assert.True(t, ok)
}

func TestReset(t *testing.T) {
	t.Parallel()

	tr := New()
	p := primed(t, tr, &player{Name: "A"})
	tr.Reset(p)
	assert.Zero(t, p.fp.Len())

	d, err := tr.Check(p)
	require.NoError(t, err)
	assert.Contains(t, d.Fields(), "name")
}

type point struct{ X, Y float64 }

type vector struct {
	tracked
	Pos  point      `json:"pos"`
	Pair [2]float64 `json:"pair"`
}

func TestCheck_NaNInValueTypeIsStable(t *testing.T) {
	t.Parallel()

	s, err := SchemaOf(reflect.TypeOf(&vector{}))
	require.NoError(t, err)
	f, _ := s.Field("pos")
	require.Equal(t, classImmutable, f.class)

	tr := New()
	e := &vector{Pos: point{X: math.NaN(), Y: 1}, Pair: [2]float64{math.NaN(), 0}}
	d, err := tr.Check(e)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos", "pair"}, d.Fields())

	for range 3 {
		d, err = tr.Check(e)
		require.NoError(t, err)
		assert.True(t, d.IsEmpty(), "unchanged NaN must not be re-proposed, got %v", d.Fields())
	}

	e.Pos.Y = 2
	d, err = tr.Check(e)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos"}, d.Fields())
}
