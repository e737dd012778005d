package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type playerID int64

type named string

func (n named) String() string { return string(n) }

func TestNextPow2(t *testing.T) {
	t.Parallel()

	cases := map[uint64]uint64{0: 1, 1: 1, 2: 2, 3: 4, 5: 8, 64: 64, 65: 128}
	for in, want := range cases {
		assert.Equal(t, want, NextPow2(in), "NextPow2(%d)", in)
	}
	assert.Equal(t, uint64(1<<63), NextPow2(1<<63+1))
}

func TestRouteHash_IntegersRouteByValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(42), RouteHash(42))
	assert.Equal(t, uint64(42), RouteHash(int64(42)))
	assert.Equal(t, uint64(42), RouteHash(uint16(42)))
	assert.Equal(t, uint64(42), RouteHash(playerID(42)))
}

func TestRouteHash_StructuralKeysAreStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RouteHash("guild:7"), RouteHash("guild:7"))
	assert.Equal(t, RouteHash("guild:7"), RouteHash(named("guild:7")))
	assert.Equal(t, RouteHash("guild:7"), RouteHash([]byte("guild:7")))

	type composite struct {
		A int
		B string
	}
	assert.Equal(t, RouteHash(composite{1, "x"}), RouteHash(composite{1, "x"}))
	assert.NotEqual(t, RouteHash(composite{1, "x"}), RouteHash(composite{2, "x"}))
}

func TestIndex_MaskAndNegativeKeys(t *testing.T) {
	t.Parallel()

	n := 8
	for i := -20; i < 20; i++ {
		idx := Index(RouteHash(i), n)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, n)
	}
	assert.Equal(t, 7, Index(RouteHash(-1), n))
	assert.Equal(t, 2, Index(RouteHash(10), 4))
	assert.Equal(t, 1, Index(10, 3), "non power of two falls back to modulo")
	assert.Equal(t, 0, Index(12345, 1))
}

func TestLaneCount_PowerOfTwo(t *testing.T) {
	t.Parallel()

	for _, m := range []int{0, 1, 2, 3} {
		n := LaneCount(m)
		assert.True(t, IsPowerOfTwo(uint64(n)), "LaneCount(%d)=%d", m, n)
	}
	assert.GreaterOrEqual(t, LaneCount(2), LaneCount(1))
}
