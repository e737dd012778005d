package twoq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/writebehind/policy"
)

type testNode struct {
	k string
	v int
}

func (n *testNode) Key() string { return n.k }
func (n *testNode) Value() *int { return &n.v }

type recorder struct{ pushed, moved int }

func (r *recorder) MoveToFront(policy.Node[string, int]) { r.moved++ }
func (r *recorder) PushFront(policy.Node[string, int])   { r.pushed++ }
func (r *recorder) Remove(policy.Node[string, int])      {}
func (r *recorder) Back() policy.Node[string, int]       { return nil }
func (r *recorder) Len() int                             { return r.pushed }

func newTwoQ(young, ghosts int) (*twoQ[string, int], *recorder) {
	h := &recorder{}
	return New[string, int](young, ghosts).New(h).(*twoQ[string, int]), h
}

func TestTwoQ_NewKeysEnterYoung(t *testing.T) {
	t.Parallel()

	q, h := newTwoQ(2, 4)
	n := &testNode{k: "a"}
	assert.Nil(t, q.OnAdd(n))
	assert.True(t, q.young.has(n))
	assert.Equal(t, 1, h.pushed)
}

func TestTwoQ_YoungOverflowNominatesOldest(t *testing.T) {
	t.Parallel()

	q, _ := newTwoQ(2, 4)
	a, b, c := &testNode{k: "a"}, &testNode{k: "b"}, &testNode{k: "c"}
	q.OnAdd(a)
	q.OnAdd(b)
	assert.Equal(t, policy.Node[string, int](a), q.OnAdd(c))
}

func TestTwoQ_RemovedYoungBecomesGhost(t *testing.T) {
	t.Parallel()

	q, _ := newTwoQ(2, 1)
	a, b := &testNode{k: "a"}, &testNode{k: "b"}
	q.OnAdd(a)
	q.OnAdd(b)
	q.OnRemove(a)
	assert.False(t, q.young.has(a))
	assert.True(t, q.ghosts.has("a"))

	// Ghost capacity is 1: the older ghost is forgotten.
	q.OnRemove(b)
	assert.True(t, q.ghosts.has("b"))
	assert.False(t, q.ghosts.has("a"))
}

func TestTwoQ_GhostReadmissionSkipsYoung(t *testing.T) {
	t.Parallel()

	q, _ := newTwoQ(1, 2)
	q.OnAdd(&testNode{k: "a", v: 1})
	first, _ := q.young.oldest()
	q.OnRemove(first)
	require.True(t, q.ghosts.has("a"))

	again := &testNode{k: "a", v: 2}
	assert.Nil(t, q.OnAdd(again))
	assert.False(t, q.young.has(again))
	assert.False(t, q.ghosts.has("a"))
}

func TestTwoQ_GetPromotes(t *testing.T) {
	t.Parallel()

	q, h := newTwoQ(2, 2)
	a := &testNode{k: "a"}
	q.OnAdd(a)
	q.OnGet(a)
	assert.False(t, q.young.has(a))
	assert.Equal(t, 1, h.moved)

	// Am members leave no ghost behind.
	q.OnRemove(a)
	assert.False(t, q.ghosts.has("a"))
}
