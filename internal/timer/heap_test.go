package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time { return t }
}

func TestNextTickMSReflectsRootDeadline(t *testing.T) {
	h := New()
	base := time.Now()
	clock := fakeClock(base)
	h.now = clock

	h.Add(1, 100, func() {})
	h.Add(2, 50, func() {})

	require.Equal(t, 2, h.Len())
	ms := h.NextTickMS()
	require.InDelta(t, 50, ms, 1)
}

func TestNextTickMSEmptyIsMinusOne(t *testing.T) {
	h := New()
	require.Equal(t, -1, h.NextTickMS())
}

func TestAddTwiceReplacesNodeNotDuplicates(t *testing.T) {
	h := New()
	base := time.Now()
	h.now = fakeClock(base)

	fired := ""
	h.Add(7, 1000, func() { fired = "first" })
	h.Add(7, 2000, func() { fired = "second" })

	require.Equal(t, 1, h.Len())

	h.DoWork(7)
	require.Equal(t, "second", fired)
	require.Equal(t, 0, h.Len())
}

func TestTickFiresOnlyExpiredNodes(t *testing.T) {
	h := New()
	base := time.Now()
	cur := base
	h.now = func() time.Time { return cur }

	var firedIDs []int
	h.Add(1, 10, func() { firedIDs = append(firedIDs, 1) })
	h.Add(2, 1000, func() { firedIDs = append(firedIDs, 2) })

	cur = base.Add(20 * time.Millisecond)
	h.Tick()

	require.Equal(t, []int{1}, firedIDs)
	require.Equal(t, 1, h.Len())
}

func TestAdjustExtendsDeadlineKeepingCallback(t *testing.T) {
	h := New()
	base := time.Now()
	cur := base
	h.now = func() time.Time { return cur }

	fired := false
	h.Add(3, 10, func() { fired = true })
	h.Adjust(3, 1000)

	cur = base.Add(20 * time.Millisecond)
	h.Tick()
	require.False(t, fired, "adjust should have pushed the deadline out")

	cur = base.Add(1001 * time.Millisecond)
	h.Tick()
	require.True(t, fired, "adjust should have kept the original callback")
}

func TestRootIsAlwaysMinimum(t *testing.T) {
	h := New()
	base := time.Now()
	h.now = fakeClock(base)

	h.Add(1, 500, func() {})
	h.Add(2, 10, func() {})
	h.Add(3, 9000, func() {})
	h.Add(4, 50, func() {})

	require.Equal(t, 2, h.nodes[0].id)
}

func TestPopRemovesRootWithoutCallback(t *testing.T) {
	h := New()
	h.now = fakeClock(time.Now())
	called := false
	h.Add(1, 10, func() { called = true })
	h.Pop()
	require.Equal(t, 0, h.Len())
	require.False(t, called)
}

func TestClearEmptiesHeap(t *testing.T) {
	h := New()
	h.now = fakeClock(time.Now())
	h.Add(1, 10, func() {})
	h.Add(2, 20, func() {})
	h.Clear()
	require.Equal(t, 0, h.Len())
	require.Equal(t, -1, h.NextTickMS())
}
