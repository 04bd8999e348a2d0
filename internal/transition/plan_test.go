package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distgrid/distgrid/pkg/rangelist"
	"github.com/distgrid/distgrid/pkg/space"
)

func buildRL(t *testing.T, sp *space.Space, groupSize int, spans map[int][2]int64) *rangelist.RangeList {
	t.Helper()
	b := rangelist.NewBuilder(groupSize, sp)
	for task, lohi := range spans {
		b.Append(task, space.NewRange1D(sp, lohi[0], lohi[1]))
	}
	return b.Build()
}

func TestPlanInitHasNoKeepRecvFree(t *testing.T) {
	sp := space.New1D(10)
	newRL := buildRL(t, sp, 2, map[int][2]int64{0: {0, 5}, 1: {5, 10}})

	p := Plan(0, nil, newRL, CopyIn|Init)
	assert.Empty(t, p.Keep)
	assert.Empty(t, p.Recv)
	assert.Empty(t, p.Free)
}

func TestPlanIdenticalPartitioningIsAllKeep(t *testing.T) {
	sp := space.New1D(10)
	rl := buildRL(t, sp, 2, map[int][2]int64{0: {0, 5}, 1: {5, 10}})

	p := Plan(0, rl, rl, CopyIn|CopyOut)
	require.Len(t, p.Keep, 1)
	assert.Equal(t, Interval{0, 5}, p.Keep[0].Interval)
	assert.Empty(t, p.Recv)
	assert.Empty(t, p.Send)
	assert.Empty(t, p.Free)
}

func TestPlanShrinkProducesFreeAndOthersRecv(t *testing.T) {
	sp := space.New1D(10)
	oldRL := buildRL(t, sp, 2, map[int][2]int64{0: {0, 10}})
	newRL := buildRL(t, sp, 2, map[int][2]int64{0: {0, 5}, 1: {5, 10}})

	p0 := Plan(0, oldRL, newRL, CopyIn|CopyOut)
	require.Len(t, p0.Keep, 1)
	assert.Equal(t, Interval{0, 5}, p0.Keep[0].Interval)
	require.Len(t, p0.Free, 1)
	assert.Equal(t, Interval{5, 10}, p0.Free[0].Interval)
	require.Len(t, p0.Send, 1)
	assert.Equal(t, 1, p0.Send[0].Peer)
	assert.Equal(t, Interval{5, 10}, p0.Send[0].Interval)

	p1 := Plan(1, oldRL, newRL, CopyIn|CopyOut)
	require.Len(t, p1.Recv, 1)
	assert.Equal(t, 0, p1.Recv[0].Peer)
	assert.Equal(t, Interval{5, 10}, p1.Recv[0].Interval)
	assert.Empty(t, p1.Keep)
}

func TestPlanAllToBlockNoRedundantSendWhenAlreadyOwned(t *testing.T) {
	sp := space.New1D(10)
	oldRL := buildRL(t, sp, 2, map[int][2]int64{0: {0, 10}, 1: {0, 10}})
	newRL := buildRL(t, sp, 2, map[int][2]int64{0: {0, 5}, 1: {5, 10}})

	p0 := Plan(0, oldRL, newRL, CopyIn|CopyOut)
	// task 0 and task 1 both owned everything under the All-style old
	// partitioning; under new, task 1 keeps [5,10) itself (it already
	// had it), so task 0 has nothing left to send.
	assert.Empty(t, p0.Send)

	p1 := Plan(1, oldRL, newRL, CopyIn|CopyOut)
	// symmetric: task 1 already owned [0,5) under old, same as task 0's
	// new ownership, so no recv is issued, and task 1 must not send
	// [0,5) to task 0 either.
	assert.Empty(t, p1.Recv)
	assert.Empty(t, p1.Send)
}

func TestPlanAllOldToThirdTaskSmallestOwnerSends(t *testing.T) {
	sp := space.New1D(10)
	// task 0 and task 1 both own everything under old (All-style); task
	// 2 owns nothing under old but gets [5,10) under new.
	oldRL := buildRL(t, sp, 3, map[int][2]int64{0: {0, 10}, 1: {0, 10}})
	newRL := buildRL(t, sp, 3, map[int][2]int64{0: {0, 5}, 2: {5, 10}})

	p0 := Plan(0, oldRL, newRL, CopyIn|CopyOut)
	// task 0, the smallest-id old owner of [5,10), is the canonical
	// sender to task 2.
	require.Len(t, p0.Send, 1)
	assert.Equal(t, 2, p0.Send[0].Peer)
	assert.Equal(t, Interval{5, 10}, p0.Send[0].Interval)

	p1 := Plan(1, oldRL, newRL, CopyIn|CopyOut)
	// task 1 also owned [5,10) under old, but defers to task 0 as the
	// canonical sender: it must not also send [5,10) to task 2.
	assert.Empty(t, p1.Send)

	p2 := Plan(2, oldRL, newRL, CopyIn|CopyOut)
	require.Len(t, p2.Recv, 1)
	assert.Equal(t, 0, p2.Recv[0].Peer)
	assert.Equal(t, Interval{5, 10}, p2.Recv[0].Interval)
}

func TestPlanWithoutCopyInSkipsRecv(t *testing.T) {
	sp := space.New1D(10)
	oldRL := buildRL(t, sp, 2, map[int][2]int64{0: {0, 10}})
	newRL := buildRL(t, sp, 2, map[int][2]int64{0: {0, 5}, 1: {5, 10}})

	p1 := Plan(1, oldRL, newRL, 0)
	assert.Empty(t, p1.Recv)
}

func TestMergeIntersectSubtract(t *testing.T) {
	merged := mergeIntervals([]Interval{{0, 3}, {3, 5}, {10, 12}, {1, 2}})
	assert.Equal(t, []Interval{{0, 5}, {10, 12}}, merged)

	assert.Equal(t, []Interval{{2, 3}}, intersect([]Interval{{0, 3}}, []Interval{{2, 6}}))
	assert.Equal(t, []Interval{{0, 2}, {3, 5}}, subtract([]Interval{{0, 5}}, []Interval{{2, 3}}))
}
