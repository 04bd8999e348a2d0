package partitioner

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distgrid/distgrid/pkg/rangelist"
	"github.com/distgrid/distgrid/pkg/space"
)

func TestAllAssignsFullRangeToEveryTask(t *testing.T) {
	ResetRegistry()
	sp := space.New1D(10)
	rl := All().Run(StaticGroup(3), sp, nil)
	for t2 := 0; t2 < 3; t2++ {
		seg := rl.Segment(t2)
		require.Len(t, seg, 1)
		assert.Equal(t, int64(0), seg[0].Range.From.I[0])
		assert.Equal(t, int64(10), seg[0].Range.To.I[0])
	}
}

func TestAllIsASingleton(t *testing.T) {
	ResetRegistry()
	assert.Same(t, All(), All())
}

func TestMasterAssignsEverythingToTaskZero(t *testing.T) {
	ResetRegistry()
	sp := space.New1D(10)
	rl := Master().Run(StaticGroup(4), sp, nil)
	require.Len(t, rl.Segment(0), 1)
	for t2 := 1; t2 < 4; t2++ {
		assert.Empty(t, rl.Segment(t2))
	}
}

func TestBlockEvenSplitNoWeights(t *testing.T) {
	sp := space.New1D(100)
	rl := Block(BlockOptions{PDim: 0}).Run(StaticGroup(4), sp, nil)

	var total int64
	for t2 := 0; t2 < 4; t2++ {
		seg := rl.Segment(t2)
		require.Len(t, seg, 1)
		total += seg[0].Range.Size()
	}
	assert.Equal(t, int64(100), total, "block partitioning must cover the whole space exactly once")
}

func TestBlockIndexWeighted(t *testing.T) {
	sp := space.New1D(10)
	heavy := func(i int64) float64 {
		if i == 9 {
			return 91
		}
		return 1
	}
	rl := Block(BlockOptions{PDim: 0, IdxW: heavy}).Run(StaticGroup(2), sp, nil)
	seg0 := rl.Segment(0)
	seg1 := rl.Segment(1)
	require.Len(t, seg0, 1)
	require.Len(t, seg1, 1)
	assert.Equal(t, int64(9), seg0[0].Range.Size(), "the nine unit-weight indices should all land on task 0")
	assert.Equal(t, int64(1), seg1[0].Range.Size(), "the single heavily weighted index should get its own task")
}

func TestBlockCyclesRoundRobins(t *testing.T) {
	sp := space.New1D(8)
	rl := Block(BlockOptions{PDim: 0, Cycles: 2}).Run(StaticGroup(2), sp, nil)
	// two cycles over two tasks: each task gets two disjoint sub-ranges.
	assert.Len(t, rl.Segment(0), 2)
	assert.Len(t, rl.Segment(1), 2)
}

func TestBlockTaskWeighted(t *testing.T) {
	sp := space.New1D(100)
	tw := func(task int) float64 {
		if task == 0 {
			return 3
		}
		return 1
	}
	rl := Block(BlockOptions{PDim: 0, TaskW: tw}).Run(StaticGroup(2), sp, nil)
	seg0 := rl.Segment(0)
	seg1 := rl.Segment(1)
	require.Len(t, seg0, 1)
	require.Len(t, seg1, 1)
	assert.Greater(t, seg0[0].Range.Size(), seg1[0].Range.Size())
}

func TestBlockRejectsNonFiniteWeight(t *testing.T) {
	sp := space.New1D(4)
	bad := func(i int64) float64 { return math.NaN() }
	assert.Panics(t, func() {
		Block(BlockOptions{PDim: 0, IdxW: bad}).Run(StaticGroup(2), sp, nil)
	})
}

func TestCopyProjectsAcrossDims(t *testing.T) {
	sp2 := space.New(2, 10, 10)
	sp1 := space.New1D(10)

	base := Block(BlockOptions{PDim: 0}).Run(StaticGroup(2), sp1, nil)
	cp := Copy(base, 0, 1)
	rl := cp.Run(StaticGroup(2), sp2, nil)

	seg0 := rl.Segment(0)
	require.Len(t, seg0, 1)
	assert.Equal(t, int64(0), seg0[0].Range.From.I[0])
	assert.Equal(t, int64(10), seg0[0].Range.To.I[0])
}

func TestCopyRejectsMismatchedGroup(t *testing.T) {
	sp1 := space.New1D(10)
	sp2 := space.New(2, 10, 10)
	base := Block(BlockOptions{PDim: 0}).Run(StaticGroup(2), sp1, nil)
	cp := Copy(base, 0, 1)
	assert.Panics(t, func() { cp.Run(StaticGroup(3), sp2, nil) })
}

func TestCustomWrapsArbitraryFunc(t *testing.T) {
	sp := space.New1D(6)
	base := Block(BlockOptions{PDim: 0}).Run(StaticGroup(2), sp, nil)

	// a halo partitioner in the spirit of examples/markov.c's
	// run_markovPartitioner: each task also owns its predecessor's range.
	halo := Custom("predecessor-halo", func(b *rangelist.Builder, g Group, s *space.Space, other *rangelist.RangeList) {
		for _, e := range base.Entries {
			b.AppendWithMapNo(e.Task, e.Range, 0)
		}
		for t2 := 0; t2 < g.Size(); t2++ {
			pred := (t2 - 1 + g.Size()) % g.Size()
			for _, e := range base.Segment(pred) {
				b.AppendWithMapNo(t2, e.Range, 1)
			}
		}
	})

	rl := halo.Run(StaticGroup(2), sp, base)
	assert.Len(t, rl.Segment(0), 2)
	assert.Len(t, rl.Segment(1), 2)
	assert.Equal(t, "predecessor-halo", halo.Name)
}
