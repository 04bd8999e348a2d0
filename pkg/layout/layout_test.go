package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distgrid/distgrid/pkg/rangelist"
	"github.com/distgrid/distgrid/pkg/space"
)

func TestCompact1DOffsetAndSection(t *testing.T) {
	l := New(KindCompact1D, CompactParams{Lo: 10, Hi: 20})
	assert.Equal(t, KindCompact1D, l.Kind())
	assert.Equal(t, int64(10), l.LocalLength())
	assert.Equal(t, 0, l.Section(space.NewIndex1D(15)))
	assert.Equal(t, -1, l.Section(space.NewIndex1D(9)))
	assert.Equal(t, -1, l.Section(space.NewIndex1D(20)))
	assert.Equal(t, int64(5), l.Offset(0, space.NewIndex1D(15)))
}

func TestCompact1DPackUnpackRoundTrip(t *testing.T) {
	sp := space.New1D(20)
	r := space.NewRange1D(sp, 5, 10)
	l := New(KindCompact1D, CompactParams{Lo: 5, Hi: 10})

	src := make([]byte, 8*8)
	for i := 0; i < 8; i++ {
		src[i*8] = byte(i + 1)
	}

	buf := make([]byte, 5*8)
	c := NewCursor(r)
	n := l.Pack(r, c, buf, 8, src)
	require.Equal(t, 5, n)
	assert.True(t, c.Done(r))
	assert.Equal(t, 0, l.Pack(r, c, buf, 8, src), "pack past the end of range returns 0")

	dst := make([]byte, 8*8)
	c2 := NewCursor(r)
	n2 := l.Unpack(r, c2, buf, 8, dst)
	require.Equal(t, 5, n2)
	assert.Equal(t, src[0:5*8], dst[0:5*8])
}

func TestCompact1DReuse(t *testing.T) {
	old := New(KindCompact1D, CompactParams{Lo: 0, Hi: 10})
	smaller := New(KindCompact1D, CompactParams{Lo: 0, Hi: 8})
	ok, count := smaller.Reuse(0, old, 0)
	assert.True(t, ok)
	assert.Equal(t, old.Count(), count)

	bigger := New(KindCompact1D, CompactParams{Lo: 0, Hi: 12})
	ok2, _ := bigger.Reuse(0, old, 0)
	assert.False(t, ok2, "a layout that needs more than the old allocation cannot reuse it")
}

func TestSparse1DSectionRespectsGaps(t *testing.T) {
	l := newSparse1D(SparseParams{LocalLength: 6})
	l.intervals = []interval{{from: 0, to: 3}, {from: 10, to: 13}}
	l.lowerBound, l.upperBound = 0, 13

	assert.Equal(t, 0, l.Section(space.NewIndex1D(1)))
	assert.Equal(t, 0, l.Section(space.NewIndex1D(11)))
	assert.Equal(t, -1, l.Section(space.NewIndex1D(5)), "a gap inside the hull is not locally owned")
}

func TestSparse1DOffsetConcatenatesIntervals(t *testing.T) {
	l := newSparse1D(SparseParams{LocalLength: 6})
	l.intervals = []interval{{from: 0, to: 3}, {from: 10, to: 13}}
	l.lowerBound, l.upperBound = 0, 13

	assert.Equal(t, int64(0), l.Offset(0, space.NewIndex1D(0)))
	assert.Equal(t, int64(2), l.Offset(0, space.NewIndex1D(2)))
	assert.Equal(t, int64(3), l.Offset(0, space.NewIndex1D(10)))
	assert.Equal(t, int64(5), l.Offset(0, space.NewIndex1D(12)))
}

func TestSparse1DExternalRingWraps(t *testing.T) {
	l := newSparse1D(SparseParams{LocalLength: 3, NumberOfExternalValues: 2})
	l.intervals = []interval{{from: 0, to: 3}}
	l.lowerBound, l.upperBound = 0, 3

	sp := space.New1D(100)
	r := space.NewRange1D(sp, 50, 53)
	c := NewCursor(r)

	var offsets []int64
	idx := r.From
	for {
		offsets = append(offsets, l.offsetWithRing(idx, &c.extRing))
		if !space.Next(r, &idx) {
			break
		}
	}
	require.Len(t, offsets, 3)
	assert.Equal(t, []int64{3, 4, 3}, offsets, "external indices consume the ring tail and wrap")
}

func TestSparse1DCalculateMappingMergesAdjacent(t *testing.T) {
	sp := space.New1D(20)
	b := rangelist.NewBuilder(1, sp)
	b.Append(0, space.NewRange1D(sp, 0, 5))
	b.Append(0, space.NewRange1D(sp, 5, 9))
	b.Append(0, space.NewRange1D(sp, 12, 15))
	rl := b.Build()

	l := newSparse1D(SparseParams{LocalLength: 12, RangeList: rl, MyID: 0})
	require.Len(t, l.intervals, 2)
	assert.Equal(t, interval{from: 0, to: 9}, l.intervals[0])
	assert.Equal(t, interval{from: 12, to: 15}, l.intervals[1])
}

func TestSparse1DReuseInheritsMapOnUnchangedLength(t *testing.T) {
	sp := space.New1D(20)
	b := rangelist.NewBuilder(1, sp)
	b.Append(0, space.NewRange1D(sp, 0, 10))
	rl := b.Build()

	old := newSparse1D(SparseParams{LocalLength: 10, RangeList: rl, MyID: 0})

	next := newSparse1D(SparseParams{LocalLength: 10})
	ok, count := next.Reuse(0, old, 0)
	assert.True(t, ok)
	assert.Equal(t, old.intervals, next.intervals, "map is inherited when localLength is unchanged")
	assert.Equal(t, old.count, count)
}

func TestSparse1DReuseFailsOnLengthChange(t *testing.T) {
	old := newSparse1D(SparseParams{LocalLength: 10})
	old.intervals = []interval{{from: 0, to: 10}}
	old.allocatedRangeCount = 10

	next := newSparse1D(SparseParams{LocalLength: 8})
	ok, _ := next.Reuse(0, old, 0)
	assert.False(t, ok)
}
