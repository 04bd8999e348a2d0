package rangelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distgrid/distgrid/pkg/space"
)

func TestBuilderAssignsConsecutiveMapNos(t *testing.T) {
	sp := space.New1D(100)
	b := NewBuilder(2, sp)
	b.Append(0, space.NewRange1D(sp, 0, 10))
	b.Append(0, space.NewRange1D(sp, 20, 30))
	b.Append(1, space.NewRange1D(sp, 10, 20))

	rl := b.Build()
	seg0 := rl.Segment(0)
	require.Len(t, seg0, 2)
	assert.Equal(t, 0, seg0[0].MapNo)
	assert.Equal(t, 1, seg0[1].MapNo)

	seg1 := rl.Segment(1)
	require.Len(t, seg1, 1)
	assert.Equal(t, 0, seg1[0].MapNo)
}

func TestBuilderSortsAndOffsets(t *testing.T) {
	sp := space.New1D(100)
	b := NewBuilder(3, sp)
	b.Append(2, space.NewRange1D(sp, 50, 60))
	b.Append(0, space.NewRange1D(sp, 0, 10))
	b.Append(1, space.NewRange1D(sp, 10, 20))

	rl := b.Build()
	require.Equal(t, 3, rl.GroupSize())
	assert.Equal(t, 0, rl.Entries[rl.Off[0]].Task)
	assert.Equal(t, 1, rl.Entries[rl.Off[1]].Task)
	assert.Equal(t, 2, rl.Entries[rl.Off[2]].Task)
}

func TestBuilderDedupsAdjacentIdenticalEntries(t *testing.T) {
	sp := space.New1D(100)
	b := NewBuilder(1, sp)
	r := space.NewRange1D(sp, 0, 10)
	b.AppendWithMapNo(0, r, 0)
	b.AppendWithMapNo(0, r, 0)

	rl := b.Build()
	assert.Len(t, rl.Segment(0), 1)
}

func TestBuilderPreconditionViolations(t *testing.T) {
	sp := space.New1D(10)
	b := NewBuilder(2, sp)
	assert.Panics(t, func() { b.Append(5, space.NewRange1D(sp, 0, 1)) })
	assert.Panics(t, func() { b.Append(0, space.NewRange1D(sp, 0, 20)) })
}

func TestTotalSize(t *testing.T) {
	sp := space.New1D(100)
	b := NewBuilder(2, sp)
	b.Append(0, space.NewRange1D(sp, 0, 10))
	b.Append(1, space.NewRange1D(sp, 10, 25))
	rl := b.Build()
	assert.Equal(t, int64(25), rl.TotalSize())
}
