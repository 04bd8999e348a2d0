package container

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distgrid/distgrid/internal/backend"
	"github.com/distgrid/distgrid/internal/backend/singleprocess"
	"github.com/distgrid/distgrid/internal/transition"
	"github.com/distgrid/distgrid/pkg/layout"
	"github.com/distgrid/distgrid/pkg/partitioner"
	"github.com/distgrid/distgrid/pkg/space"
)

func float64Bytes(v float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(int64(v)))
	return buf
}

func floatAt(buf []byte, off int64) float64 {
	return float64(int64(binary.LittleEndian.Uint64(buf[off*8 : off*8+8])))
}

func setFloat(buf []byte, off int64, v float64) {
	binary.LittleEndian.PutUint64(buf[off*8:off*8+8], uint64(int64(v)))
}

func newRankData(t *testing.T, be *singleprocess.Backend, sp *space.Space, rank int) (*Data, backend.Group) {
	t.Helper()
	g, err := be.Init(context.Background(), backend.Config{Self: backend.Peer{Task: rank}})
	require.NoError(t, err)
	return NewData(sp, 8, be, g), g
}

// TestSingleProcessWriteThenGatherSum mirrors examples/markov.c's S1/S2
// shape: every rank initializes its own block under a Block
// partitioning, then all ranks switch to Master with CopyIn so rank 0
// can sum every value.
func TestSingleProcessWriteThenGatherSum(t *testing.T) {
	sp := space.New1D(10)
	be := singleprocess.New(2)

	d0, _ := newRankData(t, be, sp, 0)
	d1, _ := newRankData(t, be, sp, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		require.NoError(t, d0.SwitchTo(context.Background(), partitioner.Block(partitioner.BlockOptions{PDim: 0}), SwitchOptions{Kind: layout.KindCompact1D, Flags: transition.Init}))
	}()
	go func() {
		defer wg.Done()
		require.NoError(t, d1.SwitchTo(context.Background(), partitioner.Block(partitioner.BlockOptions{PDim: 0}), SwitchOptions{Kind: layout.KindCompact1D, Flags: transition.Init}))
	}()
	wg.Wait()

	// every rank fills its own block with 1.0 per local index.
	m0 := d0.MapDef1()
	require.NotNil(t, m0)
	for i := int64(0); i < m0.Layout().LocalLength(); i++ {
		setFloat(m0.Bytes(), i, 1.0)
	}
	m1 := d1.MapDef1()
	require.NotNil(t, m1)
	for i := int64(0); i < m1.Layout().LocalLength(); i++ {
		setFloat(m1.Bytes(), i, 1.0)
	}

	wg.Add(2)
	var switchErr0, switchErr1 error
	go func() {
		defer wg.Done()
		switchErr0 = d0.SwitchTo(context.Background(), partitioner.Master(), SwitchOptions{Kind: layout.KindCompact1D, Flags: transition.CopyIn})
	}()
	go func() {
		defer wg.Done()
		switchErr1 = d1.SwitchTo(context.Background(), partitioner.Master(), SwitchOptions{Kind: layout.KindCompact1D, Flags: transition.CopyIn})
	}()
	wg.Wait()
	require.NoError(t, switchErr0)
	require.NoError(t, switchErr1)

	gathered := d0.MapDef1()
	require.NotNil(t, gathered)
	assert.Equal(t, int64(10), gathered.Layout().LocalLength())

	var sum float64
	for i := int64(0); i < gathered.Layout().LocalLength(); i++ {
		sum += floatAt(gathered.Bytes(), i)
	}
	assert.Equal(t, float64(10), sum, "every one of the 10 global indices contributed exactly 1.0")

	// task 1 no longer owns anything after switching to Master.
	emptyMapping := d1.MapDef1()
	require.NotNil(t, emptyMapping)
	assert.Equal(t, int64(0), emptyMapping.Layout().LocalLength())
}

func TestGlobal2LocalAndLocal2Global(t *testing.T) {
	sp := space.New1D(10)
	be := singleprocess.New(1)
	d, _ := newRankData(t, be, sp, 0)

	require.NoError(t, d.SwitchTo(context.Background(), partitioner.All(), SwitchOptions{Kind: layout.KindCompact1D, Flags: transition.Init}))

	off, ok := d.Global2Local(space.NewIndex1D(4))
	require.True(t, ok)
	assert.Equal(t, int64(4), off)

	idx, ok := d.Local2Global(4)
	require.True(t, ok)
	assert.Equal(t, int64(4), idx.I[0])

	_, ok = d.Global2Local(space.NewIndex1D(20))
	assert.False(t, ok, "an out-of-space index is never locally owned")
}

func TestStickyCapElemsSurvivesShrink(t *testing.T) {
	sp := space.New1D(10)
	// two-member group so Block actually shrinks rank 0's share; rank 1
	// never switches, which is fine since these SwitchTo calls carry
	// only Init (no CopyIn/CopyOut), so no collective Execute happens.
	be := singleprocess.New(2)
	d, _ := newRankData(t, be, sp, 0)

	require.NoError(t, d.SwitchTo(context.Background(), partitioner.All(), SwitchOptions{Kind: layout.KindCompact1D, Flags: transition.Init}))
	big := d.MapDef1().capElems
	assert.Equal(t, int64(10), big)

	shrink := partitioner.Block(partitioner.BlockOptions{PDim: 0})
	require.NoError(t, d.SwitchTo(context.Background(), shrink, SwitchOptions{Kind: layout.KindCompact1D, Flags: transition.Init}))
	assert.Equal(t, int64(5), d.MapDef1().Layout().LocalLength(), "the current local length reflects the smaller block")
	assert.GreaterOrEqual(t, d.MapDef1().capElems, big, "allocation size never shrinks below the historical maximum (S6)")
}
