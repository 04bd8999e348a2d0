package layout

import "github.com/distgrid/distgrid/pkg/space"

// CompactParams constructs a Compact1D layout representing one
// contiguous range [Lo, Hi) over a 1-D space as a single allocation of
// Hi-Lo elements, plus an optional reserved tail of external slots.
type CompactParams struct {
	Lo, Hi                 int64
	NumberOfExternalValues uint64
}

// compact1D is the dense 1-D layout: one contiguous allocation, offset
// is simply idx - Lo. Grounded on
// original_source/src/layout_compact_vector.c.
type compact1D struct {
	lo, hi                 int64
	numberOfExternalValues uint64
	// count is the currently-allocated element capacity; distinct from
	// localLength when a Reuse inherited a larger prior allocation (S6).
	count int64
}

func newCompact1D(p CompactParams) *compact1D {
	ll := p.Hi - p.Lo
	return &compact1D{
		lo:                     p.Lo,
		hi:                     p.Hi,
		numberOfExternalValues: p.NumberOfExternalValues,
		count:                  ll + int64(p.NumberOfExternalValues),
	}
}

func (l *compact1D) Kind() Kind { return KindCompact1D }

func (l *compact1D) Section(idx space.Index) int {
	if idx.I[0] >= l.lo && idx.I[0] < l.hi {
		return 0
	}
	return -1
}

func (l *compact1D) MapNo(n int) int { return n }

func (l *compact1D) Offset(n int, idx space.Index) int64 {
	return idx.I[0] - l.lo
}

func (l *compact1D) LocalLength() int64 { return l.hi - l.lo }

func (l *compact1D) Count() int64 { return l.count }

// Pack copies elements of r in lexicographic (ascending) order starting
// at c, stopping once cap (len(buf)/elemSize) is exhausted; returns the
// element count packed, 0 exactly when the cursor already equals r.To.
func (l *compact1D) Pack(r space.Range, c *Cursor, buf []byte, elemSize int, src []byte) int {
	return genericPack(l, r, c, buf, elemSize, src)
}

func (l *compact1D) Unpack(r space.Range, c *Cursor, buf []byte, elemSize int, dst []byte) int {
	return genericUnpack(l, r, c, buf, elemSize, dst)
}

func (l *compact1D) Copy(r space.Range, elemSize int, fromLayout Layout, from []byte, toLayout Layout, to []byte) {
	genericCopy(r, elemSize, fromLayout, from, toLayout, to)
}

// Reuse returns true iff old is also a Compact1D layout and the new
// localLength fits within the old one's; when true, the caller adopts
// old's allocated count to keep the existing allocation.
func (l *compact1D) Reuse(n int, old Layout, nold int) (bool, int64) {
	oldC, ok := old.(*compact1D)
	if !ok {
		return false, l.Count()
	}
	if l.LocalLength() > oldC.LocalLength() {
		return false, l.Count()
	}
	l.count = oldC.count
	return true, oldC.count
}

func (l *compact1D) Describe() string {
	return sprintf("compact1d(1d, 1 map, localLength=%d, count=%d)", l.LocalLength(), l.count)
}
