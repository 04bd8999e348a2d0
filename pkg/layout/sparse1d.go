package layout

import (
	"github.com/distgrid/distgrid/pkg/rangelist"
	"github.com/distgrid/distgrid/pkg/space"
)

// SparseParams is the opaque construction parameter record spec.md §6
// fixes for the sparse layout: an id (for debugging/describe), the
// local element count, and the number of reserved external slots.
type SparseParams struct {
	ID                     int32
	LocalLength            uint64
	NumberOfExternalValues uint64
	// RangeList/MyID, when set, drive calculateMapping to build the
	// interval map immediately; if RangeList is nil the caller must call
	// (*sparse1D).CalculateMapping itself before first use (e.g. the
	// external-partitioning view that inherits its map via Reuse).
	RangeList *rangelist.RangeList
	MyID      int
}

// interval is a maximal contiguous run of locally-owned indices,
// [From, To).
type interval struct {
	from, to int64
}

// sparse1D is the gather/scatter layout: the union of several disjoint
// 1-D ranges owned by the local task, laid out contiguously in
// allocation order, followed by a tail region reserving one slot per
// externally referenced index. Grounded on
// original_source/src/layout_sparse_vector.c.
type sparse1D struct {
	id                     int32
	localLength            int64
	numberOfExternalValues uint64

	intervals              []interval
	lowerBound, upperBound int64

	// allocatedRangeCount backs the reuse heuristic (mirrors the C
	// allocatedRangeCount field exactly).
	allocatedRangeCount int64
	// count is the currently-allocated element capacity for this
	// mapping (localLength + numberOfExternalValues, or more after a
	// grow-to-max Reuse per S6).
	count int64
	// ownRing backs Offset() for direct (non-traversal) lookups; pack/
	// unpack/copy always thread their own Cursor-scoped ring instead
	// (spec.md §9's redesign note).
	ownRing uint64
}

func newSparse1D(p SparseParams) *sparse1D {
	l := &sparse1D{
		id:                     p.ID,
		localLength:            int64(p.LocalLength),
		numberOfExternalValues: p.NumberOfExternalValues,
		count:                  int64(p.LocalLength) + int64(p.NumberOfExternalValues),
		allocatedRangeCount:    int64(p.LocalLength) + int64(p.NumberOfExternalValues),
	}
	if p.RangeList != nil {
		l.CalculateMapping(p.RangeList, p.MyID)
	}
	return l
}

// CalculateMapping builds the interval list by scanning the task's
// segment in list, merging adjacent ranges whose To == next.From, per
// spec.md §4.2.2's calculate_mapping description and
// original_source/src/layout_sparse_vector.c's calculate_mapping.
func (l *sparse1D) CalculateMapping(list *rangelist.RangeList, myid int) {
	seg := list.Segment(myid)
	if len(seg) == 0 {
		l.intervals = nil
		l.lowerBound, l.upperBound = 0, 0
		return
	}

	var merged []interval
	cur := interval{from: seg[0].Range.From.I[0], to: seg[0].Range.To.I[0]}
	for _, e := range seg[1:] {
		from, to := e.Range.From.I[0], e.Range.To.I[0]
		if from == cur.to {
			cur.to = to
			continue
		}
		merged = append(merged, cur)
		cur = interval{from: from, to: to}
	}
	merged = append(merged, cur)

	l.intervals = merged
	l.lowerBound = merged[0].from
	l.upperBound = merged[len(merged)-1].to
}

func (l *sparse1D) Kind() Kind { return KindSparse1D }

// Section returns 0 iff idx falls inside one of the owned intervals
// (not merely the hull [lowerBound, upperBound)); spec.md §9 fixes the
// hull-only bug the original C section_vector had, since gaps between
// intervals would otherwise be misreported as local.
func (l *sparse1D) Section(idx space.Index) int {
	i := idx.I[0]
	if i < l.lowerBound || i >= l.upperBound {
		return -1
	}
	for _, iv := range l.intervals {
		if i >= iv.from && i < iv.to {
			return 0
		}
		if i < iv.from {
			return -1
		}
	}
	return -1
}

func (l *sparse1D) MapNo(n int) int { return n }

// Offset resolves idx to its local allocation offset. Locally-owned
// indices map to their position within the concatenated interval
// layout; external indices consume the next ring slot in the tail,
// per spec.md §4.2.2.
func (l *sparse1D) Offset(n int, idx space.Index) int64 {
	return l.offsetWithRing(idx, nil)
}

// offsetWithRing is Offset's implementation, parameterized on an
// optional external *Cursor ring so pack/unpack/copy traversals can
// thread their own ring state (spec.md §9's redesign) instead of
// mutating Layout identity state; a nil ring falls back to a
// layout-owned ring for direct (non-traversal) callers, matching the
// original's per-Layout cursor for one-off lookups.
func (l *sparse1D) offsetWithRing(idx space.Index, ring *uint64) int64 {
	i := idx.I[0]
	localOffset := int64(0)
	for _, iv := range l.intervals {
		if i >= iv.from && i < iv.to {
			localOffset += i - iv.from
			if localOffset < 0 || localOffset >= l.localLength {
				panic("layout: sparse1d invariant violated: offset outside localLength")
			}
			return localOffset
		}
		if i < iv.from {
			break
		}
		localOffset += iv.to - iv.from
	}

	if l.numberOfExternalValues == 0 {
		panic("layout: sparse1d fatal: external index referenced with no reserved external slots")
	}

	if ring == nil {
		ring = &l.ownRing
	}
	slot := *ring % l.numberOfExternalValues
	*ring++
	return l.localLength + int64(slot)
}

func (l *sparse1D) LocalLength() int64 { return l.localLength }

func (l *sparse1D) Count() int64 { return l.count }

func (l *sparse1D) Pack(r space.Range, c *Cursor, buf []byte, elemSize int, src []byte) int {
	if c.Done(r) {
		return 0
	}
	capElems := len(buf) / elemSize
	count := 0
	for count < capElems {
		off := l.offsetWithRing(c.idx, &c.extRing)
		copy(buf[count*elemSize:(count+1)*elemSize], src[off*elemSize:(off+1)*elemSize])
		count++
		if !space.Next(r, &c.idx) {
			break
		}
	}
	return count
}

func (l *sparse1D) Unpack(r space.Range, c *Cursor, buf []byte, elemSize int, dst []byte) int {
	if c.Done(r) {
		return 0
	}
	avail := len(buf) / elemSize
	count := 0
	for count < avail {
		off := l.offsetWithRing(c.idx, &c.extRing)
		copy(dst[off*elemSize:(off+1)*elemSize], buf[count*elemSize:(count+1)*elemSize])
		count++
		if !space.Next(r, &c.idx) {
			break
		}
	}
	return count
}

func (l *sparse1D) Copy(r space.Range, elemSize int, fromLayout Layout, from []byte, toLayout Layout, to []byte) {
	if r.Empty() {
		return
	}
	var fromRing, toRing uint64
	fs, fok := fromLayout.(*sparse1D)
	ts, tok := toLayout.(*sparse1D)
	idx := r.From
	for {
		var fromOff int64
		if fok {
			fromOff = fs.offsetWithRing(idx, &fromRing)
		} else {
			fromOff = fromLayout.Offset(0, idx)
		}
		var toOff int64
		if tok {
			toOff = ts.offsetWithRing(idx, &toRing)
		} else {
			toOff = toLayout.Offset(0, idx)
		}
		copy(to[toOff*elemSize:(toOff+1)*elemSize], from[fromOff*elemSize:(fromOff+1)*elemSize])
		if !space.Next(r, &idx) {
			break
		}
	}
}

// Reuse implements spec.md §4.2.2/§9's resolved contract: the map is
// inherited exactly when localLength is unchanged (independent of the
// boolean return), reuse fails if the old allocation is smaller than
// the interval count now needs or if localLength changed, and on
// success the allocation grows to the maximum of old and new (S6).
func (l *sparse1D) Reuse(n int, old Layout, nold int) (bool, int64) {
	oldS, ok := old.(*sparse1D)
	if !ok {
		return false, l.count
	}

	lengthChanged := l.localLength != oldS.localLength
	if !lengthChanged {
		l.intervals = oldS.intervals
		l.lowerBound = oldS.lowerBound
		l.upperBound = oldS.upperBound
	}

	fits := l.allocatedRangeCount <= oldS.allocatedRangeCount
	if !fits || lengthChanged {
		return false, l.count
	}

	if l.count < oldS.count {
		l.count = oldS.count
	}
	l.allocatedRangeCount = oldS.allocatedRangeCount
	return true, l.count
}

func (l *sparse1D) Describe() string {
	return sprintf("sparse1d(1d, 1 map, localLength=%d, numberOfExternalValues=%d, count=%d, allocatedRangeCount=%d)",
		l.localLength, l.numberOfExternalValues, l.count, l.allocatedRangeCount)
}
