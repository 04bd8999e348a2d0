// Package layout implements the index-to-offset translation and
// pack/unpack/copy codecs that back one Mapping of a Data container:
// Compact1D (dense, one contiguous range) and Sparse1D (gather/scatter
// union of ranges plus an external-value tail).
package layout

import (
	"fmt"

	"github.com/distgrid/distgrid/pkg/space"
)

// Kind discriminates the closed set of Layout variants this core
// supports. Per spec.md §9 ("Polymorphic Layouts"), the variant set is
// closed inside the core; callers extend behavior only through
// RegisterFactory, never by having the core type-switch on an open
// interface.
type Kind int

const (
	KindCompact1D Kind = iota
	KindSparse1D
)

func (k Kind) String() string {
	switch k {
	case KindCompact1D:
		return "compact1d"
	case KindSparse1D:
		return "sparse1d"
	default:
		return "unknown"
	}
}

// Cursor is per-traversal state for pack/unpack, threaded through calls
// instead of living on the Layout. This is the redesign spec.md §9
// calls for: "Implementations should instead thread cursor state
// through the pack/unpack call itself... to eliminate the coupling
// between Layout identity and traversal state."
type Cursor struct {
	idx space.Index
	// extRing is the external-slot ring position for Sparse1D; reset to
	// 0 at the start of every traversal per spec.md §5's "must be reset
	// to 0 at the start of every pack or unpack sequence".
	extRing uint64
}

// NewCursor creates a fresh cursor positioned at the start of range.
func NewCursor(r space.Range) *Cursor {
	return &Cursor{idx: r.From}
}

// Done reports whether the cursor has reached range.To.
func (c *Cursor) Done(r space.Range) bool {
	return c.idx == r.To
}

// Layout is the capability set every concrete layout variant
// implements: index-to-offset translation, pack/unpack/copy codecs
// over a Range, a reuse test against a prior layout, and a
// human-readable description.
type Layout interface {
	Kind() Kind
	// Section returns the mapNo whose range contains idx, or -1.
	Section(idx space.Index) int
	// MapNo maps a raw map index n to the mapNo this layout instance
	// represents (identity for the single-mapping layouts in this
	// package).
	MapNo(n int) int
	// Offset returns the local element offset for idx within map n.
	Offset(n int, idx space.Index) int64
	// Count is the total number of elements the backing allocation must
	// hold (localLength plus any external tail).
	Count() int64
	// LocalLength is the number of locally-owned elements.
	LocalLength() int64
	// Pack copies as many elements of range as fit in buf (capacity
	// len(buf)/elemSize), starting at cursor, advancing it; returns the
	// element count packed. Returns 0 exactly when cursor is already at
	// range.To.
	Pack(r space.Range, c *Cursor, buf []byte, elemSize int, src []byte) int
	// Unpack is the symmetric inverse of Pack.
	Unpack(r space.Range, c *Cursor, buf []byte, elemSize int, dst []byte) int
	// Copy performs an element-wise copy of range from one mapping's
	// backing buffer to another's, without intermediate buffering.
	Copy(r space.Range, elemSize int, fromLayout Layout, from []byte, toLayout Layout, to []byte)
	// Reuse reports whether this layout (the "new" one, at map index n)
	// can reuse old's allocation (at map index nold); when true, the
	// caller should adopt old's allocated element count.
	Reuse(n int, old Layout, nold int) (reuse bool, allocCount int64)
	// Describe renders a short human-readable summary, used in logs.
	Describe() string
}

// Factory constructs a Layout from the generic parameter bag a caller
// supplies; registered per Kind so the core's construction path never
// needs to know about a concrete struct type outside this package.
type Factory func(params interface{}) Layout

var factories = map[Kind]Factory{}

// RegisterFactory installs the constructor for a Layout Kind. Called
// during package init for the two built-in kinds; exists as a named
// extension point per spec.md §9, not meant for arbitrary third-party
// kinds (the Kind enum itself stays closed).
func RegisterFactory(k Kind, f Factory) {
	factories[k] = f
}

// New constructs a Layout of the given kind via its registered factory.
func New(k Kind, params interface{}) Layout {
	f, ok := factories[k]
	if !ok {
		panic(fmt.Sprintf("layout: no factory registered for kind %v", k))
	}
	return f(params)
}

func init() {
	RegisterFactory(KindCompact1D, func(params interface{}) Layout {
		p := params.(CompactParams)
		return newCompact1D(p)
	})
	RegisterFactory(KindSparse1D, func(params interface{}) Layout {
		p := params.(SparseParams)
		return newSparse1D(p)
	})
}
