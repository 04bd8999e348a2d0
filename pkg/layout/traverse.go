package layout

import (
	"fmt"

	"github.com/distgrid/distgrid/pkg/space"
)

func sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

// genericPack implements the shared pack traversal scaffold described
// in spec.md §4.2.3: lexicographic, resumable via c, returns 0 exactly
// when c is already at r.To. Offsets are resolved through l.Offset so
// Compact1D and Sparse1D share this one traversal.
func genericPack(l Layout, r space.Range, c *Cursor, buf []byte, elemSize int, src []byte) int {
	if c.Done(r) {
		return 0
	}
	capElems := len(buf) / elemSize
	count := 0
	for count < capElems {
		off := l.Offset(0, c.idx)
		copy(buf[count*elemSize:(count+1)*elemSize], src[off*elemSize:(off+1)*elemSize])
		count++
		if !space.Next(r, &c.idx) {
			break
		}
	}
	return count
}

// genericUnpack is the symmetric inverse of genericPack.
func genericUnpack(l Layout, r space.Range, c *Cursor, buf []byte, elemSize int, dst []byte) int {
	if c.Done(r) {
		return 0
	}
	avail := len(buf) / elemSize
	count := 0
	for count < avail {
		off := l.Offset(0, c.idx)
		copy(dst[off*elemSize:(off+1)*elemSize], buf[count*elemSize:(count+1)*elemSize])
		count++
		if !space.Next(r, &c.idx) {
			break
		}
	}
	return count
}

// genericCopy performs an unbuffered element-wise copy equivalent in
// result to pack(r,·,buf,∞); unpack(r,·,buf,∞) with the same cursor
// progression (spec.md §4.2.3).
func genericCopy(r space.Range, elemSize int, fromLayout Layout, from []byte, toLayout Layout, to []byte) {
	if r.Empty() {
		return
	}
	idx := r.From
	for {
		fromOff := fromLayout.Offset(0, idx)
		toOff := toLayout.Offset(0, idx)
		copy(to[toOff*elemSize:(toOff+1)*elemSize], from[fromOff*elemSize:(fromOff+1)*elemSize])
		if !space.Next(r, &idx) {
			break
		}
	}
}
