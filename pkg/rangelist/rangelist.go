// Package rangelist implements the sorted, task-indexed collection of
// ranges that a Partitioner produces: the RangeList.
package rangelist

import (
	"fmt"
	"sort"

	"github.com/distgrid/distgrid/pkg/space"
)

// TaskRange is a single (task, range, mapNo) triple assigned by a
// partitioner. mapNo disambiguates multiple disjoint sub-ranges
// assigned to the same task.
type TaskRange struct {
	Task  int
	Range space.Range
	MapNo int
}

// RangeList is the sorted output of a partitioner run: every TaskRange
// assigned across the group, sorted by (Task, MapNo, From), plus an
// offset table Off[0..groupSize] such that Off[t]..Off[t+1] is task
// t's contiguous segment.
type RangeList struct {
	Entries []TaskRange
	Off     []int
	groupSize int
}

// GroupSize returns the task-group size this RangeList was built for.
func (rl *RangeList) GroupSize() int { return rl.groupSize }

// Segment returns the TaskRange entries owned by task t.
func (rl *RangeList) Segment(t int) []TaskRange {
	if t < 0 || t+1 >= len(rl.Off) {
		return nil
	}
	return rl.Entries[rl.Off[t]:rl.Off[t+1]]
}

// TotalSize sums Range.Size() across all entries, regardless of task.
func (rl *RangeList) TotalSize() int64 {
	var total int64
	for _, e := range rl.Entries {
		total += e.Range.Size()
	}
	return total
}

// Builder accumulates TaskRange entries for a partitioner run; Build
// sorts them, fills the offset table, and assigns default mapNos.
type Builder struct {
	groupSize int
	sp        *space.Space
	pending   []pendingEntry
}

type pendingEntry struct {
	task  int
	rng   space.Range
	mapNo int
	hasMapNo bool
}

// NewBuilder creates a Builder for a partitioner run over groupSize
// tasks and the given Space.
func NewBuilder(groupSize int, sp *space.Space) *Builder {
	return &Builder{groupSize: groupSize, sp: sp}
}

// Append records a range assigned to task, auto-assigning consecutive
// mapNos per task starting at 0 in call order (the default consolidation
// policy); a precondition-violating range outside the Space panics, per
// spec: "a partitioner that emits a range outside the Space fails
// fatally".
func (b *Builder) Append(task int, r space.Range) {
	if task < 0 || task >= b.groupSize {
		panic(fmt.Sprintf("rangelist: precondition violation: task %d out of range [0,%d)", task, b.groupSize))
	}
	if !r.WithinSpace() {
		panic(fmt.Sprintf("rangelist: precondition violation: range %v outside space %v", r, b.sp))
	}
	b.pending = append(b.pending, pendingEntry{task: task, rng: r})
}

// AppendWithMapNo is like Append but pins an explicit mapNo instead of
// letting Build assign one, used by partitioners that need to request
// consolidation of non-consecutive sub-ranges under the same mapNo.
func (b *Builder) AppendWithMapNo(task int, r space.Range, mapNo int) {
	if task < 0 || task >= b.groupSize {
		panic(fmt.Sprintf("rangelist: precondition violation: task %d out of range [0,%d)", task, b.groupSize))
	}
	if !r.WithinSpace() {
		panic(fmt.Sprintf("rangelist: precondition violation: range %v outside space %v", r, b.sp))
	}
	b.pending = append(b.pending, pendingEntry{task: task, rng: r, mapNo: mapNo, hasMapNo: true})
}

// Build sorts accumulated entries by (task, mapNo, from), fills in
// default consecutive mapNos for entries that did not request one,
// deduplicates adjacent identical entries (the builder-level dedup
// custom partitioners rely on, spec.md §4.1), and returns the RangeList.
func (b *Builder) Build() *RangeList {
	// assign default mapNos per task in append order before sorting,
	// since default numbering is "consecutive integers per task
	// starting at 0 in the order appended".
	nextMapNo := make(map[int]int, b.groupSize)
	entries := make([]TaskRange, len(b.pending))
	for i, p := range b.pending {
		mapNo := p.mapNo
		if !p.hasMapNo {
			mapNo = nextMapNo[p.task]
			nextMapNo[p.task]++
		}
		entries[i] = TaskRange{Task: p.task, Range: p.rng, MapNo: mapNo}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Task != b.Task {
			return a.Task < b.Task
		}
		if a.MapNo != b.MapNo {
			return a.MapNo < b.MapNo
		}
		return lexLess(a.Range.From, b.Range.From, a.Range.Space.Dims())
	})

	// dedup adjacent identical (task, mapNo, range) entries.
	deduped := entries[:0:0]
	for i, e := range entries {
		if i > 0 {
			p := entries[i-1]
			if p.Task == e.Task && p.MapNo == e.MapNo && p.Range.From == e.Range.From && p.Range.To == e.Range.To {
				continue
			}
		}
		deduped = append(deduped, e)
	}
	entries = deduped

	off := make([]int, b.groupSize+1)
	ei := 0
	for t := 0; t < b.groupSize; t++ {
		off[t] = ei
		for ei < len(entries) && entries[ei].Task == t {
			ei++
		}
	}
	off[b.groupSize] = ei

	return &RangeList{Entries: entries, Off: off, groupSize: b.groupSize}
}

func lexLess(a, b space.Index, dims int) bool {
	for i := 0; i < dims; i++ {
		if a.I[i] != b.I[i] {
			return a.I[i] < b.I[i]
		}
	}
	return false
}
