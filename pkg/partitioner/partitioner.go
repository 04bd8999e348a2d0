// Package partitioner implements pure functions that, given a task
// group and a Space (and optionally a prior RangeList), produce a
// RangeList describing which task owns which indices.
package partitioner

import (
	"fmt"
	"math"
	"sync"

	"github.com/distgrid/distgrid/pkg/rangelist"
	"github.com/distgrid/distgrid/pkg/space"
)

// Group is the minimal view of a task group a partitioner needs: its
// size. The concrete group/membership type lives in internal/backend;
// partitioner only depends on this narrow interface so it stays free of
// any transport concern.
type Group interface {
	Size() int
}

type staticGroup int

func (g staticGroup) Size() int { return int(g) }

// StaticGroup wraps a known size as a Group, used by tests and by
// callers that already know the group size without a live backend.
func StaticGroup(n int) Group { return staticGroup(n) }

// RunFunc is the pure function a Partitioner wraps: given a builder to
// append ranges to and an optional prior RangeList, populate the
// builder. Two calls with identical group/space/other/data must
// produce RangeLists comparing equal up to sorting.
type RunFunc func(b *rangelist.Builder, g Group, sp *space.Space, other *rangelist.RangeList)

// Partitioner is a named, pure RangeList-producing function. Unlike the
// C original's raw void* user data, any closure state is captured by
// value in the RunFunc closure itself, so a Partitioner can outlive the
// call-site frame that constructed it without an arena indirection.
type Partitioner struct {
	Name string
	run  RunFunc
}

// New wraps an arbitrary pure function as a named Partitioner. Used by
// Custom and by every built-in below.
func New(name string, run RunFunc) *Partitioner {
	return &Partitioner{Name: name, run: run}
}

// Run evaluates the partitioner for the given group/space, building a
// RangeList via a fresh Builder.
func (p *Partitioner) Run(g Group, sp *space.Space, other *rangelist.RangeList) *rangelist.RangeList {
	b := rangelist.NewBuilder(g.Size(), sp)
	p.run(b, g, sp, other)
	return b.Build()
}

func fullRange(sp *space.Space) space.Range {
	dims := sp.Dims()
	var from, to space.Index
	for i := 0; i < dims; i++ {
		to.I[i] = sp.Size(i)
	}
	return space.Range{Space: sp, From: from, To: to}
}

// --- registry for lazily-constructed All/Master singletons, per
// spec.md §9's "Global state" design note: a process-wide registry
// initialised once, instead of ad hoc package-level vars racing backend
// init.

var (
	registryMu sync.Mutex
	allSingleton    *Partitioner
	masterSingleton *Partitioner
)

// All returns the process-wide All partitioner singleton, constructing
// it on first use.
func All() *Partitioner {
	registryMu.Lock()
	defer registryMu.Unlock()
	if allSingleton == nil {
		allSingleton = newAll()
	}
	return allSingleton
}

// Master returns the process-wide Master partitioner singleton,
// constructing it on first use.
func Master() *Partitioner {
	registryMu.Lock()
	defer registryMu.Unlock()
	if masterSingleton == nil {
		masterSingleton = newMaster()
	}
	return masterSingleton
}

// ResetRegistry clears the lazily-built singletons. Exists only for
// test isolation across Space registries; production code never needs
// to call it. Must run before the backend is torn down, never after,
// per the documented teardown ordering (partitioners before backend).
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	allSingleton = nil
	masterSingleton = nil
}

func newAll() *Partitioner {
	return New("all", func(b *rangelist.Builder, g Group, sp *space.Space, _ *rangelist.RangeList) {
		full := fullRange(sp)
		for t := 0; t < g.Size(); t++ {
			b.Append(t, full)
		}
	})
}

func newMaster() *Partitioner {
	return New("master", func(b *rangelist.Builder, g Group, sp *space.Space, _ *rangelist.RangeList) {
		b.Append(0, fullRange(sp))
	})
}

// Copy builds a partitioner that, for each entry in base, emits a range
// equal to the full space but with dimension toDim restricted to
// base.Range[fromDim]. Preconditions: base uses the same group, the
// dimension indices are valid, and base's bounds are valid; violations
// panic (precondition violation, fatal per spec §4.1/§7).
func Copy(base *rangelist.RangeList, fromDim, toDim int) *Partitioner {
	return New("copy", func(b *rangelist.Builder, g Group, sp *space.Space, _ *rangelist.RangeList) {
		if base.GroupSize() != g.Size() {
			panic("partitioner: Copy precondition violation: base uses a different group")
		}
		if toDim < 0 || toDim >= sp.Dims() {
			panic("partitioner: Copy precondition violation: toDim out of range")
		}
		for _, e := range base.Entries {
			if fromDim < 0 || fromDim >= e.Range.Space.Dims() {
				panic("partitioner: Copy precondition violation: fromDim out of range")
			}
			r := fullRange(sp)
			r.From.I[toDim] = e.Range.From.I[fromDim]
			r.To.I[toDim] = e.Range.To.I[fromDim]
			if !r.WithinSpace() {
				panic("partitioner: Copy precondition violation: copied bound outside space")
			}
			b.Append(e.Task, r)
		}
	})
}

// IdxWeight computes the weight of a single index along the
// partitioned dimension; nil means unit weight for every index.
type IdxWeight func(i int64) float64

// TaskWeight computes the relative weight of a task; nil means unit
// weight for every task.
type TaskWeight func(task int) float64

// BlockOptions configures the Block partitioner.
type BlockOptions struct {
	// PDim is the dimension being split into blocks.
	PDim int
	// Cycles is the number of round-robin passes over tasks (default 1
	// if zero).
	Cycles int
	IdxW   IdxWeight
	TaskW  TaskWeight
}

// Block partitions dimension opts.PDim into contiguous blocks such that
// the sum of per-index weights in each block is approximately
// proportional to each task's weight, following
// original_source/src/partitioner.c's runBlockPartitioner algorithm
// exactly (including its round-robin "cycles" sweep).
func Block(opts BlockOptions) *Partitioner {
	cycles := opts.Cycles
	if cycles <= 0 {
		cycles = 1
	}
	return New("block", func(b *rangelist.Builder, g Group, sp *space.Space, _ *rangelist.RangeList) {
		runBlock(b, g, sp, opts.PDim, cycles, opts.IdxW, opts.TaskW)
	})
}

func runBlock(b *rangelist.Builder, g Group, sp *space.Space, pdim, cycles int, idxW IdxWeight, taskW TaskWeight) {
	count := g.Size()
	size := sp.Size(pdim)

	totalW := 0.0
	if idxW != nil {
		for i := int64(0); i < size; i++ {
			w := idxW(i)
			if math.IsNaN(w) || math.IsInf(w, 0) {
				panic("partitioner: Block precondition violation: non-finite index weight")
			}
			totalW += w
		}
	} else {
		totalW = float64(size)
	}

	totalTW := 0.0
	if taskW != nil {
		for t := 0; t < count; t++ {
			w := taskW(t)
			if math.IsNaN(w) || math.IsInf(w, 0) {
				panic("partitioner: Block precondition violation: non-finite task weight")
			}
			totalTW += w
		}
	} else {
		totalTW = float64(count)
	}

	perPart := totalW / float64(count) / float64(cycles)

	taskWeightOf := func(t int) float64 {
		if taskW != nil {
			return taskW(t) * float64(count) / totalTW
		}
		return 1.0
	}

	template := fullRange(sp)
	from := int64(0)
	w := -0.5
	task := 0
	cycle := 0
	tw := taskWeightOf(task)

	emit := func(t int, lo, hi int64) {
		if lo >= hi {
			return
		}
		r := template
		r.From.I[pdim] = lo
		r.To.I[pdim] = hi
		b.Append(t, r)
	}

	for i := int64(0); i < size; i++ {
		if idxW != nil {
			w += idxW(i)
		} else {
			w += 1.0
		}

		for w >= perPart*tw {
			w -= perPart * tw
			if task+1 == count && cycle+1 == cycles {
				break
			}
			emit(task, from, i)
			task++
			if task == count {
				task = 0
				cycle++
			}
			tw = taskWeightOf(task)
			from = i
		}
		if task+1 == count && cycle+1 == cycles {
			break
		}
	}
	emit(task, from, size)

	if !(task+1 == count && cycle+1 == cycles) {
		panic(fmt.Sprintf("partitioner: Block internal invariant violated: task=%d cycle=%d count=%d cycles=%d", task, cycle, count, cycles))
	}
}

// Custom wraps a user-supplied RunFunc as a Partitioner, e.g. to derive
// a halo-aware partitioning from a prior RangeList (see
// examples/markov.c's run_markovPartitioner, reproduced by
// transition-consuming callers in cmd/markov).
func Custom(name string, run RunFunc) *Partitioner {
	return New(name, run)
}
