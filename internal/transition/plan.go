// Package transition implements the planner that compares a Data
// container's old and new RangeLists and produces the local-copy plus
// peer-exchange actions needed to switch between them (spec.md §4.3).
//
// The planner is specified here for 1-D ranges only, matching the two
// Layout variants (Compact1D, Sparse1D) this core ships, which are both
// fixed at 1-D (spec.md §1's Non-goals explicitly exclude N-D sparse
// layouts). A higher-dimensional planner would need genuine N-D box
// arithmetic; this is recorded as an Open Question resolution in
// DESIGN.md rather than guessed at here.
package transition

import (
	"sort"

	"github.com/distgrid/distgrid/pkg/rangelist"
)

// Flags selects which data-flow guarantees a switch must provide,
// unchanged from spec.md §6's "Public data-flow flags".
type Flags int

const (
	// CopyIn requires that new-partition values reflect old state.
	CopyIn Flags = 1 << iota
	// CopyOut marks old-partition values as published. Plan does not act
	// on it: sends are scheduled under CopyIn, paired with the peers'
	// receives.
	CopyOut
	// Init zero-initializes new-partition values that aren't otherwise
	// produced by CopyIn.
	Init
	// ReduceOut is reserved (sum-combine on overlap); not implemented,
	// per spec.md §6 ("reserved; not required by this spec").
	ReduceOut
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Interval is a half-open 1-D interval [Lo, Hi).
type Interval struct {
	Lo, Hi int64
}

func (iv Interval) empty() bool { return iv.Lo >= iv.Hi }

// KeepOp is a local copy of an interval this task owned under both
// partitionings.
type KeepOp struct{ Interval }

// RecvOp receives an interval from Peer, owned by Peer under the old
// partitioning, needed locally under the new one.
type RecvOp struct {
	Interval
	Peer int
}

// SendOp sends an interval this task owned under the old partitioning
// to Peer, who needs it under the new one.
type SendOp struct {
	Interval
	Peer int
}

// FreeOp marks an interval this task owned under the old partitioning
// only; its backing storage may be released.
type FreeOp struct{ Interval }

// Plan is the full set of actions the local task must perform to
// switch from one partitioning to another.
type Plan struct {
	Keep []KeepOp
	Recv []RecvOp
	Send []SendOp
	Free []FreeOp
}

// sendElems counts how many elements this plan sends to peers (used by
// pkg/metrics instrumentation, which scales it by the element size).
func (p *Plan) sendElems() int64 {
	var n int64
	for _, s := range p.Send {
		n += s.Hi - s.Lo
	}
	return n
}

func (p *Plan) recvElems() int64 {
	var n int64
	for _, r := range p.Recv {
		n += r.Hi - r.Lo
	}
	return n
}

// SendElems and RecvElems expose the element-count helpers above.
func (p *Plan) SendElems() int64 { return p.sendElems() }
func (p *Plan) RecvElems() int64 { return p.recvElems() }

// Plan computes the transition plan for the local task myTask, moving
// from oldRL (nil if the container was previously unbound) to newRL,
// under flags. Tie-breaks follow spec.md §4.3: when an index is owned
// by multiple peers under the old partitioning, the canonical sender is
// the smallest task-id owner; sends/receives are ordered by peer task
// id for deterministic tag allocation.
func Plan(myTask int, oldRL, newRL *rangelist.RangeList, flags Flags) *Plan {
	plan := &Plan{}

	newLocal := mergeIntervals(segmentIntervals(newRL, myTask))

	if oldRL == nil {
		// Init: nothing to keep, receive, or free; new storage starts
		// uninitialised unless the caller separately zeros it under Init.
		return plan
	}

	oldLocal := mergeIntervals(segmentIntervals(oldRL, myTask))

	plan.Keep = keepOps(intersect(oldLocal, newLocal))
	plan.Free = freeOps(subtract(oldLocal, newLocal))

	if flags.has(CopyIn) {
		plan.Recv = recvOps(myTask, oldRL, newLocal, oldLocal)
	}
	// Every task of a collective switch passes the same flags, so sends
	// are scheduled under the same flag as the peers' matching receives.
	if flags.has(CopyIn) {
		plan.Send = sendOps(myTask, oldRL, newRL, oldLocal)
	}

	return plan
}

func segmentIntervals(rl *rangelist.RangeList, task int) []Interval {
	var out []Interval
	for _, e := range rl.Segment(task) {
		out = append(out, Interval{Lo: e.Range.From.I[0], Hi: e.Range.To.I[0]})
	}
	return out
}

// allTaskIntervals returns, for every task in the group, its merged
// local intervals under rl.
func allTaskIntervals(rl *rangelist.RangeList) map[int][]Interval {
	byTask := map[int][]Interval{}
	for t := 0; t < rl.GroupSize(); t++ {
		ivs := segmentIntervals(rl, t)
		if len(ivs) > 0 {
			byTask[t] = mergeIntervals(ivs)
		}
	}
	return byTask
}

func keepOps(ivs []Interval) []KeepOp {
	out := make([]KeepOp, 0, len(ivs))
	for _, iv := range ivs {
		out = append(out, KeepOp{iv})
	}
	return out
}

func freeOps(ivs []Interval) []FreeOp {
	out := make([]FreeOp, 0, len(ivs))
	for _, iv := range ivs {
		out = append(out, FreeOp{iv})
	}
	return out
}

// recvOps finds, for the intervals myTask needs under new but did not
// own under old (newLocal minus oldLocal), which old owner(s) supply
// them. When more than one old owner covers the same index (legal for
// All-style partitionings), the smallest task id claims it first.
func recvOps(myTask int, oldRL *rangelist.RangeList, newLocal, oldLocal []Interval) []RecvOp {
	needed := subtract(newLocal, oldLocal)
	if len(needed) == 0 {
		return nil
	}

	byTask := allTaskIntervals(oldRL)
	peers := make([]int, 0, len(byTask))
	for t := range byTask {
		if t == myTask {
			continue
		}
		peers = append(peers, t)
	}
	sort.Ints(peers)

	var recv []RecvOp
	remaining := needed
	for _, p := range peers {
		if len(remaining) == 0 {
			break
		}
		overlap := intersect(remaining, byTask[p])
		for _, iv := range overlap {
			recv = append(recv, RecvOp{Interval: iv, Peer: p})
		}
		remaining = subtract(remaining, byTask[p])
	}

	sort.SliceStable(recv, func(i, j int) bool {
		if recv[i].Peer != recv[j].Peer {
			return recv[i].Peer < recv[j].Peer
		}
		return recv[i].Lo < recv[j].Lo
	})
	return recv
}

// sendOps finds, for each other peer p, the sub-intervals of oldLocal
// (owned by myTask under old) that p actually needs under new — i.e.
// the part of p's new ownership that p did not already own under old
// (mirroring recvOps's "needed = new minus old"), not p's whole new
// ownership. A given interval may still be sent to several peers if
// several peers need it (legal for All-style new partitionings):
// spec.md §4.3 says "the old owner sends to each". When several old
// owners cover the same needed index (legal for All-style old
// partitionings), only the smallest task-id owner sends it, mirroring
// recvOps's canonical-sender tie-break so the two sides agree on who
// sends what.
func sendOps(myTask int, oldRL, newRL *rangelist.RangeList, oldLocal []Interval) []SendOp {
	if len(oldLocal) == 0 {
		return nil
	}

	oldByTask := allTaskIntervals(oldRL)
	newByTask := allTaskIntervals(newRL)

	oldOwners := make([]int, 0, len(oldByTask))
	for t := range oldByTask {
		oldOwners = append(oldOwners, t)
	}
	sort.Ints(oldOwners)

	peers := make([]int, 0, len(newByTask))
	for t := range newByTask {
		if t == myTask {
			continue
		}
		peers = append(peers, t)
	}
	sort.Ints(peers)

	var send []SendOp
	for _, p := range peers {
		needed := subtract(newByTask[p], oldByTask[p])
		if len(needed) == 0 {
			continue
		}
		remaining := needed
		for _, o := range oldOwners {
			if len(remaining) == 0 {
				break
			}
			overlap := intersect(remaining, oldByTask[o])
			if o == myTask {
				for _, iv := range overlap {
					send = append(send, SendOp{Interval: iv, Peer: p})
				}
			}
			remaining = subtract(remaining, oldByTask[o])
		}
	}
	return send
}

// --- 1-D interval set arithmetic ---

func mergeIntervals(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	sorted := append([]Interval(nil), ivs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lo < sorted[j].Lo })

	out := make([]Interval, 0, len(sorted))
	cur := sorted[0]
	for _, iv := range sorted[1:] {
		if iv.empty() {
			continue
		}
		if iv.Lo <= cur.Hi {
			if iv.Hi > cur.Hi {
				cur.Hi = iv.Hi
			}
			continue
		}
		out = append(out, cur)
		cur = iv
	}
	out = append(out, cur)
	return out
}

// intersect returns the intersection of two sorted, merged interval
// lists as a sorted, merged interval list.
func intersect(a, b []Interval) []Interval {
	var out []Interval
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		lo := maxI64(a[i].Lo, b[j].Lo)
		hi := minI64(a[i].Hi, b[j].Hi)
		if lo < hi {
			out = append(out, Interval{Lo: lo, Hi: hi})
		}
		if a[i].Hi < b[j].Hi {
			i++
		} else {
			j++
		}
	}
	return out
}

// subtract returns a minus b (both sorted, merged interval lists) as a
// sorted, merged interval list.
func subtract(a, b []Interval) []Interval {
	var out []Interval
	j := 0
	for _, iv := range a {
		cur := iv
		for j < len(b) && b[j].Hi <= cur.Lo {
			j++
		}
		k := j
		for k < len(b) && b[k].Lo < cur.Hi {
			if b[k].Lo > cur.Lo {
				out = append(out, Interval{Lo: cur.Lo, Hi: b[k].Lo})
			}
			if b[k].Hi > cur.Lo {
				cur.Lo = b[k].Hi
			}
			if cur.Lo >= cur.Hi {
				break
			}
			k++
		}
		if cur.Lo < cur.Hi {
			out = append(out, cur)
		}
	}
	return out
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
