// Package container implements the Data container: the typed local
// storage bound to a Space, switched between partitionings by
// SwitchTo. Grounded on examples/markov.c's laik_switchto/
// laik_map_def1 read/write loop and on spec.md §4.4.
package container

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/distgrid/distgrid"
	"github.com/distgrid/distgrid/internal/backend"
	"github.com/distgrid/distgrid/internal/transition"
	"github.com/distgrid/distgrid/pkg/layout"
	"github.com/distgrid/distgrid/pkg/metrics"
	"github.com/distgrid/distgrid/pkg/partitioner"
	"github.com/distgrid/distgrid/pkg/rangelist"
	"github.com/distgrid/distgrid/pkg/space"
	"github.com/distgrid/distgrid/pkg/telemetry"
)

// Mapping is the local allocation backing one Data container under one
// partitioning: a Layout plus the raw byte buffer it addresses.
// capElems is sticky: once grown it never shrinks across a SwitchTo,
// even when the new Layout's Reuse fails because the index set
// genuinely changed shape (spec.md §8 S6, "allocation size is the
// maximum seen").
type Mapping struct {
	layout   layout.Layout
	buf      []byte
	capElems int64
}

// Layout returns the Mapping's current Layout.
func (m *Mapping) Layout() layout.Layout { return m.layout }

// Bytes returns the Mapping's backing buffer, sized to capElems *
// elemSize; callers index into it via Layout.Offset.
func (m *Mapping) Bytes() []byte { return m.buf }

// Data is a typed container bound to a Space, switched between
// partitionings collectively via SwitchTo.
type Data struct {
	mu sync.Mutex

	sp       *space.Space
	elemSize int
	be       backend.Backend
	group    backend.Group

	active *rangelist.RangeList
	mapping *Mapping

	transitionSeq uint64
	groupLabel    string
}

// DataOption configures optional, non-semantic aspects of a Data
// container, such as the label its metrics and spans are reported under.
type DataOption func(*Data)

// WithGroupLabel sets the Prometheus/tracing label for this container's
// group; defaults to "default" when not given.
func WithGroupLabel(name string) DataOption {
	return func(d *Data) { d.groupLabel = name }
}

// NewData creates an unbound container over sp: no partitioning has
// been applied yet, so Global2Local/MapDef1 fail until the first
// SwitchTo.
func NewData(sp *space.Space, elemSize int, be backend.Backend, g backend.Group, opts ...DataOption) *Data {
	if elemSize <= 0 {
		panic("container: precondition violation: elemSize must be positive")
	}
	d := &Data{sp: sp, elemSize: elemSize, be: be, group: g, groupLabel: "default"}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MapDef1 returns the current Mapping (its Bytes method gives the
// backing buffer), or nil if the container has never been switched. Named for markov.c's
// laik_map_def1, which hands the caller a direct pointer to the single
// local allocation for read/write access between switches.
func (d *Data) MapDef1() *Mapping {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mapping
}

// Global2Local translates a global index to its local element offset
// under the active Mapping. ok is false if idx is not locally owned
// under the current partitioning; external-tail slots are not
// reported.
func (d *Data) Global2Local(idx space.Index) (offset int64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mapping == nil {
		return 0, false
	}
	if d.mapping.layout.Section(idx) < 0 {
		return 0, false
	}
	return d.mapping.layout.Offset(0, idx), true
}

// OwnedRange returns the 1-D hull [lo, hi) this task owns under the
// active partitioning, for callers that want to iterate their own local
// indices directly instead of scanning the whole space.
func (d *Data) OwnedRange() (lo, hi int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return 0, 0
	}
	return hullOf(d.active, d.be.MyID(d.group))
}

// Local2Global inverts Global2Local by linear scan over the active
// range for this task: a reference-quality implementation adequate for
// the debug/introspection paths this core exposes it for, not a hot
// path (spec.md does not require an indexed inverse).
func (d *Data) Local2Global(localOffset int64) (space.Index, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mapping == nil || d.active == nil {
		return space.Index{}, false
	}
	myID := d.be.MyID(d.group)
	for _, e := range d.active.Segment(myID) {
		idx := e.Range.From
		for {
			if d.mapping.layout.Offset(0, idx) == localOffset {
				return idx, true
			}
			if !space.Next(e.Range, &idx) {
				break
			}
		}
	}
	return space.Index{}, false
}

// SwitchOptions configures one SwitchTo call.
type SwitchOptions struct {
	Kind                   layout.Kind
	Flags                  transition.Flags
	NumberOfExternalValues uint64
}

// SwitchTo is the sole blocking/suspension point of this core: it
// computes the new partitioning with p, plans the keep/recv/send/free
// sets against the currently active one, exchanges data collectively
// through the backend, and installs the result as the new active
// Mapping. Any failure (backend fault, OOM) is fatal to the whole
// process group, per spec.md §7. The active Mapping is only replaced
// after every local and remote step has succeeded; when the new layout
// reuses the old buffer, the local Keep copies have already been
// written into it by the time the backend exchange runs.
func (d *Data) SwitchTo(ctx context.Context, p *partitioner.Partitioner, opts SwitchOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	ctx, span := otel.Tracer("distgrid").Start(ctx, "distgrid.switchto")
	span.SetAttributes(telemetry.GroupAttribute(d.groupLabel))
	defer span.End()

	result := "ok"
	defer func() {
		metrics.RecordSwitch(d.groupLabel, result, time.Since(start).Seconds())
	}()

	newRL := p.Run(d.group, d.sp, d.active)
	myID := d.be.MyID(d.group)

	newLayout := buildLayout(opts.Kind, newRL, myID, opts.NumberOfExternalValues)

	var oldLayout layout.Layout
	var oldBuf []byte
	var oldCapElems int64
	if d.mapping != nil {
		oldLayout = d.mapping.layout
		oldBuf = d.mapping.buf
		oldCapElems = d.mapping.capElems
	}

	reuse := false
	var reuseCount int64
	if oldLayout != nil {
		reuse, reuseCount = newLayout.Reuse(0, oldLayout, 0)
	}

	capElems := newLayout.Count()
	if oldCapElems > capElems {
		capElems = oldCapElems
	}
	if reuse && reuseCount > capElems {
		capElems = reuseCount
	}

	// Under Init the new values start zeroed, so the old buffer (and its
	// stale contents) is kept only when Init is not requested.
	reusedBuf := reuse && opts.Flags&transition.Init == 0 && int64(len(oldBuf)) >= capElems*int64(d.elemSize)
	var newBuf []byte
	if reusedBuf {
		newBuf = oldBuf
	} else {
		newBuf = make([]byte, capElems*int64(d.elemSize))
	}

	plan := transition.Plan(myID, d.active, newRL, opts.Flags)
	span.SetAttributes(
		telemetry.KeepCountAttribute(len(plan.Keep)),
		telemetry.SendCountAttribute(len(plan.Send)),
		telemetry.RecvCountAttribute(len(plan.Recv)),
		telemetry.FreeCountAttribute(len(plan.Free)),
	)

	if oldLayout != nil {
		for _, k := range plan.Keep {
			r := d.rangeOf(k.Lo, k.Hi)
			newLayout.Copy(r, d.elemSize, oldLayout, oldBuf, newLayout, newBuf)
		}
	}

	actions, recvSlots := d.buildActions(plan, oldLayout, oldBuf)
	if len(actions) > 0 {
		if err := d.be.Execute(ctx, d.group, actions); err != nil {
			result = "error"
			span.RecordError(err)
			return distgrid.NewFault(distgrid.BackendTransport, "container.SwitchTo", err)
		}
	}
	metrics.RecordTransfer(d.groupLabel, plan.SendElems()*int64(d.elemSize), plan.RecvElems()*int64(d.elemSize))

	for _, slot := range recvSlots {
		r := d.rangeOf(slot.lo, slot.hi)
		c := layout.NewCursor(r)
		newLayout.Unpack(r, c, slot.buf, d.elemSize, newBuf)
	}

	d.active = newRL
	d.mapping = &Mapping{layout: newLayout, buf: newBuf, capElems: capElems}
	d.transitionSeq++
	metrics.RecordMapping(d.groupLabel, int64(len(newBuf)), reusedBuf)
	return nil
}

func (d *Data) rangeOf(lo, hi int64) space.Range {
	return space.Range{Space: d.sp, From: space.NewIndex1D(lo), To: space.NewIndex1D(hi)}
}

type recvSlot struct {
	lo, hi int64
	buf    []byte
}

// buildActions compiles a transition.Plan's Send/Recv sets into
// backend actions with deterministic tags: (transitionSeq, srcTask,
// dstTask, ordinal), where ordinal counts prior transfers between the
// same ordered pair this transition, matching spec.md §5. Sends are
// packed eagerly through oldLayout; the caller unpacks each recvSlot's
// buffer into the new Mapping only after Execute returns, since the
// backend call is itself the synchronization point.
func (d *Data) buildActions(plan *transition.Plan, oldLayout layout.Layout, oldBuf []byte) ([]backend.Action, []recvSlot) {
	myID := d.be.MyID(d.group)

	var actions []backend.Action
	var slots []recvSlot

	sendOrdinal := map[int]uint64{}
	for _, s := range plan.Send {
		idx := sendOrdinal[s.Peer]
		sendOrdinal[s.Peer]++
		tag := transitionTag(d.transitionSeq, myID, s.Peer, idx)

		r := d.rangeOf(s.Lo, s.Hi)
		buf := make([]byte, (s.Hi-s.Lo)*int64(d.elemSize))
		c := layout.NewCursor(r)
		oldLayout.Pack(r, c, buf, d.elemSize, oldBuf)
		actions = append(actions, backend.Action{Kind: backend.ActionSend, Peer: s.Peer, Tag: tag, Buf: buf})
	}

	recvOrdinal := map[int]uint64{}
	for _, rcv := range plan.Recv {
		idx := recvOrdinal[rcv.Peer]
		recvOrdinal[rcv.Peer]++
		tag := transitionTag(d.transitionSeq, rcv.Peer, myID, idx)

		buf := make([]byte, (rcv.Hi-rcv.Lo)*int64(d.elemSize))
		actions = append(actions, backend.Action{Kind: backend.ActionRecv, Peer: rcv.Peer, Tag: tag, Buf: buf})
		slots = append(slots, recvSlot{lo: rcv.Lo, hi: rcv.Hi, buf: buf})
	}

	// Sends before receives within one Execute call lets a backend pump
	// its write side before blocking on reads, avoiding a head-of-line
	// deadlock on backends with small per-connection buffers (wsmesh).
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Kind == backend.ActionSend && actions[j].Kind == backend.ActionRecv
	})

	return actions, slots
}

func transitionTag(seq uint64, src, dst int, ordinal uint64) uint64 {
	return seq<<40 | uint64(uint32(src))<<28 | uint64(uint32(dst))<<16 | (ordinal & 0xffff)
}

func buildLayout(kind layout.Kind, rl *rangelist.RangeList, myID int, numExternal uint64) layout.Layout {
	switch kind {
	case layout.KindCompact1D:
		lo, hi := hullOf(rl, myID)
		return layout.New(layout.KindCompact1D, layout.CompactParams{
			Lo: lo, Hi: hi, NumberOfExternalValues: numExternal,
		})
	case layout.KindSparse1D:
		return layout.New(layout.KindSparse1D, layout.SparseParams{
			LocalLength:            uint64(localLengthOf(rl, myID)),
			NumberOfExternalValues: numExternal,
			RangeList:              rl,
			MyID:                   myID,
		})
	default:
		panic(fmt.Sprintf("container: unknown layout kind %v", kind))
	}
}

func hullOf(rl *rangelist.RangeList, myID int) (lo, hi int64) {
	seg := rl.Segment(myID)
	if len(seg) == 0 {
		return 0, 0
	}
	lo, hi = seg[0].Range.From.I[0], seg[0].Range.To.I[0]
	for _, e := range seg[1:] {
		if e.Range.From.I[0] < lo {
			lo = e.Range.From.I[0]
		}
		if e.Range.To.I[0] > hi {
			hi = e.Range.To.I[0]
		}
	}
	return lo, hi
}

func localLengthOf(rl *rangelist.RangeList, myID int) int64 {
	var n int64
	for _, e := range rl.Segment(myID) {
		n += e.Range.Size()
	}
	return n
}
