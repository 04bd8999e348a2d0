// Package singleprocess implements the reference Backend used by
// cmd/markov's S1/S2 scenarios and by every package-local test in this
// module: every rank lives in the same process, and a send/recv pair
// rendezvous through an in-memory mailbox keyed by tag, adapted from
// the mutex-guarded map shape of the teacher's
// pkg/discovery.InMemoryDiscovery.
package singleprocess

import (
	"context"
	"sync"

	"github.com/distgrid/distgrid"
	"github.com/distgrid/distgrid/internal/backend"
)

// Backend is a shared world that any number of Group views (one per
// simulated rank) address through Init.
type Backend struct {
	size int

	mu    sync.Mutex
	boxes map[uint64]chan []byte
}

// New creates a Backend for a process group of the given size. size is
// fixed for the Backend's lifetime; spec.md's Non-goals exclude dynamic
// group membership changes.
func New(size int) *Backend {
	return &Backend{size: size, boxes: map[uint64]chan []byte{}}
}

type group struct {
	b    *Backend
	myID int
}

func (g *group) Size() int { return g.b.size }
func (g *group) MyID() int { return g.myID }

// Init returns the Group view for cfg.Self.Task; the caller chooses
// which rank it plays since singleprocess has no real process-group
// discovery (cfg.Discovery, if set, is unused here — the multi-process
// wsmesh backend is where Discovery matters).
func (b *Backend) Init(ctx context.Context, cfg backend.Config) (backend.Group, error) {
	if cfg.Self.Task < 0 || cfg.Self.Task >= b.size {
		return nil, distgrid.NewFault(distgrid.Precondition, "singleprocess.Init", nil)
	}
	return &group{b: b, myID: cfg.Self.Task}, nil
}

func (b *Backend) World(g backend.Group) backend.Group { return g }
func (b *Backend) MyID(g backend.Group) int            { return g.(*group).myID }
func (b *Backend) Size(g backend.Group) int             { return g.(*group).Size() }

func (b *Backend) boxFor(tag uint64) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.boxes[tag]
	if !ok {
		ch = make(chan []byte, 1)
		b.boxes[tag] = ch
	}
	return ch
}

// Execute carries out actions in order, rendezvousing each send/recv
// pair through the mailbox keyed by Tag. Since every rank shares one
// process and one Backend value, this stands in for a real collective:
// a receive blocks until the matching send has queued its buffer, and a
// send returns once its buffer is queued (one pending buffer per tag;
// a second send on a full tag blocks until the first is received).
func (b *Backend) Execute(ctx context.Context, g backend.Group, actions []backend.Action) error {
	for _, a := range actions {
		ch := b.boxFor(a.Tag)
		switch a.Kind {
		case backend.ActionSend:
			buf := append([]byte(nil), a.Buf...)
			select {
			case ch <- buf:
			case <-ctx.Done():
				return distgrid.NewFault(distgrid.BackendTransport, "singleprocess.Execute(send)", ctx.Err())
			}
		case backend.ActionRecv:
			select {
			case buf := <-ch:
				copy(a.Buf, buf)
			case <-ctx.Done():
				return distgrid.NewFault(distgrid.BackendTransport, "singleprocess.Execute(recv)", ctx.Err())
			}
		}
	}
	return nil
}

// Close is a no-op: singleprocess owns no external resources.
func (b *Backend) Close() error { return nil }
