// Package backend defines the collective-execution contract a
// transport must satisfy to carry out a transition.Plan, plus the
// process-group membership discovery contract spec.md §1 names as an
// external collaborator.
package backend

import "context"

// Peer identifies one member of a process group.
type Peer struct {
	Task     int
	Addr     string
	Metadata map[string]string
}

// Group is the live view of a process group a Backend hands back from
// Init: its size and the caller's own rank within it. It satisfies
// partitioner.Group structurally (Size() int).
type Group interface {
	Size() int
	MyID() int
}

// ActionKind discriminates the two primitive collective operations a
// Backend's Execute call carries out.
type ActionKind int

const (
	// ActionSend transmits Buf to Peer under Tag.
	ActionSend ActionKind = iota
	// ActionRecv fills Buf from whatever Peer sent under Tag.
	ActionRecv
)

// Action is one primitive send or receive a transition.Plan compiles
// down to. Tag disambiguates concurrent transfers between the same
// pair of peers within one collective Execute call; callers derive it
// deterministically from (transition sequence, src task, dst task,
// per-pair ordinal) per spec.md §5, so replaying a transition produces the
// same tag sequence on every peer.
type Action struct {
	Kind ActionKind
	Peer int
	Tag  uint64
	Buf  []byte
}

// Config is what a caller passes to Init to join or create a process
// group.
type Config struct {
	GroupID   string
	Self      Peer
	Discovery Discovery
}

// Backend is the pluggable collective-execution contract spec.md §6
// fixes. Execute is collective: every member of g must call it with a
// consistent (same length, same tags) action list, or the backend may
// fault with distgrid.BackendTransport.
type Backend interface {
	Init(ctx context.Context, cfg Config) (Group, error)
	World(g Group) Group
	MyID(g Group) int
	Size(g Group) int
	Execute(ctx context.Context, g Group, actions []Action) error
	Close() error
}

// Discovery is the process-group membership contract spec.md §1 names
// as an external collaborator distgrid depends on but does not
// implement a single canonical version of.
type Discovery interface {
	Register(ctx context.Context, self Peer) error
	Members(ctx context.Context, groupID string) ([]Peer, error)
	Watch(ctx context.Context, groupID string) (<-chan []Peer, error)
}
