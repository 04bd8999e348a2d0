// Package distgrid distributes a 1-D/2-D/3-D index space across a group
// of cooperating processes: partitioning (pkg/partitioner), local storage
// layout (pkg/layout), and collective transition between partitionings
// (internal/transition, internal/container) over a pluggable backend
// (internal/backend).
package distgrid

import "fmt"

// Kind discriminates the fatal error classes spec.md §7 defines. Every
// Kind aborts the whole process group; there is no recoverable error
// path in this core, matching "the process group either makes
// collective progress or aborts."
type Kind int

const (
	// Precondition denotes a caller contract violation (out-of-space
	// range, mismatched group, non-finite weight, ...).
	Precondition Kind = iota
	// OutOfMemory denotes a failed or refused allocation for a Mapping.
	OutOfMemory
	// BackendTransport denotes a failure of the backend to deliver a
	// collective Execute (network fault, tripped circuit breaker,
	// barrier timeout, peer departure).
	BackendTransport
	// Mismatch denotes a Layout or Partitioner used across incompatible
	// Data containers (different Space, different group size).
	Mismatch
)

func (k Kind) String() string {
	switch k {
	case Precondition:
		return "precondition violation"
	case OutOfMemory:
		return "out of memory"
	case BackendTransport:
		return "backend transport error"
	case Mismatch:
		return "layout/partitioner mismatch"
	default:
		return "unknown fault"
	}
}

// Fault is the single error type this core raises. Every Fault is
// fatal to the process group: callers that observe one are expected to
// log it and abort, not retry, per spec.md §7.
type Fault struct {
	Kind    Kind
	Op      string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("distgrid: %s: %s: %v", f.Op, f.Kind, f.Err)
	}
	return fmt.Sprintf("distgrid: %s: %s", f.Op, f.Kind)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault builds a Fault, wrapping err (which may be nil).
func NewFault(kind Kind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}
