// Package discovery provides two implementations of
// internal/backend.Discovery: an in-memory registry for single-process
// use such as tests (the singleprocess backend itself ignores
// Discovery), and an etcd-backed one for the wsmesh
// backend's multi-process rendezvous. Adapted from the teacher's
// pkg/discovery.InMemoryDiscovery.
package discovery

import (
	"context"
	"sync"

	"github.com/distgrid/distgrid/internal/backend"
)

// InMemory is a single-process membership registry: every call shares
// the same process's memory, so there is no network failure mode.
type InMemory struct {
	mu       sync.RWMutex
	members  map[string]map[int]backend.Peer
	watchers map[string][]chan []backend.Peer
}

// NewInMemory creates an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{
		members:  map[string]map[int]backend.Peer{},
		watchers: map[string][]chan []backend.Peer{},
	}
}

func (d *InMemory) Register(ctx context.Context, self backend.Peer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	groupID := self.Metadata["groupID"]
	if d.members[groupID] == nil {
		d.members[groupID] = map[int]backend.Peer{}
	}
	d.members[groupID][self.Task] = self
	d.notifyLocked(groupID)
	return nil
}

func (d *InMemory) Members(ctx context.Context, groupID string) ([]backend.Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return snapshot(d.members[groupID]), nil
}

func (d *InMemory) Watch(ctx context.Context, groupID string) (<-chan []backend.Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan []backend.Peer, 8)
	d.watchers[groupID] = append(d.watchers[groupID], ch)
	ch <- snapshot(d.members[groupID])
	return ch, nil
}

func (d *InMemory) notifyLocked(groupID string) {
	cur := snapshot(d.members[groupID])
	for _, ch := range d.watchers[groupID] {
		select {
		case ch <- cur:
		default:
		}
	}
}

func snapshot(m map[int]backend.Peer) []backend.Peer {
	out := make([]backend.Peer, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}
