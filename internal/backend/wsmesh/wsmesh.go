// Package wsmesh implements the multi-process reference Backend: one
// process per rank, meshed over gorilla/websocket, each peer call
// guarded by a sony/gobreaker circuit breaker. Adapted from the
// teacher's pkg/streaming Producer/Consumer message envelope and
// pkg/resilience circuit breaker, re-purposed from topic pub/sub to
// point-to-point rank-addressed byte transfer (see DESIGN.md for why
// kafka-go's topic model was dropped instead).
package wsmesh

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/distgrid/distgrid"
	"github.com/distgrid/distgrid/internal/backend"
	"github.com/distgrid/distgrid/pkg/logger"
	"github.com/distgrid/distgrid/pkg/resilience"
)

// frame is the wire envelope exchanged over the websocket mesh: a
// tagged byte payload, mirroring the teacher streaming.Message shape
// (ID/Key/Value) collapsed to what point-to-point transfer needs.
type frame struct {
	Tag  uint64 `json:"tag"`
	Data []byte `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Backend meshes a process group over websocket connections: this
// process dials every higher-numbered peer and accepts connections
// from every lower-numbered one, matching spec.md §5's rank-ordered
// rendezvous.
type Backend struct {
	listenAddr string
	log        logger.Logger

	mu       sync.Mutex
	conns    map[int]*websocket.Conn
	breakers map[int]*resilience.CircuitBreaker
	boxes    map[uint64]chan []byte

	listener net.Listener
	srv      *http.Server
}

// New creates a wsmesh Backend that will listen on listenAddr for
// lower-numbered peers to dial in.
func New(listenAddr string, log logger.Logger) *Backend {
	if log == nil {
		log = logger.NewNop()
	}
	return &Backend{
		listenAddr: listenAddr,
		log:        log,
		conns:      map[int]*websocket.Conn{},
		breakers:   map[int]*resilience.CircuitBreaker{},
		boxes:      map[uint64]chan []byte{},
	}
}

type group struct {
	myID, size int
}

func (g *group) Size() int { return g.size }
func (g *group) MyID() int { return g.myID }

// Init registers with cfg.Discovery, waits for every group member to
// appear, then dials/accepts the mesh. It blocks until every
// connection is established or ctx is done.
func (b *Backend) Init(ctx context.Context, cfg backend.Config) (backend.Group, error) {
	if cfg.Discovery == nil {
		return nil, distgrid.NewFault(distgrid.Precondition, "wsmesh.Init", fmt.Errorf("nil Discovery"))
	}
	if err := cfg.Discovery.Register(ctx, cfg.Self); err != nil {
		return nil, distgrid.NewFault(distgrid.BackendTransport, "wsmesh.Init/Register", err)
	}

	members, err := b.awaitMembers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mesh", b.acceptHandler)
	b.srv = &http.Server{Handler: mux}
	ln, err := net.Listen("tcp", b.listenAddr)
	if err != nil {
		return nil, distgrid.NewFault(distgrid.BackendTransport, "wsmesh.Init/Listen", err)
	}
	b.listener = ln
	go b.srv.Serve(ln)

	dialCfg := resilience.DefaultRetryConfig()
	dialCfg.MaxAttempts = 20
	dialCfg.InitialDelay = 25 * time.Millisecond
	dialCfg.MaxDelay = 500 * time.Millisecond
	for _, m := range members {
		if m.Task <= cfg.Self.Task {
			continue
		}
		peer := m
		err := resilience.Retry(ctx, dialCfg, func() error {
			return b.dial(ctx, peer, cfg.Self)
		})
		if err != nil {
			return nil, distgrid.NewFault(distgrid.BackendTransport, "wsmesh.Init/Dial", err)
		}
	}

	if err := b.awaitConns(ctx, len(members)-1); err != nil {
		return nil, err
	}

	return &group{myID: cfg.Self.Task, size: len(members)}, nil
}

func (b *Backend) awaitMembers(ctx context.Context, cfg backend.Config) ([]backend.Peer, error) {
	for {
		members, err := cfg.Discovery.Members(ctx, cfg.GroupID)
		if err != nil {
			return nil, distgrid.NewFault(distgrid.BackendTransport, "wsmesh.Init/Members", err)
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Task < members[j].Task })
		if b.groupComplete(members) {
			return members, nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return nil, distgrid.NewFault(distgrid.BackendTransport, "wsmesh.Init/Members", ctx.Err())
		}
	}
}

func (b *Backend) groupComplete(members []backend.Peer) bool {
	for i, m := range members {
		if m.Task != i {
			return false
		}
	}
	return len(members) > 0
}

func (b *Backend) dial(ctx context.Context, peer backend.Peer, self backend.Peer) error {
	url := fmt.Sprintf("ws://%s/mesh", peer.Addr)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	hello, err := json.Marshal(self.Task)
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		conn.Close()
		return err
	}
	return b.adopt(peer.Task, conn)
}

func (b *Backend) acceptHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error("wsmesh: upgrade failed", "error", err)
		return
	}
	_, hello, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	var task int
	if err := json.Unmarshal(hello, &task); err != nil {
		conn.Close()
		return
	}
	if err := b.adopt(task, conn); err != nil {
		conn.Close()
	}
}

func (b *Backend) adopt(peerTask int, conn *websocket.Conn) error {
	cfg := resilience.DefaultCircuitBreakerConfig(fmt.Sprintf("wsmesh-peer-%d", peerTask))
	b.mu.Lock()
	b.conns[peerTask] = conn
	b.breakers[peerTask] = resilience.NewCircuitBreaker(cfg)
	b.mu.Unlock()
	go b.readLoop(conn)
	return nil
}

func (b *Backend) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			b.log.Error("wsmesh: malformed frame", "error", err)
			continue
		}
		b.mu.Lock()
		ch, ok := b.boxes[f.Tag]
		if !ok {
			ch = make(chan []byte, 1)
			b.boxes[f.Tag] = ch
		}
		b.mu.Unlock()
		ch <- f.Data
	}
}

func (b *Backend) awaitConns(ctx context.Context, want int) error {
	for {
		b.mu.Lock()
		got := len(b.conns)
		b.mu.Unlock()
		if got >= want {
			return nil
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return distgrid.NewFault(distgrid.BackendTransport, "wsmesh.Init/awaitConns", ctx.Err())
		}
	}
}

func (b *Backend) World(g backend.Group) backend.Group { return g }
func (b *Backend) MyID(g backend.Group) int            { return g.(*group).myID }
func (b *Backend) Size(g backend.Group) int             { return g.(*group).size }

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

// Execute carries out actions in order. Sends go out over the peer's
// websocket connection through its circuit breaker; a tripped breaker
// or write failure is the fatal "Backend transport error" of spec.md
// §7. Receives block on the per-tag mailbox the peer's readLoop fills.
func (b *Backend) Execute(ctx context.Context, g backend.Group, actions []backend.Action) error {
	for _, a := range actions {
		switch a.Kind {
		case backend.ActionSend:
			if err := b.send(a); err != nil {
				return distgrid.NewFault(distgrid.BackendTransport, "wsmesh.Execute(send)", err)
			}
		case backend.ActionRecv:
			ch := b.boxFor(a.Tag)
			select {
			case buf := <-ch:
				copy(a.Buf, buf)
			case <-ctx.Done():
				return distgrid.NewFault(distgrid.BackendTransport, "wsmesh.Execute(recv)", ctx.Err())
			}
		}
	}
	return nil
}

func (b *Backend) send(a backend.Action) error {
	b.mu.Lock()
	conn := b.conns[a.Peer]
	cb := b.breakers[a.Peer]
	b.mu.Unlock()
	if conn == nil || cb == nil {
		return fmt.Errorf("wsmesh: no connection to peer %d", a.Peer)
	}
	payload, err := json.Marshal(frame{Tag: a.Tag, Data: a.Buf})
	if err != nil {
		return err
	}
	_, err = cb.Execute(func() (interface{}, error) {
		return nil, conn.WriteMessage(websocket.BinaryMessage, payload)
	})
	return err
}

// Close tears down every peer connection and the listener.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
	if b.srv != nil {
		b.srv.Close()
	}
	return nil
}
