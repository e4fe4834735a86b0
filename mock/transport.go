// Package mock provides an in-memory transport fabric. Nodes on the same
// Network discover each other, form groups and exchange messages without any
// OS networking, which makes multi-node behaviour testable in-process.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/state"
	"github.com/google/uuid"
)

// Network is the shared medium. All transports attached to the same Network
// can see and reach each other.
type Network struct {
	mu      sync.Mutex
	nodes   map[string]*Transport
	signals map[[2]state.NodeId]int
}

func NewNetwork() *Network {
	return &Network{
		nodes:   make(map[string]*Transport),
		signals: make(map[[2]state.NodeId]int),
	}
}

// SetSignal fixes the signal strength observed between two nodes, in both
// directions. Unset pairs default to -50 dBm.
func (n *Network) SetSignal(a, b state.NodeId, signal int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signals[[2]state.NodeId{a, b}] = signal
	n.signals[[2]state.NodeId{b, a}] = signal
}

func (n *Network) signal(from, to state.NodeId) int {
	if s, ok := n.signals[[2]state.NodeId{from, to}]; ok {
		return s
	}
	return -50
}

// Drop detaches a node from the medium. Its record ages out of the other
// nodes' topologies through the staleness sweep, the same way a powered-off
// device would.
func (n *Network) Drop(id state.NodeId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, "mem://"+string(id))
}

func (n *Network) lookup(addr string) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[addr]
}

// Transport is one node's port onto the Network.
type Transport struct {
	net     *Network
	id      state.NodeId
	addr    string
	hosting atomic.Bool
	coord   atomic.Pointer[core.Coordinator]
}

func (n *Network) NewTransport(id state.NodeId) *Transport {
	t := &Transport{net: n, id: id, addr: "mem://" + string(id)}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[t.addr] = t
	return t
}

// Attach binds the transport to the coordinator it delivers into. Must be
// called before the first discovery tick fires.
func (t *Transport) Attach(c *core.Coordinator) {
	t.coord.Store(c)
}

func (t *Transport) Addr() string {
	return t.addr
}

// DiscoverPeers reports every other attached node. Peer state is read
// through lock-free local snapshots, never by dispatching into another
// node's loop, so two nodes scanning each other cannot deadlock.
func (t *Transport) DiscoverPeers(ctx context.Context) error {
	coord := t.coord.Load()
	if coord == nil {
		return fmt.Errorf("transport %s is not attached", t.id)
	}
	t.net.mu.Lock()
	peers := make([]*Transport, 0, len(t.net.nodes))
	for _, p := range t.net.nodes {
		if p.id != t.id {
			peers = append(peers, p)
		}
	}
	t.net.mu.Unlock()

	for _, p := range peers {
		pc := p.coord.Load()
		if pc == nil {
			continue
		}
		n := pc.LocalNode()
		coord.ReportNode(state.NodeUpdate{
			Id:             p.id,
			Role:           state.Ptr(n.Role),
			Address:        state.Ptr(p.addr),
			SignalStrength: state.Ptr(t.net.signal(t.id, p.id)),
			ClientCount:    state.Ptr(n.ClientCount),
			ConnectedHosts: n.ConnectedHosts,
			ParentHost:     state.Ptr(n.ParentHost),
		})
	}
	return nil
}

func (t *Transport) CreateGroup(ctx context.Context) (core.GroupInfo, error) {
	t.hosting.Store(true)
	return core.GroupInfo{
		NetworkName:  "weft-" + string(t.id),
		Passphrase:   uuid.NewString()[:8],
		OwnerAddress: t.addr,
	}, nil
}

func (t *Transport) Connect(ctx context.Context, address string) (core.ConnectInfo, error) {
	target := t.net.lookup(address)
	if target == nil {
		return core.ConnectInfo{}, fmt.Errorf("no node at %s", address)
	}
	if !target.hosting.Load() {
		return core.ConnectInfo{Connected: false}, nil
	}
	return core.ConnectInfo{Connected: true, GroupOwnerAddress: target.addr}, nil
}

func (t *Transport) RemoveGroup(ctx context.Context) error {
	t.hosting.Store(false)
	return nil
}

func (t *Transport) Send(address string, msg *state.Message) error {
	target := t.net.lookup(address)
	if target == nil {
		return fmt.Errorf("no node at %s", address)
	}
	coord := target.coord.Load()
	if coord == nil {
		return fmt.Errorf("node at %s is not attached", address)
	}
	coord.DeliverMessage(msg.Clone())
	return nil
}
