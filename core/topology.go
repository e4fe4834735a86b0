package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/encodeous/weft/state"
	"github.com/jellydator/ttlcache/v3"
)

// Topology holds the current view of known devices and their roles. Node
// records live in a ttlcache store pinned to NoTTL: staleness is enforced by
// a repeated sweep comparing each record's LastSeen against
// state.StaleTimeout, and stale entries leave through the same path as
// explicit removal, so observers see the same synchronous
// NodeRemoved/TopologyChanged sequence either way. The cache's own eviction
// callbacks are not used; they run off the calling goroutine.
//
// All mutation must happen on the main loop.
type Topology struct {
	log        *slog.Logger
	nodes      *ttlcache.Cache[state.NodeId, *state.Node]
	observers  []TopologyObserver
	lastUpdate time.Time
}

func newTopology(log *slog.Logger) *Topology {
	t := &Topology{log: log}
	t.initCache()
	return t
}

func (t *Topology) initCache() {
	t.nodes = ttlcache.New[state.NodeId, *state.Node]()
}

func (t *Topology) Init(s *state.State) error {
	t.log = s.Log
	if t.nodes == nil {
		t.initCache()
	}
	s.RepeatTask(func(*state.State) error {
		t.Sweep()
		return nil
	}, state.TopologySweepDelay)
	return nil
}

func (t *Topology) Cleanup(*state.State) error {
	t.Clear()
	return nil
}

func (t *Topology) Subscribe(o TopologyObserver) {
	t.observers = append(t.observers, o)
}

// Update upserts a node by id, merging the provided fields into the existing
// record and stamping LastSeen. Emits NodeAdded on first insertion and
// TopologyChanged on every call. Returns the merged record.
func (t *Topology) Update(u state.NodeUpdate) *state.Node {
	var n *state.Node
	created := false
	if item := t.nodes.Get(u.Id); item != nil {
		n = item.Value()
	} else {
		n = &state.Node{Id: u.Id, Role: state.RoleUndecided}
		created = true
	}
	if u.Role != nil {
		n.Role = *u.Role
	}
	if u.Address != nil {
		n.Address = *u.Address
	}
	if u.SignalStrength != nil {
		n.SignalStrength = *u.SignalStrength
	}
	if u.ClientCount != nil {
		n.ClientCount = *u.ClientCount
	}
	if u.ConnectedHosts != nil {
		n.ConnectedHosts = u.ConnectedHosts
	}
	if u.ParentHost != nil {
		n.ParentHost = *u.ParentHost
	}
	n.LastSeen = time.Now()
	if state.DBG_check_invariants {
		checkNodeInvariants(n)
	}
	t.nodes.Set(u.Id, n, ttlcache.NoTTL) // the sweep owns staleness, not the cache
	t.lastUpdate = time.Now()
	if created {
		for _, o := range t.observers {
			o.NodeAdded(n)
		}
	}
	for _, o := range t.observers {
		o.TopologyChanged()
	}
	return n
}

// Remove deletes a node if present, emitting NodeRemoved then
// TopologyChanged on the calling goroutine. Removing an absent id is a
// no-op.
func (t *Topology) Remove(id state.NodeId) {
	item := t.nodes.Get(id)
	if item == nil {
		return
	}
	t.nodes.Delete(id)
	t.emitRemoved(item.Value())
}

func (t *Topology) emitRemoved(n *state.Node) {
	t.lastUpdate = time.Now()
	for _, o := range t.observers {
		o.NodeRemoved(n)
	}
	for _, o := range t.observers {
		o.TopologyChanged()
	}
}

// Sweep removes nodes whose last observation exceeds the staleness timeout.
// Each stale node gets the standard removal events.
func (t *Topology) Sweep() {
	cutoff := time.Now().Add(-state.StaleTimeout)
	stale := make([]*state.Node, 0)
	t.nodes.Range(func(item *ttlcache.Item[state.NodeId, *state.Node]) bool {
		if item.Value().LastSeen.Before(cutoff) {
			stale = append(stale, item.Value())
		}
		return true
	})
	for _, n := range stale {
		t.log.Debug("node expired", "node", n.Id, "role", n.Role, "lastSeen", n.LastSeen)
		t.nodes.Delete(n.Id)
		t.emitRemoved(n)
	}
}

// Clear wipes all nodes, emitting a single TopologyChanged.
func (t *Topology) Clear() {
	t.nodes.DeleteAll()
	t.lastUpdate = time.Now()
	for _, o := range t.observers {
		o.TopologyChanged()
	}
}

func (t *Topology) Node(id state.NodeId) *state.Node {
	item := t.nodes.Get(id)
	if item == nil {
		return nil
	}
	return item.Value()
}

func (t *Topology) NodesByRole(role state.Role) []*state.Node {
	out := make([]*state.Node, 0)
	t.nodes.Range(func(item *ttlcache.Item[state.NodeId, *state.Node]) bool {
		if item.Value().Role == role {
			out = append(out, item.Value())
		}
		return true
	})
	return out
}

func (t *Topology) Hosts() []*state.Node {
	return t.NodesByRole(state.RoleHost)
}

func (t *Topology) Clients() []*state.Node {
	return t.NodesByRole(state.RoleClient)
}

// AvailableHosts returns hosts with spare client capacity.
func (t *Topology) AvailableHosts(maxClientsPerHost int) []*state.Node {
	out := make([]*state.Node, 0)
	for _, h := range t.Hosts() {
		if h.ClientCount < maxClientsPerHost {
			out = append(out, h)
		}
	}
	return out
}

// FindBestHost returns the available host with the fewest clients, ties
// broken by stronger signal, or nil if none has capacity.
func (t *Topology) FindBestHost(maxClientsPerHost int) *state.Node {
	hosts := t.AvailableHosts(maxClientsPerHost)
	if len(hosts) == 0 {
		return nil
	}
	cands := make([]state.HostCandidate, 0, len(hosts))
	for _, h := range hosts {
		cands = append(cands, state.HostCandidate{Id: h.Id, ClientCount: h.ClientCount, SignalStrength: h.SignalStrength})
	}
	SortCandidates(cands)
	return t.Node(cands[0].Id)
}

func (t *Topology) Len() int {
	return t.nodes.Len()
}

func (t *Topology) LastUpdate() time.Time {
	return t.lastUpdate
}

// Snapshot returns the current node set keyed by id. The returned map is the
// caller's to keep; the node pointers are shared and must only be read on
// the main loop.
func (t *Topology) Snapshot() map[state.NodeId]*state.Node {
	out := make(map[state.NodeId]*state.Node, t.nodes.Len())
	t.nodes.Range(func(item *ttlcache.Item[state.NodeId, *state.Node]) bool {
		out[item.Value().Id] = item.Value()
		return true
	})
	return out
}

func checkNodeInvariants(n *state.Node) {
	if n.Role == state.RoleClient && len(n.ConnectedHosts) > 0 {
		panic(fmt.Sprintf("node %s: client must not carry backbone edges", n.Id))
	}
	if n.Role == state.RoleHost && n.ParentHost != "" {
		panic(fmt.Sprintf("node %s: host must not have a parent host", n.Id))
	}
	if n.ParentHost != "" && len(n.ConnectedHosts) > 0 {
		panic(fmt.Sprintf("node %s: parentHost and connectedHosts are mutually exclusive", n.Id))
	}
}
