package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/state"
)

// Coordinator is the orchestrator: it runs periodic discovery, feeds
// discovered peers into the topology store, invokes role election, drives
// role transitions through the transport adapter and routes application
// messages through the routing table.
//
// It is a state machine over undecided/host/client. All internal state is
// owned by the main loop; the exported entry points dispatch onto it and are
// safe to call from any goroutine.
type Coordinator struct {
	*state.State
	transport Transport
	observers []MeshObserver
	topo      *Topology
	router    *MeshRouter
	local     *state.Node
	// lock-free copy of the local record for readers off the loop
	snapshot atomic.Pointer[state.Node]
}

func NewCoordinator(transport Transport, observers ...MeshObserver) *Coordinator {
	return &Coordinator{transport: transport, observers: observers}
}

func (c *Coordinator) Init(s *state.State) error {
	if c.transport == nil {
		return errors.New("coordinator requires a transport")
	}
	c.State = s
	c.topo = Get[*Topology](s)
	c.router = Get[*MeshRouter](s)
	c.router.SetForwarder(c)
	// transports that deliver inbound traffic or discovery reports need a
	// handle back to us
	if a, ok := c.transport.(interface{ Attach(*Coordinator) }); ok {
		a.Attach(c)
	}

	// register ourselves before subscribing: the topology callbacks read
	// c.local, and our own insertion must not announce us as a peer
	c.local = c.topo.Update(state.NodeUpdate{
		Id:   s.Id,
		Role: state.Ptr(state.RoleUndecided),
	})
	c.publishLocal()
	c.topo.Subscribe(c)

	for _, o := range c.observers {
		o.Initialized()
	}

	if s.AutoElect() {
		// short warm-up so we don't race an in-progress transport init
		s.ScheduleTask(func(s *state.State) error {
			s.RepeatTask(c.discoveryTick, s.DiscoveryInterval)
			return nil
		}, state.DiscoveryWarmup)
	}
	return nil
}

func (c *Coordinator) Cleanup(s *state.State) error {
	if c.local != nil && c.local.Role == state.RoleHost {
		// the runtime context is already cancelled at this point
		if err := c.transport.RemoveGroup(context.Background()); err != nil {
			s.Log.Warn("failed to remove group on shutdown", "err", err)
		}
	}
	c.router.Reset()
	for _, o := range c.observers {
		o.Shutdown()
	}
	return nil
}

// LocalNode returns a copy of the local node record. Safe from any
// goroutine.
func (c *Coordinator) LocalNode() state.Node {
	if n := c.snapshot.Load(); n != nil {
		return *n
	}
	return state.Node{}
}

func (c *Coordinator) publishLocal() {
	c.snapshot.Store(c.local.Clone())
}

// discoveryTick triggers a transport scan and schedules election after a
// settle delay. Runs on the main loop.
func (c *Coordinator) discoveryTick(s *state.State) error {
	// refresh our own record so the staleness sweep never evicts it, and
	// keep our client count in step with what the topology says
	c.local.ClientCount = c.countOwnClients()
	c.local = c.topo.Update(state.NodeUpdate{Id: c.local.Id, ClientCount: state.Ptr(c.local.ClientCount)})
	c.publishLocal()

	if err := c.transport.DiscoverPeers(s.Context); err != nil {
		s.Log.Warn("peer discovery failed", "err", err)
		return nil // the next tick is the retry
	}
	s.ScheduleTask(c.runElection, state.SettleDelay)
	return nil
}

func (c *Coordinator) countOwnClients() int {
	if c.local.Role != state.RoleHost {
		return 0
	}
	count := 0
	for _, cl := range c.topo.Clients() {
		if cl.ParentHost == c.local.Id {
			count++
		}
	}
	return count
}

// NetworkState builds the election snapshot from current topology contents.
func (c *Coordinator) NetworkState() state.NetworkState {
	ns := state.NetworkState{
		NearbyCount: c.topo.Len() - 1, // exclude ourselves
		CurrentRole: c.local.Role,
	}
	for _, h := range c.topo.AvailableHosts(c.MaxClients) {
		if h.Id == c.local.Id {
			continue
		}
		ns.AvailableHosts = append(ns.AvailableHosts, state.HostCandidate{
			Id:             h.Id,
			ClientCount:    h.ClientCount,
			SignalStrength: h.SignalStrength,
		})
	}
	return ns
}

// runElection decides the local role and executes the transition if it
// changed. Transition failures are logged, not returned: the coordinator
// does not retry on its own, the next discovery tick is the retry.
func (c *Coordinator) runElection(s *state.State) error {
	perf.Elections.Add(1)
	decision := DecideRole(c.NetworkState(), s.MaxClients)
	if decision.Role == c.local.Role {
		return nil
	}
	var err error
	switch decision.Role {
	case state.RoleHost:
		err = c.becomeHost(s, decision)
	case state.RoleClient:
		err = c.becomeClient(s, decision)
	}
	if err != nil {
		s.Log.Warn("role transition failed", "target", decision.Role, "err", err)
	}
	return nil
}

// BecomeHost runs a host transition explicitly, outside the election tick.
// Unlike the tick, it surfaces the transport error to the caller.
func (c *Coordinator) BecomeHost() error {
	_, err := c.DispatchWait(func(s *state.State) (any, error) {
		return nil, c.becomeHost(s, state.RoleDecision{Role: state.RoleHost, CreateGroup: true, Reason: "requested"})
	})
	return err
}

func (c *Coordinator) becomeHost(s *state.State, decision state.RoleDecision) error {
	info, err := c.transport.CreateGroup(s.Context)
	if err != nil {
		return fmt.Errorf("group creation failed: %w", err)
	}
	c.local.Role = state.RoleHost
	c.local.Address = info.OwnerAddress
	c.local.ParentHost = ""
	c.local = c.topo.Update(state.NodeUpdate{
		Id:         c.local.Id,
		Role:       state.Ptr(state.RoleHost),
		Address:    state.Ptr(info.OwnerAddress),
		ParentHost: state.Ptr(state.NodeId("")),
	})
	for _, o := range c.observers {
		o.HostReady(info)
	}

	c.connectBackbone(s)
	c.rebuildRoutes()
	c.publishLocal()
	s.Log.Info("assumed host role", "reason", decision.Reason, "group", info.NetworkName)
	for _, o := range c.observers {
		o.RoleChanged(state.RoleHost, decision.Reason)
	}
	return nil
}

// rebuildRoutes keeps the direct edge set in step with the topology before
// rebuilding the derived tables. A host reaches its attached clients
// directly, so they are registered (and pruned when a client re-parents
// elsewhere) alongside the backbone edges the transitions own.
func (c *Coordinator) rebuildRoutes() {
	for _, cl := range c.topo.Clients() {
		if cl.Id == c.local.Id {
			continue
		}
		if c.local.Role == state.RoleHost && cl.ParentHost == c.local.Id && cl.Address != "" {
			c.router.AddDirectHost(cl.Id, cl.Address)
		} else if cl.ParentHost != c.local.Id {
			c.router.RemoveDirectHost(cl.Id)
		}
	}
	c.router.Rebuild(c.topo.Snapshot())
}

// connectBackbone attempts to bridge to other known hosts, strongest signal
// first, up to the configured number of backbone connections. Individual
// connect failures are not fatal to the host transition.
func (c *Coordinator) connectBackbone(s *state.State) {
	hosts := c.topo.Hosts()
	hosts = slices.DeleteFunc(hosts, func(h *state.Node) bool {
		return h.Id == c.local.Id || h.Address == ""
	})
	slices.SortStableFunc(hosts, func(a, b *state.Node) int {
		return b.SignalStrength - a.SignalStrength
	})
	for _, h := range hosts {
		if len(c.local.ConnectedHosts) >= s.MeshConnections {
			break
		}
		if slices.Contains(c.local.ConnectedHosts, h.Id) {
			continue
		}
		res, err := c.transport.Connect(s.Context, h.Address)
		if err != nil || !res.Connected {
			s.Log.Warn("backbone connect failed", "host", h.Id, "err", err)
			continue
		}
		c.router.AddDirectHost(h.Id, h.Address)
		c.local.ConnectedHosts = append(c.local.ConnectedHosts, h.Id)
		for _, o := range c.observers {
			o.ConnectionEstablished(h.Id, h.Address)
		}
	}
	c.local = c.topo.Update(state.NodeUpdate{Id: c.local.Id, ConnectedHosts: slices.Clone(c.local.ConnectedHosts)})
}

func (c *Coordinator) becomeClient(s *state.State, decision state.RoleDecision) error {
	target := c.topo.Node(decision.TargetHost)
	if target == nil {
		return fmt.Errorf("target host %s is no longer known", decision.TargetHost)
	}
	if target.Address == "" {
		return fmt.Errorf("target host %s has no usable address", target.Id)
	}
	res, err := c.transport.Connect(s.Context, target.Address)
	if err != nil {
		return fmt.Errorf("connect to %s failed: %w", target.Id, err)
	}
	if !res.Connected {
		return fmt.Errorf("host %s rejected the connection", target.Id)
	}
	c.local.Role = state.RoleClient
	c.local.ParentHost = target.Id
	c.local.ConnectedHosts = nil
	c.local = c.topo.Update(state.NodeUpdate{
		Id:             c.local.Id,
		Role:           state.Ptr(state.RoleClient),
		ParentHost:     state.Ptr(target.Id),
		ConnectedHosts: []state.NodeId{},
	})
	// the parent host is this client's only way out
	c.router.AddDirectHost(target.Id, target.Address)
	c.router.MapClientToHost(c.local.Id, target.Id)
	c.rebuildRoutes()
	c.publishLocal()
	s.Log.Info("assumed client role", "host", target.Id, "reason", decision.Reason)
	for _, o := range c.observers {
		o.ClientConnected(target.Id)
	}
	for _, o := range c.observers {
		o.ConnectionEstablished(target.Id, target.Address)
	}
	for _, o := range c.observers {
		o.RoleChanged(state.RoleClient, decision.Reason)
	}
	return nil
}

// TopologyObserver implementation. These run on the main loop.

func (c *Coordinator) NodeAdded(n *state.Node) {
	if n.Id == c.local.Id {
		return
	}
	for _, o := range c.observers {
		o.NodeDiscovered(n)
	}
	c.rebuildRoutes()
}

func (c *Coordinator) NodeRemoved(n *state.Node) {
	if n.Id == c.local.Id {
		return
	}
	for _, o := range c.observers {
		o.NodeLost(n)
	}
	c.router.RemoveDirectHost(n.Id)
	if i := slices.Index(c.local.ConnectedHosts, n.Id); i >= 0 {
		c.local.ConnectedHosts = slices.Delete(c.local.ConnectedHosts, i, i+1)
		for _, o := range c.observers {
			o.ConnectionLost(n.Id)
		}
	}
	c.rebuildRoutes()

	if c.local.Role == state.RoleClient && n.Id == c.local.ParentHost {
		// we just lost our only route out; re-elect now instead of waiting
		// for the next tick
		c.Log.Info("parent host lost, re-running election", "host", n.Id)
		c.local.Role = state.RoleUndecided
		c.local.ParentHost = ""
		c.local = c.topo.Update(state.NodeUpdate{
			Id:         c.local.Id,
			Role:       state.Ptr(state.RoleUndecided),
			ParentHost: state.Ptr(state.NodeId("")),
		})
		c.publishLocal()
		_ = c.runElection(c.State)
	}
}

func (c *Coordinator) TopologyChanged() {
	// rebuilds are driven by NodeAdded/NodeRemoved; heartbeat refreshes do
	// not change reachability
}

// Forwarder implementation: hand the message to the transport and mirror the
// event to observers.
func (c *Coordinator) ForwardMessage(msg *state.Message, nextHop state.NodeId, addr string, route []state.NodeId) {
	for _, o := range c.observers {
		o.MessageForwarded(msg, nextHop)
	}
	if addr == "" {
		if n := c.topo.Node(nextHop); n != nil {
			addr = n.Address
		}
	}
	if err := c.transport.Send(addr, msg); err != nil {
		c.Log.Warn("transport send failed", "to", nextHop, "addr", addr, "err", err)
	}
}

// Exported entry points, safe from any goroutine.

// SendMessage routes an application payload to another node.
func (c *Coordinator) SendMessage(to state.NodeId, payload []byte) RouteResult {
	res, err := c.DispatchWait(func(s *state.State) (any, error) {
		return c.router.RouteMessage(state.NewMessage(c.local.Id, to, payload)), nil
	})
	if err != nil {
		return RouteNoRoute
	}
	return res.(RouteResult)
}

// BroadcastMessage fans a payload out to every direct host. Returns the
// number of hosts it was forwarded to.
func (c *Coordinator) BroadcastMessage(payload []byte) int {
	res, err := c.DispatchWait(func(s *state.State) (any, error) {
		return c.router.BroadcastToHosts(c.local.Id, payload), nil
	})
	if err != nil {
		return 0
	}
	return res.(int)
}

// DeliverMessage accepts a message received by the transport adapter. A
// message addressed to this node is delivered locally (once); anything else
// is forwarded under the usual TTL and dedup rules.
func (c *Coordinator) DeliverMessage(msg *state.Message) {
	c.Dispatch(func(s *state.State) error {
		if msg.To == c.local.Id {
			if !c.router.Observe(msg.Id) {
				return nil // already delivered
			}
			for _, o := range c.observers {
				o.MessageReceived(msg)
			}
			return nil
		}
		res := c.router.RouteMessage(msg)
		if res != RouteForwarded {
			s.Log.Debug("relay drop", "id", msg.Id, "to", msg.To, "outcome", res.String())
		}
		return nil
	})
}

// ReportPeers feeds a batch of discovery scan results into the topology.
func (c *Coordinator) ReportPeers(peers []PeerInfo) {
	c.Dispatch(func(s *state.State) error {
		for _, p := range peers {
			if p.Id == c.local.Id {
				continue
			}
			c.topo.Update(state.NodeUpdate{
				Id:             p.Id,
				Address:        state.Ptr(p.Address),
				SignalStrength: state.Ptr(p.Signal),
			})
		}
		return nil
	})
}

// ReportNode feeds a full node observation (role, load, edges) into the
// topology, as delivered by a heartbeat or a richer discovery beacon.
func (c *Coordinator) ReportNode(u state.NodeUpdate) {
	c.Dispatch(func(s *state.State) error {
		if u.Id == c.local.Id {
			return nil
		}
		c.topo.Update(u)
		return nil
	})
}

// Elect runs a discovery and election cycle immediately, regardless of the
// auto election setting.
func (c *Coordinator) Elect() {
	c.Dispatch(c.discoveryTick)
}
