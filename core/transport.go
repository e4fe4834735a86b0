package core

import (
	"context"

	"github.com/encodeous/weft/state"
)

// GroupInfo describes a group created by a host, as reported by the
// transport adapter.
type GroupInfo struct {
	NetworkName  string
	Passphrase   string
	OwnerAddress string
}

// ConnectInfo is the transport adapter's acknowledgment of a connect call.
type ConnectInfo struct {
	Connected         bool
	IsGroupOwner      bool
	GroupOwnerAddress string
}

// PeerInfo is one entry of a discovery scan result.
type PeerInfo struct {
	Id      state.NodeId
	Address string
	Signal  int
}

// Transport is the abstract radio capability the coordinator drives. The
// core never touches sockets; an adapter turns these calls into real I/O.
//
// DiscoverPeers triggers a scan and returns; results arrive asynchronously
// through Coordinator.ReportPeers / Coordinator.ReportNode. CreateGroup,
// Connect and RemoveGroup block until the adapter acknowledges. They honor
// ctx cancellation but carry no internal deadline, so a stuck adapter call
// never resolves on its own (gap inherited from the source; adapters may
// impose their own timeouts).
type Transport interface {
	DiscoverPeers(ctx context.Context) error
	CreateGroup(ctx context.Context) (GroupInfo, error)
	Connect(ctx context.Context, address string) (ConnectInfo, error)
	RemoveGroup(ctx context.Context) error
	Send(address string, msg *state.Message) error
}

// TopologyObserver receives membership change events from the topology
// store. Callbacks run on the main loop; they must not block.
type TopologyObserver interface {
	NodeAdded(n *state.Node)
	NodeRemoved(n *state.Node)
	TopologyChanged()
}

// Forwarder performs the actual transmission of a routed message. addr is
// the transport address of the chosen next hop, route the full resolved path.
type Forwarder interface {
	ForwardMessage(msg *state.Message, nextHop state.NodeId, addr string, route []state.NodeId)
}

// MeshObserver receives coordinator events. These exist for UIs and
// diagnostics and are never required for correctness. Callbacks run on the
// main loop; they must not block.
type MeshObserver interface {
	Initialized()
	HostReady(info GroupInfo)
	ClientConnected(host state.NodeId)
	RoleChanged(role state.Role, reason string)
	NodeDiscovered(n *state.Node)
	NodeLost(n *state.Node)
	ConnectionEstablished(peer state.NodeId, addr string)
	ConnectionLost(peer state.NodeId)
	MessageForwarded(msg *state.Message, nextHop state.NodeId)
	MessageReceived(msg *state.Message)
	Shutdown()
}

// NopObserver is a MeshObserver that ignores everything. Embed it to
// implement only the callbacks you care about.
type NopObserver struct{}

func (NopObserver) Initialized()                                          {}
func (NopObserver) HostReady(GroupInfo)                                   {}
func (NopObserver) ClientConnected(state.NodeId)                          {}
func (NopObserver) RoleChanged(state.Role, string)                        {}
func (NopObserver) NodeDiscovered(*state.Node)                            {}
func (NopObserver) NodeLost(*state.Node)                                  {}
func (NopObserver) ConnectionEstablished(state.NodeId, string)            {}
func (NopObserver) ConnectionLost(state.NodeId)                           {}
func (NopObserver) MessageForwarded(*state.Message, state.NodeId)         {}
func (NopObserver) MessageReceived(*state.Message)                        {}
func (NopObserver) Shutdown()                                             {}
