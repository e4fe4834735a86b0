package state

import (
	"slices"
	"time"
)

type NodeId string

type Role int

const (
	RoleUndecided Role = iota
	RoleClient
	RoleHost
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return "undecided"
	}
}

// Node is one mesh participant as seen by the local device.
// A host may serve clients and bridge to other hosts; a client is attached to
// exactly one parent host. ParentHost and ConnectedHosts are mutually
// exclusive per node.
type Node struct {
	Id             NodeId
	Role           Role
	Address        string
	SignalStrength int
	ClientCount    int
	ConnectedHosts []NodeId
	ParentHost     NodeId
	LastSeen       time.Time
}

func (n *Node) Clone() *Node {
	c := *n
	c.ConnectedHosts = slices.Clone(n.ConnectedHosts)
	return &c
}

// NodeUpdate is a partial observation of a node. Nil fields are left
// untouched on merge; a nil ConnectedHosts leaves the edge list alone.
type NodeUpdate struct {
	Id             NodeId
	Role           *Role
	Address        *string
	SignalStrength *int
	ClientCount    *int
	ConnectedHosts []NodeId
	ParentHost     *NodeId
}

// HostCandidate is a host considered during role election.
type HostCandidate struct {
	Id             NodeId
	ClientCount    int
	SignalStrength int
}

// NetworkState is the snapshot of network conditions fed to role election.
type NetworkState struct {
	NearbyCount    int
	AvailableHosts []HostCandidate
	CurrentRole    Role
}

// RoleDecision is the outcome of role election. Reason is a human-readable
// diagnostic, never used for logic.
type RoleDecision struct {
	Role        Role
	TargetHost  NodeId
	CreateGroup bool
	Reason      string
}

func Ptr[T any](v T) *T {
	return &v
}
