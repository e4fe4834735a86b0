package core

import (
	"fmt"
	"slices"

	"github.com/encodeous/weft/state"
)

// Role election. Everything in this file is a pure function over its inputs
// so that decisions can be tested exhaustively with tables.

// SortCandidates orders hosts by ascending client load, ties broken by
// stronger signal.
func SortCandidates(cands []state.HostCandidate) {
	slices.SortStableFunc(cands, func(a, b state.HostCandidate) int {
		if a.ClientCount != b.ClientCount {
			return a.ClientCount - b.ClientCount
		}
		return b.SignalStrength - a.SignalStrength
	})
}

// AvailableCandidates filters hosts down to those with spare capacity.
func AvailableCandidates(hosts []state.HostCandidate, maxClientsPerHost int) []state.HostCandidate {
	out := make([]state.HostCandidate, 0, len(hosts))
	for _, h := range hosts {
		if h.ClientCount < maxClientsPerHost {
			out = append(out, h)
		}
	}
	return out
}

// DecideRole decides whether the local node should act as a host or attach
// to a host as a client.
//
// A node that is already hosting stays a host; demotion is a separate,
// explicit check (ShouldDemoteToClient) and is never triggered from here.
func DecideRole(ns state.NetworkState, maxClientsPerHost int) state.RoleDecision {
	if ns.CurrentRole == state.RoleHost {
		return state.RoleDecision{Role: state.RoleHost, Reason: "already hosting"}
	}

	cands := AvailableCandidates(ns.AvailableHosts, maxClientsPerHost)
	SortCandidates(cands)

	if len(cands) == 0 {
		return state.RoleDecision{
			Role:        state.RoleHost,
			CreateGroup: true,
			Reason:      "no hosts with capacity nearby",
		}
	}

	// load balancing: a crowded network with too few hosts needs another one
	if ns.NearbyCount > state.CrowdingThreshold && len(cands) < state.MinCandidateHosts {
		return state.RoleDecision{
			Role:        state.RoleHost,
			CreateGroup: true,
			Reason:      fmt.Sprintf("%d nearby devices but only %d host(s) with capacity", ns.NearbyCount, len(cands)),
		}
	}

	best := cands[0]
	return state.RoleDecision{
		Role:       state.RoleClient,
		TargetHost: best.Id,
		Reason:     fmt.Sprintf("joining host %s serving %d client(s)", best.Id, best.ClientCount),
	}
}

// ShouldPromoteToHost reports whether serving the observed population
// requires more hosts than currently exist.
func ShouldPromoteToHost(clients, nearbyDevices int) bool {
	return ceilDiv(nearbyDevices, state.CrowdingThreshold) > ceilDiv(clients, state.DefaultMaxClients)
}

// ShouldDemoteToClient reports whether a host serving no clients should step
// down. The election tick never calls this; the source only ever exposed it
// as an explicit check, and that gap is kept.
func ShouldDemoteToClient(clientCount, nearbyHostCount int) bool {
	return clientCount == 0 && nearbyHostCount >= 1
}

// ElectHosts performs a batch election: given all known devices and the
// current host set, it promotes the strongest-signal non-host candidates
// until ceil(totalDevices / CrowdingThreshold) hosts exist. Returns the full
// host set, existing hosts first.
func ElectHosts(devices []*state.Node, currentHosts []state.NodeId) []state.NodeId {
	target := ceilDiv(len(devices), state.CrowdingThreshold)
	hosts := slices.Clone(currentHosts)
	if len(hosts) >= target {
		return hosts
	}

	cands := make([]*state.Node, 0, len(devices))
	for _, d := range devices {
		if !slices.Contains(hosts, d.Id) {
			cands = append(cands, d)
		}
	}
	slices.SortStableFunc(cands, func(a, b *state.Node) int {
		return b.SignalStrength - a.SignalStrength
	})

	for _, c := range cands {
		if len(hosts) >= target {
			break
		}
		hosts = append(hosts, c.Id)
	}
	return hosts
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
