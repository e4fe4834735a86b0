package core

import (
	"testing"

	"github.com/encodeous/weft/state"
	"github.com/stretchr/testify/assert"
)

func TestDecideRoleTable(t *testing.T) {
	tests := []struct {
		name       string
		ns         state.NetworkState
		wantRole   state.Role
		wantTarget state.NodeId
		wantCreate bool
	}{
		{
			name:       "empty network becomes host",
			ns:         state.NetworkState{},
			wantRole:   state.RoleHost,
			wantCreate: true,
		},
		{
			name: "host with capacity attracts a client",
			ns: state.NetworkState{
				NearbyCount: 1,
				AvailableHosts: []state.HostCandidate{
					{Id: "h1", ClientCount: 0, SignalStrength: -50},
				},
			},
			wantRole:   state.RoleClient,
			wantTarget: "h1",
		},
		{
			name: "all hosts full becomes host",
			ns: state.NetworkState{
				NearbyCount: 8,
				AvailableHosts: []state.HostCandidate{
					{Id: "h1", ClientCount: state.DefaultMaxClients},
				},
			},
			wantRole:   state.RoleHost,
			wantCreate: true,
		},
		{
			name: "crowded network with a single host gets another host",
			ns: state.NetworkState{
				NearbyCount: 10,
				AvailableHosts: []state.HostCandidate{
					{Id: "h1", ClientCount: 6, SignalStrength: -40},
				},
			},
			wantRole:   state.RoleHost,
			wantCreate: true,
		},
		{
			name: "crowded network with two hosts stays client",
			ns: state.NetworkState{
				NearbyCount: 10,
				AvailableHosts: []state.HostCandidate{
					{Id: "h1", ClientCount: 6, SignalStrength: -40},
					{Id: "h2", ClientCount: 2, SignalStrength: -70},
				},
			},
			wantRole:   state.RoleClient,
			wantTarget: "h2",
		},
		{
			name: "least loaded host wins",
			ns: state.NetworkState{
				NearbyCount: 3,
				AvailableHosts: []state.HostCandidate{
					{Id: "h1", ClientCount: 4, SignalStrength: -30},
					{Id: "h2", ClientCount: 1, SignalStrength: -80},
				},
			},
			wantRole:   state.RoleClient,
			wantTarget: "h2",
		},
		{
			name: "equal load breaks ties on signal",
			ns: state.NetworkState{
				NearbyCount: 3,
				AvailableHosts: []state.HostCandidate{
					{Id: "a", ClientCount: 2, SignalStrength: -50},
					{Id: "b", ClientCount: 2, SignalStrength: -40},
				},
			},
			wantRole:   state.RoleClient,
			wantTarget: "b",
		},
		{
			name: "an existing host never demotes here",
			ns: state.NetworkState{
				CurrentRole: state.RoleHost,
				NearbyCount: 2,
				AvailableHosts: []state.HostCandidate{
					{Id: "h1", ClientCount: 0, SignalStrength: -40},
				},
			},
			wantRole: state.RoleHost,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DecideRole(tt.ns, state.DefaultMaxClients)
			assert.Equal(t, tt.wantRole, d.Role)
			assert.Equal(t, tt.wantTarget, d.TargetHost)
			assert.Equal(t, tt.wantCreate, d.CreateGroup)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestDecideRoleDeterministic(t *testing.T) {
	ns := state.NetworkState{
		NearbyCount: 5,
		AvailableHosts: []state.HostCandidate{
			{Id: "h3", ClientCount: 2, SignalStrength: -55},
			{Id: "h1", ClientCount: 2, SignalStrength: -55},
			{Id: "h2", ClientCount: 1, SignalStrength: -90},
		},
	}
	first := DecideRole(ns, state.DefaultMaxClients)
	for range 50 {
		assert.Equal(t, first, DecideRole(ns, state.DefaultMaxClients))
	}
}

func TestSortCandidates(t *testing.T) {
	cands := []state.HostCandidate{
		{Id: "c", ClientCount: 3, SignalStrength: -60},
		{Id: "a", ClientCount: 1, SignalStrength: -70},
		{Id: "b", ClientCount: 1, SignalStrength: -40},
	}
	SortCandidates(cands)
	assert.Equal(t, state.NodeId("b"), cands[0].Id)
	assert.Equal(t, state.NodeId("a"), cands[1].Id)
	assert.Equal(t, state.NodeId("c"), cands[2].Id)
}

func TestShouldPromoteToHost(t *testing.T) {
	// 0 clients served, 0 nearby: nothing to do
	assert.False(t, ShouldPromoteToHost(0, 0))
	// a small population needs one host, which already exists
	assert.False(t, ShouldPromoteToHost(5, 8))
	// 9 nearby devices need two hosts, 5 clients only prove one
	assert.True(t, ShouldPromoteToHost(5, 9))
	assert.True(t, ShouldPromoteToHost(0, 1))
}

func TestShouldDemoteToClient(t *testing.T) {
	assert.True(t, ShouldDemoteToClient(0, 1))
	assert.False(t, ShouldDemoteToClient(1, 1))
	assert.False(t, ShouldDemoteToClient(0, 0))
}

func TestElectHosts(t *testing.T) {
	devices := []*state.Node{
		{Id: "a", SignalStrength: -80},
		{Id: "b", SignalStrength: -30},
		{Id: "c", SignalStrength: -50},
		{Id: "d", SignalStrength: -60},
		{Id: "e", SignalStrength: -40},
		{Id: "f", SignalStrength: -90},
		{Id: "g", SignalStrength: -20},
		{Id: "h", SignalStrength: -70},
		{Id: "i", SignalStrength: -65},
	}

	// 9 devices need ceil(9/8) = 2 hosts; the strongest signals win
	hosts := ElectHosts(devices, nil)
	assert.Equal(t, []state.NodeId{"g", "b"}, hosts)

	// existing hosts are kept and counted against the target
	hosts = ElectHosts(devices, []state.NodeId{"a"})
	assert.Equal(t, []state.NodeId{"a", "g"}, hosts)

	// already enough hosts: unchanged
	hosts = ElectHosts(devices, []state.NodeId{"a", "c"})
	assert.Equal(t, []state.NodeId{"a", "c"}, hosts)
}
