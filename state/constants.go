package state

import "time"

var (
	// role election
	DefaultMaxClients      = 7
	DefaultMeshConnections = 2
	CrowdingThreshold      = 8
	MinCandidateHosts      = 2

	// routing
	MessageTTL      = 5
	DedupTTL        = time.Second * 60
	DedupSweepDelay = time.Second * 30

	// topology
	StaleTimeout       = time.Second * 30
	TopologySweepDelay = time.Second * 10

	// discovery
	DefaultDiscoveryInterval = time.Second * 15
	DiscoveryWarmup          = time.Second * 1
	// time given to the transport to surface scan results before electing
	SettleDelay = time.Second * 2
)

// debug flags
var (
	DBG_check_invariants = false
)
