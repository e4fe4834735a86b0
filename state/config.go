package state

import "time"

// MeshCfg represents local device-level configuration
type MeshCfg struct {
	Id                NodeId        `yaml:"id"`                              // unique id for this device
	Name              string        `yaml:"name,omitempty"`                  // human-readable device name
	MaxClients        int           `yaml:"max_clients_per_host,omitempty"`  // client capacity per host
	MeshConnections   int           `yaml:"host_mesh_connections,omitempty"` // backbone edges a host maintains
	DiscoveryInterval time.Duration `yaml:"discovery_interval,omitempty"`
	AutoElection      *bool         `yaml:"auto_election,omitempty"` // run discovery/election automatically
	LogPath           string        `yaml:"log_path,omitempty"`      // if not empty, weft will also write logs to this file
}

// ApplyDefaults fills in the zero fields. Called once after loading.
func (c *MeshCfg) ApplyDefaults() {
	if c.Name == "" {
		c.Name = string(c.Id)
	}
	if c.MaxClients == 0 {
		c.MaxClients = DefaultMaxClients
	}
	if c.MeshConnections == 0 {
		c.MeshConnections = DefaultMeshConnections
	}
	if c.DiscoveryInterval == 0 {
		c.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if c.AutoElection == nil {
		c.AutoElection = Ptr(true)
	}
}

func (c *MeshCfg) AutoElect() bool {
	return c.AutoElection == nil || *c.AutoElection
}

func DefaultCfg(id NodeId) MeshCfg {
	cfg := MeshCfg{Id: id}
	cfg.ApplyDefaults()
	return cfg
}
