package state

import (
	"testing"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults(t *testing.T) {
	cfg := MeshCfg{Id: "phone-1"}
	cfg.ApplyDefaults()

	assert.Equal(t, "phone-1", cfg.Name)
	assert.Equal(t, DefaultMaxClients, cfg.MaxClients)
	assert.Equal(t, DefaultMeshConnections, cfg.MeshConnections)
	assert.Equal(t, DefaultDiscoveryInterval, cfg.DiscoveryInterval)
	assert.True(t, cfg.AutoElect())
}

func TestDefaultsKeepExplicitValues(t *testing.T) {
	cfg := MeshCfg{
		Id:                "phone-1",
		Name:              "kitchen tablet",
		MaxClients:        3,
		DiscoveryInterval: 5 * time.Second,
		AutoElection:      Ptr(false),
	}
	cfg.ApplyDefaults()

	assert.Equal(t, "kitchen tablet", cfg.Name)
	assert.Equal(t, 3, cfg.MaxClients)
	assert.Equal(t, 5*time.Second, cfg.DiscoveryInterval)
	assert.False(t, cfg.AutoElect())
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := DefaultCfg("phone-1")
	cfg.LogPath = ""

	out, err := yaml.Marshal(&cfg)
	assert.NoError(t, err)

	var parsed MeshCfg
	err = yaml.Unmarshal(out, &parsed)
	assert.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestMeshConfigValidator(t *testing.T) {
	cfg := DefaultCfg("phone-1")
	assert.NoError(t, MeshConfigValidator(&cfg))

	bad := DefaultCfg("phone 1") // spaces are not allowed in ids
	assert.Error(t, MeshConfigValidator(&bad))

	bad = DefaultCfg("phone-1")
	bad.MaxClients = 0
	assert.Error(t, MeshConfigValidator(&bad))

	bad = DefaultCfg("phone-1")
	bad.DiscoveryInterval = 0
	assert.Error(t, MeshConfigValidator(&bad))

	bad = DefaultCfg("phone-1")
	bad.MeshConnections = -1
	assert.Error(t, MeshConfigValidator(&bad))
}

func TestNameValidator(t *testing.T) {
	assert.NoError(t, NameValidator("node-1.local_x"))
	assert.Error(t, NameValidator("has space"))
	assert.Error(t, NameValidator(""))
}
