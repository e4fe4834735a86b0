package state

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
)

var namePattern, _ = regexp.Compile("^[0-9a-zA-Z._-]+$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func MeshConfigValidator(cfg *MeshCfg) error {
	err := NameValidator(string(cfg.Id))
	if err != nil {
		return err
	}
	if cfg.MaxClients < 1 {
		return fmt.Errorf("max_clients_per_host must be at least 1, got %d", cfg.MaxClients)
	}
	if cfg.MeshConnections < 0 {
		return fmt.Errorf("host_mesh_connections must not be negative, got %d", cfg.MeshConnections)
	}
	if cfg.DiscoveryInterval <= 0 {
		return fmt.Errorf("discovery_interval must be positive, got %s", cfg.DiscoveryInterval)
	}
	if cfg.LogPath != "" {
		if err := PathValidator(cfg.LogPath); err != nil {
			return err
		}
	}
	return nil
}
