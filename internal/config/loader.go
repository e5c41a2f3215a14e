package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadNodeConfig reads and parses a node config file, starting from
// defaults so unset fields keep sane values.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()
	if err := loadYAML(path, &cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

// LoadControlServerConfig reads and parses a control-server config file.
func LoadControlServerConfig(path string) (ControlServerConfig, error) {
	cfg := DefaultControlServerConfig()
	if err := loadYAML(path, &cfg); err != nil {
		return ControlServerConfig{}, err
	}
	return cfg, nil
}

// LoadRelayServerConfig reads and parses a relay-server config file.
func LoadRelayServerConfig(path string) (RelayServerConfig, error) {
	cfg := DefaultRelayServerConfig()
	if err := loadYAML(path, &cfg); err != nil {
		return RelayServerConfig{}, err
	}
	return cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigInvalid, path, err)
	}
	return nil
}
