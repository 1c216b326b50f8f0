package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DEFAULT []byte

// Process reads the provided configuration files in order, overlaying each
// one on the defaults. Keys absent from a file keep the value they already
// had, so later files only need to mention what they change.
func Process(configPaths []string) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(DEFAULT, &config); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("could not process config file %s: %w", path, err)
		}
	}

	if config.Netcode.MaxConnectedPlayers < 1 {
		return nil, fmt.Errorf("maxConnectedPlayers must be at least 1")
	}
	if config.Netcode.MaxReconnectAttempts < 0 {
		return nil, fmt.Errorf("maxReconnectAttempts cannot be negative")
	}
	if config.Netcode.MaxPayloadBytes < 1 {
		return nil, fmt.Errorf("maxPayloadBytes must be at least 1")
	}

	return &config, nil
}
