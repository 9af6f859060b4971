// Package config provides the daemon configuration: a YAML file for node
// options and the persisted BTC connection settings provider.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration loaded from <data-dir>/config.yaml.
type Config struct {
	// Network selects mainnet or testnet chain parameters.
	Network string `yaml:"network"`

	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`

	// BeamNode is the Chain A node endpoint.
	BeamNode NodeConfig `yaml:"beam_node"`

	// P2P configures the peer channel transport.
	P2P P2PConfig `yaml:"p2p"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig locates the wallet database.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// NodeConfig is a plain RPC endpoint.
type NodeConfig struct {
	Address string `yaml:"address"`
}

// P2PConfig configures the libp2p host.
type P2PConfig struct {
	ListenAddrs    []string `yaml:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	KeyFile        string   `yaml:"key_file"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Network: "mainnet",
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{DataDir: "~/.beamswap"},
		BeamNode: NodeConfig{
			Address: "127.0.0.1:10005",
		},
		P2P: P2PConfig{
			ListenAddrs: []string{"/ip4/0.0.0.0/tcp/10150"},
			KeyFile:     "p2p.key",
		},
	}
}

// Load reads config.yaml from dir, writing the default file when absent.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "config.yaml")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		cfg.Storage.DataDir = dir
		if err := Save(cfg, dir); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = dir
	}
	return cfg, nil
}

// Save writes the configuration to dir/config.yaml.
func Save(cfg *Config, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600)
}
