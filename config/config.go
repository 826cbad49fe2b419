// Package config locates the allocation replicas for gateways and
// clients.
//
// The endpoints file is stored at $XDG_CONFIG_HOME/aula/endpoints.yaml
// (defaults to ~/.config/aula/endpoints.yaml) and names the two
// replicas; a missing file falls back to both replicas on localhost so
// a single-machine setup needs no configuration at all.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"aula/pkg/defaults"

	"gopkg.in/yaml.v3"
)

// Replica is one allocation server.
type Replica struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	// AllocatePort and HeartbeatPort fall back to the standard ports
	// when omitted.
	AllocatePort  int `yaml:"allocate_port,omitempty"`
	HeartbeatPort int `yaml:"heartbeat_port,omitempty"`
}

// AllocateAddr returns the replica's allocation endpoint as host:port.
func (r Replica) AllocateAddr() string {
	port := r.AllocatePort
	if port == 0 {
		port = defaults.AllocatePort
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(port))
}

// HeartbeatURL returns the replica's heartbeat stream URL.
func (r Replica) HeartbeatURL() string {
	port := r.HeartbeatPort
	if port == 0 {
		port = defaults.HeartbeatPort
	}
	return "http://" + net.JoinHostPort(r.Host, strconv.Itoa(port)) + defaults.HeartbeatPath
}

// Config lists the replicas in failover priority order: the first
// alive replica wins.
type Config struct {
	Replicas []Replica `yaml:"replicas"`
}

// Default returns both replicas on localhost with the backup's ports
// shifted by one, matching the single-machine development layout.
func Default() *Config {
	return &Config{
		Replicas: []Replica{
			{Name: "primary", Host: "127.0.0.1"},
			{Name: "backup", Host: "127.0.0.1",
				AllocatePort:  defaults.AllocatePort + 1,
				HeartbeatPort: defaults.HeartbeatPort + 1},
		},
	}
}

// Path returns the endpoints file location. It respects
// XDG_CONFIG_HOME, falling back to ~/.config/aula/endpoints.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "aula", "endpoints.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "aula", "endpoints.yaml")
}

// Load reads the endpoints file at path; "" means the default
// location. A missing file yields Default(), not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read endpoints: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse endpoints: %w", err)
	}
	if len(cfg.Replicas) == 0 {
		return nil, fmt.Errorf("endpoints %s: no replicas listed", path)
	}
	for i, r := range cfg.Replicas {
		if r.Host == "" {
			return nil, fmt.Errorf("endpoints %s: replica %d has no host", path, i)
		}
		if r.Name == "" {
			cfg.Replicas[i].Name = r.Host
		}
	}
	return &cfg, nil
}

// Save writes the endpoints file, creating directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal endpoints: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write endpoints: %w", err)
	}
	return nil
}
