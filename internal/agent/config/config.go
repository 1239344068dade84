package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the node agent configuration
type Config struct {
	Node struct {
		ID    string `yaml:"id"`    // Unique node identifier
		Token string `yaml:"token"` // Agent token issued by the server (gpc_...)
	} `yaml:"node"`

	Server struct {
		URL string `yaml:"url"` // WebSocket server URL (e.g., ws://localhost:8080/ws/node)
	} `yaml:"server"`

	Runner struct {
		URL            string   `yaml:"url"`             // Inference backend base URL (e.g., http://localhost:11434)
		Models         []string `yaml:"models"`          // Models this node offers
		TimeoutSeconds int      `yaml:"timeout_seconds"` // Per-job inference timeout (default: 300)
	} `yaml:"runner"`

	Database struct {
		Path string `yaml:"path"` // SQLite job log path (default: ./data/agent.db)
	} `yaml:"database"`
}

// Load reads the configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.Node.ID == "" {
		return nil, fmt.Errorf("node.id is required")
	}
	if cfg.Node.Token == "" {
		return nil, fmt.Errorf("node.token is required")
	}
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("server.url is required")
	}
	if cfg.Runner.URL == "" {
		return nil, fmt.Errorf("runner.url is required")
	}
	if len(cfg.Runner.Models) == 0 {
		return nil, fmt.Errorf("runner.models must list at least one model")
	}
	if cfg.Runner.TimeoutSeconds == 0 {
		cfg.Runner.TimeoutSeconds = 300
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/agent.db"
	}

	return &cfg, nil
}

// RunnerTimeout returns the per-job inference timeout.
func (c *Config) RunnerTimeout() time.Duration {
	return time.Duration(c.Runner.TimeoutSeconds) * time.Second
}
