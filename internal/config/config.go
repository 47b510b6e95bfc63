// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-kmespread.
//
// go-kmespread is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the YAML configuration of a KME node daemon.
package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-kmespread/pkg/kme"
	"github.com/jeremyhahn/go-kmespread/pkg/logging"
	"github.com/jeremyhahn/go-kmespread/pkg/share"
)

const (
	// StorageMemory keeps the inbox in process memory.
	StorageMemory = "memory"
	// StorageFile persists the inbox under Storage.Path.
	StorageFile = "file"
)

// Config represents the complete node configuration
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	TLS       TLSConfig       `yaml:"tls"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
	Storage   StorageConfig   `yaml:"storage"`
	Peers     []PeerConfig    `yaml:"peers"`
}

// NodeConfig identifies the KME and its sharing parameters
type NodeConfig struct {
	ID              int64  `yaml:"id"`
	Scheme          string `yaml:"scheme"`           // gf256, sssa, vault
	ThresholdPolicy string `yaml:"threshold_policy"` // majority, unanimous, fixed:<t>
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig controls per-peer limiting of envelope deliveries
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the health endpoints
type HealthConfig struct {
	Enabled    bool `yaml:"enabled"`
	InboxLimit int  `yaml:"inbox_limit"` // degraded above this many envelopes; 0 disables
}

// StorageConfig selects where the inbox and held secret live
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, file
	Path    string `yaml:"path"`
}

// PeerConfig is a destination KME reachable over HTTP
type PeerConfig struct {
	ID  int64  `yaml:"id"`
	URL string `yaml:"url"`
}

// Default returns a configuration for a standalone node with in-memory
// storage listening on localhost.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:              1,
			Scheme:          share.DefaultScheme,
			ThresholdPolicy: "majority",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8443,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		RateLimit: RateLimitConfig{
			Enabled:        false,
			RequestsPerMin: 600,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Health:  HealthConfig{Enabled: true},
		Storage: StorageConfig{Backend: StorageMemory},
	}
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies KMESPREAD_* environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if id := os.Getenv("KMESPREAD_NODE_ID"); id != "" {
		v, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			log.Printf("Warning: invalid KMESPREAD_NODE_ID value %q, using %d: %v", id, cfg.Node.ID, err)
		} else {
			cfg.Node.ID = v
		}
	}
	if scheme := os.Getenv("KMESPREAD_SCHEME"); scheme != "" {
		cfg.Node.Scheme = scheme
	}
	if policy := os.Getenv("KMESPREAD_THRESHOLD_POLICY"); policy != "" {
		cfg.Node.ThresholdPolicy = policy
	}

	if host := os.Getenv("KMESPREAD_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if p := os.Getenv("KMESPREAD_PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			log.Printf("Warning: invalid KMESPREAD_PORT value %q, using %d: %v", p, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid KMESPREAD_PORT value %q (out of range 1-65535), using %d", p, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	if level := os.Getenv("KMESPREAD_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("KMESPREAD_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if backend := os.Getenv("KMESPREAD_STORAGE"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dataDir := os.Getenv("KMESPREAD_DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := share.New(c.Node.Scheme); err != nil {
		return err
	}
	if _, err := kme.ParsePolicy(c.Node.ThresholdPolicy); err != nil {
		return err
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("invalid max_body_bytes: %d", c.Server.MaxBodyBytes)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json, text, or console)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin < 1 {
		return fmt.Errorf("ratelimit requests_per_min must be positive when enabled")
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for the file backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %q (must be memory or file)", c.Storage.Backend)
	}

	seen := make(map[int64]bool, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == c.Node.ID {
			return fmt.Errorf("peer %d has this node's own id", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate peer id: %d", p.ID)
		}
		seen[p.ID] = true
		u, err := url.Parse(p.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("peer %d has invalid url %q", p.ID, p.URL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("peer %d url must be http or https, got %q", p.ID, u.Scheme)
		}
	}
	if len(c.Peers) > share.MaxShares {
		return fmt.Errorf("at most %d peers are supported, got %d", share.MaxShares, len(c.Peers))
	}
	return nil
}

// Address returns the host:port the server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Peer returns the configured peer with the given id.
func (c *Config) Peer(id int64) (PeerConfig, bool) {
	for _, p := range c.Peers {
		if p.ID == id {
			return p, true
		}
	}
	return PeerConfig{}, false
}
