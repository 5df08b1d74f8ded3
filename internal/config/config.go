// Package config defines the resolver's plain configuration surface and
// YAML (de)serialization helpers. It carries no flag parsing or hot-reload
// logic - that belongs to the embedding CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level resolver configuration, loaded from a YAML file
// and used to populate server.Config in the embedding binary.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Recursive RecursiveConfig `yaml:"recursive"`
	Zones     []ZoneSource    `yaml:"zones,omitempty"`
	Blocking  BlockingConfig  `yaml:"blocking,omitempty"`
	Security  SecurityConfig  `yaml:"security,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
}

// ListenConfig holds the transport listener addresses.
type ListenConfig struct {
	UDP          string `yaml:"udp"`
	TCP          string `yaml:"tcp"`
	UDPListeners int    `yaml:"udp_listeners,omitempty"`
	DoT          string `yaml:"dot,omitempty"`
	DoH          string `yaml:"doh,omitempty"`
	TLSCertFile  string `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile   string `yaml:"tls_key_file,omitempty"`
}

// RecursiveConfig controls the recursive resolver pipeline.
type RecursiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Upstreams     []string      `yaml:"upstreams,omitempty"`
	Workers       int           `yaml:"workers,omitempty"`
	QueryTimeout  time.Duration `yaml:"query_timeout,omitempty"`
	MaxIterations int           `yaml:"max_iterations,omitempty"`
	CacheShards   int           `yaml:"cache_shards,omitempty"`
	CacheMaxEntries int         `yaml:"cache_max_entries,omitempty"`
	RedisAddr     string        `yaml:"redis_addr,omitempty"`
}

// ZoneSource names a zone file to load at startup.
type ZoneSource struct {
	File   string `yaml:"file"`
	Format string `yaml:"format"` // "bind" or "dnszone"
	Origin string `yaml:"origin,omitempty"`
}

// BlockingConfig controls the blocking engine's sources.
type BlockingConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Lists      []string `yaml:"lists,omitempty"`
	Allowlist  []string `yaml:"allowlist,omitempty"`
	PolicyName string   `yaml:"policy,omitempty"` // "nxdomain", "zero-ip", "custom-ip", "refused"
}

// SecurityConfig controls ACLs, rate limiting and zone transfer peers.
type SecurityConfig struct {
	AllowedNets          []string `yaml:"allowed_nets,omitempty"`
	DeniedNets           []string `yaml:"denied_nets,omitempty"`
	QueriesPerSecond     int      `yaml:"queries_per_second,omitempty"`
	AllowedTransferPeers []string `yaml:"allowed_transfer_peers,omitempty"`
	EnableCookies        bool     `yaml:"enable_cookies"`
	EnableRRL            bool     `yaml:"enable_rrl"`
}

// MetricsConfig controls the metrics sink.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with the resolver's baseline defaults.
func Default() Config {
	return Config{
		Listen: ListenConfig{
			UDP:          ":53",
			TCP:          ":53",
			UDPListeners: 1,
		},
		Recursive: RecursiveConfig{
			Enabled:         true,
			Workers:         1000,
			QueryTimeout:    5 * time.Second,
			MaxIterations:   20,
			CacheShards:     256,
			CacheMaxEntries: 100000,
		},
		Security: SecurityConfig{
			EnableCookies:    true,
			EnableRRL:        true,
			QueriesPerSecond: 100,
		},
	}
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
