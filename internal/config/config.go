// Package config loads and validates the miner configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shizukutanaka/tsurugi/internal/memory"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Mining     MiningConfig     `yaml:"mining"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// MiningConfig describes the worker topology and memory policy.
type MiningConfig struct {
	// SlowMemory is one of never_use, no_mlock, warn, always_use.
	SlowMemory string `yaml:"slow_memory"`
	// Threads lists one entry per worker. Empty means auto-configure from
	// the detected hardware.
	Threads []ThreadConfig `yaml:"threads"`
}

// ThreadConfig configures a single worker thread.
type ThreadConfig struct {
	// Multiway is the kernel width: 1, 2, 4, 5 or 6.
	Multiway int `yaml:"multiway"`
	// CPUAffinity pins the thread to a CPU; -1 leaves it unpinned.
	CPUAffinity int `yaml:"cpu_affinity"`
}

// MonitoringConfig controls the Prometheus exporter.
type MonitoringConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ListenAddr  string `yaml:"listen_addr"`
	MetricsPath string `yaml:"metrics_path"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Mining: MiningConfig{
			SlowMemory: "warn",
		},
		Monitoring: MonitoringConfig{
			Enabled:     false,
			ListenAddr:  ":9090",
			MetricsPath: "/metrics",
		},
	}
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the configuration for values the miner cannot run with.
func (c *Config) Validate() error {
	if _, err := memory.ParseMode(c.Mining.SlowMemory); err != nil {
		return fmt.Errorf("mining.slow_memory: %w", err)
	}
	for i, t := range c.Mining.Threads {
		switch t.Multiway {
		case 1, 2, 4, 5, 6:
		default:
			return fmt.Errorf("mining.threads[%d].multiway must be 1, 2, 4, 5 or 6, got %d", i, t.Multiway)
		}
	}
	if c.Monitoring.Enabled && c.Monitoring.ListenAddr == "" {
		return fmt.Errorf("monitoring.listen_addr required when monitoring is enabled")
	}
	return nil
}

// SlowMemoryMode returns the parsed allocator mode. Call Validate first.
func (c *Config) SlowMemoryMode() memory.Mode {
	mode, _ := memory.ParseMode(c.Mining.SlowMemory)
	return mode
}
