package config

import (
	"fmt"
	"time"
)

// Config represents an ftecho.yaml configuration file.
// All values are optional and act as defaults for ftecho serve flags.
// CLI flags always override config values.
type Config struct {
	Listen      string   `yaml:"listen"`
	StorageRoot string   `yaml:"storage_root"`
	ChunkSize   int      `yaml:"chunk_size"`
	MaxConns    int      `yaml:"max_conns"`
	IdleTimeout Duration `yaml:"idle_timeout"`
	LogLevel    string   `yaml:"log_level"`
}

// Default returns the built-in configuration: port 9000 and 4 KiB chunks,
// matching the protocol's reference deployment.
func Default() Config {
	return Config{
		Listen:      ":9000",
		StorageRoot: "storage",
		ChunkSize:   4096,
		MaxConns:    256,
		IdleTimeout: Duration{5 * time.Minute},
		LogLevel:    "info",
	}
}

// Merge fills zero-valued fields of c from other. Used to layer the default
// config under a loaded file; flags are applied on top by the serve command.
func (c *Config) Merge(other Config) {
	if c.Listen == "" {
		c.Listen = other.Listen
	}
	if c.StorageRoot == "" {
		c.StorageRoot = other.StorageRoot
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = other.ChunkSize
	}
	if c.MaxConns == 0 {
		c.MaxConns = other.MaxConns
	}
	if c.IdleTimeout.Duration == 0 {
		c.IdleTimeout = other.IdleTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = other.LogLevel
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive, got %d", c.MaxConns)
	}
	if c.IdleTimeout.Duration < 0 {
		return fmt.Errorf("idle_timeout must not be negative, got %s", c.IdleTimeout)
	}
	return nil
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
