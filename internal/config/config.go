package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all portscope configuration.
type Config struct {
	RefreshInterval    int      `yaml:"refresh_interval"`      // seconds
	PageSize           int      `yaml:"page_size"`             // rows before "show more"
	KillRefreshDelayMs int      `yaml:"kill_refresh_delay_ms"` // rescan delay after a kill
	FailureThreshold   int      `yaml:"failure_threshold"`     // failed scans before warning
	DefaultFilter      string   `yaml:"default_filter"`        // e.g. "3000-9000"
	Exclude            []string `yaml:"exclude"`               // process names to hide
	ColorEnabled       bool     `yaml:"color_enabled"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		RefreshInterval:    3,
		PageSize:           15,
		KillRefreshDelayMs: 1000,
		FailureThreshold:   3,
		DefaultFilter:      "",
		Exclude:            []string{},
		ColorEnabled:       true,
	}
}

// Validate replaces out-of-range values with their defaults.
func (c *Config) Validate() {
	def := Default()
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.KillRefreshDelayMs < 0 {
		c.KillRefreshDelayMs = def.KillRefreshDelayMs
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
}

// Interval returns the refresh interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

// KillRefreshDelay returns the post-kill rescan delay as a duration.
func (c *Config) KillRefreshDelay() time.Duration {
	return time.Duration(c.KillRefreshDelayMs) * time.Millisecond
}

// Load loads config from the given path. If path is empty, it uses the
// default location (~/.config/portscope/config.yaml). If the file does not
// exist, it returns defaults without creating the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return Default(), nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	return LoadFrom(path)
}

// LoadFrom loads and parses config from the given path. Missing fields
// keep their default values.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Validate()

	return cfg, nil
}

// Save writes the config as YAML to path, creating parent directories as
// needed. The file is replaced by rename so a watcher never reads a
// partial write.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "portscope", "config.yaml")
}
