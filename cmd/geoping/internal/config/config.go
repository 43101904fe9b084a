// Package config provides the configuration for the geoping CLI.
//
// Configuration is a single YAML file under os.UserConfigDir()/geoping/:
//
//	~/Library/Application Support/geoping/config.yaml   (macOS)
//	~/.config/geoping/config.yaml                       (Linux)
//	%AppData%/geoping/config.yaml                       (Windows)
//
// The badger database with rooms, subscriptions, and credentials lives in
// the data/ subdirectory next to it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/geoping/geoping/pkg/jsontime"
)

const (
	appDir     = "geoping"
	configFile = "config.yaml"
)

// Presence tunes the detection engine.
type Presence struct {
	// Policy selects the oracle: "local" (signal thresholds) or "remote"
	// (server-side confidence scoring).
	Policy string `yaml:"policy"`

	// EnterThreshold and ExitThreshold are the local policy's dBm bounds.
	// Zero selects the built-in defaults.
	EnterThreshold int `yaml:"enter_threshold"`
	ExitThreshold  int `yaml:"exit_threshold"`

	// Interval is the scan period, e.g. "10s". Zero selects the default.
	Interval jsontime.Duration `yaml:"interval,omitempty"`

	// ConfirmCount is how many consecutive confirming verdicts a
	// transition needs. Zero selects 1 for local policy, 2 for remote.
	ConfirmCount int `yaml:"confirm_count"`

	// DropAfter is how many consecutive absent scans discard a stale
	// presence record. Zero selects the default.
	DropAfter int `yaml:"drop_after"`
}

// Config is the persisted CLI configuration.
type Config struct {
	// Dir is the directory the config was loaded from. Not serialized.
	Dir string `yaml:"-"`

	// Endpoint is the backend server root, e.g. "http://10.0.0.2:3000".
	Endpoint string `yaml:"endpoint,omitempty"`

	// DataDir overrides the badger database location.
	DataDir string `yaml:"data_dir,omitempty"`

	// DeviceID identifies this install in collected samples. Generated on
	// first use.
	DeviceID string `yaml:"device_id,omitempty"`

	Presence Presence `yaml:"presence,omitempty"`
}

// Load reads the configuration from the default location. A missing file
// yields a zero config rooted at the default directory.
func Load() (*Config, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine config directory: %w", err)
	}
	return LoadFrom(filepath.Join(base, appDir))
}

// LoadFrom reads the configuration from a specific directory.
func LoadFrom(dir string) (*Config, error) {
	cfg := &Config{Dir: dir}

	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Join(dir, configFile), err)
	}
	cfg.Dir = dir
	return cfg, nil
}

// Save writes the configuration back to its directory.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(c.Dir, configFile)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ResolvedDataDir returns the badger database directory.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return filepath.Join(c.Dir, "data")
}

// ScanInterval returns the configured scan period.
func (c *Config) ScanInterval() time.Duration {
	return c.Presence.Interval.Duration()
}
