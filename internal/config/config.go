// Package config loads and validates the vigil configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/vigildev/vigil/internal/notify"
)

// Config represents the main configuration.
type Config struct {
	Monitoring    MonitoringConfig `toml:"monitoring"`
	Bridge        BridgeConfig     `toml:"bridge"`
	Probe         ProbeConfig      `toml:"probe"`
	Control       ControlConfig    `toml:"control"`
	Notifications notify.Config    `toml:"notifications"`
	History       HistoryConfig    `toml:"history"`
}

// MonitoringConfig drives the tick engine. Values are read at tick time so
// live edits take effect on the next cycle.
type MonitoringConfig struct {
	// IntervalSeconds is the monitor loop period.
	IntervalSeconds int `toml:"interval_seconds"`
	// MaxInterventionsBeforePause pauses an instance after this many
	// automatic interventions without confirmed recovery.
	MaxInterventionsBeforePause int `toml:"max_interventions_before_pause"`
	// MaxConsecutiveRecoveryFailures marks an instance unrecoverable
	// after this many failed observation windows in a row.
	MaxConsecutiveRecoveryFailures int `toml:"max_consecutive_recovery_failures"`
	// ObservationWindowSeconds is the post-intervention grace period.
	ObservationWindowSeconds int `toml:"observation_window_seconds"`
	// ProcessPattern selects the monitored IDE processes (pgrep -f).
	ProcessPattern string `toml:"process_pattern"`
	// NotifyOnMaxInterventions and NotifyOnPersistentError gate the
	// one-time limit notifications.
	NotifyOnMaxInterventions bool `toml:"notify_on_max_interventions"`
	NotifyOnPersistentError  bool `toml:"notify_on_persistent_error"`
}

// BridgeConfig configures the command bridge.
type BridgeConfig struct {
	PortRangeStart   int    `toml:"port_range_start"`
	PortRangeEnd     int    `toml:"port_range_end"`
	CommandTimeoutMS int    `toml:"command_timeout_ms"`
	InjectHelper     string `toml:"inject_helper"`
}

// ProbeConfig configures the accessibility query layer.
type ProbeConfig struct {
	QueryHelper   string `toml:"query_helper"`
	ClickHelper   string `toml:"click_helper"`
	TimeoutMS     int    `toml:"timeout_ms"`
	SignatureFile string `toml:"signature_file"` // optional YAML extension file
}

// ControlConfig configures the loopback control API.
type ControlConfig struct {
	Port int `toml:"port"`
}

// HistoryConfig configures the SQLite intervention journal.
type HistoryConfig struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"` // empty = default state dir
	RetentionDays int    `toml:"retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Monitoring: MonitoringConfig{
			IntervalSeconds:                5,
			MaxInterventionsBeforePause:    5,
			MaxConsecutiveRecoveryFailures: 3,
			ObservationWindowSeconds:       30,
			ProcessPattern:                 "Cursor",
			NotifyOnMaxInterventions:       true,
			NotifyOnPersistentError:        true,
		},
		Bridge: BridgeConfig{
			PortRangeStart:   8800,
			PortRangeEnd:     8899,
			CommandTimeoutMS: 3000,
			InjectHelper:     "vigil-hook",
		},
		Probe: ProbeConfig{
			QueryHelper: "axdump",
			ClickHelper: "axclick",
			TimeoutMS:   3000,
		},
		Control: ControlConfig{
			Port: 8780,
		},
		Notifications: notify.DefaultConfig(),
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "vigil", "config.toml")
}

// Load reads the config file at path, layering it over the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	m := c.Monitoring
	if m.IntervalSeconds < 1 {
		return fmt.Errorf("monitoring.interval_seconds must be >= 1, got %d", m.IntervalSeconds)
	}
	if m.MaxInterventionsBeforePause < 1 {
		return fmt.Errorf("monitoring.max_interventions_before_pause must be >= 1, got %d", m.MaxInterventionsBeforePause)
	}
	if m.MaxConsecutiveRecoveryFailures < 1 {
		return fmt.Errorf("monitoring.max_consecutive_recovery_failures must be >= 1, got %d", m.MaxConsecutiveRecoveryFailures)
	}
	if m.ObservationWindowSeconds < 1 {
		return fmt.Errorf("monitoring.observation_window_seconds must be >= 1, got %d", m.ObservationWindowSeconds)
	}
	if m.ProcessPattern == "" {
		return fmt.Errorf("monitoring.process_pattern must not be empty")
	}
	if c.Bridge.PortRangeStart <= 0 || c.Bridge.PortRangeEnd < c.Bridge.PortRangeStart {
		return fmt.Errorf("bridge port range [%d, %d] is invalid", c.Bridge.PortRangeStart, c.Bridge.PortRangeEnd)
	}
	if c.Control.Port <= 0 || c.Control.Port > 65535 {
		return fmt.Errorf("control.port %d out of range", c.Control.Port)
	}
	return nil
}

// StateDir returns the directory for vigil's runtime state (history
// database, logs), creating it if needed.
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".local", "state", "vigil")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}
