package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "/etc/modhealthd/config.yaml"

// Config represents the runtime configuration for the module-health daemon.
type Config struct {
	InstanceName      string           `yaml:"instance_name"`
	WorkspaceRoot     string           `yaml:"workspace_root"`
	Modules           []ModuleConfig   `yaml:"modules"`
	HealthThreshold   int              `yaml:"health_threshold"`
	CriticalModules   int              `yaml:"critical_module_threshold"`
	IntervalSec       int              `yaml:"monitoring_interval_sec"`
	CooldownSec       int              `yaml:"cooldown_sec"`
	Probe             ProbeConfig      `yaml:"probe"`
	Recovery          RecoveryConfig   `yaml:"recovery"`
	StateFile         string           `yaml:"state_file"`
	AlertHistoryFile  string           `yaml:"alert_history_file"`
	LockFile          string           `yaml:"lock_file"`
	KillSwitchFile    string           `yaml:"kill_switch_file"`
	Notifications     []SinkConfig     `yaml:"notifications"`
	Windows           WindowsConfig    `yaml:"windows"`
	Metrics           MetricsConfig    `yaml:"metrics"`
	DryRun            bool             `yaml:"dry_run"`
}

// ModuleConfig describes one independently buildable module under watch.
type ModuleConfig struct {
	ID          string `yaml:"id"`
	Path        string `yaml:"path"`
	Manifest    string `yaml:"manifest"`
	SourceDir   string `yaml:"source_dir"`
	ArtifactDir string `yaml:"artifact_dir"`
	DepsDir     string `yaml:"deps_dir"`
	LockFile    string `yaml:"lock_file"`
}

// ProbeConfig controls how build/test questions are asked per module.
type ProbeConfig struct {
	BuildCmd   []string `yaml:"build_cmd"`
	TestCmd    []string `yaml:"test_cmd"`
	TimeoutSec int      `yaml:"timeout_sec"`
	Workers    int      `yaml:"workers"`
}

// RecoveryConfig names the external commands behind each recovery strategy.
type RecoveryConfig struct {
	DependencyCheckCmd []string `yaml:"dependency_check_cmd"`
	RebuildCmd         []string `yaml:"rebuild_cmd"`
	FullRecoveryCmd    []string `yaml:"full_recovery_cmd"`
	ForceFlag          string   `yaml:"force_flag"`
	TimeoutSec         int      `yaml:"timeout_sec"`
}

// SinkConfig configures one notification channel.
type SinkConfig struct {
	Type       string `yaml:"type"`
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// WindowsConfig enumerates optional allow/deny recovery windows.
type WindowsConfig struct {
	Deny  []string `yaml:"deny"`
	Allow []string `yaml:"allow"`
}

// MetricsConfig defines observability exposure options.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ValidationError aggregates multiple configuration validation failures.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	return errors.As(target, &other)
}

// Load reads, parses, and validates a configuration from disk.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks for semantic correctness in the configuration.
func (c *Config) Validate() error {
	problems := make([]string, 0)

	if strings.TrimSpace(c.InstanceName) == "" {
		problems = append(problems, "instance_name is required")
	}
	if len(c.Modules) == 0 {
		problems = append(problems, "at least one module must be configured")
	}
	seen := make(map[string]struct{}, len(c.Modules))
	for i := range c.Modules {
		for _, p := range c.Modules[i].validate() {
			problems = append(problems, fmt.Sprintf("modules[%d]: %s", i, p))
		}
		id := c.Modules[i].ID
		if _, dup := seen[id]; dup && id != "" {
			problems = append(problems, fmt.Sprintf("modules[%d]: duplicate module id %q", i, id))
		}
		seen[id] = struct{}{}
	}

	if c.HealthThreshold < 0 || c.HealthThreshold > 100 {
		problems = append(problems, "health_threshold must be within [0,100]")
	}
	if c.CriticalModules < 1 {
		problems = append(problems, "critical_module_threshold must be at least 1")
	}
	if c.IntervalSec <= 0 {
		problems = append(problems, "monitoring_interval_sec must be greater than zero")
	}
	if c.CooldownSec < 0 {
		problems = append(problems, "cooldown_sec must be non-negative")
	}
	if c.Probe.TimeoutSec <= 0 {
		problems = append(problems, "probe.timeout_sec must be greater than zero")
	}
	if c.Probe.Workers <= 0 {
		problems = append(problems, "probe.workers must be greater than zero")
	}
	if c.Recovery.TimeoutSec <= 0 {
		problems = append(problems, "recovery.timeout_sec must be greater than zero")
	}
	if len(c.Recovery.FullRecoveryCmd) == 0 {
		problems = append(problems, "recovery.full_recovery_cmd must specify the command to execute")
	}
	if strings.TrimSpace(c.StateFile) == "" {
		problems = append(problems, "state_file is required")
	}
	for i, sink := range c.Notifications {
		switch sink.Type {
		case "webhook":
			if strings.TrimSpace(sink.URL) == "" {
				problems = append(problems, fmt.Sprintf("notifications[%d]: url is required for webhook sinks", i))
			}
		case "log":
		default:
			problems = append(problems, fmt.Sprintf("notifications[%d]: type %q is not supported", i, sink.Type))
		}
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		problems = append(problems, "metrics.listen must be set when metrics.enabled is true")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.HealthThreshold == 0 {
		c.HealthThreshold = 70
	}
	if c.CriticalModules == 0 {
		c.CriticalModules = 3
	}
	if c.IntervalSec == 0 {
		c.IntervalSec = 60
	}
	if c.CooldownSec == 0 {
		c.CooldownSec = 1800
	}
	if c.Probe.TimeoutSec == 0 {
		c.Probe.TimeoutSec = 30
	}
	if c.Probe.Workers == 0 {
		c.Probe.Workers = 4
	}
	if c.Recovery.TimeoutSec == 0 {
		c.Recovery.TimeoutSec = 600
	}
	if c.Recovery.ForceFlag == "" {
		c.Recovery.ForceFlag = "--force"
	}
	if c.StateFile == "" {
		c.StateFile = "/var/lib/modhealthd/trigger-state.json"
	}
	if c.AlertHistoryFile == "" {
		c.AlertHistoryFile = "/var/lib/modhealthd/alerts.jsonl"
	}
	if c.LockFile == "" {
		c.LockFile = "/var/run/modhealthd.pid"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9464"
	}
	for i := range c.Modules {
		c.Modules[i].applyDefaults()
	}
	for i := range c.Notifications {
		if c.Notifications[i].TimeoutSec == 0 {
			c.Notifications[i].TimeoutSec = 5
		}
	}
}

func (m *ModuleConfig) applyDefaults() {
	if strings.TrimSpace(m.ID) == "" && strings.TrimSpace(m.Path) != "" {
		m.ID = filepath.Base(m.Path)
	}
	if m.Manifest == "" {
		m.Manifest = "package.json"
	}
	if m.SourceDir == "" {
		m.SourceDir = "src"
	}
	if m.ArtifactDir == "" {
		m.ArtifactDir = "dist"
	}
	if m.DepsDir == "" {
		m.DepsDir = "node_modules"
	}
	if m.LockFile == "" {
		m.LockFile = "package-lock.json"
	}
}

func (m ModuleConfig) validate() []string {
	problems := make([]string, 0)
	if strings.TrimSpace(m.Path) == "" {
		problems = append(problems, "path is required")
	}
	if strings.TrimSpace(m.ID) == "" {
		problems = append(problems, "id is required when path has no base name")
	}
	return problems
}

// MonitoringInterval returns how long the daemon waits between ticks.
func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// Cooldown returns the minimum spacing between two recovery attempts.
func (c *Config) Cooldown() time.Duration {
	if c == nil {
		return 0
	}
	return time.Duration(c.CooldownSec) * time.Second
}

// ProbeTimeout returns the per-question probe timeout as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return c.Probe.Timeout()
}

// RecoveryTimeout returns how long a single recovery command may run.
func (c *Config) RecoveryTimeout() time.Duration {
	return c.Recovery.Timeout()
}

// Timeout returns the per-question probe timeout as a duration.
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// Timeout returns how long a single recovery command may run.
func (r RecoveryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}
