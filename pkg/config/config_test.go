package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalConfig = `
instance_name: ci-workspace
workspace_root: /srv/workspace
modules:
  - path: /srv/workspace/modules/cv-renderer
  - id: pdf-export
    path: /srv/workspace/modules/pdf-export
recovery:
  full_recovery_cmd: ["/usr/local/bin/recover-all"]
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.HealthThreshold != 70 {
		t.Fatalf("expected default health_threshold 70, got %d", cfg.HealthThreshold)
	}
	if cfg.CriticalModules != 3 {
		t.Fatalf("expected default critical_module_threshold 3, got %d", cfg.CriticalModules)
	}
	if cfg.IntervalSec != 60 {
		t.Fatalf("expected default monitoring_interval_sec 60, got %d", cfg.IntervalSec)
	}
	if cfg.CooldownSec != 1800 {
		t.Fatalf("expected default cooldown_sec 1800, got %d", cfg.CooldownSec)
	}
	if cfg.Probe.Workers != 4 {
		t.Fatalf("expected default probe workers 4, got %d", cfg.Probe.Workers)
	}
	if cfg.Modules[0].ID != "cv-renderer" {
		t.Fatalf("expected module id derived from path, got %q", cfg.Modules[0].ID)
	}
	if cfg.Modules[0].Manifest != "package.json" {
		t.Fatalf("expected default manifest, got %q", cfg.Modules[0].Manifest)
	}
	if cfg.Modules[1].ID != "pdf-export" {
		t.Fatalf("expected explicit module id preserved, got %q", cfg.Modules[1].ID)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+"\nunknown_knob: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown configuration field")
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure for empty config")
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	for _, want := range []string{"instance_name", "at least one module", "full_recovery_cmd"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected problem mentioning %q, got %v", want, err)
		}
	}
}

func TestValidateRejectsDuplicateModuleIDs(t *testing.T) {
	_, err := Load(writeConfig(t, `
instance_name: ci
modules:
  - path: /srv/a/shared
  - path: /srv/b/shared
recovery:
  full_recovery_cmd: ["/bin/true"]
`))
	if err == nil || !strings.Contains(err.Error(), "duplicate module id") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestValidateRejectsUnknownSinkType(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
notifications:
  - type: carrier-pigeon
`))
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("expected sink type error, got %v", err)
	}
}

func TestValidateRequiresWebhookURL(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
notifications:
  - type: webhook
`))
	if err == nil || !strings.Contains(err.Error(), "url is required") {
		t.Fatalf("expected webhook url error, got %v", err)
	}
}

func TestValidateMetricsListen(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
metrics:
  enabled: true
`))
	if err != nil {
		t.Fatalf("expected default listen address to satisfy validation, got %v", err)
	}
	if cfg.Metrics.Listen == "" {
		t.Fatal("expected default metrics listen address")
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
monitoring_interval_sec: 5
cooldown_sec: 90
probe:
  timeout_sec: 7
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.MonitoringInterval().Seconds(); got != 5 {
		t.Fatalf("expected 5s interval, got %vs", got)
	}
	if got := cfg.Cooldown().Seconds(); got != 90 {
		t.Fatalf("expected 90s cooldown, got %vs", got)
	}
	if got := cfg.ProbeTimeout().Seconds(); got != 7 {
		t.Fatalf("expected 7s probe timeout, got %vs", got)
	}
	if got := cfg.Probe.Timeout().Seconds(); got != 7 {
		t.Fatalf("expected probe sub-config to agree, got %vs", got)
	}
	if got := cfg.Recovery.Timeout(); got != cfg.RecoveryTimeout() {
		t.Fatalf("expected recovery sub-config to agree, got %v vs %v", got, cfg.RecoveryTimeout())
	}
}
