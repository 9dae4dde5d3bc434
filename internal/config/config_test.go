package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BOARDMETRICS_CONFIG", path)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("BOARDMETRICS_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.Interval != 10*time.Minute {
		t.Errorf("Interval = %v", cfg.Sync.Interval)
	}
	if cfg.Sync.Lookback != 14*24*time.Hour {
		t.Errorf("Lookback = %v", cfg.Sync.Lookback)
	}
	if cfg.Sync.ChunkSize != 200 {
		t.Errorf("ChunkSize = %d", cfg.Sync.ChunkSize)
	}
	if cfg.Azdo.EffortField != "Microsoft.VSTS.Scheduling.Effort" {
		t.Errorf("EffortField = %q", cfg.Azdo.EffortField)
	}
	if cfg.Metrics.Rounding != "ceil" || !cfg.Metrics.UseBusinessDays {
		t.Errorf("metrics defaults = %+v", cfg.Metrics)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	writeConfigFile(t, `{
		"azdo": {"organizationUrl": "https://dev.azure.com/acme", "project": "Core", "pat": "tok", "users": ["a@acme.com"]},
		"sync": {"interval": 300000000000, "chunkSize": 50},
		"metrics": {"rounding": "floor", "effortPerDay": 6},
		"rules": {"maxPlanningLagDays": 5}
	}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Azdo.OrganizationURL != "https://dev.azure.com/acme" || cfg.Azdo.Project != "Core" {
		t.Errorf("azdo = %+v", cfg.Azdo)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("Interval = %v", cfg.Sync.Interval)
	}
	if cfg.Sync.ChunkSize != 50 {
		t.Errorf("ChunkSize = %d", cfg.Sync.ChunkSize)
	}
	if cfg.Metrics.Rounding != "floor" || cfg.Metrics.EffortPerDay != 6 {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
	if cfg.Rules.MaxPlanningLagDays != 5 {
		t.Errorf("MaxPlanningLagDays = %d", cfg.Rules.MaxPlanningLagDays)
	}
	// Untouched sections keep their defaults.
	if cfg.Rules.CommitmentLateDays != 1 {
		t.Errorf("CommitmentLateDays = %d", cfg.Rules.CommitmentLateDays)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	writeConfigFile(t, `{"azdo": {"project": "FromFile", "pat": "file-pat"}}`)
	t.Setenv("BOARDMETRICS_AZDO_PROJECT", "FromEnv")
	t.Setenv("AZDO_PAT", "short-env-pat")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Azdo.Project != "FromEnv" {
		t.Errorf("Project = %q, want env to win", cfg.Azdo.Project)
	}
	if cfg.Azdo.Pat != "short-env-pat" {
		t.Errorf("Pat = %q, want short env name to win", cfg.Azdo.Pat)
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	writeConfigFile(t, `{
		"sync": {"interval": -1, "chunkSize": 9999},
		"metrics": {"rounding": "banana", "effortPerDay": -3}
	}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.Interval != 10*time.Minute {
		t.Errorf("Interval = %v, want clamp to default", cfg.Sync.Interval)
	}
	if cfg.Sync.ChunkSize != 200 {
		t.Errorf("ChunkSize = %d, want clamp to 200", cfg.Sync.ChunkSize)
	}
	if cfg.Metrics.Rounding != "ceil" {
		t.Errorf("Rounding = %q, want fallback ceil", cfg.Metrics.Rounding)
	}
	if cfg.Metrics.EffortPerDay != 4.0 {
		t.Errorf("EffortPerDay = %v, want fallback", cfg.Metrics.EffortPerDay)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	writeConfigFile(t, `{not json`)
	if _, err := Load(); err == nil {
		t.Fatal("want parse error")
	}
}

func TestAllowedUsersNormalizes(t *testing.T) {
	c := AzdoConfig{Users: []string{" Dev@Example.com ", "", "OTHER@acme.com"}}
	got := c.AllowedUsers()
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if !got["dev@example.com"] || !got["other@acme.com"] {
		t.Errorf("got %v", got)
	}
}

func TestSanitizedMasksSecrets(t *testing.T) {
	cfg := Config{}
	cfg.Azdo.Pat = "super-secret"
	cfg.Notify.Slack.BotToken = "xoxb-123"

	s := cfg.Sanitized()
	if s.Azdo.Pat != "***" || s.Notify.Slack.BotToken != "***" {
		t.Errorf("sanitized = %+v", s)
	}
	// The original stays intact.
	if cfg.Azdo.Pat != "super-secret" {
		t.Error("Sanitized mutated the receiver")
	}
}
