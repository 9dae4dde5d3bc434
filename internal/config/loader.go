package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".boardmetrics"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("BOARDMETRICS_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// DefaultConfig returns the configuration defaults. Field names and
// thresholds follow the Azure DevOps agile process defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Azdo: AzdoConfig{
			EffortField:  "Microsoft.VSTS.Scheduling.Effort",
			DueDateField: "Microsoft.VSTS.Scheduling.TargetDate",
		},
		Sync: SyncConfig{
			Interval:     10 * time.Minute,
			Lookback:     14 * 24 * time.Hour,
			Overlap:      time.Minute,
			ChunkSize:    200,
			DatabasePath: filepath.Join(home, ConfigDir, "boardmetrics.db"),
			StartupDelay: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			StartStates:      []string{"Active", "In Progress"},
			InProgressStates: []string{"In Progress"},
			DoneStates:       []string{"Done", "Closed", "Resolved"},
			EffortPerDay:     4.0,
			Rounding:         "ceil",
			UseBusinessDays:  true,
		},
		Rules: RulesConfig{
			CommitmentLateDays: 1,
			ForecastLateDays:   1,
			MaxPlanningLagDays: 2,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
	}
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Env overrides per section.
	envconfig.Process("BOARDMETRICS_AZDO", &cfg.Azdo)
	envconfig.Process("BOARDMETRICS_SYNC", &cfg.Sync)
	envconfig.Process("BOARDMETRICS_METRICS", &cfg.Metrics)
	envconfig.Process("BOARDMETRICS_RULES", &cfg.Rules)
	envconfig.Process("BOARDMETRICS_SERVER", &cfg.Server)
	envconfig.Process("BOARDMETRICS_NOTIFY_SLACK", &cfg.Notify.Slack)
	envconfig.Process("BOARDMETRICS_NOTIFY_KAFKA", &cfg.Notify.Kafka)

	// Short env names kept for parity with the original deployment scripts.
	if v := strings.TrimSpace(os.Getenv("AZDO_ORG_URL")); v != "" {
		cfg.Azdo.OrganizationURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AZDO_PROJECT")); v != "" {
		cfg.Azdo.Project = v
	}
	if v := strings.TrimSpace(os.Getenv("AZDO_PAT")); v != "" {
		cfg.Azdo.Pat = v
	}

	expandHome := func(p *string) {
		if strings.HasPrefix(*p, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[1:])
			}
		}
	}
	expandHome(&cfg.Sync.DatabasePath)

	applyFallbacks(cfg)
	return cfg, nil
}

// Save writes the config file, creating the directory if needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyFallbacks clamps invalid values back to safe defaults.
func applyFallbacks(cfg *Config) {
	def := DefaultConfig()
	if cfg.Sync.Interval <= 0 {
		cfg.Sync.Interval = def.Sync.Interval
	}
	if cfg.Sync.Lookback <= 0 {
		cfg.Sync.Lookback = def.Sync.Lookback
	}
	if cfg.Sync.Overlap < 0 {
		cfg.Sync.Overlap = def.Sync.Overlap
	}
	if cfg.Sync.ChunkSize <= 0 || cfg.Sync.ChunkSize > 200 {
		cfg.Sync.ChunkSize = def.Sync.ChunkSize
	}
	if cfg.Sync.DatabasePath == "" {
		cfg.Sync.DatabasePath = def.Sync.DatabasePath
	}
	if cfg.Metrics.EffortPerDay <= 0 {
		cfg.Metrics.EffortPerDay = def.Metrics.EffortPerDay
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Metrics.Rounding)) {
	case "floor":
		cfg.Metrics.Rounding = "floor"
	case "round":
		cfg.Metrics.Rounding = "round"
	default:
		cfg.Metrics.Rounding = "ceil"
	}
	if len(cfg.Metrics.StartStates) == 0 {
		cfg.Metrics.StartStates = def.Metrics.StartStates
	}
	if len(cfg.Metrics.InProgressStates) == 0 {
		cfg.Metrics.InProgressStates = def.Metrics.InProgressStates
	}
	if len(cfg.Metrics.DoneStates) == 0 {
		cfg.Metrics.DoneStates = def.Metrics.DoneStates
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = def.Server.Listen
	}
}

// AllowedUsers returns the assignee allow-list normalized for matching:
// trimmed, lower-cased, empties dropped. An empty map means no filtering.
func (c *AzdoConfig) AllowedUsers() map[string]bool {
	out := make(map[string]bool)
	for _, u := range c.Users {
		u = strings.ToLower(strings.TrimSpace(u))
		if u != "" {
			out[u] = true
		}
	}
	return out
}

// Sanitized returns a copy safe to expose over the API (PAT masked).
func (c Config) Sanitized() Config {
	if c.Azdo.Pat != "" {
		c.Azdo.Pat = "***"
	}
	if c.Notify.Slack.BotToken != "" {
		c.Notify.Slack.BotToken = "***"
	}
	return c
}
