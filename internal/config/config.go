// Package config provides configuration types and loading for boardmetrics.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Azdo, Sync, Metrics, Rules, Server, Notify.
type Config struct {
	Azdo    AzdoConfig    `json:"azdo"`
	Sync    SyncConfig    `json:"sync"`
	Metrics MetricsConfig `json:"metrics"`
	Rules   RulesConfig   `json:"rules"`
	Server  ServerConfig  `json:"server"`
	Notify  NotifyConfig  `json:"notify"`
}

// AzdoConfig holds the Azure DevOps connection and field mapping settings.
type AzdoConfig struct {
	OrganizationURL string   `json:"organizationUrl" envconfig:"ORG_URL"`
	Project         string   `json:"project" envconfig:"PROJECT"`
	Pat             string   `json:"pat" envconfig:"PAT"`
	Users           []string `json:"users"`

	EffortField  string `json:"effortField" envconfig:"EFFORT_FIELD"`
	DueDateField string `json:"dueDateField" envconfig:"DUE_DATE_FIELD"`
}

// SyncConfig controls the collector loop.
type SyncConfig struct {
	Interval     time.Duration `json:"interval" envconfig:"INTERVAL"`
	Lookback     time.Duration `json:"lookback" envconfig:"LOOKBACK"`
	Overlap      time.Duration `json:"overlap" envconfig:"OVERLAP"`
	ChunkSize    int           `json:"chunkSize" envconfig:"CHUNK_SIZE"`
	DatabasePath string        `json:"databasePath" envconfig:"DATABASE_PATH"`
	StartupDelay time.Duration `json:"startupDelay" envconfig:"STARTUP_DELAY"`
}

// MetricsConfig feeds the pure metrics deriver.
type MetricsConfig struct {
	StartStates      []string `json:"startStates"`
	InProgressStates []string `json:"inProgressStates"`
	DoneStates       []string `json:"doneStates"`

	EffortPerDay float64 `json:"effortPerDay" envconfig:"EFFORT_PER_DAY"`
	// Rounding is "ceil", "floor" or "round" (half away from zero).
	Rounding        string `json:"rounding" envconfig:"ROUNDING"`
	UseBusinessDays bool   `json:"useBusinessDays" envconfig:"USE_BUSINESS_DAYS"`
}

// RulesConfig holds the triage rule thresholds.
type RulesConfig struct {
	CommitmentLateDays int `json:"commitmentLateDays" envconfig:"COMMITMENT_LATE_DAYS"`
	ForecastLateDays   int `json:"forecastLateDays" envconfig:"FORECAST_LATE_DAYS"`
	MaxPlanningLagDays int `json:"maxPlanningLagDays" envconfig:"MAX_PLANNING_LAG_DAYS"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `json:"listen" envconfig:"LISTEN"`
}

// NotifyConfig groups the triage notification sinks.
type NotifyConfig struct {
	Slack SlackNotifyConfig `json:"slack"`
	Kafka KafkaNotifyConfig `json:"kafka"`
}

// SlackNotifyConfig configures the Slack triage notifier.
type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken string `json:"botToken" envconfig:"BOT_TOKEN"`
	Channel  string `json:"channel" envconfig:"CHANNEL"`
	APIBase  string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// KafkaNotifyConfig configures the Kafka triage event publisher.
type KafkaNotifyConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}
