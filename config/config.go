package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	AgentWatch AgentWatchConfig `yaml:"agentwatch"`
}

// AgentWatchConfig is the project configuration.
type AgentWatchConfig struct {
	Ingest   IngestConfig   `yaml:"ingest"`
	Queue    QueueConfig    `yaml:"queue"`
	Checker  CheckerConfig  `yaml:"checker"`
	Scope    ScopeConfig    `yaml:"scope"`
	Verify   VerifyConfig   `yaml:"verify"`
	Notify   NotifyConfig   `yaml:"notify"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// IngestConfig controls the raw state-change intake.
type IngestConfig struct {
	Enabled bool        `yaml:"enabled"`
	Redis   RedisConfig `yaml:"redis"`
	Rules   RulesConfig `yaml:"rules"`
}

// RulesConfig controls scope rules applied at ingest.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RedisConfig controls a Redis connection for list-based intake.
type RedisConfig struct {
	Addr         string   `yaml:"addr"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	Key          string   `yaml:"key"`
	BlockTimeout Duration `yaml:"block_timeout"`
}

// QueueConfig controls the delay queue holding events for the grace period.
type QueueConfig struct {
	Mode        string           `yaml:"mode"` // redis|memory
	Redis       QueueRedisConfig `yaml:"redis"`
	GracePeriod Duration         `yaml:"grace_period"`
	Visibility  Duration         `yaml:"visibility"`
	RetryDelay  Duration         `yaml:"retry_delay"`
	MaxAttempts int              `yaml:"max_attempts"`
}

// QueueRedisConfig controls Redis access for the delay queue.
type QueueRedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// CheckerConfig controls the control-plane status client.
type CheckerConfig struct {
	BaseURL string            `yaml:"base_url"`
	Timeout Duration          `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// ScopeConfig selects which clusters are monitored.
type ScopeConfig struct {
	CheckAllClusters bool   `yaml:"check_all_clusters"`
	TagKey           string `yaml:"tag_key"`
	TagValue         string `yaml:"tag_value"`
}

// VerifyConfig controls retry behavior around status checks.
type VerifyConfig struct {
	CheckAttempts int      `yaml:"check_attempts"`
	CheckBackoff  Duration `yaml:"check_backoff"`
}

// NotifyConfig controls the notification channel.
type NotifyConfig struct {
	Mode string           `yaml:"mode"` // http|file|none
	HTTP HTTPNotifyConfig `yaml:"http"`
	File FileNotifyConfig `yaml:"file"`
}

// HTTPNotifyConfig config for topic-endpoint publishing.
type HTTPNotifyConfig struct {
	URL     string            `yaml:"url"`
	Timeout Duration          `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// FileNotifyConfig config for local JSONL notification output.
type FileNotifyConfig struct {
	Path string `yaml:"path"`
}

// PipelineConfig controls the batch coordinator.
type PipelineConfig struct {
	Workers           int      `yaml:"workers"`
	BatchSize         int      `yaml:"batch_size"`
	PollInterval      Duration `yaml:"poll_interval"`
	ProcessingTimeout Duration `yaml:"processing_timeout"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
