// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Provider     string `mapstructure:"provider"` // "postgres" or "memory"
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// SchedulerConfig governs the due-schedule scan loop.
type SchedulerConfig struct {
	TickSeconds int `mapstructure:"tick_seconds"`
	DueLimit    int `mapstructure:"due_limit"`
	MaxFailures int `mapstructure:"max_failures"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// RunnerConfig governs job execution.
type RunnerConfig struct {
	Concurrency          int `mapstructure:"concurrency"`
	TargetTimeoutSeconds int `mapstructure:"target_timeout_seconds"`
	JobTimeoutMinutes    int `mapstructure:"job_timeout_minutes"`
	ReaperSeconds        int `mapstructure:"reaper_seconds"`
}

// WebhookConfig governs delivery retry behavior.
type WebhookConfig struct {
	MaxAttempts           int `mapstructure:"max_attempts"`
	BackoffInitialSeconds int `mapstructure:"backoff_initial_seconds"`
	BackoffMaxSeconds     int `mapstructure:"backoff_max_seconds"`
	SweepSeconds          int `mapstructure:"sweep_seconds"`
	SweepLimit            int `mapstructure:"sweep_limit"`
	TimeoutSeconds        int `mapstructure:"timeout_seconds"`
}

// AnalyzerConfig points at the sentiment analysis engine endpoint.
type AnalyzerConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PubSubConfig holds metadata for the optional event mirror.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.max_open_conns", 8)
	v.SetDefault("scheduler.tick_seconds", 60)
	v.SetDefault("scheduler.due_limit", 100)
	v.SetDefault("scheduler.max_failures", 3)
	v.SetDefault("scheduler.queue_depth", 64)
	v.SetDefault("runner.concurrency", 3)
	v.SetDefault("runner.target_timeout_seconds", 120)
	v.SetDefault("runner.job_timeout_minutes", 30)
	v.SetDefault("runner.reaper_seconds", 60)
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.backoff_initial_seconds", 30)
	v.SetDefault("webhook.backoff_max_seconds", 1800)
	v.SetDefault("webhook.sweep_seconds", 30)
	v.SetDefault("webhook.sweep_limit", 100)
	v.SetDefault("webhook.timeout_seconds", 30)
	v.SetDefault("analyzer.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Store.Provider != "memory" && c.Store.Provider != "postgres" {
		return fmt.Errorf("store.provider must be memory or postgres")
	}
	if c.Store.Provider == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set when store.provider is postgres")
	}
	if c.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("scheduler.tick_seconds must be > 0")
	}
	if c.Runner.Concurrency <= 0 {
		return fmt.Errorf("runner.concurrency must be > 0")
	}
	if c.Runner.JobTimeoutMinutes <= 0 {
		return fmt.Errorf("runner.job_timeout_minutes must be > 0")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("webhook.max_attempts must be > 0")
	}
	return nil
}

// SchedulerTick converts the tick setting into a duration.
func (c Config) SchedulerTick() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// TargetTimeout converts the per-target deadline into a duration.
func (c Config) TargetTimeout() time.Duration {
	return time.Duration(c.Runner.TargetTimeoutSeconds) * time.Second
}

// JobTimeout converts the job reap threshold into a duration.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Runner.JobTimeoutMinutes) * time.Minute
}
