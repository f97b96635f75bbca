// Package config provides configuration management for the alert engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultEvictionHours is used when storage.eviction_hours is unset.
	defaultEvictionHours = 24
	// defaultProcessedCap bounds the reconciler's processed-order-id set.
	defaultProcessedCap = 10_000
	// defaultConfirmationRounds bounds the placer's confirmation loop.
	defaultConfirmationRounds = 5
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Placer      PlacerConfig      `yaml:"placer"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines gateway API settings.
type BrokerConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	AccountID string `yaml:"account_id"`
	Timeout   string `yaml:"timeout"` // e.g. "30s"
}

// TelegramConfig defines the chat surface settings.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// ReconcileConfig defines the fill reconciliation loop settings.
type ReconcileConfig struct {
	IdleInterval string   `yaml:"idle_interval"` // e.g. "5s"
	BusyInterval string   `yaml:"busy_interval"` // e.g. "1s"
	ProcessedCap int      `yaml:"processed_cap"`
	Alerters     []string `yaml:"alerters"`
}

// PlacerConfig defines order placement settings.
type PlacerConfig struct {
	MaxConfirmationRounds int     `yaml:"max_confirmation_rounds"`
	TrailPercent          float64 `yaml:"trail_percent"`
}

// StorageConfig defines persistence settings.
type StorageConfig struct {
	AlertsPath    string `yaml:"alerts_path"`
	ContractsPath string `yaml:"contracts_path"`
	EvictionHours int    `yaml:"eviction_hours"`
}

// DashboardConfig defines the admin HTTP surface settings.
type DashboardConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	AuthToken  string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("broker.account_id is required")
	}
	if c.Broker.Timeout != "" {
		if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
			return fmt.Errorf("broker.timeout invalid: %w", err)
		}
	}

	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required")
	}

	if c.Reconcile.IdleInterval != "" {
		if _, err := time.ParseDuration(c.Reconcile.IdleInterval); err != nil {
			return fmt.Errorf("reconcile.idle_interval invalid: %w", err)
		}
	}
	if c.Reconcile.BusyInterval != "" {
		if _, err := time.ParseDuration(c.Reconcile.BusyInterval); err != nil {
			return fmt.Errorf("reconcile.busy_interval invalid: %w", err)
		}
	}
	if c.Reconcile.ProcessedCap < 0 {
		return fmt.Errorf("reconcile.processed_cap must be >= 0")
	}

	if c.Placer.MaxConfirmationRounds < 0 || c.Placer.MaxConfirmationRounds > 10 {
		return fmt.Errorf("placer.max_confirmation_rounds must be between 0 and 10")
	}
	if c.Placer.TrailPercent < 0 || c.Placer.TrailPercent >= 1 {
		return fmt.Errorf("placer.trail_percent must be in [0,1)")
	}

	if c.Storage.AlertsPath == "" {
		return fmt.Errorf("storage.alerts_path is required")
	}
	if c.Storage.ContractsPath == "" {
		return fmt.Errorf("storage.contracts_path is required")
	}
	if c.Storage.EvictionHours < 0 {
		return fmt.Errorf("storage.eviction_hours must be >= 0")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// BrokerTimeout returns the configured gateway timeout duration.
func (c *Config) BrokerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second // default
	}
	return d
}

// IdleInterval returns the reconciler's empty-stream sleep.
func (c *Config) IdleInterval() time.Duration {
	d, err := time.ParseDuration(c.Reconcile.IdleInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second // default
	}
	return d
}

// BusyInterval returns the reconciler's post-batch sleep.
func (c *Config) BusyInterval() time.Duration {
	d, err := time.ParseDuration(c.Reconcile.BusyInterval)
	if err != nil || d <= 0 {
		return 1 * time.Second // default
	}
	return d
}

// ProcessedCap returns the processed-id set bound.
func (c *Config) ProcessedCap() int {
	if c.Reconcile.ProcessedCap == 0 {
		return defaultProcessedCap
	}
	return c.Reconcile.ProcessedCap
}

// ConfirmationRounds returns the placer's confirmation round budget.
func (c *Config) ConfirmationRounds() int {
	if c.Placer.MaxConfirmationRounds == 0 {
		return defaultConfirmationRounds
	}
	return c.Placer.MaxConfirmationRounds
}

// EvictionAge returns the stale-alert eviction age.
func (c *Config) EvictionAge() time.Duration {
	hours := c.Storage.EvictionHours
	if hours == 0 {
		hours = defaultEvictionHours
	}
	return time.Duration(hours) * time.Hour
}
