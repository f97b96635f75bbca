package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Test with example config file (should work for basic structure validation)
	t.Setenv("GATEWAY_API_KEY", "test-key")
	t.Setenv("GATEWAY_ACCOUNT_ID", "DU12345")
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("DASHBOARD_AUTH_TOKEN", "test-auth")

	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected config to load successfully from example file, got error: %v", err)
	}
	if !cfg.IsPaperTrading() {
		t.Error("Expected example config to be in paper mode")
	}
	if cfg.Broker.AccountID != "DU12345" {
		t.Errorf("Expected env expansion for account id, got %q", cfg.Broker.AccountID)
	}
	if len(cfg.Reconcile.Alerters) != 2 {
		t.Errorf("Expected 2 alerters, got %d", len(cfg.Reconcile.Alerters))
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
environment:
  mode: paper
broker:
  base_url: http://localhost:5000
  account_id: DU1
  bogus_field: true
telegram:
  token: x
  chat_id: 1
storage:
  alerts_path: a.json
  contracts_path: c.json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config") {
		t.Errorf("Expected unknown-field parse error, got %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info"},
		Broker: BrokerConfig{
			BaseURL:   "https://localhost:5000/v1/api",
			APIKey:    "test-key",
			AccountID: "DU12345",
			Timeout:   "30s",
		},
		Telegram: TelegramConfig{Token: "test-token", ChatID: 42},
		Reconcile: ReconcileConfig{
			IdleInterval: "5s",
			BusyInterval: "1s",
			ProcessedCap: 10000,
			Alerters:     []string{"demo-alerts"},
		},
		Placer:  PlacerConfig{MaxConfirmationRounds: 5, TrailPercent: 0.1},
		Storage: StorageConfig{AlertsPath: "a.json", ContractsPath: "c.json", EvictionHours: 24},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.Environment.Mode = "demo" }, "environment.mode"},
		{"missing base url", func(c *Config) { c.Broker.BaseURL = "" }, "broker.base_url"},
		{"missing account", func(c *Config) { c.Broker.AccountID = "" }, "broker.account_id"},
		{"bad timeout", func(c *Config) { c.Broker.Timeout = "soon" }, "broker.timeout"},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"missing chat", func(c *Config) { c.Telegram.ChatID = 0 }, "telegram.chat_id"},
		{"bad idle interval", func(c *Config) { c.Reconcile.IdleInterval = "often" }, "reconcile.idle_interval"},
		{"rounds over cap", func(c *Config) { c.Placer.MaxConfirmationRounds = 11 }, "max_confirmation_rounds"},
		{"trail out of range", func(c *Config) { c.Placer.TrailPercent = 1.5 }, "trail_percent"},
		{"missing alerts path", func(c *Config) { c.Storage.AlertsPath = "" }, "storage.alerts_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := validConfig()
	if got := cfg.IdleInterval(); got != 5*time.Second {
		t.Errorf("IdleInterval = %v", got)
	}
	if got := cfg.BusyInterval(); got != time.Second {
		t.Errorf("BusyInterval = %v", got)
	}
	if got := cfg.BrokerTimeout(); got != 30*time.Second {
		t.Errorf("BrokerTimeout = %v", got)
	}

	// Unset fields fall back to defaults.
	cfg.Reconcile = ReconcileConfig{}
	cfg.Placer = PlacerConfig{}
	cfg.Storage.EvictionHours = 0
	if got := cfg.IdleInterval(); got != 5*time.Second {
		t.Errorf("default IdleInterval = %v", got)
	}
	if got := cfg.ProcessedCap(); got != 10000 {
		t.Errorf("default ProcessedCap = %d", got)
	}
	if got := cfg.ConfirmationRounds(); got != 5 {
		t.Errorf("default ConfirmationRounds = %d", got)
	}
	if got := cfg.EvictionAge(); got != 24*time.Hour {
		t.Errorf("default EvictionAge = %v", got)
	}
}
