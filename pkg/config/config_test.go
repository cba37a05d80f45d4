package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.Realtime.APIKey = "appkey:secret"
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 65536
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http rps must be > 0", func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 }},
		{"http burst must be > 0", func(c *Config) { c.RateLimiting.HTTP.Burst = 0 }},
		{"http max concurrent must be >= 0", func(c *Config) { c.RateLimiting.HTTP.MaxConcurrent = -1 }},
		{"ws messages per second must be > 0", func(c *Config) { c.RateLimiting.WebSocket.MessagesPerSecond = 0 }},
		{"api key needs a colon", func(c *Config) { c.Realtime.APIKey = "no-separator" }},
		{"history limit must be > 0", func(c *Config) { c.Realtime.HistoryLimit = 0 }},
		{"pong must exceed ping", func(c *Config) { c.Realtime.PongTimeout = c.Realtime.PingInterval }},
		{"session secret required", func(c *Config) { c.Auth.SessionSecret = "" }},
		{"unknown authz provider", func(c *Config) { c.Authz.Provider = "ldap" }},
		{"redis provider needs redis", func(c *Config) { c.Authz.Provider = "redis"; c.Redis.Enabled = false }},
		{"permit provider needs key", func(c *Config) { c.Authz.Provider = "permit"; c.Authz.PermitAPIKey = "" }},
		{"retry attempts must be > 0", func(c *Config) { c.Reliability.Retry.MaxAttempts = 0 }},
		{"backup needs a directory", func(c *Config) { c.Backup.Enabled = true; c.Backup.Directory = "" }},
		{"backup retention must be > 0", func(c *Config) { c.Backup.Enabled = true; c.Backup.RetentionDays = 0 }},
		{"tracing sampling out of range", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SamplingRate = 2 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.Server.ReadTimeout = time.Second
			cfg.Server.WriteTimeout = time.Second
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlData := []byte(`
server:
  address: ":9999"
realtime:
  api_key: "fromfile:secret"
  history_limit: 50
roles:
  compensate_on_failure: true
`)
	if err := os.WriteFile(path, yamlData, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ROLECHAT_REALTIME_API_KEY", "fromenv:secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("Server.Address = %q, want :9999", cfg.Server.Address)
	}
	if cfg.Realtime.APIKey != "fromenv:secret" {
		t.Errorf("Realtime.APIKey = %q, want env override", cfg.Realtime.APIKey)
	}
	if cfg.Realtime.HistoryLimit != 50 {
		t.Errorf("Realtime.HistoryLimit = %d, want 50", cfg.Realtime.HistoryLimit)
	}
	if !cfg.Roles.CompensateOnFailure {
		t.Error("Roles.CompensateOnFailure should be true")
	}
	if cfg.Realtime.TokenTTL != 24*time.Hour {
		t.Errorf("Realtime.TokenTTL = %v, want default 24h", cfg.Realtime.TokenTTL)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Authz.Provider != "memory" {
		t.Errorf("Authz.Provider = %q, want memory", cfg.Authz.Provider)
	}
}
