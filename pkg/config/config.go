package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	Realtime struct {
		// APIKey has the form "<keyId>:<secret>".
		APIKey                string        `yaml:"api_key"`
		TokenTTL              time.Duration `yaml:"token_ttl"`
		HistoryLimit          int           `yaml:"history_limit"`
		MaxMessagesPerChannel int64         `yaml:"max_messages_per_channel"`
		PingInterval          time.Duration `yaml:"ping_interval"`
		PongTimeout           time.Duration `yaml:"pong_timeout"`
		WriteTimeout          time.Duration `yaml:"write_timeout"`
		URL                   string        `yaml:"url"`
	} `yaml:"realtime"`

	Auth struct {
		SessionSecret string        `yaml:"session_secret"`
		SessionTTL    time.Duration `yaml:"session_ttl"`
		CookieName    string        `yaml:"cookie_name"`
		DevSignIn     bool          `yaml:"dev_sign_in"`
	} `yaml:"auth"`

	Authz struct {
		Provider            string        `yaml:"provider"` // memory, redis, permit
		Tenant              string        `yaml:"tenant"`
		PermitAPIURL        string        `yaml:"permit_api_url"`
		PermitPDPURL        string        `yaml:"permit_pdp_url"`
		PermitAPIKey        string        `yaml:"permit_api_key"`
		PermitProject       string        `yaml:"permit_project"`
		PermitEnvironment   string        `yaml:"permit_environment"`
		ResourceCacheTTL    time.Duration `yaml:"resource_cache_ttl"`
		BootstrapModerators []string      `yaml:"bootstrap_moderators"`
		SeedChannels        []string      `yaml:"seed_channels"`
	} `yaml:"authz"`

	Roles struct {
		CompensateOnFailure     bool `yaml:"compensate_on_failure"`
		RequireDemotePermission bool `yaml:"require_demote_permission"`
	} `yaml:"roles"`

	Reliability struct {
		CallTimeout time.Duration `yaml:"call_timeout"`
		Retry       struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			Multiplier   float64       `yaml:"multiplier"`
		} `yaml:"retry"`
		CircuitBreaker struct {
			MaxFailures  int           `yaml:"max_failures"`
			ResetTimeout time.Duration `yaml:"reset_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SamplingRate   float64 `yaml:"sampling_rate"`
		Environment    string  `yaml:"environment"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Backup struct {
		Enabled        bool   `yaml:"enabled"`
		Directory      string `yaml:"directory"`
		Schedule       string `yaml:"schedule"` // cron pattern, seconds optional
		RetentionDays  int    `yaml:"retention_days"`
		RestoreOnStart bool   `yaml:"restore_on_start"` // restore the newest snapshot before serving
	} `yaml:"backup"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Realtime
	if c.Realtime.APIKey != "" && !strings.Contains(c.Realtime.APIKey, ":") {
		return fmt.Errorf("realtime.api_key must have the form <keyId>:<secret>")
	}
	if c.Realtime.TokenTTL <= 0 {
		return fmt.Errorf("realtime.token_ttl must be > 0")
	}
	if c.Realtime.HistoryLimit <= 0 {
		return fmt.Errorf("realtime.history_limit must be > 0")
	}
	if c.Realtime.MaxMessagesPerChannel <= 0 {
		return fmt.Errorf("realtime.max_messages_per_channel must be > 0")
	}
	if c.Realtime.PingInterval <= 0 {
		return fmt.Errorf("realtime.ping_interval must be > 0")
	}
	if c.Realtime.PongTimeout <= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.pong_timeout must be > realtime.ping_interval")
	}

	// Auth
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.session_secret must not be empty")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be > 0")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("auth.cookie_name must not be empty")
	}

	// Authz
	switch c.Authz.Provider {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("authz.provider=redis requires redis.enabled=true")
		}
	case "permit":
		if c.Authz.PermitAPIKey == "" {
			return fmt.Errorf("authz.permit_api_key must not be empty when authz.provider=permit")
		}
		if c.Authz.PermitAPIURL == "" || c.Authz.PermitPDPURL == "" {
			return fmt.Errorf("authz.permit_api_url and authz.permit_pdp_url must be set when authz.provider=permit")
		}
	default:
		return fmt.Errorf("authz.provider must be one of memory, redis, permit (got %q)", c.Authz.Provider)
	}
	if c.Authz.Tenant == "" {
		return fmt.Errorf("authz.tenant must not be empty")
	}
	if c.Authz.ResourceCacheTTL < 0 {
		return fmt.Errorf("authz.resource_cache_ttl must be >= 0")
	}

	// Reliability
	if c.Reliability.CallTimeout <= 0 {
		return fmt.Errorf("reliability.call_timeout must be > 0")
	}
	if c.Reliability.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("reliability.retry.max_attempts must be > 0")
	}
	if c.Reliability.Retry.Multiplier < 1 {
		return fmt.Errorf("reliability.retry.multiplier must be >= 1")
	}
	if c.Reliability.CircuitBreaker.MaxFailures <= 0 {
		return fmt.Errorf("reliability.circuit_breaker.max_failures must be > 0")
	}
	if c.Reliability.CircuitBreaker.ResetTimeout <= 0 {
		return fmt.Errorf("reliability.circuit_breaker.reset_timeout must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("tracing.sampling_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Directory == "" {
			return fmt.Errorf("backup.directory must not be empty when backup.enabled=true")
		}
		if strings.TrimSpace(c.Backup.Schedule) == "" {
			return fmt.Errorf("backup.schedule must not be empty when backup.enabled=true")
		}
		if c.Backup.RetentionDays <= 0 {
			return fmt.Errorf("backup.retention_days must be > 0 when backup.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.AllowedOrigins = []string{"*"}

	cfg.Realtime.TokenTTL = 24 * time.Hour
	cfg.Realtime.HistoryLimit = 100
	cfg.Realtime.MaxMessagesPerChannel = 1000
	cfg.Realtime.PingInterval = 30 * time.Second
	cfg.Realtime.PongTimeout = 60 * time.Second
	cfg.Realtime.WriteTimeout = 10 * time.Second
	cfg.Realtime.URL = "ws://localhost:8080/realtime"

	cfg.Auth.SessionSecret = "change-me-in-production"
	cfg.Auth.SessionTTL = 7 * 24 * time.Hour
	cfg.Auth.CookieName = "rolechat_session"
	cfg.Auth.DevSignIn = true

	cfg.Authz.Provider = "memory"
	cfg.Authz.Tenant = "default"
	cfg.Authz.PermitAPIURL = "https://api.permit.io"
	cfg.Authz.PermitPDPURL = "http://localhost:7766"
	cfg.Authz.PermitProject = "default"
	cfg.Authz.PermitEnvironment = "dev"
	cfg.Authz.ResourceCacheTTL = 30 * time.Second
	cfg.Authz.SeedChannels = []string{"general", "random", "announcements", "mod"}

	cfg.Roles.CompensateOnFailure = false
	cfg.Roles.RequireDemotePermission = false

	cfg.Reliability.CallTimeout = 5 * time.Second
	cfg.Reliability.Retry.MaxAttempts = 3
	cfg.Reliability.Retry.InitialDelay = 100 * time.Millisecond
	cfg.Reliability.Retry.MaxDelay = 2 * time.Second
	cfg.Reliability.Retry.Multiplier = 2.0
	cfg.Reliability.CircuitBreaker.MaxFailures = 5
	cfg.Reliability.CircuitBreaker.ResetTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SamplingRate = 1.0
	cfg.Tracing.Environment = "development"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Backup.Enabled = false
	cfg.Backup.Directory = "backups"
	cfg.Backup.Schedule = "@every 1h"
	cfg.Backup.RetentionDays = 7

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 20
	cfg.RateLimiting.WebSocket.Burst = 40
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("ROLECHAT_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("ROLECHAT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if key := os.Getenv("ABLY_SECRET_KEY"); key != "" {
		c.Realtime.APIKey = key
	}
	if key := os.Getenv("ROLECHAT_REALTIME_API_KEY"); key != "" {
		c.Realtime.APIKey = key
	}
	if url := os.Getenv("ROLECHAT_REALTIME_URL"); url != "" {
		c.Realtime.URL = url
	}
	if secret := os.Getenv("ROLECHAT_SESSION_SECRET"); secret != "" {
		c.Auth.SessionSecret = secret
	}
	if provider := os.Getenv("ROLECHAT_AUTHZ_PROVIDER"); provider != "" {
		c.Authz.Provider = provider
	}
	if key := os.Getenv("PERMIT_API_KEY"); key != "" {
		c.Authz.PermitAPIKey = key
	}
	if url := os.Getenv("ROLECHAT_PERMIT_PDP_URL"); url != "" {
		c.Authz.PermitPDPURL = url
	}
	if dir := os.Getenv("ROLECHAT_BACKUP_DIR"); dir != "" {
		c.Backup.Directory = dir
		c.Backup.Enabled = true
	}
	if addr := os.Getenv("ROLECHAT_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
