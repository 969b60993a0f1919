package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"levelkit/adapters/redis"
	"levelkit/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config is the complete server configuration. Values come from
// DefaultConfig or a profile, then an optional JSON file, then LEVELKIT_*
// environment variables.
type Config struct {
	Environment Environment `json:"environment" env:"LEVELKIT_ENV" validate:"required"`
	Profile     string      `json:"profile" env:"LEVELKIT_PROFILE"`

	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Leveling LevelingConfig `json:"leveling"`
	Events   EventsConfig   `json:"events"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Security SecurityConfig `json:"security"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address           string        `json:"address" env:"LEVELKIT_SERVER_ADDR" validate:"required"`
	PathPrefix        string        `json:"path_prefix" env:"LEVELKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"LEVELKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"LEVELKIT_SERVER_READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"LEVELKIT_SERVER_WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"LEVELKIT_SERVER_IDLE_TIMEOUT" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"LEVELKIT_SERVER_READ_HEADER_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"LEVELKIT_SERVER_SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// StorageConfig selects and configures the ledger backend.
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"LEVELKIT_STORAGE_ADAPTER" validate:"oneof=memory redis sql file"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"LEVELKIT_STORAGE_FILE_PATH"`
}

// LevelingConfig holds level computation and leaderboard settings
type LevelingConfig struct {
	ExactLevels         bool `json:"exact_levels" env:"LEVELKIT_LEVELING_EXACT"`
	LeaderboardPageSize int  `json:"leaderboard_page_size" env:"LEVELKIT_LEADERBOARD_PAGE_SIZE" validate:"gt=0"`
	LeaderboardLead     int  `json:"leaderboard_lead" env:"LEVELKIT_LEADERBOARD_LEAD" validate:"gte=0,ltfield=LeaderboardPageSize"`
}

// EventsConfig holds event bus and webhook configuration
type EventsConfig struct {
	Async          bool          `json:"async" env:"LEVELKIT_EVENTS_ASYNC"`
	Realtime       bool          `json:"realtime" env:"LEVELKIT_REALTIME_ENABLED"`
	WebhookURLs    []string      `json:"webhook_urls,omitempty" env:"LEVELKIT_WEBHOOK_URLS" validate:"dive,http_url"`
	WebhookEvents  []string      `json:"webhook_events,omitempty" env:"LEVELKIT_WEBHOOK_EVENTS" validate:"dive,event_type"`
	WebhookTimeout time.Duration `json:"webhook_timeout" env:"LEVELKIT_WEBHOOK_TIMEOUT" validate:"gte=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"LEVELKIT_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format     string            `json:"format" env:"LEVELKIT_LOG_FORMAT" validate:"oneof=json text"`
	Output     string            `json:"output" env:"LEVELKIT_LOG_OUTPUT" validate:"oneof=stdout stderr"`
	Attributes map[string]string `json:"attributes,omitempty" env:"LEVELKIT_LOG_ATTRIBUTES"`
}

// MetricsConfig holds Prometheus exposition settings. When Address equals
// the server address, /metrics is mounted on the API listener.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" env:"LEVELKIT_METRICS_ENABLED"`
	Address       string `json:"address" env:"LEVELKIT_METRICS_ADDR" validate:"required_if=Enabled true"`
	Path          string `json:"path" env:"LEVELKIT_METRICS_PATH" validate:"required_if=Enabled true"`
	CollectSystem bool   `json:"collect_system" env:"LEVELKIT_METRICS_COLLECT_SYSTEM"`
	// ActivityDays is how many days of per-community activity stats are kept; 0 keeps all.
	ActivityDays  int    `json:"activity_days" env:"LEVELKIT_METRICS_ACTIVITY_DAYS" validate:"gte=0"`
}

// SecurityConfig holds API key and rate limit settings.
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"LEVELKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"LEVELKIT_SECURITY_API_KEYS" validate:"dive,required"`
}

// RateLimitConfig holds the token bucket parameters.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" env:"LEVELKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int `json:"burst_size" env:"LEVELKIT_SECURITY_RATE_LIMIT_BURST"`
}

// Load builds the configuration from defaults (or the LEVELKIT_PROFILE
// profile), environment variables and secrets, then validates it.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if name := os.Getenv("LEVELKIT_PROFILE"); name != "" {
		p, err := LoadProfile(name)
		if err != nil {
			return nil, err
		}
		cfg = p
	}
	return finish(cfg)
}

// LoadFromFile reads a JSON file over the defaults. Environment variables
// still take precedence over file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.ApplySecrets(context.Background(), NewEnvironmentSecretStore()); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validateConfigPath rejects anything but an existing .json file.
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}
	cleanPath := filepath.Clean(path)
	if !strings.EqualFold(filepath.Ext(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}
	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}
	return nil
}

// DefaultConfig returns a development configuration backed by memory storage.
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File:    FileConfig{Path: "./data/levelkit.json"},
		},
		Leveling: LevelingConfig{
			LeaderboardPageSize: 15,
			LeaderboardLead:     5,
		},
		Events: EventsConfig{
			Async:          true,
			Realtime:       true,
			WebhookTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Address:       ":9090",
			Path:          "/metrics",
			CollectSystem: true,
			ActivityDays:  30,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
			},
			APIKeys: []string{},
		},
	}
}

// String returns a JSON representation of the config with secrets redacted.
func (c *Config) String() string {
	cfg := *c
	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
