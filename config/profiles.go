package config

import (
	"fmt"
	"time"

	"levelkit/adapters/sqlx"
)

// LoadProfile returns the baseline configuration for a named deployment
// profile. Environment overrides and validation are applied by Load.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name

	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"

	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Events.Async = false
		cfg.Leveling.ExactLevels = true
		cfg.Logging.Level = "warn"

	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Security.EnableRateLimit = true
		cfg.Metrics.Enabled = true

	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Server.CORSOrigin = ""
		cfg.Server.WriteTimeout = 15 * time.Second
		cfg.Storage.Adapter = "sql"
		cfg.Storage.SQL = sqlx.DefaultConfig(sqlx.DriverPostgres)
		cfg.Storage.SQL.DSN = "" // supplied through LEVELKIT_SQL_DSN or LEVELKIT_SQL_DSN_FILE
		cfg.Storage.SQL.MaxOpenConns = 25
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit.RequestsPerMinute = 600
		cfg.Security.RateLimit.BurstSize = 50
		cfg.Metrics.Enabled = true

	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	return cfg, nil
}
