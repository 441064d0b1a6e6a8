package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the defaults for a named deployment profile. The result
// is not validated; production still needs secrets from the environment.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name

	switch Environment(name) {
	case EnvDevelopment:
		cfg.Logging.Format = "text"
		cfg.Logging.Level = "debug"
	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Engine.DispatchMode = "sync"
		cfg.Logging.Level = "warn"
		cfg.Server.ShutdownTimeout = 5 * time.Second
	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "sql"
		cfg.Transform.Provider = "anthropic"
	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Server.CORSOrigin = ""
		cfg.Storage.Adapter = "sql"
		cfg.Storage.SQL.ApplySchema = false
		cfg.RateLimit.QuotaAdapter = "redis"
		cfg.Transform.Provider = "anthropic"
		cfg.Logging.Level = "info"
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	return cfg, nil
}
