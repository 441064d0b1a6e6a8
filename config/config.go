package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"habitquest/adapters/redis"
	"habitquest/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

const redacted = "[REDACTED]"

// Config holds the complete application configuration
type Config struct {
	Environment Environment `json:"environment" env:"HABITQUEST_ENV"`
	Profile     string      `json:"profile" env:"HABITQUEST_PROFILE"`

	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	RateLimit RateLimitConfig `json:"ratelimit"`
	Auth      AuthConfig      `json:"auth"`
	Transform TransformConfig `json:"transform"`
	Engine    EngineConfig    `json:"engine"`
	Webhooks  WebhookConfig   `json:"webhooks"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"HABITQUEST_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"HABITQUEST_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"HABITQUEST_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"HABITQUEST_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"HABITQUEST_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"HABITQUEST_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"HABITQUEST_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"HABITQUEST_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig selects where quests, profiles and the ledger live.
type StorageConfig struct {
	Adapter string      `json:"adapter" env:"HABITQUEST_STORAGE_ADAPTER"`
	SQL     sqlx.Config `json:"sql,omitempty"`
	File    FileConfig  `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"HABITQUEST_STORAGE_FILE_PATH"`
}

// RateLimitConfig configures the quota limiter in front of AI endpoints.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" env:"HABITQUEST_RATELIMIT_ENABLED"`
	// QuotaAdapter is "storage" (counters live in the main store) or "redis".
	QuotaAdapter  string        `json:"quota_adapter" env:"HABITQUEST_RATELIMIT_QUOTA_ADAPTER"`
	Redis         redis.Config  `json:"redis,omitempty"`
	TierCacheTTL  time.Duration `json:"tier_cache_ttl" env:"HABITQUEST_RATELIMIT_TIER_CACHE_TTL"`
	TierCacheSize int           `json:"tier_cache_size" env:"HABITQUEST_RATELIMIT_TIER_CACHE_SIZE"`
	// OnQuotaStoreError is allow (fail open) or deny.
	OnQuotaStoreError string `json:"on_quota_store_error" env:"HABITQUEST_RATELIMIT_ON_QUOTA_STORE_ERROR"`
	// OnTierLookupError is assume_free or assume_premium.
	OnTierLookupError string `json:"on_tier_lookup_error" env:"HABITQUEST_RATELIMIT_ON_TIER_LOOKUP_ERROR"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret,omitempty" env:"HABITQUEST_AUTH_JWT_SECRET" secret:"true"`
	Audience  string `json:"audience,omitempty" env:"HABITQUEST_AUTH_AUDIENCE"`
	// StaticTokens maps fixed bearer tokens to actor ids. Development only.
	StaticTokens map[string]string `json:"static_tokens,omitempty" env:"HABITQUEST_AUTH_STATIC_TOKENS"`
}

// TransformConfig selects the narrative text provider.
type TransformConfig struct {
	Provider  string        `json:"provider" env:"HABITQUEST_TRANSFORM_PROVIDER"`
	BaseURL   string        `json:"base_url,omitempty" env:"HABITQUEST_TRANSFORM_BASE_URL"`
	APIKey    string        `json:"api_key,omitempty" env:"HABITQUEST_TRANSFORM_API_KEY" secret:"true"`
	Model     string        `json:"model" env:"HABITQUEST_TRANSFORM_MODEL"`
	MaxTokens int           `json:"max_tokens" env:"HABITQUEST_TRANSFORM_MAX_TOKENS"`
	Timeout   time.Duration `json:"timeout" env:"HABITQUEST_TRANSFORM_TIMEOUT"`
}

// EngineConfig tunes the quest service.
type EngineConfig struct {
	StoreTimeout  time.Duration `json:"store_timeout" env:"HABITQUEST_ENGINE_STORE_TIMEOUT"`
	CommitTimeout time.Duration `json:"commit_timeout" env:"HABITQUEST_ENGINE_COMMIT_TIMEOUT"`
	DispatchMode  string        `json:"dispatch_mode" env:"HABITQUEST_ENGINE_DISPATCH_MODE"`
}

// WebhookConfig lists endpoints that receive domain events.
type WebhookConfig struct {
	Endpoints  []string      `json:"endpoints,omitempty" env:"HABITQUEST_WEBHOOKS_ENDPOINTS"`
	EventTypes []string      `json:"event_types,omitempty" env:"HABITQUEST_WEBHOOKS_EVENT_TYPES"`
	Timeout    time.Duration `json:"timeout" env:"HABITQUEST_WEBHOOKS_TIMEOUT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"HABITQUEST_LOG_LEVEL"`
	Format     string            `json:"format" env:"HABITQUEST_LOG_FORMAT"`
	Output     string            `json:"output" env:"HABITQUEST_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"HABITQUEST_LOG_ATTRIBUTES"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.LoadSecretsFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Environment variables override file values
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.LoadSecretsFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      45 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/habitquest.json",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			QuotaAdapter:      "storage",
			Redis:             redis.DefaultConfig(),
			TierCacheTTL:      5 * time.Minute,
			TierCacheSize:     10000,
			OnQuotaStoreError: "allow",
			OnTierLookupError: "assume_free",
		},
		Transform: TransformConfig{
			Provider:  "static",
			Model:     "claude-3-5-haiku-latest",
			MaxTokens: 512,
			Timeout:   30 * time.Second,
		},
		Engine: EngineConfig{
			StoreTimeout:  5 * time.Second,
			CommitTimeout: 15 * time.Second,
			DispatchMode:  "async",
		},
		Webhooks: WebhookConfig{
			Timeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &c.Server},
		{"storage", &c.Storage},
		{"ratelimit", &c.RateLimit},
		{"auth", &c.Auth},
		{"transform", &c.Transform},
		{"engine", &c.Engine},
		{"webhooks", &c.Webhooks},
		{"logging", &c.Logging},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, err))
		}
	}

	if c.Environment == EnvProduction {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, "auth config: jwt_secret is required in production")
		}
		if len(c.Auth.StaticTokens) > 0 {
			errs = append(errs, "auth config: static_tokens are not allowed in production")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = redacted
	}
	if cfg.RateLimit.Redis.Password != "" {
		cfg.RateLimit.Redis.Password = redacted
	}
	if cfg.Auth.JWTSecret != "" {
		cfg.Auth.JWTSecret = redacted
	}
	if cfg.Transform.APIKey != "" {
		cfg.Transform.APIKey = redacted
	}
	if len(cfg.Auth.StaticTokens) > 0 {
		tokens := make(map[string]string, len(cfg.Auth.StaticTokens))
		i := 0
		for _, actor := range cfg.Auth.StaticTokens {
			i++
			tokens[fmt.Sprintf("%s#%d", redacted, i)] = actor
		}
		cfg.Auth.StaticTokens = tokens
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
