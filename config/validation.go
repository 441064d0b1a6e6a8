package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"habitquest/core"
	"habitquest/ratelimit"
)

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}

	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}

	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}

	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}

	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	if msg := oneOf("adapter", s.Adapter, "memory", "sql", "file"); msg != "" {
		errs = append(errs, msg)
	}

	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "sql":
		if s.SQL.DSN == "" {
			errs = append(errs, "sql.dsn cannot be empty")
		}
		if s.SQL.MaxOpenConns < 0 || s.SQL.MaxIdleConns < 0 {
			errs = append(errs, "sql connection pool sizes cannot be negative")
		}
	}

	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates quota limiter configuration.
func (r *RateLimitConfig) Validate() error {
	var errs []string

	if !r.Enabled {
		return nil
	}
	if msg := oneOf("quota_adapter", r.QuotaAdapter, "storage", "redis"); msg != "" {
		errs = append(errs, msg)
	}
	if r.QuotaAdapter == "redis" && r.Redis.Addr == "" {
		errs = append(errs, "redis.addr cannot be empty when quota_adapter is redis")
	}
	if r.TierCacheTTL <= 0 {
		errs = append(errs, "tier_cache_ttl must be positive")
	}
	if r.TierCacheSize <= 0 {
		errs = append(errs, "tier_cache_size must be positive")
	}
	if _, err := ratelimit.ParseStoreErrorPolicy(r.OnQuotaStoreError); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := ratelimit.ParseTierErrorPolicy(r.OnTierLookupError); err != nil {
		errs = append(errs, err.Error())
	}

	return joinErrs(errs)
}

// Validate validates authentication settings.
func (a *AuthConfig) Validate() error {
	var errs []string
	if a.JWTSecret != "" && len(a.JWTSecret) < 32 {
		errs = append(errs, "jwt_secret must be at least 32 bytes")
	}
	for token, actor := range a.StaticTokens {
		if strings.TrimSpace(token) == "" {
			errs = append(errs, "static_tokens contains an empty token")
		}
		if _, err := core.NormalizeActorID(core.ActorID(actor)); err != nil {
			errs = append(errs, fmt.Sprintf("static_tokens actor %q: %v", actor, err))
		}
	}
	return joinErrs(errs)
}

// Validate validates the text provider settings.
func (t *TransformConfig) Validate() error {
	var errs []string

	if msg := oneOf("provider", t.Provider, "anthropic", "static"); msg != "" {
		errs = append(errs, msg)
	}
	if t.Provider == "anthropic" {
		if t.APIKey == "" {
			errs = append(errs, "api_key is required for the anthropic provider")
		}
		if t.Model == "" {
			errs = append(errs, "model is required for the anthropic provider")
		}
		if t.BaseURL != "" {
			if u, err := url.Parse(t.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, "base_url must be an absolute URL")
			}
		}
	}
	if t.MaxTokens <= 0 {
		errs = append(errs, "max_tokens must be positive")
	}
	if t.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}

	return joinErrs(errs)
}

// Validate validates quest service tuning.
func (e *EngineConfig) Validate() error {
	var errs []string
	if e.StoreTimeout <= 0 {
		errs = append(errs, "store_timeout must be positive")
	}
	if e.CommitTimeout < e.StoreTimeout {
		errs = append(errs, "commit_timeout must be at least store_timeout")
	}
	if msg := oneOf("dispatch_mode", e.DispatchMode, "sync", "async"); msg != "" {
		errs = append(errs, msg)
	}
	return joinErrs(errs)
}

// Validate validates webhook endpoints.
func (w *WebhookConfig) Validate() error {
	var errs []string
	for i, ep := range w.Endpoints {
		u, err := url.Parse(strings.TrimSpace(ep))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an http(s) URL", i))
		}
	}
	known := core.AllEventTypes()
	for _, typ := range w.EventTypes {
		if !slices.Contains(known, core.EventType(typ)) {
			errs = append(errs, fmt.Sprintf("unknown event type %q", typ))
		}
	}
	if len(w.Endpoints) > 0 && w.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	return joinErrs(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	if msg := oneOf("level", l.Level, "debug", "info", "warn", "error"); msg != "" {
		errs = append(errs, msg)
	}
	if msg := oneOf("format", l.Format, "json", "text"); msg != "" {
		errs = append(errs, msg)
	}
	if msg := oneOf("output", l.Output, "stdout", "stderr"); msg != "" {
		errs = append(errs, msg)
	}

	return joinErrs(errs)
}

func oneOf(field, value string, valid ...string) string {
	if slices.Contains(valid, value) {
		return ""
	}
	return fmt.Sprintf("%s must be one of: %s", field, strings.Join(valid, ", "))
}

func joinErrs(errs []string) error {
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
