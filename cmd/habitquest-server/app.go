package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"habitquest/adapters/jsonfile"
	mem "habitquest/adapters/memory"
	redisAdapter "habitquest/adapters/redis"
	sqlxAdapter "habitquest/adapters/sqlx"
	"habitquest/analytics"
	"habitquest/api/httpapi"
	"habitquest/auth"
	"habitquest/config"
	"habitquest/core"
	"habitquest/engine"
	"habitquest/gamify"
	"habitquest/integrations/webhook"
	"habitquest/leaderboard"
	"habitquest/ratelimit"
	"habitquest/realtime"
	"habitquest/transform"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Service *engine.QuestService
	Handler http.Handler
	Server  *http.Server
}

func provideConfig() (*config.Config, error) {
	if path := os.Getenv("HABITQUEST_CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg, os.Stdout, os.Stderr)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideLeaderboard() leaderboard.Board {
	return leaderboard.NewSkipList()
}

func provideStats() *analytics.EconomyMetrics {
	return analytics.NewEconomyMetrics()
}

func provideStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	return setupStorage(ctx, cfg, logger)
}

// provideQuotaStore keeps quota counters in the main store unless redis is configured.
func provideQuotaStore(cfg *config.Config, storage engine.Storage, logger *slog.Logger) (ratelimit.QuotaStore, func(), error) {
	if !cfg.RateLimit.Enabled || cfg.RateLimit.QuotaAdapter != "redis" {
		return storage, func() {}, nil
	}
	rs, err := redisAdapter.New(cfg.RateLimit.Redis)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() {
		if err := rs.Close(); err != nil {
			logger.Warn("closing redis quota store", "error", err)
		}
	}, nil
}

// provideLimiter returns nil when rate limiting is disabled.
func provideLimiter(cfg *config.Config, quotas ratelimit.QuotaStore, storage engine.Storage, logger *slog.Logger) (*ratelimit.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	onStore, err := ratelimit.ParseStoreErrorPolicy(cfg.RateLimit.OnQuotaStoreError)
	if err != nil {
		return nil, err
	}
	onTier, err := ratelimit.ParseTierErrorPolicy(cfg.RateLimit.OnTierLookupError)
	if err != nil {
		return nil, err
	}
	tiers, err := ratelimit.NewTierResolver(storage, cfg.RateLimit.TierCacheSize, cfg.RateLimit.TierCacheTTL, nil)
	if err != nil {
		return nil, err
	}
	return ratelimit.New(quotas, tiers,
		ratelimit.WithStoreErrorPolicy(onStore),
		ratelimit.WithTierErrorPolicy(onTier),
		ratelimit.WithLogger(logger),
	), nil
}

func provideTransformer(cfg *config.Config) transform.Transformer {
	if cfg.Transform.Provider == "anthropic" {
		return transform.NewAnthropic(transform.AnthropicConfig{
			BaseURL:   cfg.Transform.BaseURL,
			APIKey:    cfg.Transform.APIKey,
			Model:     cfg.Transform.Model,
			MaxTokens: cfg.Transform.MaxTokens,
			Timeout:   cfg.Transform.Timeout,
		})
	}
	return transform.Static{}
}

func provideAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	var chain auth.Chain
	if cfg.Auth.JWTSecret != "" {
		j, err := auth.NewJWT(auth.JWTConfig{Secret: []byte(cfg.Auth.JWTSecret), Audience: cfg.Auth.Audience})
		if err != nil {
			return nil, err
		}
		chain = append(chain, j)
	}
	if len(cfg.Auth.StaticTokens) > 0 {
		tokens := make(auth.StaticTokens, len(cfg.Auth.StaticTokens))
		for tok, actor := range cfg.Auth.StaticTokens {
			tokens[tok] = core.ActorID(actor)
		}
		chain = append(chain, tokens)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no authenticator configured: set auth.jwt_secret or auth.static_tokens")
	}
	return chain, nil
}

// provideWebhook returns nil when no endpoints are configured.
func provideWebhook(cfg *config.Config, logger *slog.Logger) *webhook.Sink {
	if len(cfg.Webhooks.Endpoints) == 0 {
		return nil
	}
	opts := []webhook.Option{
		webhook.WithClient(&http.Client{Timeout: cfg.Webhooks.Timeout}),
		webhook.WithLogger(logger),
	}
	if len(cfg.Webhooks.EventTypes) > 0 {
		types := make([]core.EventType, 0, len(cfg.Webhooks.EventTypes))
		for _, t := range cfg.Webhooks.EventTypes {
			types = append(types, core.EventType(t))
		}
		opts = append(opts, webhook.WithEventTypes(types...))
	}
	return webhook.New(cfg.Webhooks.Endpoints, opts...)
}

func provideService(
	cfg *config.Config,
	logger *slog.Logger,
	storage engine.Storage,
	limiter *ratelimit.Limiter,
	transformer transform.Transformer,
	hub *realtime.Hub,
	board leaderboard.Board,
	stats *analytics.EconomyMetrics,
	sink *webhook.Sink,
) (*engine.QuestService, func()) {
	svcOpts := []engine.Option{
		engine.WithTransformer(transformer),
		engine.WithStoreTimeout(cfg.Engine.StoreTimeout),
		engine.WithCommitTimeout(cfg.Engine.CommitTimeout),
	}
	if limiter != nil {
		svcOpts = append(svcOpts, engine.WithLimiter(limiter))
	}
	opts := []gamify.Option{
		gamify.WithStorage(storage),
		gamify.WithDispatchMode(engine.ParseDispatchMode(cfg.Engine.DispatchMode)),
		gamify.WithRealtime(hub),
		gamify.WithLeaderboard(board),
		gamify.WithConsumer(analytics.NewBridge(stats).Handle),
		gamify.WithLogger(logger),
		gamify.WithServiceOptions(svcOpts...),
	}
	if sink != nil {
		opts = append(opts, gamify.WithConsumer(sink.Handle))
	}
	svc := gamify.New(opts...)
	return svc, svc.Close
}

func provideHandler(
	cfg *config.Config,
	logger *slog.Logger,
	svc *engine.QuestService,
	authn auth.Authenticator,
	hub *realtime.Hub,
	board leaderboard.Board,
	stats *analytics.EconomyMetrics,
) http.Handler {
	return httpapi.NewMux(svc, httpapi.Options{
		PathPrefix:      cfg.Server.PathPrefix,
		AllowCORSOrigin: cfg.Server.CORSOrigin,
		Authenticator:   authn,
		Hub:             hub,
		Leaderboard:     board,
		Stats:           stats,
		Logger:          logger,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config, stdout, stderr io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := stdout
	if cfg.Logging.Output == "stderr" {
		out = stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the storage adapter named by the configuration.
func setupStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), func() {}, nil
	case "file":
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open file storage: %w", err)
		}
		return s, func() {}, nil
	case "sql":
		s, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.SQL.ApplySchema {
			if err := s.SeedItems(ctx, core.DefaultCatalog()); err != nil {
				_ = s.Close()
				return nil, nil, fmt.Errorf("seed catalog: %w", err)
			}
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("closing sql storage", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
