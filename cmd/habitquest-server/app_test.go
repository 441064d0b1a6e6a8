package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "habitquest/adapters/memory"
	redisAdapter "habitquest/adapters/redis"
	"habitquest/config"
	"habitquest/core"
	"habitquest/transform"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := config.DefaultConfig()
	cfg.Logging.Level = "warn"
	cfg.Logging.Output = "stderr"
	cfg.Logging.Attributes = map[string]string{"service": "habitquest"}

	var stdout, stderr bytes.Buffer
	logger := setupLogging(cfg, &stdout, &stderr)
	logger.Info("dropped")
	logger.Warn("kept", "actor_id", "alice")

	assert.Empty(t, stdout.String())
	var line map[string]any
	require.NoError(t, json.Unmarshal(stderr.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "habitquest", line["service"])
	assert.Equal(t, "alice", line["actor_id"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}

func TestSetupStorage(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()

	cfg := config.DefaultConfig()
	s, cleanup, err := setupStorage(ctx, cfg, logger)
	require.NoError(t, err)
	cleanup()
	assert.IsType(t, &mem.Store{}, s)

	cfg.Storage.Adapter = "file"
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "state.json")
	s, cleanup, err = setupStorage(ctx, cfg, logger)
	require.NoError(t, err)
	cleanup()
	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, items)

	cfg.Storage.Adapter = "mongo"
	_, _, err = setupStorage(ctx, cfg, logger)
	assert.ErrorContains(t, err, "unknown storage adapter")
}

func TestProvideQuotaStore(t *testing.T) {
	cfg := config.DefaultConfig()
	storage := mem.New()

	qs, cleanup, err := provideQuotaStore(cfg, storage, discardLogger())
	require.NoError(t, err)
	cleanup()
	assert.Same(t, storage, qs)

	mr := miniredis.RunT(t)
	cfg.RateLimit.QuotaAdapter = "redis"
	cfg.RateLimit.Redis = redisAdapter.DefaultConfig()
	cfg.RateLimit.Redis.Addr = mr.Addr()
	qs, cleanup, err = provideQuotaStore(cfg, storage, discardLogger())
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &redisAdapter.QuotaStore{}, qs)
}

func TestProvideLimiter(t *testing.T) {
	cfg := config.DefaultConfig()
	storage := mem.New()

	l, err := provideLimiter(cfg, storage, storage, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, l)

	cfg.RateLimit.OnQuotaStoreError = "explode"
	_, err = provideLimiter(cfg, storage, storage, discardLogger())
	assert.Error(t, err)

	cfg.RateLimit.Enabled = false
	l, err = provideLimiter(cfg, storage, storage, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestProvideTransformer(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.IsType(t, transform.Static{}, provideTransformer(cfg))

	cfg.Transform.Provider = "anthropic"
	cfg.Transform.APIKey = "sk-test"
	assert.IsType(t, &transform.Anthropic{}, provideTransformer(cfg))
}

func TestProvideAuthenticator(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := provideAuthenticator(cfg)
	assert.Error(t, err)

	cfg.Auth.StaticTokens = map[string]string{"dev-token": "alice"}
	authn, err := provideAuthenticator(cfg)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	r.Header.Set("Authorization", "Bearer dev-token")
	actor, err := authn.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, core.ActorID("alice"), actor)
}

func TestProvideWebhook(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Nil(t, provideWebhook(cfg, discardLogger()))

	cfg.Webhooks.Endpoints = []string{"https://hooks.example.com/habitquest"}
	cfg.Webhooks.EventTypes = []string{string(core.EventLevelUp)}
	assert.NotNil(t, provideWebhook(cfg, discardLogger()))
}

func TestProvideHandler_Healthz(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.DispatchMode = "sync"
	cfg.Auth.StaticTokens = map[string]string{"dev-token": "alice"}
	logger := discardLogger()
	storage := mem.New()

	limiter, err := provideLimiter(cfg, storage, storage, logger)
	require.NoError(t, err)
	authn, err := provideAuthenticator(cfg)
	require.NoError(t, err)
	hub, board, stats := provideHub(), provideLeaderboard(), provideStats()
	svc, cleanup := provideService(cfg, logger, storage, limiter, provideTransformer(cfg), hub, board, stats, nil)
	defer cleanup()

	srv := httptest.NewServer(provideHandler(cfg, logger, svc, authn, hub, board, stats))
	defer srv.Close()

	resp, err := http.Get(srv.URL + cfg.Server.PathPrefix + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
