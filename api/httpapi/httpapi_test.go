package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "habitquest/adapters/memory"
	"habitquest/analytics"
	"habitquest/auth"
	"habitquest/core"
	"habitquest/engine"
	"habitquest/leaderboard"
	"habitquest/ratelimit"
	"habitquest/transform"
)

var now = time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)

const aliceToken = "alice-token"

type testEnv struct {
	store   *mem.Store
	svc     *engine.QuestService
	handler http.Handler
	board   leaderboard.Board
	stats   *analytics.EconomyMetrics
}

func newTestEnv(t *testing.T, opts ...engine.Option) *testEnv {
	t.Helper()
	store := mem.New()
	bus := engine.NewEventBus(engine.DispatchSync)
	board := leaderboard.NewSkipList()
	stats := analytics.NewEconomyMetrics().WithClock(func() time.Time { return now })
	bus.SubscribeAll(leaderboard.XPFeed(board))
	bus.SubscribeAll(analytics.NewBridge(stats).Handle)

	base := []engine.Option{
		engine.WithClock(func() time.Time { return now }),
		engine.WithTransformer(transform.Static{}),
	}
	svc := engine.NewQuestService(store, bus, engine.DefaultRuleEngine(), append(base, opts...)...)
	t.Cleanup(svc.Close)

	h := NewMux(svc, Options{
		PathPrefix:    "/api",
		Authenticator: auth.StaticTokens{aliceToken: "alice"},
		Leaderboard:   board,
		Stats:         stats,
	})
	return &testEnv{store: store, svc: svc, handler: h, board: board, stats: stats}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedQuest(t *testing.T, id string, d core.Difficulty) {
	t.Helper()
	require.NoError(t, e.store.CreateQuest(context.Background(), core.Quest{
		ID: id, ActorID: "alice", Text: "Slay the laundry", Difficulty: d,
		XPValue: core.DefaultXPValue(d), Status: core.StatusActive, CreatedAt: now,
	}))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "unauthorized", body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestCreateAndCompleteQuest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/quests", map[string]any{"text": "Do the dishes", "difficulty": "easy"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	quest := decode(t, rec)["quest"].(map[string]any)
	id := quest["id"].(string)
	require.NotEmpty(t, id)

	rec = env.do(t, http.MethodPost, "/api/quests/complete", map[string]any{"quest_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])

	rewards := body["rewards"].(map[string]any)
	assert.Equal(t, float64(10), rewards["xp"])
	assert.Equal(t, float64(10), rewards["base_xp"])
	assert.Equal(t, float64(50), rewards["gold"])
	assert.Equal(t, float64(1), rewards["new_level"])
	assert.Equal(t, false, rewards["level_up"])
	assert.Equal(t, false, rewards["comeback_bonus"])

	profile := body["profile"].(map[string]any)
	assert.Equal(t, float64(10), profile["xp"])
	assert.Equal(t, float64(50), profile["gold"])
	assert.Equal(t, float64(1), profile["current_streak"])

	assert.Contains(t, body, "story")
	effects := body["skill_effects"].(map[string]any)
	assert.Equal(t, []any{}, effects["applied"])

	// a second completion is rejected without a reward
	rec = env.do(t, http.MethodPost, "/api/quests/complete", map[string]any{"quest_id": id})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already_completed", decode(t, rec)["error"])

	p, err := env.svc.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.Gold)
}

func TestCompleteQuestValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/quests/complete", `{"quest_id": 42}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/quests/complete", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/quests/complete", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/quests/complete", map[string]any{"quest_id": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["error"])
}

func TestRateLimitedResponse(t *testing.T) {
	store := mem.New()
	policies := ratelimit.DefaultPolicies()
	policies[ratelimit.EndpointQuestComplete] = ratelimit.Policy{
		Free:  ratelimit.Limit{Max: 1, Window: time.Hour},
		Burst: ratelimit.Limit{Max: 10, Window: time.Minute},
	}
	lim := ratelimit.New(store, nil, ratelimit.WithPolicies(policies), ratelimit.WithClock(func() time.Time { return now }))
	svc := engine.NewQuestService(store, engine.NewEventBus(engine.DispatchSync), engine.DefaultRuleEngine(),
		engine.WithClock(func() time.Time { return now }), engine.WithLimiter(lim))
	env := &testEnv{store: store, svc: svc, handler: NewMux(svc, Options{
		PathPrefix:    "/api",
		Authenticator: auth.StaticTokens{aliceToken: "alice"},
	})}
	env.seedQuest(t, "q1", core.DifficultyEasy)
	env.seedQuest(t, "q2", core.DifficultyEasy)

	rec := env.do(t, http.MethodPost, "/api/quests/complete", map[string]any{"quest_id": "q1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/quests/complete", map[string]any{"quest_id": "q2"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2025-06-11T10:00:00Z", rec.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	body := decode(t, rec)
	assert.Equal(t, "rate_limited", body["error"])
	assert.Equal(t, float64(1), body["limit"])
	assert.Equal(t, float64(1), body["current"])
	assert.Equal(t, "2025-06-11T10:00:00Z", body["reset_at"])
	assert.Equal(t, float64(3600), body["retry_after"])
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/shop/purchase", map[string]any{"item_id": "wooden-sword"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "insufficient_funds", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/shop/purchase", map[string]any{"item_id": "excalibur"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurchaseAndTransactions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.AdjustCurrency(context.Background(), core.Adjustment{
		ActorID: "alice", Amount: 120, Type: core.TxAdjustment,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/shop/purchase", map[string]any{"item_id": "wooden-sword"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(20), decode(t, rec)["balance"])

	rec = env.do(t, http.MethodGet, "/api/ledger/transactions?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode(t, rec)["transactions"].([]any)
	assert.Len(t, txs, 2)

	rec = env.do(t, http.MethodGet, "/api/ledger/transactions?limit=ten", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnlockSkillWithoutPoints(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/skills/unlock", map[string]any{"skill_id": "quick_hands"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode(t, rec)["error"])
}

func TestListQuestsFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seedQuest(t, "q1", core.DifficultyEasy)
	env.seedQuest(t, "q2", core.DifficultyHard)
	_, err := env.svc.CompleteQuest(context.Background(), "alice", "q2")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/quests?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	quests := decode(t, rec)["quests"].([]any)
	require.Len(t, quests, 1)
	assert.Equal(t, "q1", quests[0].(map[string]any)["id"])

	rec = env.do(t, http.MethodGet, "/api/quests?status=archived", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardAndStats(t *testing.T) {
	env := newTestEnv(t)
	env.seedQuest(t, "q1", core.DifficultyHard)
	_, err := env.svc.CompleteQuest(context.Background(), "alice", "q1")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/leaderboard?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].(map[string]any)["actor_id"])
	assert.Equal(t, float64(50), entries[0].(map[string]any)["score"])
	assert.Equal(t, float64(1), body["rank"])

	rec = env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Equal(t, float64(1), stats["total_quests_completed"])
}

func TestJournalAndWeeklySummary(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/journal/transform", map[string]any{"entry": "Walked the dog at dawn."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["narrative"])

	rec = env.do(t, http.MethodPost, "/api/story/weekly-summary", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(0), decode(t, rec)["quests_completed"])
}

func TestCORSPreflight(t *testing.T) {
	store := mem.New()
	svc := engine.NewQuestService(store, engine.NewEventBus(engine.DispatchSync), engine.DefaultRuleEngine())
	h := NewMux(svc, Options{PathPrefix: "/api", AllowCORSOrigin: "*"})

	req := httptest.NewRequest(http.MethodOptions, "/api/quests", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["error"])
}

type failingTransformer struct{}

func (failingTransformer) Transform(context.Context, transform.Prompt) (string, error) {
	return "", errors.New("upstream 529 overloaded")
}

func TestTransformFailureIs500(t *testing.T) {
	env := newTestEnv(t, engine.WithTransformer(failingTransformer{}))

	rec := env.do(t, http.MethodPost, "/api/quests", map[string]any{"text": "Water the plants", "difficulty": "easy"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "downstream_unavailable", body["error"])
	assert.Equal(t, "narrative service unavailable, please retry", body["message"])

	rec = env.do(t, http.MethodPost, "/api/journal/transform", map[string]any{"entry": "Long day."})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusForKinds(t *testing.T) {
	cases := map[core.Kind]int{
		core.KindUnauthorized:      http.StatusUnauthorized,
		core.KindInvalidInput:      http.StatusBadRequest,
		core.KindNotFound:          http.StatusNotFound,
		core.KindAlreadyCompleted:  http.StatusBadRequest,
		core.KindInsufficientFunds: http.StatusBadRequest,
		core.KindRateLimited:       http.StatusTooManyRequests,
		core.KindDownstream:        http.StatusInternalServerError,
		core.KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), string(kind))
	}
}
