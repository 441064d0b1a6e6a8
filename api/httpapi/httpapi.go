package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	wsadapter "habitquest/adapters/websocket"
	"habitquest/analytics"
	"habitquest/auth"
	"habitquest/core"
	"habitquest/engine"
	"habitquest/leaderboard"
	"habitquest/realtime"
)

const maxBodyBytes = 64 << 10

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// Authenticator resolves the actor for every route except healthz.
	Authenticator auth.Authenticator
	// Hub, if set, is streamed at {prefix}/ws.
	Hub *realtime.Hub
	// Leaderboard, if set, is served at {prefix}/leaderboard.
	Leaderboard leaderboard.Board
	// Stats, if set, is served at {prefix}/stats.
	Stats *analytics.EconomyMetrics
	Logger *slog.Logger
}

type api struct {
	svc    *engine.QuestService
	opts   Options
	logger *slog.Logger
}

// NewMux builds an http.Handler exposing the HabitQuest REST API and event stream.
// Routes:
//   - GET  {prefix}/healthz
//   - GET  {prefix}/profile
//   - GET  {prefix}/quests?status=active|completed
//   - POST {prefix}/quests                  {"text", "difficulty"}
//   - POST {prefix}/quests/complete         {"quest_id"}
//   - POST {prefix}/journal/transform       {"entry"}
//   - POST {prefix}/story/weekly-summary
//   - GET  {prefix}/ledger/transactions?limit=50
//   - GET  {prefix}/shop/items
//   - POST {prefix}/shop/purchase           {"item_id"}
//   - POST {prefix}/skills/unlock           {"skill_id"}
//   - GET  {prefix}/leaderboard?limit=10
//   - GET  {prefix}/stats
//   - WS   {prefix}/ws
func NewMux(svc *engine.QuestService, opts Options) http.Handler {
	if svc == nil {
		panic("httpapi: nil service")
	}
	a := &api{svc: svc, opts: opts, logger: opts.Logger}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.Handle(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route(http.MethodGet, "/healthz", a.healthCheck)

	route(http.MethodGet, "/profile", a.authed(a.getProfile))
	route(http.MethodGet, "/quests", a.authed(a.listQuests))
	route(http.MethodPost, "/quests", a.authed(a.createQuest))
	route(http.MethodPost, "/quests/complete", a.authed(a.completeQuest))
	route(http.MethodPost, "/journal/transform", a.authed(a.transformJournal))
	route(http.MethodPost, "/story/weekly-summary", a.authed(a.weeklySummary))
	route(http.MethodGet, "/ledger/transactions", a.authed(a.transactions))
	route(http.MethodGet, "/shop/items", a.authed(a.listItems))
	route(http.MethodPost, "/shop/purchase", a.authed(a.purchase))
	route(http.MethodPost, "/skills/unlock", a.authed(a.unlockSkill))

	if opts.Leaderboard != nil {
		route(http.MethodGet, "/leaderboard", a.authed(a.leaderboard))
	}
	if opts.Stats != nil {
		route(http.MethodGet, "/stats", a.authed(a.stats))
	}
	if opts.Hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(opts.Hub, wsadapter.Options{
			Authenticator: opts.Authenticator,
			Logger:        a.logger,
		}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	return handler
}

type actorKey struct{}

// ActorFrom returns the authenticated actor stored on the request context.
func ActorFrom(ctx context.Context) core.ActorID {
	a, _ := ctx.Value(actorKey{}).(core.ActorID)
	return a
}

// authed resolves the actor before calling next. Without an authenticator
// every request is rejected.
func (a *api) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.opts.Authenticator == nil {
			a.fail(w, r, core.ErrUnauthorized)
			return
		}
		actor, err := a.opts.Authenticator.Authenticate(r)
		if err != nil {
			a.fail(w, r, core.ErrUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	}
}

// healthCheck verifies storage answers by listing the item catalog.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	_, err := a.svc.ListItems(r.Context())
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}
	code := http.StatusOK
	if err != nil {
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	}
	writeJSONStatus(w, code, status)
}

func (a *api) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.GetProfile(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (a *api) listQuests(w http.ResponseWriter, r *http.Request) {
	f := core.QuestFilter{}
	switch s := core.QuestStatus(r.URL.Query().Get("status")); s {
	case "":
	case core.StatusActive, core.StatusCompleted:
		f.Status = s
	default:
		writeError(w, http.StatusBadRequest, string(core.KindInvalidInput), "status must be active or completed")
		return
	}
	quests, err := a.svc.ListQuests(r.Context(), ActorFrom(r.Context()), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if quests == nil {
		quests = []core.Quest{}
	}
	writeJSON(w, map[string]any{"quests": quests})
}

type createQuestRequest struct {
	Text       string `json:"text"`
	Difficulty string `json:"difficulty"`
}

func (a *api) createQuest(w http.ResponseWriter, r *http.Request) {
	var req createQuestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	q, err := a.svc.CreateQuest(r.Context(), ActorFrom(r.Context()), req.Text, core.Difficulty(req.Difficulty))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{"success": true, "quest": q})
}

type completeQuestRequest struct {
	QuestID string `json:"quest_id"`
}

func (a *api) completeQuest(w http.ResponseWriter, r *http.Request) {
	var req completeQuestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := a.svc.CompleteQuest(r.Context(), ActorFrom(r.Context()), req.QuestID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, newCompletionResponse(c))
}

type journalRequest struct {
	Entry string `json:"entry"`
}

func (a *api) transformJournal(w http.ResponseWriter, r *http.Request) {
	var req journalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	text, err := a.svc.TransformJournal(r.Context(), ActorFrom(r.Context()), req.Entry)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "narrative": text})
}

func (a *api) weeklySummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.WeeklySummary(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, sum)
}

func (a *api) transactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	txs, err := a.svc.Transactions(r.Context(), ActorFrom(r.Context()), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if txs == nil {
		txs = []core.CurrencyTransaction{}
	}
	writeJSON(w, map[string]any{"transactions": txs})
}

func (a *api) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.ListItems(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"items": items})
}

type purchaseRequest struct {
	ItemID string `json:"item_id"`
}

func (a *api) purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := a.svc.PurchaseItem(r.Context(), ActorFrom(r.Context()), req.ItemID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "item": p.Item, "balance": p.Balance, "profile": p.Profile})
}

type unlockRequest struct {
	SkillID string `json:"skill_id"`
}

func (a *api) unlockSkill(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := a.svc.UnlockSkill(r.Context(), ActorFrom(r.Context()), req.SkillID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "profile": p})
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	actor := ActorFrom(r.Context())
	resp := map[string]any{"entries": a.opts.Leaderboard.TopN(limit)}
	if rank := a.opts.Leaderboard.Rank(actor); rank > 0 {
		resp["rank"] = rank
	}
	writeJSON(w, resp)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.opts.Stats.Snapshot())
}

// fail maps err to a status code. Rate-limit rejections carry quota headers.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	var rl *core.RateLimitError
	if errors.As(err, &rl) {
		writeRateLimited(w, rl)
		return
	}
	kind := core.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"actor_id", ActorFrom(r.Context()),
			"at", time.Now().UTC(),
			"error", err)
	}
	writeError(w, status, string(kind), core.MessageOf(err))
}

func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindInvalidInput, core.KindAlreadyCompleted, core.KindInsufficientFunds:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type rateLimitBody struct {
	Error      string    `json:"error"`
	Message    string    `json:"message"`
	Limit      int64     `json:"limit"`
	Current    int64     `json:"current"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int64     `json:"retry_after"`
}

func writeRateLimited(w http.ResponseWriter, rl *core.RateLimitError) {
	retry := int64(rl.RetryAfter() / time.Second)
	remaining := rl.Limit - rl.Current
	if remaining < 0 {
		remaining = 0
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(rl.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	h.Set("X-RateLimit-Reset", rl.ResetAt.UTC().Format(time.RFC3339))
	h.Set("Retry-After", strconv.FormatInt(retry, 10))
	writeJSONStatus(w, http.StatusTooManyRequests, rateLimitBody{
		Error:      string(core.KindRateLimited),
		Message:    core.MessageOf(rl),
		Limit:      rl.Limit,
		Current:    rl.Current,
		ResetAt:    rl.ResetAt.UTC(),
		RetryAfter: retry,
	})
}

// Helpers

// decodeBody reads a JSON object into v. Type mismatches such as a numeric
// quest_id are rejected here, before the service sees them.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		msg := "request body must be a JSON object"
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			msg = typeErr.Field + " must be a " + typeErr.Type.String()
		}
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeError(w, http.StatusBadRequest, string(core.KindInvalidInput), msg)
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(core.KindInvalidInput), name+" must be an integer")
		return 0, false
	}
	return n, true
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSONStatus(w, status, apiError{Error: code, Message: msg})
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
