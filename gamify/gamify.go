// Package gamify assembles a QuestService with its event consumers.
package gamify

import (
	"context"
	"log/slog"

	mem "habitquest/adapters/memory"
	"habitquest/core"
	"habitquest/engine"
	"habitquest/leaderboard"
	"habitquest/realtime"
	"habitquest/skills"
)

// Option configures the service builder.
type Option func(*config)

type config struct {
	storage   engine.Storage
	mode      engine.DispatchMode
	rules     engine.RuleEngine
	hub       *realtime.Hub
	board     leaderboard.Board
	consumers []func(context.Context, core.Event)
	noSkills  bool
	logger    *slog.Logger
	svcOpts   []engine.Option
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithRuleEngine sets the rule engine.
func WithRuleEngine(r engine.RuleEngine) Option { return func(c *config) { c.rules = r } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithLeaderboard keeps board ranked by total XP.
func WithLeaderboard(b leaderboard.Board) Option { return func(c *config) { c.board = b } }

// WithConsumer subscribes handler to every event, e.g. a webhook sink or analytics bridge.
func WithConsumer(handler func(context.Context, core.Event)) Option {
	return func(c *config) { c.consumers = append(c.consumers, handler) }
}

// WithoutSkills disables skill effects; rewards are computed unboosted.
func WithoutSkills() Option { return func(c *config) { c.noSkills = true } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithServiceOptions passes options through to engine.NewQuestService.
func WithServiceOptions(opts ...engine.Option) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, opts...) }
}

// New builds a configured QuestService. If not provided, defaults are used:
//   - storage: in-memory
//   - rules: DefaultRuleEngine
//   - dispatch: async
//   - skill effects: read from the same storage
func New(opts ...Option) *engine.QuestService {
	cfg := &config{mode: engine.DispatchAsync, rules: engine.DefaultRuleEngine(), logger: slog.Default()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	bus := engine.NewEventBus(cfg.mode)
	if cfg.hub != nil {
		bus.SubscribeAll(cfg.hub.Handle)
	}
	if cfg.board != nil {
		bus.SubscribeAll(leaderboard.XPFeed(cfg.board))
	}
	for _, h := range cfg.consumers {
		bus.SubscribeAll(h)
	}

	svcOpts := []engine.Option{engine.WithLogger(cfg.logger)}
	if !cfg.noSkills {
		svcOpts = append(svcOpts, engine.WithSkillEffects(skills.New(cfg.storage)))
	}
	// caller options win
	svcOpts = append(svcOpts, cfg.svcOpts...)
	return engine.NewQuestService(cfg.storage, bus, cfg.rules, svcOpts...)
}
