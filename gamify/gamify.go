package gamify

import (
	"log/slog"

	mem "levelkit/adapters/memory"
	"levelkit/analytics"
	"levelkit/core"
	"levelkit/engine"
	"levelkit/realtime"
)

// Option configures the leveling service builder.
type Option func(*config)

type config struct {
	storage engine.Storage
	mode    engine.DispatchMode
	rules   engine.RuleEngine
	hub     *realtime.Hub
	hooks   []analytics.Hook
	svcOpts []engine.Option
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithRuleEngine sets the rule engine.
func WithRuleEngine(r engine.RuleEngine) Option { return func(c *config) { c.rules = r } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithHooks attaches analytics hooks, metrics collectors or webhook sinks to
// every published event.
func WithHooks(h ...analytics.Hook) Option { return func(c *config) { c.hooks = append(c.hooks, h...) } }

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithLogger(l)) }
}

// WithExactLevels switches level computation from the approximate search to
// the exact walk.
func WithExactLevels(exact bool) Option {
	return func(c *config) {
		mode := core.LevelApprox
		if exact {
			mode = core.LevelExact
		}
		c.svcOpts = append(c.svcOpts, engine.WithLevelMode(mode))
	}
}

// WithLeaderboardPage overrides the leaderboard page size and lead.
func WithLeaderboardPage(size, lead int) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithLeaderboardPage(size, lead)) }
}

// New builds a configured leveling Service. If not provided, defaults are used:
//   - storage: in-memory
//   - rules: DefaultRuleEngine
//   - dispatch: async
func New(opts ...Option) *engine.Service {
	cfg := &config{mode: engine.DispatchAsync, rules: engine.DefaultRuleEngine()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	svc := engine.NewService(cfg.storage, engine.NewEventBus(cfg.mode), cfg.rules, cfg.svcOpts...)
	if cfg.hub != nil {
		svc.SubscribeAll(cfg.hub.Broadcast)
	}
	if len(cfg.hooks) > 0 {
		analytics.NewBridge(cfg.hooks...).Attach(svc)
	}
	return svc
}
