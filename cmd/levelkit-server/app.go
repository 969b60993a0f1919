package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"levelkit/adapters/jsonfile"
	mem "levelkit/adapters/memory"
	redisAdapter "levelkit/adapters/redis"
	sqlxAdapter "levelkit/adapters/sqlx"
	"levelkit/analytics"
	"levelkit/api/httpapi"
	"levelkit/config"
	"levelkit/core"
	"levelkit/engine"
	"levelkit/gamify"
	"levelkit/integrations/webhook"
	"levelkit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Service *engine.Service
	Handler http.Handler
	Server  *http.Server
	// MetricsServer is set when metrics listen on their own address.
	MetricsServer *MetricsServer
}

// MetricsServer serves /metrics apart from the API listener.
type MetricsServer struct{ *http.Server }

func provideConfig() (*config.Config, error) {
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	return setupStorage(ctx, cfg, logger)
}

func provideRegistry(cfg *config.Config) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if cfg.Metrics.CollectSystem {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return reg
}

func provideCollector(reg *prometheus.Registry) (*analytics.Collector, error) {
	return analytics.NewCollector(reg)
}

func provideActivity(cfg *config.Config) *analytics.Activity {
	return analytics.NewActivity(cfg.Metrics.ActivityDays)
}

func provideWebhook(cfg *config.Config, logger *slog.Logger) *webhook.Sink {
	if len(cfg.Events.WebhookURLs) == 0 {
		return nil
	}
	types := make([]core.EventType, 0, len(cfg.Events.WebhookEvents))
	for _, t := range cfg.Events.WebhookEvents {
		types = append(types, core.EventType(t))
	}
	return webhook.New(cfg.Events.WebhookURLs,
		webhook.WithClient(&http.Client{Timeout: cfg.Events.WebhookTimeout}),
		webhook.WithEventTypes(types...),
		webhook.WithLogger(logger))
}

func provideService(cfg *config.Config, logger *slog.Logger, hub *realtime.Hub, storage engine.Storage,
	collector *analytics.Collector, activity *analytics.Activity, sink *webhook.Sink) (*engine.Service, func(), error) {
	mode := engine.DispatchSync
	if cfg.Events.Async {
		mode = engine.DispatchAsync
	}
	opts := []gamify.Option{
		gamify.WithStorage(storage),
		gamify.WithDispatchMode(mode),
		gamify.WithLogger(logger),
		gamify.WithExactLevels(cfg.Leveling.ExactLevels),
		gamify.WithLeaderboardPage(cfg.Leveling.LeaderboardPageSize, cfg.Leveling.LeaderboardLead),
		gamify.WithHooks(collector, activity),
	}
	if cfg.Events.Realtime {
		opts = append(opts, gamify.WithRealtime(hub))
	}
	if sink != nil {
		opts = append(opts, gamify.WithHooks(sink))
	}
	svc := gamify.New(opts...)
	if err := collector.TrackDropped("bus", svc.DroppedEvents); err != nil {
		svc.Close()
		return nil, nil, err
	}
	if cfg.Events.Realtime {
		if err := collector.TrackDropped("realtime", hub.Dropped); err != nil {
			svc.Close()
			return nil, nil, err
		}
	}
	return svc, svc.Close, nil
}

func provideHandler(svc *engine.Service, hub *realtime.Hub, activity *analytics.Activity, cfg *config.Config,
	reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	opts := httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		Stats:            activity,
		Logger:           logger,
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Address == cfg.Server.Address {
		opts.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if !cfg.Events.Realtime {
		hub = nil
	}
	return httpapi.NewMux(svc, hub, opts)
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

func provideMetricsServer(cfg *config.Config, reg *prometheus.Registry) *MetricsServer {
	if !cfg.Metrics.Enabled || cfg.Metrics.Address == cfg.Server.Address {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &MetricsServer{&http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
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

// setupStorage creates the appropriate storage adapter based on configuration.
// The returned cleanup releases connections.
func setupStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), noop, nil
	case "file":
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open file storage: %w", err)
		}
		return s, noop, nil
	case "redis":
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close redis storage", "error", err)
			}
		}, nil
	case "sql":
		s, err := sqlxAdapter.New(ctx, cfg.Storage.SQL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect sql: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close sql storage", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
