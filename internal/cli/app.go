package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/lainbot/internal/config"
	"github.com/harun/lainbot/internal/logger"
	"github.com/harun/lainbot/internal/observability"
	"github.com/harun/lainbot/internal/tracing"
	"github.com/harun/lainbot/pkg/agent"
	"github.com/harun/lainbot/pkg/provider"
	"github.com/harun/lainbot/pkg/session"
	"github.com/harun/lainbot/pkg/supervisor"
)

const serviceName = "lainbot"

// appOptions selects which parts of the application a command needs.
type appOptions struct {
	console     bool
	metricsAddr string
	withAgent   bool
}

// app holds the wired components of one command invocation.
type app struct {
	cfg     *config.Config
	logs    *logger.Logger
	logger  zerolog.Logger
	sup     *supervisor.Supervisor
	store   *session.Store
	agent   *agent.Agent
	metrics *http.Server
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newApp wires logging, tracing, metrics, the provider supervisor and,
// when requested, the session store and the agent. Providers are started
// but not awaited.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	if opts.withAgent {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Console = logCfg.Console || opts.console
	logs, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a = &app{cfg: cfg, logs: logs, logger: logs.Component("app")}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	for _, finding := range config.NewValidator().ValidateConfig(cfg) {
		a.logger.Warn().Err(finding).Msg("Configuration warning")
	}

	if err := tracing.InitOpenTelemetry(serviceName, version); err != nil {
		a.logger.Warn().Err(err).Msg("Tracing disabled")
	}
	observability.EnsureRegistered()

	addr := opts.metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		a.startMetrics(addr)
	}

	a.sup, err = supervisor.New(supervisor.Config{
		Dialer:          provider.NewMCPDialer(serviceName, version),
		Logger:          logs.GetZerolog(),
		CallTimeout:     cfg.Providers.ToolTimeout,
		ShutdownTimeout: cfg.Providers.ShutdownTimeout,
	})
	if err != nil {
		return nil, err
	}

	configs, err := config.LoadProviders(cfg.Providers.File)
	if err != nil {
		// The chat is still usable without tools.
		a.logger.Error().Err(err).Str("path", cfg.Providers.File).Msg("Failed to load provider file")
		configs = nil
	}
	if err := a.sup.StartAll(configs); err != nil {
		return nil, err
	}

	if !opts.withAgent {
		return a, nil
	}

	a.store, err = session.NewStore(cfg.Session.Dir, cfg.Session.Name)
	if err != nil {
		return nil, err
	}

	endpoint, err := agent.NewEndpoint(agent.EndpointConfig{
		Provider: cfg.AI.Provider,
		APIKey:   cfg.AI.APIKey,
		BaseURL:  cfg.AI.BaseURL,
		// Retries happen in the agent so that a half-streamed answer is
		// never replayed.
		MaxRetries: 0,
	})
	if err != nil {
		return nil, err
	}

	a.agent, err = agent.New(ctx, agent.Config{
		Endpoint:          endpoint,
		Tools:             a.sup,
		History:           session.NewHistory(cfg.Agent.ContextWindow),
		Store:             a.store,
		Logger:            logs.GetZerolog(),
		Model:             cfg.AI.Model,
		MaxTokens:         cfg.AI.MaxTokens,
		SystemPrompt:      cfg.AI.SystemPrompt,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
		ToolConcurrency:   cfg.Agent.ToolConcurrency,
		MaxRetries:        cfg.AI.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *app) startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	a.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
}

// waitForProviders blocks until no provider is still connecting, or until
// timeout.
func (a *app) waitForProviders(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		pending := 0
		for _, st := range a.sup.Providers() {
			if st.State == provider.StateConnecting {
				pending++
			}
		}
		if pending == 0 {
			return
		}

		select {
		case <-ctx.Done():
			a.logger.Warn().Int("pending", pending).Msg("Providers still connecting, continuing without them")
			return
		case <-ticker.C:
		}
	}
}

// Close stops the providers before saving the session so that nothing is
// still running when the process exits.
func (a *app) Close(ctx context.Context) {
	if a.sup != nil {
		a.sup.Shutdown(ctx)
	}
	if a.agent != nil {
		if err := a.agent.Close(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Failed to save session on exit")
		}
	}
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = a.metrics.Shutdown(shutdownCtx)
		cancel()
	}
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		a.logger.Debug().Err(err).Msg("Tracer shutdown failed")
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
