package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opera-os/opera/internal/config"
	"github.com/opera-os/opera/internal/events"
	"github.com/opera-os/opera/internal/executor"
	"github.com/opera-os/opera/internal/memory"
	"github.com/opera-os/opera/internal/models"
	"github.com/opera-os/opera/internal/orchestrator"
	"github.com/opera-os/opera/internal/reasoning"
	"github.com/opera-os/opera/internal/tools"
	"github.com/opera-os/opera/internal/tools/builtin"
)

// App holds all the runtime components
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Memory       *memory.Store
	Provider     models.Provider
	Registry     *tools.Registry
	Orchestrator *orchestrator.Orchestrator
	Events       *events.Publisher
}

// setup builds every component the pipeline needs. withEvents controls
// whether an MQTT publisher is attached to the executor; one-shot commands
// leave it off.
func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger, withEvents bool) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	store, err := memory.Open(memory.Config{
		DBPath:        cfg.MemoryDBPath(),
		EmbeddingDims: cfg.Memory.EmbeddingDims,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	app.Memory = store

	provider, err := models.New(ctx, cfg.Models, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create provider: %w", err)
	}
	app.Provider = provider

	app.Registry = tools.NewRegistry()
	deps := builtin.Deps{
		Store:           store,
		Provider:        provider,
		Workspace:       cfg.Tools.Workspace,
		ProviderTimeout: time.Duration(cfg.Models.TimeoutSeconds) * time.Second,
		Logger:          logger,
	}
	if secs := cfg.Tools.FetchTimeoutSeconds; secs > 0 {
		deps.HTTPClient = &http.Client{Timeout: time.Duration(secs) * time.Second}
	}
	if err := builtin.Register(app.Registry, deps); err != nil {
		store.Close()
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}
	if n, err := tools.NewLoader(cfg.Tools.Dir, logger).RegisterAll(app.Registry); err != nil {
		logger.Warn("failed to load command tools", "dir", cfg.Tools.Dir, "error", err)
	} else if n > 0 {
		logger.Info("command tools loaded", "count", n)
	}

	var execOpts []executor.Option
	if withEvents && cfg.Events.MQTT.Enabled {
		app.Events = events.NewMQTT(cfg.Events.MQTT, logger)
		execOpts = append(execOpts, executor.WithObserver(app.Events))
	}

	engine := reasoning.New(provider, logger,
		reasoning.WithTimeout(time.Duration(cfg.Models.TimeoutSeconds)*time.Second),
		reasoning.WithCatalog(app.Registry),
	)
	app.Orchestrator = orchestrator.New(engine, executor.New(app.Registry, logger, execOpts...), app.Registry, logger)
	return app, nil
}

// Close releases the memory store.
func (a *App) Close() {
	if err := a.Memory.Close(); err != nil {
		a.Logger.Error("close memory store", "error", err)
	}
}
