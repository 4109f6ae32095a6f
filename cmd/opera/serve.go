package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"github.com/opera-os/opera/internal/api"
	"github.com/opera-os/opera/internal/config"
	"github.com/opera-os/opera/internal/scheduler"
	"github.com/opera-os/opera/internal/tools"
)

// serve runs the API server, the scheduler, the event publisher and the
// config watcher until a shutdown signal arrives or one of them fails.
func serve(cfg *config.Config, configPath string, out io.Writer, logger *slog.Logger, level *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	logger.Info("starting Opera", "version", version, "config", configPath)

	app, err := setup(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer app.Close()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(app.Orchestrator, logger)
		sched.LoadJobs(cfg.Scheduler)
	}

	defaultPerms := func() []tools.Permission {
		config.RLock()
		defer config.RUnlock()
		return cfg.DefaultPermissions()
	}
	srv := api.NewServer(app.Orchestrator, api.Options{
		Addr:               cfg.Addr(),
		JWTSecret:          []byte(cfg.Auth.JWTSecret),
		DefaultPermissions: defaultPerms,
		Memory:             app.Memory,
		Provider:           app.Provider,
		Scheduler:          sched,
	}, logger)

	reload := func() {
		res, err := cfg.Reload(configPath)
		if err != nil {
			logger.Error("config reload failed", "error", err)
			return
		}
		res.LogResult(logger)
		config.RLock()
		level.Set(config.ParseLevel(cfg.Server.LogLevel))
		config.RUnlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return config.NewWatcher(configPath, 0, logger, reload).Run(gctx) })

	if sched != nil {
		g.Go(func() error {
			if err := sched.Start(gctx); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}

	if app.Events != nil {
		g.Go(func() error {
			// The broker is optional; events are dropped while disconnected.
			if err := app.Events.Start(gctx); err != nil {
				logger.Warn("event publisher unavailable", "error", err)
				return nil
			}
			<-gctx.Done()
			app.Events.Stop()
			return nil
		})
	}

	if sigs := reloadSignals(); len(sigs) > 0 {
		g.Go(func() error {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, sigs...)
			defer signal.Stop(ch)
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ch:
					logger.Info("reload signal received")
					reload()
				}
			}
		})
	}

	printBanner(out, app, cfg, sched != nil)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Opera stopped")
	return nil
}

// printBanner displays the startup banner
func printBanner(w io.Writer, app *App, cfg *config.Config, scheduling bool) {
	provider := "rules only"
	if app.Provider != nil {
		provider = app.Provider.Name()
	}
	auth := "JWT"
	if cfg.Auth.JWTSecret == "" {
		auth = "disabled (dev mode)"
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Opera v%s\n", version)
	fmt.Fprintf(w, "  API:       http://%s\n", cfg.Addr())
	fmt.Fprintf(w, "  Provider:  %s\n", provider)
	fmt.Fprintf(w, "  Tools:     %d registered\n", app.Registry.Len())
	fmt.Fprintf(w, "  Auth:      %s\n", auth)
	fmt.Fprintf(w, "  Scheduler: %v\n", scheduling)
	fmt.Fprintln(w)
}
