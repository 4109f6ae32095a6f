package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/opera-os/opera/internal/config"
	"github.com/opera-os/opera/internal/tui"
)

// runTUI starts the interactive front end. The screen belongs to the TUI, so
// logs go to data/opera-tui.log.
func runTUI(cfg *config.Config, args []string, jsonLogs bool) error {
	fs := flag.NewFlagSet("tui", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	perms := fs.String("perms", "", "comma separated permissions (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	allowed, err := parsePermList(*perms)
	if err != nil {
		return err
	}
	if allowed == nil {
		allowed = cfg.DefaultPermissions()
	}

	logPath := filepath.Join(cfg.Server.DataDir, "opera-tui.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open tui log: %w", err)
	}
	defer f.Close()
	logger, _ := config.NewLogger(f, cfg.Server.LogLevel, jsonLogs)

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	app, err := setup(ctx, cfg, logger.With("component", "tui"), false)
	if err != nil {
		return err
	}
	defer app.Close()

	return tui.Run(ctx, app.Orchestrator, allowed)
}
