package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/opera-os/opera/internal/config"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

const usage = `Usage: opera [-config path] [-version] [-json-logs] <command> [args]

Commands:
  serve                        run the API server, scheduler and config watcher (default)
  run [-perms read,write] TEXT run the pipeline once and print the result as JSON
  tools                        list the tool catalog
  tui [-perms read,write]      interactive terminal front end
  token -role ROLE [-perms P]  mint an API token
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses global flags, then dispatches to a subcommand. It returns the
// process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("opera", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "opera.json", "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	jsonLogs := fs.Bool("json-logs", false, "Log as JSON")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "Opera v%s (built %s)\n", version, buildTime)
		return 0
	}

	bootLogger, _ := config.NewLogger(stderr, "info", *jsonLogs)
	cfg, err := loadConfig(*configPath, bootLogger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	// Logs go to stderr so run and tools output stays machine readable.
	logger, level := config.NewLogger(stderr, cfg.Server.LogLevel, *jsonLogs)
	oneShot, _ := config.NewLogger(stderr, oneShotLevel(cfg), *jsonLogs)

	cmd, rest := "serve", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "serve", "start":
		err = serve(cfg, *configPath, stdout, logger, level)
	case "run":
		err = runOnce(cfg, rest, stdout, oneShot)
	case "tools":
		err = listTools(cfg, stdout, oneShot)
	case "tui":
		err = runTUI(cfg, rest, *jsonLogs)
	case "token":
		err = mintToken(cfg, rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fs.Usage()
		return 1
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig loads configuration from file or creates default
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	logger.Info("no config found, creating default", "path", path)
	cfg = config.DefaultConfig()
	// Saved before env overrides so secrets from the environment stay off disk.
	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("save default config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return cfg, nil
}

// oneShotLevel keeps run and tools output free of startup chatter unless
// debug logging was asked for.
func oneShotLevel(cfg *config.Config) string {
	if config.ParseLevel(cfg.Server.LogLevel) <= slog.LevelDebug {
		return "debug"
	}
	return "warn"
}
