package config

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Watcher polls a config file and calls onChange when its modification time
// moves forward or its size changes.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	onChange func()

	seen os.FileInfo
}

// NewWatcher returns a watcher polling every interval (2s when zero).
func NewWatcher(path string, interval time.Duration, logger *slog.Logger, onChange func()) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "config-watcher"),
		onChange: onChange,
	}
}

// Run polls until ctx is done. It returns nil so it can share an errgroup
// with the other services.
func (w *Watcher) Run(ctx context.Context) error {
	w.seen, _ = os.Stat(w.path)
	w.logger.Info("config watcher started", "path", w.path, "interval", w.interval)

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil
		case <-t.C:
			if w.poll() && w.onChange != nil {
				w.onChange()
			}
		}
	}
}

// poll stats the file and reports whether it differs from the last stat.
func (w *Watcher) poll() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("cannot stat config file", "error", err)
		return false
	}
	prev := w.seen
	w.seen = info
	if prev != nil && !info.ModTime().After(prev.ModTime()) && info.Size() == prev.Size() {
		return false
	}
	w.logger.Info("config file changed", "mod_time", info.ModTime())
	return true
}
