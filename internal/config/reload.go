package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string
	Applied []string
	Skipped []string // changed, but bound at startup
}

// reloadRule compares one field of two configs. A nil apply means the field
// is read once at startup and a change only takes effect after a restart.
type reloadRule struct {
	field string
	same  func(cur, next *Config) bool
	apply func(cur, next *Config)
}

func fieldRule(field string, get func(*Config) any) reloadRule {
	return reloadRule{field: field, same: func(a, b *Config) bool {
		return reflect.DeepEqual(get(a), get(b))
	}}
}

// Order is the order changes are reported in.
var reloadRules = []reloadRule{
	fieldRule("Server.Host", func(c *Config) any { return c.Server.Host }),
	fieldRule("Server.Port", func(c *Config) any { return c.Server.Port }),
	fieldRule("Server.DataDir", func(c *Config) any { return c.Server.DataDir }),
	{
		field: "Server.LogLevel",
		same:  func(a, b *Config) bool { return a.Server.LogLevel == b.Server.LogLevel },
		apply: func(cur, next *Config) { cur.Server.LogLevel = next.Server.LogLevel },
	},
	{
		field: "Execution",
		same:  func(a, b *Config) bool { return reflect.DeepEqual(a.Execution, b.Execution) },
		apply: func(cur, next *Config) { cur.Execution = next.Execution },
	},
	fieldRule("Models", func(c *Config) any { return c.Models }),
	fieldRule("Tools", func(c *Config) any { return c.Tools }),
	fieldRule("Memory", func(c *Config) any { return c.Memory }),
	fieldRule("Events", func(c *Config) any { return c.Events }),
	fieldRule("Scheduler", func(c *Config) any { return c.Scheduler }),
	fieldRule("Auth", func(c *Config) any { return c.Auth }),
}

var mu sync.RWMutex

// RLock guards reads of a Config that Reload may be mutating.
func RLock() { mu.RLock() }

// RUnlock releases RLock.
func RUnlock() { mu.RUnlock() }

// Reload re-reads path and applies the hot-reloadable fields to c in place.
// The new file must pass Validate; on any error c is left untouched.
func (c *Config) Reload(path string) (*ReloadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config for reload: %w", err)
	}
	next := DefaultConfig()
	if err := json.Unmarshal(data, next); err != nil {
		return nil, fmt.Errorf("parse config for reload: %w", err)
	}
	next.ApplyEnv()
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("validate config for reload: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	result := &ReloadResult{}
	for _, r := range reloadRules {
		if r.same(c, next) {
			continue
		}
		result.Changed = append(result.Changed, r.field)
		if r.apply == nil {
			result.Skipped = append(result.Skipped, r.field)
			continue
		}
		r.apply(c, next)
		result.Applied = append(result.Applied, r.field)
	}
	return result, nil
}

// LogResult logs applied fields at info and skipped ones at warn.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}
	logger.Info("config reloaded", "applied", r.Applied, "skipped", len(r.Skipped))
	for _, field := range r.Skipped {
		logger.Warn("config change needs a restart", "field", field)
	}
}

// IsRestartRequired reports whether a change to field only takes effect
// after a restart.
func IsRestartRequired(field string) bool {
	for _, r := range reloadRules {
		if r.field == field {
			return r.apply == nil
		}
	}
	return false
}

// HotReloadableFields lists the fields Reload applies at runtime.
func HotReloadableFields() []string {
	var fields []string
	for _, r := range reloadRules {
		if r.apply != nil {
			fields = append(fields, r.field)
		}
	}
	return fields
}
