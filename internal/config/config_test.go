package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opera-os/opera/internal/tools"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "USE_LOCAL_MODEL",
		"LOCAL_MODEL_NAME", "OLLAMA_BASE_URL", "OPERA_JWT_SECRET", "OPERA_LOG_LEVEL",
		"API_PORT", "API_HOST",
	} {
		t.Setenv(k, "")
	}
}

func saveJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Models.Provider != "auto" {
		t.Errorf("expected provider auto, got %s", cfg.Models.Provider)
	}
	if cfg.Models.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("expected openai model gpt-4o-mini, got %s", cfg.Models.OpenAI.Model)
	}
	perms := cfg.DefaultPermissions()
	if len(perms) != 2 || perms[0] != tools.PermRead || perms[1] != tools.PermWrite {
		t.Errorf("expected default permissions [read write], got %v", perms)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadAndSave(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "opera.json")

	cfg := DefaultConfig()
	cfg.Server.DataDir = filepath.Join(dir, "data")
	cfg.Models.Provider = "none"
	cfg.Execution.DefaultPermissions = []string{"read"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Models.Provider != "none" {
		t.Errorf("expected provider none, got %s", loaded.Models.Provider)
	}
	if got := loaded.DefaultPermissions(); len(got) != 1 || got[0] != tools.PermRead {
		t.Errorf("expected [read], got %v", got)
	}
	if _, err := os.Stat(cfg.Server.DataDir); err != nil {
		t.Errorf("expected data dir to be created: %v", err)
	}
	if want := filepath.Join(cfg.Server.DataDir, "memory.db"); loaded.MemoryDBPath() != want {
		t.Errorf("MemoryDBPath() = %s, want %s", loaded.MemoryDBPath(), want)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "opera.json")
	data := `{"server": {"port": 9100, "dataDir": "` + filepath.ToSlash(filepath.Join(dir, "d")) + `"}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("expected port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Models.Local.Model != "llama3.2" {
		t.Errorf("expected default local model, got %s", cfg.Models.Local.Model)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("{nope"), 0644)
	if _, err := Load(bad); err == nil {
		t.Error("expected error for invalid JSON")
	}

	perms := filepath.Join(dir, "perms.json")
	os.WriteFile(perms, []byte(`{"execution": {"defaultPermissions": ["read", "root"]}}`), 0644)
	if _, err := Load(perms); err == nil {
		t.Error("expected error for unknown permission")
	}
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-test")
	t.Setenv("USE_LOCAL_MODEL", "false")
	t.Setenv("LOCAL_MODEL_NAME", "phi3")
	t.Setenv("OPERA_JWT_SECRET", "s3cret")
	t.Setenv("API_PORT", "9001")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.Models.OpenAI.APIKey != "sk-test" || cfg.Models.OpenAI.Model != "gpt-test" {
		t.Errorf("openai = %+v", cfg.Models.OpenAI)
	}
	if cfg.Models.Provider != "openai" {
		t.Errorf("USE_LOCAL_MODEL=false should select openai, got %s", cfg.Models.Provider)
	}
	if cfg.Models.Local.Model != "phi3" {
		t.Errorf("local model = %s, want phi3", cfg.Models.Local.Model)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("port = %d, want 9001", cfg.Server.Port)
	}

	t.Setenv("USE_LOCAL_MODEL", "true")
	cfg.ApplyEnv()
	if cfg.Models.Provider != "local" {
		t.Errorf("USE_LOCAL_MODEL=true should select local, got %s", cfg.Models.Provider)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Models.Provider = "anthropic" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"job without id", func(c *Config) {
			c.Scheduler.Jobs = []SchedulerJobConfig{{Input: "x"}}
		}},
		{"duplicate job", func(c *Config) {
			c.Scheduler.Jobs = []SchedulerJobConfig{{ID: "a"}, {ID: "a"}}
		}},
		{"bad job permission", func(c *Config) {
			c.Scheduler.Jobs = []SchedulerJobConfig{{ID: "a", Permissions: []string{"sudo"}}}
		}},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	logger, lv := NewLogger(os.Stderr, "warn", true)
	if logger == nil || lv.Level() != slog.LevelWarn {
		t.Errorf("NewLogger level = %v, want warn", lv.Level())
	}
}

func TestReloadHotApply(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "opera.json")

	cfg := DefaultConfig()
	next := DefaultConfig()
	next.Server.LogLevel = "debug"
	next.Execution.DefaultPermissions = []string{"read"}
	saveJSON(t, path, next)

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(result.Applied) != 2 {
		t.Errorf("expected 2 applied, got %v", result.Applied)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("expected logLevel debug, got %s", cfg.Server.LogLevel)
	}
	if len(cfg.Execution.DefaultPermissions) != 1 {
		t.Errorf("expected execution defaults to be applied, got %v", cfg.Execution.DefaultPermissions)
	}
}

func TestReloadRestartRequiredSkipped(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "opera.json")

	cfg := DefaultConfig()
	next := DefaultConfig()
	next.Server.Port = 9999
	next.Models.Provider = "none"
	saveJSON(t, path, next)

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(result.Skipped) != 2 {
		t.Errorf("expected 2 skipped, got %v", result.Skipped)
	}
	if cfg.Server.Port != 8000 || cfg.Models.Provider != "auto" {
		t.Errorf("restart-required fields must not change: port=%d provider=%s", cfg.Server.Port, cfg.Models.Provider)
	}
	if !IsRestartRequired("Models") || IsRestartRequired("Server.LogLevel") {
		t.Error("unexpected restart classification")
	}
	if len(HotReloadableFields()) != 2 {
		t.Errorf("HotReloadableFields() = %v", HotReloadableFields())
	}

	result.LogResult(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestReloadNoChangesAndErrors(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "opera.json")
	cfg := DefaultConfig()
	saveJSON(t, path, cfg)

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(result.Changed) != 0 {
		t.Errorf("expected no changes, got %v", result.Changed)
	}

	if _, err := cfg.Reload("/nonexistent/path.json"); err == nil {
		t.Error("expected error for nonexistent file")
	}
	os.WriteFile(path, []byte("{invalid json"), 0644)
	if _, err := cfg.Reload(path); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opera.json")
	saveJSON(t, path, DefaultConfig())

	changed := make(chan struct{}, 1)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w := NewWatcher(path, 20*time.Millisecond, logger, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cfg := DefaultConfig()
	cfg.Server.LogLevel = "debug"
	saveJSON(t, path, cfg)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not detect change within timeout")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
