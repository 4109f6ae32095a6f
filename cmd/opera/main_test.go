package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opera-os/opera/internal/config"
	"github.com/opera-os/opera/internal/orchestrator"
	"github.com/opera-os/opera/internal/security"
	"github.com/opera-os/opera/internal/tools"
	"github.com/opera-os/opera/internal/types"
)

// writeConfig saves a config rooted in a temp dir and returns its path.
func writeConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = filepath.Join(dir, "data")
	cfg.Tools.Dir = filepath.Join(dir, "tools")
	cfg.Tools.Workspace = filepath.Join(dir, "workspace")
	cfg.Models.Provider = "none"
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "opera.json")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := execute(t, "-version")
	if code != 0 || !strings.HasPrefix(out, "Opera v"+version) {
		t.Errorf("code=%d out=%q", code, out)
	}
}

func TestUnknownCommand(t *testing.T) {
	path := writeConfig(t, nil)
	if code, _, errOut := execute(t, "-config", path, "launch"); code != 1 || !strings.Contains(errOut, "Unknown command") {
		t.Errorf("code=%d stderr=%q", code, errOut)
	}
}

func TestMissingConfigIsCreated(t *testing.T) {
	t.Setenv("OPERA_JWT_SECRET", "")
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "fresh.json")
	code, _, errOut := execute(t, "-config", path, "token")
	// The default config has no secret, so token fails after creating the file.
	if code != 1 || !strings.Contains(errOut, "jwtSecret") {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
	if _, err := config.Load(path); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

func TestRunCommandStoresMemory(t *testing.T) {
	path := writeConfig(t, nil)

	code, out, errOut := execute(t, "-config", path, "run", "Remember that the boiler service is due in May")
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut)
	}
	var res orchestrator.RunResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Intent.Category != types.CategoryMemoryStorage || !res.Execution.Success {
		t.Errorf("result = %+v", res.Execution)
	}
}

func TestRunCommandPermissions(t *testing.T) {
	path := writeConfig(t, nil)

	if code, _, errOut := execute(t, "-config", path, "run", "-perms", "read,root", "hello"); code != 1 || !strings.Contains(errOut, "invalid permission") {
		t.Errorf("code=%d stderr=%q", code, errOut)
	}
	if code, _, _ := execute(t, "-config", path, "run"); code != 1 {
		t.Errorf("empty run should fail, code=%d", code)
	}

	code, out, _ := execute(t, "-config", path, "run", "-perms", "write", "How are you today?")
	if code != 0 {
		t.Fatalf("code=%d", code)
	}
	var res orchestrator.RunResult
	_ = json.Unmarshal([]byte(out), &res)
	if res.Execution.Success {
		t.Error("chat_model needs read; a write-only grant should deny it")
	}
}

func TestTUIRejectsBadPermissions(t *testing.T) {
	path := writeConfig(t, nil)
	if code, _, errOut := execute(t, "-config", path, "tui", "-perms", "root"); code != 1 || !strings.Contains(errOut, "invalid permission") {
		t.Errorf("code=%d stderr=%q", code, errOut)
	}
}

func TestToolsCommand(t *testing.T) {
	path := writeConfig(t, nil)
	code, out, _ := execute(t, "-config", path, "tools")
	if code != 0 {
		t.Fatalf("code=%d", code)
	}
	for _, name := range []string{"NAME", "db_deleter", "delete", "read_file", "fetch_url"} {
		if !strings.Contains(out, name) {
			t.Errorf("tools output missing %q:\n%s", name, out)
		}
	}
}

func TestTokenCommand(t *testing.T) {
	secret := "cli-test-secret-0123456789abcdef"
	path := writeConfig(t, func(c *config.Config) { c.Auth.JWTSecret = secret })

	code, out, errOut := execute(t, "-config", path, "token", "-role", "readonly", "-sub", "dash", "-perms", "read")
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut)
	}
	claims, err := security.ValidateToken(strings.TrimSpace(out), []byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "dash" || claims.Role != security.RoleReadonly {
		t.Errorf("claims = %+v", claims)
	}
	if diff := cmp.Diff([]tools.Permission{tools.PermRead}, claims.Permissions); diff != "" {
		t.Errorf("permissions (-want +got):\n%s", diff)
	}

	if code, _, _ := execute(t, "-config", path, "token", "-role", "root"); code != 1 {
		t.Errorf("unknown role should fail, code=%d", code)
	}
}

func TestParsePermList(t *testing.T) {
	tests := []struct {
		in      string
		want    []tools.Permission
		wantErr bool
	}{
		{"", nil, false},
		{"  ", nil, false},
		{"read, Write", []tools.Permission{tools.PermRead, tools.PermWrite}, false},
		{"read,sudo", nil, true},
	}
	for _, tt := range tests {
		got, err := parsePermList(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePermList(%q) err = %v", tt.in, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("parsePermList(%q) (-want +got):\n%s", tt.in, diff)
		}
	}
}
