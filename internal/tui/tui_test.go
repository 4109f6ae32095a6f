package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/opera-os/opera/internal/orchestrator"
	"github.com/opera-os/opera/internal/tools"
	"github.com/opera-os/opera/internal/types"
)

type fakePipeline struct {
	got []orchestrator.RunRequest
	res *orchestrator.RunResult
	err error
}

func (f *fakePipeline) Run(_ context.Context, req orchestrator.RunRequest) (*orchestrator.RunResult, error) {
	f.got = append(f.got, req)
	return f.res, f.err
}

func (f *fakePipeline) Stats() orchestrator.Stats { return orchestrator.Stats{Runs: len64(f.got)} }
func (f *fakePipeline) ProviderName() string      { return "rules" }
func (f *fakePipeline) ToolCount() int            { return 19 }

func len64(s []orchestrator.RunRequest) int64 { return int64(len(s)) }

func deleteResult() *orchestrator.RunResult {
	return &orchestrator.RunResult{
		Intent: types.Intent{Category: types.CategoryMemoryManagement, Confidence: 0.85},
		Plan: types.Plan{Steps: []types.PlanStep{
			{StepID: 1, Description: "Identify items to delete", ToolName: "query_analyzer"},
			{StepID: 2, Description: "Delete identified items", ToolName: "db_deleter"},
		}},
		Previews: []types.ActionPreview{{RiskLevel: types.RiskLow}, {RiskLevel: types.RiskHigh}},
		Execution: &types.PlanExecutionResult{
			Success: false,
			Error:   "step 2 failed",
			Results: []types.ExecutionResult{
				{StepID: 1, Success: true, Output: map[string]any{"count": 2}},
				{StepID: 2, Success: false, Error: "permission denied: delete"},
			},
		},
	}
}

func sized(t *testing.T, p Pipeline) Model {
	t.Helper()
	m := New(context.Background(), p, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func submit(t *testing.T, m Model, text string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestEnterRunsPipeline(t *testing.T) {
	fp := &fakePipeline{res: deleteResult()}
	m := sized(t, fp)

	m, cmd := submit(t, m, "Delete all emails")
	if !m.running || cmd == nil {
		t.Fatal("enter should start a run")
	}
	if m.input.Value() != "" {
		t.Error("input not cleared")
	}

	msg := cmd()
	next, _ := m.Update(msg)
	m = next.(Model)

	if m.running || len(m.entries) != 1 {
		t.Fatalf("entries = %+v", m.entries)
	}
	if diff := cmp.Diff(tools.DefaultPermissions, fp.got[0].Permissions); diff != "" {
		t.Errorf("permissions (-want +got):\n%s", diff)
	}
	e := m.entries[0]
	if !e.failed || e.input != "Delete all emails" {
		t.Errorf("entry = %+v", e)
	}
	for _, want := range []string{"memory_management", "HIGH", "permission denied: delete", `{"count":2}`, "failed: step 2 failed"} {
		if !strings.Contains(e.body, want) {
			t.Errorf("rendered result missing %q:\n%s", want, e.body)
		}
	}
	if !strings.Contains(m.View(), "Opera") {
		t.Error("view missing header")
	}
}

func TestRunErrorIsShown(t *testing.T) {
	m := sized(t, &fakePipeline{err: errors.New("user input is empty")})
	m, cmd := submit(t, m, "x")
	next, _ := m.Update(cmd())
	m = next.(Model)
	if len(m.entries) != 1 || !m.entries[0].failed || !strings.Contains(m.entries[0].body, "user input is empty") {
		t.Errorf("entries = %+v", m.entries)
	}
}

func TestPermsCommand(t *testing.T) {
	fp := &fakePipeline{res: deleteResult()}
	m := sized(t, fp)

	m, cmd := submit(t, m, "/perms read, delete")
	if cmd != nil {
		t.Error("slash commands should not run the pipeline")
	}
	if diff := cmp.Diff([]tools.Permission{tools.PermRead, tools.PermDelete}, m.perms); diff != "" {
		t.Errorf("perms (-want +got):\n%s", diff)
	}

	m, _ = submit(t, m, "/perms root")
	if last := m.entries[len(m.entries)-1]; !last.notice || !strings.Contains(last.body, "invalid permission") {
		t.Errorf("last entry = %+v", last)
	}
	if len(m.perms) != 2 {
		t.Error("invalid /perms should keep the previous set")
	}

	m, cmd = submit(t, m, "Delete all emails")
	m.Update(cmd())
	if diff := cmp.Diff([]tools.Permission{tools.PermRead, tools.PermDelete}, fp.got[0].Permissions); diff != "" {
		t.Errorf("run permissions (-want +got):\n%s", diff)
	}

	m, _ = submit(t, m, "/clear")
	if len(m.entries) != 0 {
		t.Errorf("clear left %d entries", len(m.entries))
	}
}

func TestBusyRejectsSecondRun(t *testing.T) {
	m := sized(t, &fakePipeline{res: deleteResult()})
	m, _ = submit(t, m, "first")
	m, cmd := submit(t, m, "second")
	if cmd != nil || len(m.entries) != 1 || !m.entries[0].notice {
		t.Errorf("entries = %+v", m.entries)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "ok"},
		{"multi\nline   text", "multi line text"},
		{map[string]any{"id": "a"}, `{"id":"a"}`},
		{strings.Repeat("x", maxOutputLen+5), strings.Repeat("x", maxOutputLen) + "..."},
	}
	for _, tt := range tests {
		if got := summarize(tt.in); got != tt.want {
			t.Errorf("summarize(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
