// Package orchestrator runs the full pipeline for one request: derive the
// intent, plan it, preview each step and execute the plan.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opera-os/opera/internal/executor"
	"github.com/opera-os/opera/internal/reasoning"
	"github.com/opera-os/opera/internal/tools"
	"github.com/opera-os/opera/internal/types"
)

// ErrEmptyInput is returned by Run when the request has no text.
var ErrEmptyInput = errors.New("user input is empty")

// RunRequest is one pipeline invocation. A nil Permissions grants the
// default read and write permissions.
type RunRequest struct {
	Input       string             `json:"user_input"`
	Context     map[string]any     `json:"context,omitempty"`
	Permissions []tools.Permission `json:"allowed_permissions,omitempty"`
}

// RunResult is everything the pipeline produced for a request.
type RunResult struct {
	Intent    types.Intent               `json:"intent"`
	Plan      types.Plan                 `json:"plan"`
	Previews  []types.ActionPreview      `json:"previews"`
	Execution *types.PlanExecutionResult `json:"execution"`
	ElapsedMs int64                      `json:"elapsed_ms"`
}

// Stats counts pipeline runs since start.
type Stats struct {
	Runs      int64     `json:"runs"`
	Succeeded int64     `json:"succeeded"`
	Failed    int64     `json:"failed"`
	LastRunAt time.Time `json:"last_run_at,omitzero"`
	StartedAt time.Time `json:"started_at"`
}

// Orchestrator ties the reasoning engine, the executor and the tool
// registry together.
type Orchestrator struct {
	engine   *reasoning.Engine
	executor *executor.Executor
	registry *tools.Registry
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates an orchestrator.
func New(engine *reasoning.Engine, exec *executor.Executor, registry *tools.Registry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		engine:   engine,
		executor: exec,
		registry: registry,
		logger:   logger.With("component", "orchestrator"),
		stats:    Stats{StartedAt: time.Now()},
	}
}

// Run performs DeriveIntent, GeneratePlan, PreviewPlan and Execute in order.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	start := time.Now()

	intent := o.engine.DeriveIntent(ctx, input, req.Context)
	plan := o.engine.GeneratePlan(ctx, intent)
	previews := o.engine.PreviewPlan(plan)

	o.logger.Info("running plan",
		"plan_id", plan.PlanID,
		"category", intent.Category,
		"steps", len(plan.Steps),
		"high_risk", countRisk(previews, types.RiskHigh),
	)

	exec := o.executor.Execute(ctx, plan, req.Permissions)

	res := &RunResult{
		Intent:    intent,
		Plan:      plan,
		Previews:  previews,
		Execution: exec,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	o.record(exec.Success)
	return res, nil
}

// DeriveIntent exposes the engine for callers that drive the stages
// one at a time.
func (o *Orchestrator) DeriveIntent(ctx context.Context, input string, userContext map[string]any) types.Intent {
	return o.engine.DeriveIntent(ctx, input, userContext)
}

func (o *Orchestrator) GeneratePlan(ctx context.Context, intent types.Intent) types.Plan {
	return o.engine.GeneratePlan(ctx, intent)
}

func (o *Orchestrator) PreviewAction(step types.PlanStep) types.ActionPreview {
	return o.engine.PreviewAction(step)
}

// Execute runs a caller-supplied plan.
func (o *Orchestrator) Execute(ctx context.Context, plan types.Plan, allowed []tools.Permission) *types.PlanExecutionResult {
	res := o.executor.Execute(ctx, plan, allowed)
	o.record(res.Success)
	return res
}

// Describe returns the schemas of every registered tool in registration order.
func (o *Orchestrator) Describe() []tools.Schema {
	return o.registry.AllSchemas()
}

// ToolCount returns the number of registered tools.
func (o *Orchestrator) ToolCount() int { return o.registry.Len() }

// ProviderName returns the completion backend in use, or "rules".
func (o *Orchestrator) ProviderName() string { return o.engine.ProviderName() }

// Stats returns a snapshot of the run counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

func (o *Orchestrator) record(success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Runs++
	if success {
		o.stats.Succeeded++
	} else {
		o.stats.Failed++
	}
	o.stats.LastRunAt = time.Now()
}

func countRisk(previews []types.ActionPreview, level types.RiskLevel) int {
	n := 0
	for _, p := range previews {
		if p.RiskLevel == level {
			n++
		}
	}
	return n
}
