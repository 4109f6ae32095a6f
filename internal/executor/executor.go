// Package executor runs plans step by step against the tool registry,
// enforcing permissions and stopping at the first failing step.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opera-os/opera/internal/tools"
	"github.com/opera-os/opera/internal/types"
)

// ToolSource resolves tool names. *tools.Registry satisfies it.
type ToolSource interface {
	Get(name string) (*tools.Tool, bool)
}

// Observer is notified as a plan executes. Implementations must not block
// for long; they run on the execution goroutine.
type Observer interface {
	StepCompleted(ctx context.Context, planID string, result types.ExecutionResult)
	PlanCompleted(ctx context.Context, result *types.PlanExecutionResult)
}

// Executor runs plans.
type Executor struct {
	tools     ToolSource
	observers []Observer
	logger    *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithObserver attaches an observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// New creates an executor over src.
func New(src ToolSource, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		tools:  src,
		logger: logger.With("component", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the plan's steps in order. A nil allowed grants the default
// read and write permissions; a non-nil empty slice grants nothing.
// Execution stops at the first failing step.
func (e *Executor) Execute(ctx context.Context, plan types.Plan, allowed []tools.Permission) *types.PlanExecutionResult {
	if allowed == nil {
		allowed = tools.DefaultPermissions
	}

	ctx = tools.WithScratchpad(ctx, tools.NewScratchpad())
	result := &types.PlanExecutionResult{
		PlanID:  plan.PlanID,
		Success: true,
		Results: make([]types.ExecutionResult, 0, len(plan.Steps)),
	}
	start := time.Now()
	log := e.logger.With("plan_id", plan.PlanID)

	for _, step := range plan.Steps {
		res := e.runStep(ctx, step, allowed)
		result.Results = append(result.Results, res)
		e.notifyStep(ctx, plan.PlanID, res)

		if !res.Success {
			result.Success = false
			result.Error = fmt.Sprintf("Step %d failed: %s", step.StepID, res.Error)
			log.Warn("plan aborted", "step_id", step.StepID, "tool", step.ToolName, "error", res.Error)
			break
		}
		log.Debug("step completed", "step_id", step.StepID, "tool", step.ToolName)
	}

	if result.Success {
		log.Info("plan completed", "steps", len(result.Results), "elapsed", time.Since(start))
	}
	e.notifyPlan(ctx, result)
	return result
}

func (e *Executor) runStep(ctx context.Context, step types.PlanStep, allowed []tools.Permission) types.ExecutionResult {
	if step.ToolName == "" {
		return types.ExecutionResult{
			StepID:  step.StepID,
			Success: true,
			Output:  fmt.Sprintf("Skipped: %s (no tool specified)", step.Description),
		}
	}

	tool, ok := e.tools.Get(step.ToolName)
	if !ok {
		return failure(step, fmt.Sprintf("Tool '%s' not found in registry", step.ToolName))
	}

	if missing, denied := tool.Schema.Requires(allowed); denied {
		return failure(step, fmt.Sprintf("Permission denied: tool requires %s", missing))
	}

	if err := ctx.Err(); err != nil {
		return failure(step, err.Error())
	}

	out, err := invoke(ctx, tool, step.ToolArguments)
	if err != nil {
		return failure(step, err.Error())
	}
	return types.ExecutionResult{StepID: step.StepID, Success: true, Output: out}
}

// invoke calls the tool on a copy of args and converts a panic into an error.
func invoke(ctx context.Context, tool *tools.Tool, args map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), r)
		}
	}()
	call := make(map[string]any, len(args))
	for k, v := range args {
		call[k] = v
	}
	return tool.Call(ctx, call)
}

func failure(step types.PlanStep, msg string) types.ExecutionResult {
	return types.ExecutionResult{StepID: step.StepID, Success: false, Error: msg}
}

func (e *Executor) notifyStep(ctx context.Context, planID string, res types.ExecutionResult) {
	for _, o := range e.observers {
		o.StepCompleted(ctx, planID, res)
	}
}

func (e *Executor) notifyPlan(ctx context.Context, res *types.PlanExecutionResult) {
	for _, o := range e.observers {
		o.PlanCompleted(ctx, res)
	}
}
