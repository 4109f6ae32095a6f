// Package types provides the value objects that flow through the pipeline:
// intents, plans, previews and execution results. They live here so the
// reasoning, executor and api packages can share them without import cycles.
package types

import "fmt"

// Category classifies what the user is asking for.
type Category string

const (
	CategoryInformationRetrieval Category = "information_retrieval"
	CategoryMemoryStorage        Category = "memory_storage"
	CategoryMemoryManagement     Category = "memory_management"
	CategoryContentCreation      Category = "content_creation"
	CategoryMemoryModification   Category = "memory_modification"
	CategorySummarization        Category = "summarization"
	CategoryGeneralInquiry       Category = "general_inquiry"
)

// Categories returns every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryInformationRetrieval,
		CategoryMemoryStorage,
		CategoryMemoryManagement,
		CategoryContentCreation,
		CategoryMemoryModification,
		CategorySummarization,
		CategoryGeneralInquiry,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Intent is the structured reading of a user's request.
type Intent struct {
	Category    Category       `json:"category"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Parameters  map[string]any `json:"parameters"`
}

// Query returns the "query" parameter as a string, or "" when absent.
func (i Intent) Query() string {
	if i.Parameters == nil {
		return ""
	}
	switch v := i.Parameters["query"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// PlanStep is one unit of work in a plan. An empty ToolName marks an
// informational step that the executor skips.
type PlanStep struct {
	StepID        int            `json:"step_id"`
	Description   string         `json:"description"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolArguments map[string]any `json:"tool_arguments,omitempty"`
}

// Plan is an ordered list of steps. Slice order is execution order.
type Plan struct {
	PlanID                   string     `json:"plan_id"`
	Steps                    []PlanStep `json:"steps"`
	EstimatedDurationSeconds int        `json:"estimated_duration_seconds"`
}

// RiskLevel grades how dangerous a step is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ActionPreview describes what a step will do before it runs.
type ActionPreview struct {
	PreviewMessage string    `json:"preview_message"`
	SideEffects    []string  `json:"side_effects"`
	RiskLevel      RiskLevel `json:"risk_level"`
}

// ExecutionResult is the outcome of one attempted step.
type ExecutionResult struct {
	StepID  int    `json:"step_id"`
	Success bool   `json:"success"`
	Output  any    `json:"output"`
	Error   string `json:"error,omitempty"`
}

// PlanExecutionResult is the outcome of a whole plan. Results holds one
// entry per attempted step; Error is set when execution stopped early.
type PlanExecutionResult struct {
	PlanID  string            `json:"plan_id"`
	Success bool              `json:"success"`
	Results []ExecutionResult `json:"steps"`
	Error   string            `json:"error,omitempty"`
}
