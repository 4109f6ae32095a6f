package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/opera-os/opera/internal/types"
)

var errNoJSON = errors.New("no JSON object in response")

// maxDurationSeconds caps model estimates at one day.
const maxDurationSeconds = 24 * 60 * 60

// extractJSON returns the first complete JSON object in s. Models often wrap
// the object in a code fence or add prose around it.
func extractJSON(s string) ([]byte, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, errNoJSON
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return raw, nil
}

type llmIntent struct {
	Category    *string        `json:"category"`
	Description *string        `json:"description"`
	Confidence  *float64       `json:"confidence"`
	Parameters  map[string]any `json:"parameters"`
}

func parseIntent(response, input string) (types.Intent, error) {
	raw, err := extractJSON(response)
	if err != nil {
		return types.Intent{}, err
	}
	var li llmIntent
	if err := json.Unmarshal(raw, &li); err != nil {
		return types.Intent{}, fmt.Errorf("decode intent: %w", err)
	}

	if li.Category == nil {
		return types.Intent{}, errors.New("intent without category")
	}
	category := types.Category(strings.ToLower(strings.TrimSpace(*li.Category)))
	if !category.Valid() {
		return types.Intent{}, fmt.Errorf("unknown category %q", *li.Category)
	}

	intent := types.Intent{
		Category:    category,
		Description: input,
		Confidence:  0.8,
		Parameters:  li.Parameters,
	}
	if li.Description != nil && strings.TrimSpace(*li.Description) != "" {
		intent.Description = *li.Description
	}
	if li.Confidence != nil {
		intent.Confidence = clamp(*li.Confidence)
	}
	if intent.Parameters == nil {
		intent.Parameters = map[string]any{}
	}
	// Rule plans feed the query to their first step.
	if _, ok := intent.Parameters["query"]; !ok {
		intent.Parameters["query"] = input
	}
	return intent, nil
}

type llmStep struct {
	StepID        *int           `json:"step_id"`
	Description   string         `json:"description"`
	ToolName      *string        `json:"tool_name"`
	ToolArguments map[string]any `json:"tool_arguments"`
}

type llmPlan struct {
	Steps    []llmStep `json:"steps"`
	Duration *float64  `json:"estimated_duration_seconds"`
}

func parsePlan(response string) (types.Plan, error) {
	raw, err := extractJSON(response)
	if err != nil {
		return types.Plan{}, err
	}
	var lp llmPlan
	if err := json.Unmarshal(raw, &lp); err != nil {
		return types.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if len(lp.Steps) == 0 {
		return types.Plan{}, errors.New("plan has no steps")
	}

	seen := make(map[int]bool, len(lp.Steps))
	steps := make([]types.PlanStep, 0, len(lp.Steps))
	for i, s := range lp.Steps {
		id := i + 1
		if s.StepID != nil {
			id = *s.StepID
		}
		if id <= 0 {
			return types.Plan{}, fmt.Errorf("step %d: non-positive step_id %d", i+1, id)
		}
		if seen[id] {
			return types.Plan{}, fmt.Errorf("duplicate step_id %d", id)
		}
		seen[id] = true

		step := types.PlanStep{
			StepID:        id,
			Description:   s.Description,
			ToolArguments: s.ToolArguments,
		}
		if s.ToolName != nil {
			step.ToolName = strings.TrimSpace(*s.ToolName)
		}
		if step.ToolArguments == nil {
			step.ToolArguments = map[string]any{}
		}
		steps = append(steps, step)
	}

	duration := 5
	if lp.Duration != nil && *lp.Duration >= 0 {
		duration = int(min(*lp.Duration, maxDurationSeconds))
	}

	return types.Plan{
		PlanID:                   uuid.NewString(),
		Steps:                    steps,
		EstimatedDurationSeconds: duration,
	}, nil
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
