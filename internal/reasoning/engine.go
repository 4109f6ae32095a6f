// Package reasoning turns raw user input into intents and plans. A bound
// completion provider is tried first; keyword rules take over whenever it
// cannot produce a usable answer.
package reasoning

import (
	"context"
	"log/slog"
	"time"

	"github.com/opera-os/opera/internal/models"
	"github.com/opera-os/opera/internal/tools"
	"github.com/opera-os/opera/internal/types"
)

const (
	defaultTimeout = 30 * time.Second

	intentTemperature = 0.3
	intentMaxTokens   = 300
	planTemperature   = 0.3
	planMaxTokens     = 500
)

// Catalog supplies the tool schemas rendered into the planning prompt.
type Catalog interface {
	AllSchemas() []tools.Schema
}

// Engine derives intents, generates plans and previews steps.
type Engine struct {
	provider models.Provider
	catalog  Catalog
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithCatalog sets the catalog listed to the provider when planning.
func WithCatalog(c Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// New creates an engine. provider may be nil, in which case only the
// rule-based paths are used.
func New(provider models.Provider, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		timeout:  defaultTimeout,
		logger:   logger.With("component", "reasoning"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProviderName returns the bound provider's name or "rules".
func (e *Engine) ProviderName() string {
	if e.provider == nil {
		return "rules"
	}
	return e.provider.Name()
}

// DeriveIntent classifies input. It never fails: provider errors and
// malformed answers fall back to keyword rules.
func (e *Engine) DeriveIntent(ctx context.Context, input string, userContext map[string]any) types.Intent {
	if e.provider == nil {
		return deriveIntentRules(input)
	}

	resp, err := e.complete(ctx, intentMessages(input, userContext), models.Options{
		Temperature: intentTemperature,
		MaxTokens:   intentMaxTokens,
	})
	if err != nil {
		e.logger.Warn("intent derivation failed, falling back to rules", "error", err)
		return deriveIntentRules(input)
	}

	intent, err := parseIntent(resp, input)
	if err != nil {
		e.logger.Warn("unusable intent response, falling back to rules", "error", err)
		return deriveIntentRules(input)
	}
	e.logger.Debug("intent derived", "category", intent.Category, "confidence", intent.Confidence)
	return intent
}

// GeneratePlan expands an intent into ordered steps. Every call yields a
// fresh plan ID.
func (e *Engine) GeneratePlan(ctx context.Context, intent types.Intent) types.Plan {
	if e.provider == nil {
		return generatePlanRules(intent)
	}

	var catalog []tools.Schema
	if e.catalog != nil {
		catalog = e.catalog.AllSchemas()
	}
	resp, err := e.complete(ctx, planMessages(intent, catalog), models.Options{
		Temperature: planTemperature,
		MaxTokens:   planMaxTokens,
	})
	if err != nil {
		e.logger.Warn("plan generation failed, falling back to rules", "error", err)
		return generatePlanRules(intent)
	}

	plan, err := parsePlan(resp)
	if err != nil {
		e.logger.Warn("unusable plan response, falling back to rules", "error", err)
		return generatePlanRules(intent)
	}
	e.logger.Debug("plan generated", "plan_id", plan.PlanID, "steps", len(plan.Steps))
	return plan
}

// PreviewAction previews a single step.
func (e *Engine) PreviewAction(step types.PlanStep) types.ActionPreview {
	return PreviewAction(step)
}

// PreviewPlan previews all steps of a plan.
func (e *Engine) PreviewPlan(plan types.Plan) []types.ActionPreview {
	return PreviewPlan(plan)
}

func (e *Engine) complete(ctx context.Context, msgs []models.Message, opts models.Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.provider.Complete(ctx, msgs, opts)
}
