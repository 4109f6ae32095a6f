package reasoning

import (
	"strings"

	"github.com/google/uuid"

	"github.com/opera-os/opera/internal/types"
)

// RuleConfidence is the fixed confidence of keyword-derived intents.
const RuleConfidence = 0.85

type intentRule struct {
	keywords []string
	category types.Category
	prefix   string
}

// intentRules are checked in order; the first match wins.
var intentRules = []intentRule{
	{[]string{"find", "search", "what is"}, types.CategoryInformationRetrieval, "User wants to retrieve information: "},
	{[]string{"remember", "save", "store"}, types.CategoryMemoryStorage, "User wants to store a memory: "},
	{[]string{"delete", "remove"}, types.CategoryMemoryManagement, "User wants to delete information: "},
	{[]string{"create", "draft", "write"}, types.CategoryContentCreation, "User wants to create content: "},
	{[]string{"update", "edit", "modify"}, types.CategoryMemoryModification, "User wants to modify information: "},
	{[]string{"summarize", "summarise"}, types.CategorySummarization, "User wants a summary: "},
}

func deriveIntentRules(input string) types.Intent {
	text := strings.ToLower(input)
	category := types.CategoryGeneralInquiry
	prefix := "User wants to: "

match:
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				category = rule.category
				prefix = rule.prefix
				break match
			}
		}
	}

	return types.Intent{
		Category:    category,
		Description: prefix + input,
		Confidence:  RuleConfidence,
		Parameters:  map[string]any{"query": input},
	}
}

type stepTemplate struct {
	description string
	tool        string
	args        func(query string) map[string]any
}

type planTemplate struct {
	steps    []stepTemplate
	duration int
}

func queryArg(key string) func(string) map[string]any {
	return func(q string) map[string]any { return map[string]any{key: q} }
}

func noArgs(string) map[string]any { return map[string]any{} }

// planTemplates holds the fixed plan for each category.
var planTemplates = map[types.Category]planTemplate{
	types.CategoryInformationRetrieval: {
		steps: []stepTemplate{
			{"Embed user query", "embedder", queryArg("text")},
			{"Search vector database", "vector_db", func(string) map[string]any { return map[string]any{"op": "query"} }},
			{"Summarize results", "llm_summarizer", noArgs},
		},
		duration: 3,
	},
	types.CategoryMemoryStorage: {
		steps: []stepTemplate{
			{"Extract memory entities", "entity_extractor", queryArg("text")},
			{"Store in database", "db_writer", noArgs},
		},
		duration: 2,
	},
	types.CategoryMemoryManagement: {
		steps: []stepTemplate{
			{"Identify items to delete", "query_analyzer", queryArg("query")},
			{"Delete identified items", "db_deleter", noArgs},
		},
		duration: 5,
	},
	types.CategoryContentCreation: {
		steps: []stepTemplate{
			{"Retrieve relevant context", "vector_db", queryArg("query")},
			{"Draft content", "llm_writer", queryArg("prompt")},
			{"Review and refine", "llm_reviewer", noArgs},
		},
		duration: 10,
	},
	types.CategoryMemoryModification: {
		steps: []stepTemplate{
			{"Locate item to modify", "vector_db", queryArg("query")},
			{"Update located item", "db_updater", queryArg("content")},
		},
		duration: 4,
	},
	types.CategorySummarization: {
		steps: []stepTemplate{
			{"Retrieve recent memories", "memory_fetcher", noArgs},
			{"Generate summary", "llm_summarizer", noArgs},
		},
		duration: 5,
	},
	types.CategoryGeneralInquiry: {
		steps: []stepTemplate{
			{"Process general inquiry", "chat_model", queryArg("message")},
		},
		duration: 2,
	},
}

func generatePlanRules(intent types.Intent) types.Plan {
	tmpl, ok := planTemplates[intent.Category]
	if !ok {
		tmpl = planTemplates[types.CategoryGeneralInquiry]
	}

	query := intent.Query()
	steps := make([]types.PlanStep, len(tmpl.steps))
	for i, st := range tmpl.steps {
		steps[i] = types.PlanStep{
			StepID:        i + 1,
			Description:   st.description,
			ToolName:      st.tool,
			ToolArguments: st.args(query),
		}
	}

	return types.Plan{
		PlanID:                   uuid.NewString(),
		Steps:                    steps,
		EstimatedDurationSeconds: tmpl.duration,
	}
}

type previewRule struct {
	keywords []string
	preview  types.ActionPreview
}

// previewRules are checked in order against the lower-cased description.
var previewRules = []previewRule{
	{[]string{"delete", "remove"}, types.ActionPreview{
		PreviewMessage: "This action will permanently remove data.",
		SideEffects:    []string{"Data deletion", "Audit log entry"},
		RiskLevel:      types.RiskHigh,
	}},
	{[]string{"store", "save"}, types.ActionPreview{
		PreviewMessage: "This action will save new data to long-term memory.",
		SideEffects:    []string{"Database write"},
		RiskLevel:      types.RiskLow,
	}},
	{[]string{"modify", "update", "edit"}, types.ActionPreview{
		PreviewMessage: "This action will modify existing data.",
		SideEffects:    []string{"Database update", "Version history"},
		RiskLevel:      types.RiskMedium,
	}},
	{[]string{"draft", "write", "generate"}, types.ActionPreview{
		PreviewMessage: "This action generates new content but doesn't persist it yet.",
		SideEffects:    []string{"Compute usage"},
		RiskLevel:      types.RiskLow,
	}},
}

var readPreview = types.ActionPreview{
	PreviewMessage: "This action reads data or performs internal processing.",
	SideEffects:    []string{"Read access"},
	RiskLevel:      types.RiskLow,
}

// PreviewAction classifies a step by keywords in its description. It makes
// no provider calls and does no I/O.
func PreviewAction(step types.PlanStep) types.ActionPreview {
	desc := strings.ToLower(step.Description)
	for _, rule := range previewRules {
		for _, kw := range rule.keywords {
			if strings.Contains(desc, kw) {
				return clonePreview(rule.preview)
			}
		}
	}
	return clonePreview(readPreview)
}

// PreviewPlan previews every step of a plan in order.
func PreviewPlan(plan types.Plan) []types.ActionPreview {
	previews := make([]types.ActionPreview, len(plan.Steps))
	for i, step := range plan.Steps {
		previews[i] = PreviewAction(step)
	}
	return previews
}

func clonePreview(p types.ActionPreview) types.ActionPreview {
	p.SideEffects = append([]string(nil), p.SideEffects...)
	return p
}
