package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opera-os/opera/internal/models"
	"github.com/opera-os/opera/internal/tools"
	"github.com/opera-os/opera/internal/types"
)

const intentSystemPrompt = `You are Opera, a personal intelligence operating system. Your job is to understand what the user wants to do.

Given the user's input and any available context, derive their intent.

Classify the intent into one of these categories:
- information_retrieval: User wants to find or recall information
- memory_storage: User wants to remember something for later
- memory_management: User wants to delete memories
- content_creation: User wants to create new content (drafts, notes, etc.)
- memory_modification: User wants to update existing information
- summarization: User wants a summary of events or memories
- general_inquiry: General questions or unclear intent

Extract any relevant parameters from the user's input. Always include a "query" parameter holding the subject of the request.

Respond with a single JSON object and nothing else:
{
  "category": "category_name",
  "description": "clear description of what user wants",
  "confidence": 0.0-1.0,
  "parameters": {"key": "value"}
}`

const planSystemPromptHead = `You are Opera's planning engine. Given a user's intent, generate a detailed execution plan.

Break down the intent into discrete steps. Each step should specify:
- A clear description
- The tool to use (omit tool_name for purely informational steps)
- Arguments for the tool

Available tools:
`

const planSystemPromptTail = `
Respond with a single JSON object and nothing else:
{
  "steps": [
    {
      "step_id": 1,
      "description": "step description",
      "tool_name": "tool_name",
      "tool_arguments": {"key": "value"}
    }
  ],
  "estimated_duration_seconds": 5
}`

// defaultToolCatalog is rendered when the engine has no live catalog.
var defaultToolCatalog = []tools.Schema{
	{Name: "embedder", Description: "Generate embeddings for text"},
	{Name: "vector_db", Description: "Search or store in vector database"},
	{Name: "llm_summarizer", Description: "Summarize information"},
	{Name: "entity_extractor", Description: "Extract entities from text"},
	{Name: "db_writer", Description: "Write to database"},
	{Name: "db_deleter", Description: "Delete from database"},
	{Name: "db_updater", Description: "Update database records"},
	{Name: "query_analyzer", Description: "Analyze queries"},
	{Name: "memory_fetcher", Description: "Fetch memories"},
	{Name: "llm_writer", Description: "Generate content with LLM"},
	{Name: "llm_reviewer", Description: "Review and refine content"},
	{Name: "chat_model", Description: "General conversation"},
}

func intentMessages(input string, userContext map[string]any) []models.Message {
	user := input
	if len(userContext) > 0 {
		user += "\n\nAdditional context: " + render(userContext)
	}
	return []models.Message{
		{Role: models.RoleSystem, Content: intentSystemPrompt},
		{Role: models.RoleUser, Content: user},
	}
}

func planMessages(intent types.Intent, catalog []tools.Schema) []models.Message {
	if len(catalog) == 0 {
		catalog = defaultToolCatalog
	}
	var sb strings.Builder
	sb.WriteString(planSystemPromptHead)
	for _, s := range catalog {
		fmt.Fprintf(&sb, "- %s: %s", s.Name, s.Description)
		if len(s.Permissions) > 0 {
			perms := make([]string, len(s.Permissions))
			for i, p := range s.Permissions {
				perms[i] = string(p)
			}
			fmt.Fprintf(&sb, " (requires %s)", strings.Join(perms, ", "))
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(planSystemPromptTail)

	user := fmt.Sprintf("Intent: %s\nCategory: %s", intent.Description, intent.Category)
	if len(intent.Parameters) > 0 {
		user += "\nParameters: " + render(intent.Parameters)
	}
	return []models.Message{
		{Role: models.RoleSystem, Content: sb.String()},
		{Role: models.RoleUser, Content: user},
	}
}

func render(v map[string]any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
