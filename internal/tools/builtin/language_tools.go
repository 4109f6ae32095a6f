package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opera-os/opera/internal/memory"
	"github.com/opera-os/opera/internal/models"
	"github.com/opera-os/opera/internal/tools"
)

const assistantPrompt = "You are Opera, a personal intelligence operating system. Answer concisely using the user's own notes when they are provided."

type languageTools struct {
	provider models.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

func (l *languageTools) catalog() []*tools.Tool {
	return []*tools.Tool{
		tools.NewTool(schema("llm_summarizer", "Summarize information", "summary text", readOnly,
			param("text", "string", "text to summarize; defaults to located memories", false)), l.summarize),
		tools.NewTool(schema("llm_writer", "Generate content with LLM", "draft text", readOnly,
			param("prompt", "string", "what to write", true)), l.write),
		tools.NewTool(schema("llm_reviewer", "Review and refine content", "reviewed text", readOnly,
			param("text", "string", "text to review; defaults to the current draft", false)), l.review),
		tools.NewTool(schema("chat_model", "General conversation", "reply text", readOnly,
			param("message", "string", "user message", true)), l.chat),
	}
}

func (l *languageTools) summarize(ctx context.Context, args map[string]any) (any, error) {
	sp := tools.ScratchpadFrom(ctx)
	text := tools.StringArg(args, "text", "")
	matches := matchesFrom(sp)
	if text == "" && len(matches) == 0 {
		return "No relevant memories found.", nil
	}
	if text == "" {
		text = bulletList(matches)
	}

	if l.provider != nil {
		out, err := l.complete(ctx,
			"Summarize the following notes for the user in a few sentences.",
			question(sp)+text)
		if err == nil {
			return out, nil
		}
		l.logger.Warn("summarizer falling back to extractive summary", "error", err)
	}
	if len(matches) == 0 {
		return firstSentences(text, 3), nil
	}
	return fmt.Sprintf("Found %d related memories:\n%s", len(matches), bulletList(matches)), nil
}

func (l *languageTools) write(ctx context.Context, args map[string]any) (any, error) {
	sp := tools.ScratchpadFrom(ctx)
	prompt := tools.StringArg(args, "prompt", sp.String(KeyQuery))
	if prompt == "" {
		return nil, errors.New("llm_writer: prompt is required")
	}
	matches := matchesFrom(sp)

	var draft string
	if l.provider != nil {
		user := prompt
		if len(matches) > 0 {
			user += "\n\nRelevant notes:\n" + bulletList(matches)
		}
		out, err := l.complete(ctx, "Write the requested content. Use the notes where they help.", user)
		if err == nil {
			draft = out
		} else {
			l.logger.Warn("writer falling back to template", "error", err)
		}
	}
	if draft == "" {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Draft: %s\n", prompt)
		if len(matches) > 0 {
			sb.WriteString("\nBased on:\n")
			sb.WriteString(bulletList(matches))
		}
		draft = strings.TrimRight(sb.String(), "\n")
	}
	sp.Set(KeyDraft, draft)
	return draft, nil
}

func (l *languageTools) review(ctx context.Context, args map[string]any) (any, error) {
	sp := tools.ScratchpadFrom(ctx)
	text := tools.StringArg(args, "text", sp.String(KeyDraft))
	if text == "" {
		return nil, errors.New("llm_reviewer: nothing to review")
	}
	if l.provider == nil {
		return text, nil
	}
	out, err := l.complete(ctx, "Review the draft. Fix errors and tighten the wording. Reply with the improved draft only.", text)
	if err != nil {
		l.logger.Warn("reviewer returning draft unchanged", "error", err)
		return text, nil
	}
	sp.Set(KeyDraft, out)
	return out, nil
}

func (l *languageTools) chat(ctx context.Context, args map[string]any) (any, error) {
	msg := tools.StringArg(args, "message", tools.ScratchpadFrom(ctx).String(KeyQuery))
	if msg == "" {
		return nil, errors.New("chat_model: message is required")
	}
	if l.provider != nil {
		out, err := l.complete(ctx, assistantPrompt, msg)
		if err == nil {
			return out, nil
		}
		l.logger.Warn("chat model unavailable", "error", err)
	}
	return fmt.Sprintf("No language model is available right now. I received: %q", msg), nil
}

func (l *languageTools) complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	out, err := l.provider.Complete(ctx, []models.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: user},
	}, models.Options{Temperature: 0.5, MaxTokens: 800})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("empty completion")
	}
	return out, nil
}

func question(sp *tools.Scratchpad) string {
	if q := sp.String(KeyQuery); q != "" {
		return "Question: " + q + "\n\n"
	}
	return ""
}

func bulletList(ms []memory.Memory) string {
	var sb strings.Builder
	for _, m := range ms {
		fmt.Fprintf(&sb, "- %s\n", m.Content)
	}
	return sb.String()
}

// firstSentences returns up to n sentences of text.
func firstSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return text[:i+1]
			}
		}
	}
	return text
}
