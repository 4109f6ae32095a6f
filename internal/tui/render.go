package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/opera-os/opera/internal/orchestrator"
	"github.com/opera-os/opera/internal/types"
)

const maxOutputLen = 240

var (
	primaryColor   = lipgloss.Color("#7C3AED") // violet
	secondaryColor = lipgloss.Color("#06B6D4") // cyan
	mutedColor     = lipgloss.Color("#6B7280")
	successColor   = lipgloss.Color("#10B981")
	errorColor     = lipgloss.Color("#EF4444")
	warnColor      = lipgloss.Color("#F59E0B")

	sidebarStyle = lipgloss.NewStyle().
			Width(sidebarWidth - 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 1)

	sidebarTitle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	metricStyle  = lipgloss.NewStyle().Foreground(mutedColor).PaddingLeft(1)

	outputBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	footerStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	userStyle    = lipgloss.NewStyle().Foreground(secondaryColor).Bold(true)
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5E7EB"))
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warnColor).Bold(true)

	riskStyles = map[types.RiskLevel]lipgloss.Style{
		types.RiskLow:    lipgloss.NewStyle().Foreground(successColor).Bold(true),
		types.RiskMedium: lipgloss.NewStyle().Foreground(warnColor).Bold(true),
		types.RiskHigh:   lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}
)

// riskBadge renders a fixed-width label for a preview's risk level.
func riskBadge(level types.RiskLevel) string {
	label := fmt.Sprintf("[%-6s]", strings.ToUpper(string(level)))
	if st, ok := riskStyles[level]; ok {
		return st.Render(label)
	}
	return label
}

// renderResult lays out a run as intent, plan with previews, then outcome.
func renderResult(res *orchestrator.RunResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "intent  %s (%.2f)\n", res.Intent.Category, res.Intent.Confidence)
	if res.Intent.Description != "" {
		fmt.Fprintf(&sb, "        %s\n", res.Intent.Description)
	}

	outcomes := map[int]types.ExecutionResult{}
	if res.Execution != nil {
		for _, r := range res.Execution.Results {
			outcomes[r.StepID] = r
		}
	}

	sb.WriteString("plan\n")
	for i, step := range res.Plan.Steps {
		badge := riskBadge(types.RiskLow)
		if i < len(res.Previews) {
			badge = riskBadge(res.Previews[i].RiskLevel)
		}
		tool := step.ToolName
		if tool == "" {
			tool = "-"
		}
		fmt.Fprintf(&sb, "  %d. %s %s (%s)\n", step.StepID, badge, step.Description, tool)

		r, ran := outcomes[step.StepID]
		switch {
		case !ran:
			sb.WriteString("       · not run\n")
		case r.Success:
			fmt.Fprintf(&sb, "       ✓ %s\n", summarize(r.Output))
		default:
			fmt.Fprintf(&sb, "       ✗ %s\n", r.Error)
		}
	}

	switch {
	case res.Execution == nil:
		sb.WriteString("not executed")
	case res.Execution.Success:
		fmt.Fprintf(&sb, "done in %dms", res.ElapsedMs)
	default:
		msg := res.Execution.Error
		if msg == "" {
			msg = "plan failed"
		}
		fmt.Fprintf(&sb, "failed: %s", msg)
	}
	return sb.String()
}

// summarize shows strings as-is and everything else as compact JSON, cut
// to one screen line.
func summarize(v any) string {
	var s string
	switch out := v.(type) {
	case nil:
		return "ok"
	case string:
		s = out
	default:
		b, err := json.Marshal(out)
		if err != nil {
			s = fmt.Sprint(out)
		} else {
			s = string(b)
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxOutputLen {
		s = string(r[:maxOutputLen]) + "..."
	}
	return s
}
