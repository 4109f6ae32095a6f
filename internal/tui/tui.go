// Package tui is a terminal front end for the pipeline. Each entered line
// runs through intent, plan, preview and execution, and the result is shown
// with a risk badge per step.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/opera-os/opera/internal/orchestrator"
	"github.com/opera-os/opera/internal/tools"
)

// Pipeline is the part of the orchestrator the TUI drives.
type Pipeline interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.RunResult, error)
	Stats() orchestrator.Stats
	ProviderName() string
	ToolCount() int
}

const sidebarWidth = 30

// Run starts the program on the alternate screen and blocks until the user
// quits or ctx is cancelled.
func Run(ctx context.Context, p Pipeline, perms []tools.Permission) error {
	prog := tea.NewProgram(New(ctx, p, perms), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := prog.Run()
	return err
}

// Bubble Tea messages

type runDoneMsg struct {
	input  string
	result *orchestrator.RunResult
	err    error
}

type tickMsg struct{}

// Model is the Bubble Tea model.
type Model struct {
	ctx      context.Context
	pipeline Pipeline
	perms    []tools.Permission

	input   textarea.Model
	output  viewport.Model
	entries []entry
	running bool

	width  int
	height int
	ready  bool
}

type entry struct {
	at     time.Time
	input  string
	body   string
	failed bool
	notice bool
}

// New creates the model. perms are the permissions granted to every run
// until changed with /perms.
func New(ctx context.Context, p Pipeline, perms []tools.Permission) Model {
	ti := textarea.New()
	ti.Placeholder = "Ask something, or /perms read,write,delete"
	ti.Focus()
	ti.CharLimit = 4096
	ti.SetHeight(3)
	ti.ShowLineNumbers = false
	ti.KeyMap.InsertNewline.SetEnabled(false)

	if perms == nil {
		perms = tools.DefaultPermissions
	}
	return Model{ctx: ctx, pipeline: p, perms: perms, input: ti}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			if strings.HasPrefix(text, "/") {
				m.command(text)
				m.refresh()
				return m, nil
			}
			if m.running {
				m.notice("A request is still running.")
				m.refresh()
				return m, nil
			}
			m.running = true
			m.refresh()
			return m, m.runCmd(text)
		}

	case runDoneMsg:
		m.running = false
		e := entry{at: time.Now(), input: msg.input}
		if msg.err != nil {
			e.body, e.failed = "error: "+msg.err.Error(), true
		} else {
			e.body = renderResult(msg.result)
			e.failed = !msg.result.Execution.Success
		}
		m.entries = append(m.entries, e)
		m.refresh()
		return m, nil

	case tickMsg:
		cmds = append(cmds, tickCmd())

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		w, h := m.width-sidebarWidth-3, m.height-8
		if !m.ready {
			m.output = viewport.New(w, h)
			m.ready = true
		} else {
			m.output.Width, m.output.Height = w, h
		}
		m.input.SetWidth(w - 2)
		m.refresh()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.output, cmd = m.output.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) runCmd(text string) tea.Cmd {
	ctx, p := m.ctx, m.pipeline
	perms := append([]tools.Permission(nil), m.perms...)
	return func() tea.Msg {
		res, err := p.Run(ctx, orchestrator.RunRequest{
			Input:       text,
			Context:     map[string]any{"source": "tui"},
			Permissions: perms,
		})
		return runDoneMsg{input: text, result: res, err: err}
	}
}

// command handles slash commands typed into the input.
func (m *Model) command(text string) {
	name, arg, _ := strings.Cut(text, " ")
	switch name {
	case "/perms":
		if strings.TrimSpace(arg) == "" {
			m.notice("permissions: " + joinPerms(m.perms))
			return
		}
		perms, err := tools.ParsePermissions(strings.Split(arg, ","))
		if err != nil {
			m.notice(err.Error())
			return
		}
		m.perms = perms
		m.notice("permissions set to " + joinPerms(perms))
	case "/clear":
		m.entries = nil
	default:
		m.notice("unknown command " + name + " (try /perms or /clear)")
	}
}

func (m *Model) notice(text string) {
	m.entries = append(m.entries, entry{at: time.Now(), body: text, notice: true})
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.output.SetContent(m.renderEntries())
	m.output.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing Opera..."
	}

	state := successStyle.Render("● READY")
	if m.running {
		state = warnStyle.Render("◉ RUNNING")
	}
	header := headerStyle.Width(m.width).Render("  Opera  " + state)

	right := lipgloss.JoinVertical(lipgloss.Left,
		outputBorder.Width(m.width-sidebarWidth-3).Render(m.output.View()),
		m.input.View(),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), " ", right)
	footer := footerStyle.Render("  Enter: run │ /perms a,b: set permissions │ /clear │ Esc: quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m Model) renderSidebar() string {
	stats := m.pipeline.Stats()
	var sb strings.Builder

	sb.WriteString(sidebarTitle.Render("Pipeline"))
	sb.WriteString("\n")
	line := func(format string, args ...any) {
		sb.WriteString(metricStyle.Render(fmt.Sprintf(format, args...)))
		sb.WriteString("\n")
	}
	line("provider: %s", m.pipeline.ProviderName())
	line("tools: %d", m.pipeline.ToolCount())
	line("perms: %s", joinPerms(m.perms))
	sb.WriteString("\n")

	sb.WriteString(sidebarTitle.Render("Runs"))
	sb.WriteString("\n")
	line("total: %d", stats.Runs)
	line("ok: %d", stats.Succeeded)
	line("failed: %d", stats.Failed)
	line("up: %s", formatDuration(time.Since(stats.StartedAt)))

	return sidebarStyle.Height(max(m.height-4, 1)).Render(sb.String())
}

func (m Model) renderEntries() string {
	if len(m.entries) == 0 {
		return mutedStyle.Padding(1).Render("Nothing yet. Type a request, e.g. \"Remember that the plumber comes Tuesday\".")
	}
	var sb strings.Builder
	for _, e := range m.entries {
		ts := mutedStyle.Render(e.at.Format("15:04"))
		switch {
		case e.notice:
			fmt.Fprintf(&sb, "%s %s\n\n", ts, mutedStyle.Render(e.body))
		default:
			fmt.Fprintf(&sb, "%s %s %s\n", ts, userStyle.Render("[You]"), e.input)
			style := textStyle
			if e.failed {
				style = errorStyle
			}
			fmt.Fprintf(&sb, "%s\n\n", style.Render(e.body))
		}
	}
	return sb.String()
}

func joinPerms(perms []tools.Permission) string {
	if len(perms) == 0 {
		return "none"
	}
	s := make([]string, len(perms))
	for i, p := range perms {
		s[i] = string(p)
	}
	return strings.Join(s, ",")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}
