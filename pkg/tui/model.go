// Package tui is the live terminal view for an exploration run: counters
// update as the engine emits events, mismatches scroll in as they are found.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/riftlabs/rift/pkg/runtime"
	"github.com/riftlabs/rift/pkg/trace"
)

const maxRecent = 12

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("40"))
	badStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// EventMsg delivers one engine event to the view. The explore command wires
// the engine's Events callback to p.Send of these.
type EventMsg struct {
	Type trace.EventType
	Data map[string]any
}

// DoneMsg signals run completion.
type DoneMsg struct {
	Summary *runtime.Summary
	Err     error
}

// Model is the Bubble Tea model for rift explore --tui.
type Model struct {
	specRef string
	targetA string
	targetB string

	spinner spinner.Model
	status  string // "running", "completed", "failed"

	operations int
	cases      int
	chains     int
	mismatched int
	bundles    int
	degraded   int

	recent  []string
	summary *runtime.Summary
	err     error

	width  int
	height int
	cancel context.CancelFunc
}

// NewModel creates the live view. cancel stops the engine when the user
// quits mid-run.
func NewModel(specRef, targetA, targetB string, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warnStyle
	return Model{
		specRef: specRef,
		targetA: targetA,
		targetB: targetB,
		spinner: sp,
		status:  "running",
		cancel:  cancel,
	}
}

// Summary returns the final run summary, nil until DoneMsg arrived.
func (m Model) Summary() *runtime.Summary { return m.summary }

// Err returns the run error, if the run failed.
func (m Model) Err() error { return m.err }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.apply(msg)

	case DoneMsg:
		m.summary = msg.Summary
		m.err = msg.Err
		if msg.Err != nil {
			m.status = "failed"
		} else {
			m.status = "completed"
		}
	}
	return m, nil
}

// apply folds one engine event into the counters.
func (m *Model) apply(msg EventMsg) {
	d := msg.Data
	switch msg.Type {
	case trace.EventRunStart:
		m.operations = asInt(d["operations"])

	case trace.EventCaseResult:
		m.cases++
		if n := asInt(d["mismatches"]); n > 0 {
			m.mismatched++
			m.push(fmt.Sprintf("✗ %v #%v: %d mismatches", d["operation"], d["seq"], n))
		}

	case trace.EventChainResult:
		m.chains++
		if n := asInt(d["mismatches"]); n > 0 {
			m.mismatched++
			m.push(fmt.Sprintf("✗ chain %v: %d mismatches", d["sequence"], n))
		}
		if b, _ := d["degraded"].(bool); b {
			m.degraded++
			m.push(fmt.Sprintf("⊘ chain %v degraded", d["sequence"]))
		}

	case trace.EventBundleWritten:
		m.bundles++
		m.push(fmt.Sprintf("● bundle %v", d["key"]))
	}
}

func (m *Model) push(line string) {
	m.recent = append(m.recent, line)
	if len(m.recent) > maxRecent {
		m.recent = m.recent[len(m.recent)-maxRecent:]
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("  rift explore: %s", m.specRef)))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(fmt.Sprintf("  %s vs %s", m.targetA, m.targetB)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "  operations %d   cases %d   chains %d\n", m.operations, m.cases, m.chains)
	line := fmt.Sprintf("  mismatched %d   bundles %d   degraded %d", m.mismatched, m.bundles, m.degraded)
	if m.mismatched > 0 {
		b.WriteString(badStyle.Render(line))
	} else {
		b.WriteString(line)
	}
	b.WriteString("\n\n")

	if len(m.recent) > 0 {
		for _, l := range m.recent {
			b.WriteString("  " + l + "\n")
		}
		b.WriteString("\n")
	}

	switch m.status {
	case "running":
		b.WriteString("  " + m.spinner.View() + labelStyle.Render(" exploring..."))
	case "completed":
		if m.summary != nil && m.summary.Mismatched > 0 {
			b.WriteString(badStyle.Render(fmt.Sprintf("  ✗ done: %d mismatched, %d bundles", m.summary.Mismatched, m.summary.Bundles)))
		} else {
			b.WriteString(okStyle.Render("  ✓ done: targets agree"))
		}
	case "failed":
		msg := ""
		if m.err != nil {
			msg = m.err.Error()
		}
		b.WriteString(badStyle.Render("  ✗ run failed: " + msg))
	}

	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("  q: quit"))
	b.WriteString("\n")
	return b.String()
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
