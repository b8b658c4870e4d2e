package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/distrogate/internal/events"
)

// ProgressPaneModel shows the gate decision, stage counts and the outcome.
type ProgressPaneModel struct {
	runID     string
	target    string
	gate      string
	outcome   string
	total     int
	succeeded int
	failed    int
	skipped   int
	running   int
	pending   int
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates an empty progress pane.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{gate: "pending"}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.RunStartedEvent:
		m.runID = msg.RunID
		m.target = msg.Repository
		if msg.PullID != "" {
			m.target += "#" + msg.PullID
		}

	case events.GateEvaluatedEvent:
		switch {
		case !msg.Checked:
			m.gate = "not checked (missing " + strings.Join(msg.Missing, ", ") + ")"
		case msg.Skip:
			m.gate = "skip"
		default:
			m.gate = "run"
		}

	case events.RunProgressEvent:
		m.total = msg.Total
		m.succeeded = msg.Succeeded
		m.failed = msg.Failed
		m.skipped = msg.Skipped
		m.running = msg.Running
		m.pending = msg.Pending

	case events.RunFinishedEvent:
		m.outcome = msg.Outcome
	}

	return m, nil
}

// Done reports whether the run has finished.
func (m ProgressPaneModel) Done() bool {
	return m.outcome != ""
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Run")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.target != "" {
		fmt.Fprintf(&b, "Target:    %s\n", m.target)
	}
	fmt.Fprintf(&b, "Gate:      %s\n\n", m.gate)

	fmt.Fprintf(&b, "Total:     %d\n", m.total)
	fmt.Fprintf(&b, "Succeeded: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.succeeded)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed)))
	fmt.Fprintf(&b, "Skipped:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.skipped)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		okWidth := (m.succeeded * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		skippedWidth := (m.skipped * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - okWidth - failedWidth - skippedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, okWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusPending.Render(strings.Repeat("-", max(0, skippedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat(">", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		resolved := m.succeeded + m.failed + m.skipped
		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, resolved, m.total)
	}

	if m.outcome != "" {
		b.WriteString("\n")
		b.WriteString("Outcome:   ")
		b.WriteString(outcomeStyle(m.outcome).Render(m.outcome))
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func outcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case "success":
		return StyleStatusComplete
	case "failure":
		return StyleStatusFailed
	default:
		return StyleStatusPending
	}
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
