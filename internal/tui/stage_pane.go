package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/distrogate/internal/events"
)

const stageListWidth = 28

// Stage display states.
const (
	stateRunning = "running"
	stateSuccess = "success"
	stateFailed  = "failed"
	stateWarning = "warning"
	stateSkipped = "skipped"
)

// StageState is the display state of one stage.
type StageState struct {
	ID        string
	Name      string
	Role      string
	Status    string
	Output    []string
	StartTime time.Time
	Duration  time.Duration
}

// StagePaneModel lists stages on the left and the selected stage's output on
// the right.
type StagePaneModel struct {
	stages      map[string]*StageState
	order       []string // Insertion order for display
	selectedIdx int
	follow      bool // Selection tracks the most recently started stage
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int
}

// NewStagePaneModel creates an empty stage pane.
func NewStagePaneModel() StagePaneModel {
	return StagePaneModel{
		stages:   make(map[string]*StageState),
		follow:   true,
		viewport: viewport.New(0, 0),
	}
}

// tickMsg debounces viewport refreshes during bursts of output.
type tickMsg struct {
	tag int
}

// Update handles messages for the stage pane.
func (m StagePaneModel) Update(msg tea.Msg) (StagePaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.follow = false
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.follow = false
				m.updateViewportContent()
			}
		case KeyFollow:
			m.follow = true
			m.selectedIdx = len(m.order) - 1
			m.updateViewportContent()
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.StageStartedEvent:
		s := m.ensure(msg.ID)
		s.Name = msg.Name
		s.Role = msg.Role
		s.Status = stateRunning
		s.StartTime = msg.Timestamp
		if m.follow {
			m.selectedIdx = m.indexOf(msg.ID)
		}
		m.updateViewportContent()

	case events.StageOutputEvent:
		s, ok := m.stages[msg.ID]
		if !ok {
			break
		}
		line := msg.Line
		if msg.Option != "" {
			line = "[" + msg.Option + "] " + line
		}
		s.Output = append(s.Output, line)
		if m.selectedID() == msg.ID {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case events.SubStageFinishedEvent:
		if s, ok := m.stages[msg.ID]; ok {
			if msg.Err != nil {
				s.Output = append(s.Output, fmt.Sprintf("[%s] failed after %v: %v", msg.Option, msg.Duration, msg.Err))
			} else {
				s.Output = append(s.Output, fmt.Sprintf("[%s] passed in %v", msg.Option, msg.Duration))
			}
			m.refreshIfSelected(msg.ID)
		}

	case events.StageCompletedEvent:
		if s, ok := m.stages[msg.ID]; ok {
			s.Status = stateSuccess
			s.Duration = msg.Duration
			s.Output = append(s.Output, fmt.Sprintf("\n[Passed in %v]", msg.Duration))
			m.refreshIfSelected(msg.ID)
		}

	case events.StageFailedEvent:
		s := m.ensure(msg.ID)
		s.Status = stateFailed
		if msg.Warning {
			s.Status = stateWarning
		}
		s.Duration = msg.Duration
		s.Output = append(s.Output, fmt.Sprintf("\n[Failed: %v]", msg.Err))
		m.refreshIfSelected(msg.ID)

	case events.StageSkippedEvent:
		s := m.ensure(msg.ID)
		s.Status = stateSkipped
		s.Output = append(s.Output, "[Skipped: skip-ci label present]")
		m.refreshIfSelected(msg.ID)

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// ensure returns the state for id, adding it to the list if unseen. Skipped
// stages never start, so they appear here first.
func (m *StagePaneModel) ensure(id string) *StageState {
	if s, ok := m.stages[id]; ok {
		return s
	}
	s := &StageState{ID: id, Name: id}
	m.stages[id] = s
	m.order = append(m.order, id)
	if len(m.order) == 1 {
		m.selectedIdx = 0
	}
	return s
}

func (m StagePaneModel) indexOf(id string) int {
	for i, v := range m.order {
		if v == id {
			return i
		}
	}
	return m.selectedIdx
}

func (m *StagePaneModel) refreshIfSelected(id string) {
	if m.selectedID() == id {
		m.updateViewportContent()
	}
}

// View renders the stage pane.
func (m StagePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderStageList(stageListWidth),
		lipgloss.NewStyle().
			Width(m.width-stageListWidth-4).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m StagePaneModel) renderStageList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Stages")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, id := range m.order {
		s := m.stages[id]
		name := s.Name
		if len(name) > width-6 {
			name = name[:width-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(s.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case stateRunning:
		return StyleStatusRunning.Render("●")
	case stateSuccess:
		return StyleStatusComplete.Render("✓")
	case stateFailed:
		return StyleStatusFailed.Render("✗")
	case stateWarning:
		return StyleStatusWarning.Render("!")
	case stateSkipped:
		return StyleStatusPending.Render("-")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m StagePaneModel) selectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the state of the selected stage, or nil.
func (m StagePaneModel) Selected() *StageState {
	return m.stages[m.selectedID()]
}

func (m *StagePaneModel) updateViewportContent() {
	s, ok := m.stages[m.selectedID()]
	if !ok {
		m.viewport.SetContent("Waiting for stages...")
		return
	}
	m.viewport.SetContent(strings.Join(s.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *StagePaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-stageListWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *StagePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *StagePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
