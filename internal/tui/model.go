package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/distrogate/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneStages PaneID = iota
	PaneProgress
	paneCount
)

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	stagePane    StagePaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
}

// New creates a TUI model subscribed to every event on bus. Create it before
// the run starts so no event is missed.
func New(bus *events.Bus) Model {
	m := Model{
		stagePane:    NewStagePaneModel(),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PaneStages,
		eventSub:     bus.SubscribeAll(events.DefaultBufferSize),
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneStages
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneStages {
				var cmd tea.Cmd
				m.stagePane, cmd = m.stagePane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		var cmd tea.Cmd
		m.stagePane, cmd = m.stagePane.Update(msg)
		cmds = append(cmds, cmd)

	case events.StageStartedEvent, events.StageOutputEvent, events.SubStageFinishedEvent,
		events.StageCompletedEvent, events.StageFailedEvent, events.StageSkippedEvent:
		var cmd tea.Cmd
		m.stagePane, cmd = m.stagePane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.RunStartedEvent, events.GateEvaluatedEvent, events.RunProgressEvent, events.RunFinishedEvent:
		m.progressPane, _ = m.progressPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.stagePane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, body, HelpView(m.progressPane.Done()))
}

// computeLayout gives the stage pane 70% of the width, leaving one line for
// the help bar.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 70) / 100
	availableHeight := m.height - 1

	m.stagePane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(m.width-leftWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.stagePane.SetFocused(m.focusedPane == PaneStages)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
