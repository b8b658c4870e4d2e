package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	StageID() string
}

// Topic constants
const (
	TopicStage = "stage"
	TopicRun   = "run"
)

// Event type constants
const (
	EventTypeRunStarted       = "run.started"
	EventTypeGateEvaluated    = "run.gate"
	EventTypeRunProgress      = "run.progress"
	EventTypeRunFinished      = "run.finished"
	EventTypeStageStarted     = "stage.started"
	EventTypeStageOutput      = "stage.output"
	EventTypeSubStageFinished = "stage.substage"
	EventTypeStageCompleted   = "stage.completed"
	EventTypeStageFailed      = "stage.failed"
	EventTypeStageSkipped     = "stage.skipped"
)

// RunStartedEvent is published once before any stage runs.
type RunStartedEvent struct {
	RunID      string
	Repository string
	PullID     string
	Timestamp  time.Time
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) Topic() string     { return TopicRun }
func (e RunStartedEvent) StageID() string   { return "" }

// GateEvaluatedEvent carries the skip decision.
type GateEvaluatedEvent struct {
	Checked   bool
	Skip      bool
	Missing   []string // Gate inputs that were absent
	Timestamp time.Time
}

func (e GateEvaluatedEvent) EventType() string { return EventTypeGateEvaluated }
func (e GateEvaluatedEvent) Topic() string     { return TopicRun }
func (e GateEvaluatedEvent) StageID() string   { return "" }

// StageStartedEvent is published when a stage begins execution.
type StageStartedEvent struct {
	ID        string
	Name      string
	Role      string
	Timestamp time.Time
}

func (e StageStartedEvent) EventType() string { return EventTypeStageStarted }
func (e StageStartedEvent) Topic() string     { return TopicStage }
func (e StageStartedEvent) StageID() string   { return e.ID }

// StageOutputEvent is published for every line an action prints.
type StageOutputEvent struct {
	ID        string
	Option    string // Sub-stage producing the line; empty for precheck/static commands
	Line      string
	Timestamp time.Time
}

func (e StageOutputEvent) EventType() string { return EventTypeStageOutput }
func (e StageOutputEvent) Topic() string     { return TopicStage }
func (e StageOutputEvent) StageID() string   { return e.ID }

// SubStageFinishedEvent is published after each option action of a distro stage.
type SubStageFinishedEvent struct {
	ID        string
	Option    string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e SubStageFinishedEvent) EventType() string { return EventTypeSubStageFinished }
func (e SubStageFinishedEvent) Topic() string     { return TopicStage }
func (e SubStageFinishedEvent) StageID() string   { return e.ID }

// StageCompletedEvent is published when a stage succeeds.
type StageCompletedEvent struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e StageCompletedEvent) EventType() string { return EventTypeStageCompleted }
func (e StageCompletedEvent) Topic() string     { return TopicStage }
func (e StageCompletedEvent) StageID() string   { return e.ID }

// StageFailedEvent is published when a stage fails.
type StageFailedEvent struct {
	ID        string
	Err       error
	Warning   bool // Failure does not affect the outcome
	Duration  time.Duration
	Timestamp time.Time
}

func (e StageFailedEvent) EventType() string { return EventTypeStageFailed }
func (e StageFailedEvent) Topic() string     { return TopicStage }
func (e StageFailedEvent) StageID() string   { return e.ID }

// StageSkippedEvent is published when the skip decision resolves a stage.
type StageSkippedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e StageSkippedEvent) EventType() string { return EventTypeStageSkipped }
func (e StageSkippedEvent) Topic() string     { return TopicStage }
func (e StageSkippedEvent) StageID() string   { return e.ID }

// RunProgressEvent is published after every stage transition.
type RunProgressEvent struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Running   int
	Pending   int
	Timestamp time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) Topic() string     { return TopicRun }
func (e RunProgressEvent) StageID() string   { return "" }

// RunFinishedEvent is the last event of a run.
type RunFinishedEvent struct {
	RunID     string
	Outcome   string
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) Topic() string     { return TopicRun }
func (e RunFinishedEvent) StageID() string   { return "" }
