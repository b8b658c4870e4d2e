// Package pipeline runs one gated, matrix-driven test pipeline: gate,
// matrix, then the stage DAG, and reports the aggregate outcome.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/aristath/distrogate/internal/matrix"
	"github.com/aristath/distrogate/internal/scheduler"
)

var (
	// ErrGateFetch marks runs aborted because the label source failed.
	ErrGateFetch = errors.New("skip gate")
	// ErrMatrixParse marks runs aborted because the test matrix is malformed.
	ErrMatrixParse = errors.New("test matrix")
)

// StageError is the failure reason recorded for a stage.
type StageError struct {
	Stage string
	Role  scheduler.Role
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage %q failed: %v", e.Role, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// SubStageResult is the result of one option action inside a distro stage.
type SubStageResult struct {
	Option   string
	Value    matrix.Value
	Err      error
	Duration time.Duration
}

// StageResult is the terminal (or, for halted stages, pending) state of one stage.
type StageResult struct {
	ID       string
	Name     string
	Role     scheduler.Role
	Status   scheduler.Status
	Err      error
	Duration time.Duration

	SubStages []SubStageResult
	Unknown   []string // Matrix options with no registered action
}

// Outcome is the aggregate result of a run.
type Outcome int

const (
	Success Outcome = iota
	Failure
	SkippedEarly
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case SkippedEarly:
		return "skipped"
	default:
		return "unknown"
	}
}

// ComputeOutcome derives the run outcome from the stage results alone:
//   - any failed stage other than a precheck, or any stage that never
//     resolved, is a Failure;
//   - otherwise a skipped primary stage means the gate fired: SkippedEarly;
//   - otherwise Success.
func ComputeOutcome(stages []StageResult) Outcome {
	skipped := false
	for _, s := range stages {
		switch s.Status {
		case scheduler.StatusFailed:
			if s.Role != scheduler.RolePrecheck {
				return Failure
			}
		case scheduler.StatusPending, scheduler.StatusRunning:
			return Failure
		case scheduler.StatusSkipped:
			if s.Role == scheduler.RolePrimary {
				skipped = true
			}
		}
	}
	if skipped {
		return SkippedEarly
	}
	return Success
}
