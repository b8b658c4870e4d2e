package scheduler

import "time"

// Status is the state of a stage. Succeeded, Failed and Skipped are terminal.
type Status int

const (
	StatusPending   Status = iota // Waiting for dependencies
	StatusRunning                 // Currently executing
	StatusSucceeded               // Finished successfully
	StatusFailed                  // Finished with error
	StatusSkipped                 // Resolved without running
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "success"
	case StatusFailed:
		return "failure"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// Role is the position of a stage in the pipeline.
type Role int

const (
	RolePrecheck Role = iota // Sequential, failures are warnings
	RoleStatic               // Always runs, failure halts everything after it
	RolePrimary              // Smoke-test distro, gated by the skip decision
	RoleParallel             // Secondary distros fanned out after the primary
)

func (r Role) String() string {
	switch r {
	case RolePrecheck:
		return "precheck"
	case RoleStatic:
		return "static"
	case RolePrimary:
		return "primary"
	case RoleParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Required reports whether a failure of this role halts the stages after it.
func (r Role) Required() bool {
	return r == RoleStatic || r == RolePrimary
}

// FailureMode determines how a stage's failure affects dependents.
type FailureMode int

const (
	FailHard FailureMode = iota // Dependents never become eligible
	FailSoft                    // Dependents still run
)

// Stage is one node of the pipeline DAG.
type Stage struct {
	ID          string   // Unique identifier
	Name        string   // Precheck/static name or distro name
	Role        Role
	Distro      string   // Set for primary and parallel stages
	Run         string   // Shell command for precheck and static stages
	DependsOn   []string // Stage IDs this stage depends on
	Gated       bool     // Skipped instead of run when the skip decision is active
	FailureMode FailureMode

	Status   Status
	Err      error         // Failure reason
	Started  time.Time     // Zero until the stage runs
	Duration time.Duration // Wall time of the run
}
