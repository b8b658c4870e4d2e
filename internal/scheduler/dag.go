package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

// DAG is the directed acyclic graph of pipeline stages. Stages keep the
// order they were added in; Stages and Eligible report them in that order.
type DAG struct {
	mu         sync.RWMutex
	stages     map[string]*Stage   // All stages indexed by ID
	order      []string            // Insertion order
	dependents map[string][]string // Maps stageID -> stages that depend on it
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		stages:     make(map[string]*Stage),
		dependents: make(map[string][]string),
	}
}

// AddStage adds a stage to the DAG. Returns error if the ID already exists.
func (d *DAG) AddStage(stage *Stage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if stage.ID == "" {
		return fmt.Errorf("stage %q has no ID", stage.Name)
	}
	if _, exists := d.stages[stage.ID]; exists {
		return fmt.Errorf("stage with ID %q already exists", stage.ID)
	}

	d.stages[stage.ID] = stage
	d.order = append(d.order, stage.ID)

	for _, depID := range stage.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], stage.ID)
	}

	return nil
}

// Validate runs a topological sort over the stages.
// Returns ordered stage IDs or an error on a cycle or unknown dependency.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, id := range d.order {
		for _, depID := range d.stages[id].DependsOn {
			if _, exists := d.stages[depID]; !exists {
				return nil, fmt.Errorf("stage %q depends on non-existent stage %q", id, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, id := range d.order {
		stage := d.stages[id]
		if len(stage.DependsOn) == 0 {
			// Edge from nil keeps root stages in the result.
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range stage.DependsOn {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("stage graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(d.stages) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range d.order {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d stages: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Eligible returns the pending stages whose dependencies are all resolved.
func (d *DAG) Eligible() []*Stage {
	d.mu.RLock()
	defer d.mu.RUnlock()

	eligible := []*Stage{}
	for _, id := range d.order {
		stage := d.stages[id]
		if stage.Status != StatusPending {
			continue
		}

		allResolved := true
		for _, depID := range stage.DependsOn {
			dep, exists := d.stages[depID]
			if !exists || !isResolved(dep) {
				allResolved = false
				break
			}
		}

		if allResolved {
			eligible = append(eligible, cloneStage(stage))
		}
	}

	return eligible
}

// isResolved reports whether dependents of dep may run.
func isResolved(dep *Stage) bool {
	switch dep.Status {
	case StatusSucceeded, StatusSkipped:
		return true
	case StatusFailed:
		return dep.FailureMode == FailSoft
	}
	return false
}

// MarkRunning moves a pending stage to running.
func (d *DAG) MarkRunning(stageID string) error {
	return d.transition(stageID, StatusRunning, func(s *Stage) {
		s.Started = time.Now()
	})
}

// MarkSucceeded resolves a running stage as successful.
func (d *DAG) MarkSucceeded(stageID string) error {
	return d.transition(stageID, StatusSucceeded, nil)
}

// MarkFailed resolves a stage as failed with err as the reason.
// With FailHard the stage's dependents stay pending for good.
func (d *DAG) MarkFailed(stageID string, err error) error {
	return d.transition(stageID, StatusFailed, func(s *Stage) {
		s.Err = err
	})
}

// MarkSkipped resolves a pending stage without running it.
func (d *DAG) MarkSkipped(stageID string) error {
	return d.transition(stageID, StatusSkipped, nil)
}

func (d *DAG) transition(stageID string, to Status, apply func(*Stage)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stage, exists := d.stages[stageID]
	if !exists {
		return fmt.Errorf("stage %q not found", stageID)
	}
	if stage.Status.Terminal() {
		return fmt.Errorf("stage %q is already %s", stageID, stage.Status)
	}

	switch to {
	case StatusRunning, StatusSkipped:
		if stage.Status != StatusPending {
			return fmt.Errorf("stage %q cannot move from %s to %s", stageID, stage.Status, to)
		}
	case StatusSucceeded:
		if stage.Status != StatusRunning {
			return fmt.Errorf("stage %q cannot move from %s to %s", stageID, stage.Status, to)
		}
	}

	if stage.Status == StatusRunning && !stage.Started.IsZero() {
		stage.Duration = time.Since(stage.Started)
	}
	stage.Status = to
	if apply != nil {
		apply(stage)
	}
	return nil
}

// Get returns a copy of the stage with the given ID.
func (d *DAG) Get(stageID string) (*Stage, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stage, exists := d.stages[stageID]
	if !exists {
		return nil, false
	}
	return cloneStage(stage), true
}

// Stages returns copies of all stages in insertion order.
func (d *DAG) Stages() []*Stage {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stages := make([]*Stage, 0, len(d.order))
	for _, id := range d.order {
		stages = append(stages, cloneStage(d.stages[id]))
	}
	return stages
}

// Dependents returns the IDs of the stages that directly depend on stageID.
func (d *DAG) Dependents(stageID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.dependents[stageID]...)
}

// Count returns the number of stages in each status.
func (d *DAG) Count() map[Status]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[Status]int)
	for _, stage := range d.stages {
		counts[stage.Status]++
	}
	return counts
}

func cloneStage(stage *Stage) *Stage {
	if stage == nil {
		return nil
	}

	cp := *stage
	if stage.DependsOn != nil {
		cp.DependsOn = append([]string(nil), stage.DependsOn...)
	}
	return &cp
}
