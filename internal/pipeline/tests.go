package pipeline

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/distrogate/internal/action"
	"github.com/aristath/distrogate/internal/events"
	"github.com/aristath/distrogate/internal/matrix"
	"github.com/aristath/distrogate/internal/scheduler"
)

// Invoker is the option dispatch table. *action.Dispatcher implements it.
type Invoker interface {
	Known(name string) bool
	Invoke(ctx context.Context, name string, inv action.Invocation) error
}

// TestRunner runs the matrix-selected actions of one distro stage.
type TestRunner struct {
	invoker Invoker
	workdir string
	bus     *events.Bus
	logger  *zap.Logger
}

// NewTestRunner creates a TestRunner. bus and logger may be nil.
func NewTestRunner(invoker Invoker, workdir string, bus *events.Bus, logger *zap.Logger) *TestRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TestRunner{
		invoker: invoker,
		workdir: workdir,
		bus:     bus,
		logger:  logger,
	}
}

// RunTests looks up the options of (repo, distro) and invokes the action of
// every recognized truthy option, in option-name order, as a sub-stage.
// False options are no-ops. Unrecognized options are logged and recorded.
// The first failing sub-stage fails the stage and ends it. The result's
// Role is left to the caller.
func (t *TestRunner) RunTests(ctx context.Context, distro, repo string, m *matrix.Matrix) StageResult {
	return t.run(ctx, scheduler.DistroStageID(distro), distro, repo, t.workdir, m)
}

func (t *TestRunner) run(ctx context.Context, stageID, distro, repo, workdir string, m *matrix.Matrix) StageResult {
	start := time.Now()
	result := StageResult{ID: stageID, Name: distro, Status: scheduler.StatusSucceeded}

	opts := m.OptionsFor(repo, distro)
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)

	log := t.logger.With(zap.String("repo", repo), zap.String("distro", distro))

	for _, name := range names {
		value := opts[name]
		if !t.invoker.Known(name) {
			log.Warn("unknown matrix option", zap.String("option", name), zap.Stringer("value", value))
			result.Unknown = append(result.Unknown, name)
			continue
		}
		if !value.Truthy() {
			log.Debug("matrix option disabled", zap.String("option", name))
			continue
		}

		subStart := time.Now()
		err := t.invoker.Invoke(ctx, name, action.Invocation{
			Repo:    repo,
			Distro:  distro,
			Option:  name,
			Value:   value,
			Workdir: workdir,
			Output: func(line string) {
				t.bus.Publish(events.StageOutputEvent{ID: stageID, Option: name, Line: line, Timestamp: time.Now()})
			},
		})
		sub := SubStageResult{Option: name, Value: value, Err: err, Duration: time.Since(subStart)}
		result.SubStages = append(result.SubStages, sub)
		t.bus.Publish(events.SubStageFinishedEvent{
			ID:        stageID,
			Option:    name,
			Err:       err,
			Duration:  sub.Duration,
			Timestamp: time.Now(),
		})

		if err != nil {
			log.Info("sub-stage failed", zap.String("option", name), zap.Error(err))
			result.Status = scheduler.StatusFailed
			result.Err = err
			break
		}
		log.Info("sub-stage passed", zap.String("option", name), zap.Duration("duration", sub.Duration))
	}

	result.Duration = time.Since(start)
	return result
}
