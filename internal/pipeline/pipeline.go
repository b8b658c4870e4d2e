package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aristath/distrogate/internal/action"
	"github.com/aristath/distrogate/internal/config"
	"github.com/aristath/distrogate/internal/events"
	"github.com/aristath/distrogate/internal/gate"
	"github.com/aristath/distrogate/internal/matrix"
	"github.com/aristath/distrogate/internal/scheduler"
)

// Pipeline wires the gate, the matrix and the stage runner for one
// configuration. A Pipeline can run many times; runs share nothing.
type Pipeline struct {
	Config  *config.Config
	Labels  gate.LabelFetcher
	Actions Invoker

	// Commands runs precheck and static stages. Nil means host shell
	// commands tracked by Procs.
	Commands CommandFactory
	Procs    *action.ProcessManager

	// Workspaces isolates distro stages. Nil runs them all in the workdir.
	Workspaces Workspaces

	Bus    *events.Bus // Optional
	Logger *zap.Logger // Optional
}

// Input identifies one run.
type Input struct {
	HasCredentials bool
	Repository     string
	PullID         string
	MatrixSource   []byte // Raw test matrix document
	Workdir        string // Overrides Config.Workdir
}

// Run evaluates the gate, loads the matrix and executes the stages. The
// returned report is never nil. The error is non-nil when the run was
// aborted: a gate fetch failure (ErrGateFetch), a malformed matrix
// (ErrMatrixParse), an invalid plan, or cancellation. Stage failures are
// not errors; they are in the report's outcome.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Report, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	report := &Report{
		RunID:      uuid.NewString(),
		Repository: in.Repository,
		PullID:     in.PullID,
		Outcome:    Failure,
		Started:    time.Now(),
	}
	logger = logger.With(zap.String("run", report.RunID))

	abort := func(err error) (*Report, error) {
		report.Err = err
		report.Finished = time.Now()
		logger.Error("run aborted", zap.Error(err))
		p.Bus.Publish(events.RunFinishedEvent{RunID: report.RunID, Outcome: report.Outcome.String(), Timestamp: report.Finished})
		return report, err
	}

	p.Bus.Publish(events.RunStartedEvent{
		RunID:      report.RunID,
		Repository: in.Repository,
		PullID:     in.PullID,
		Timestamp:  report.Started,
	})

	decision, err := gate.Evaluate(ctx, gate.Input{
		HasCredentials: in.HasCredentials,
		RepoID:         in.Repository,
		PullID:         in.PullID,
	}, p.Labels)
	if err != nil {
		return abort(fmt.Errorf("%w: %w", ErrGateFetch, err))
	}
	report.Decision = decision
	if !decision.Checked {
		logger.Warn("skip gate not checked, running all stages", zap.Strings("missing", decision.Missing))
	} else {
		logger.Info("skip gate evaluated", zap.Bool("skip", decision.Skip))
	}
	p.Bus.Publish(events.GateEvaluatedEvent{
		Checked:   decision.Checked,
		Skip:      decision.Skip,
		Missing:   decision.Missing,
		Timestamp: time.Now(),
	})

	m, err := matrix.Load(in.MatrixSource)
	if err != nil {
		return abort(fmt.Errorf("%w: %w", ErrMatrixParse, err))
	}
	logger.Debug("test matrix loaded", zap.Int("entries", m.Len()))

	dag, err := scheduler.BuildPlan(p.Config)
	if err != nil {
		return abort(err)
	}

	workdir := in.Workdir
	if workdir == "" {
		workdir = p.Config.Workdir
	}

	commands := p.Commands
	if commands == nil {
		commands = func(stage *scheduler.Stage) action.Action {
			return action.NewCommandAction(config.ActionConfig{Kind: config.ActionKindCommand, Run: stage.Run}, p.Procs)
		}
	}

	runner := NewRunner(RunnerConfig{
		Concurrency: p.Config.Concurrency,
		Skip:        decision.Skip,
		Repo:        in.Repository,
		Workdir:     workdir,
		Matrix:      m,
		Tests:       NewTestRunner(p.Actions, workdir, p.Bus, logger),
		Commands:    commands,
		Workspaces:  p.Workspaces,
		Bus:         p.Bus,
		Logger:      logger,
	}, dag)

	runErr := runner.Run(ctx)

	report.Stages = runner.Results()
	report.Outcome = ComputeOutcome(report.Stages)
	report.Finished = time.Now()
	if runErr != nil {
		report.Err = fmt.Errorf("run interrupted: %w", runErr)
	}

	logger.Info("run finished",
		zap.Stringer("outcome", report.Outcome),
		zap.Duration("duration", report.Finished.Sub(report.Started)),
	)
	p.Bus.Publish(events.RunFinishedEvent{RunID: report.RunID, Outcome: report.Outcome.String(), Timestamp: report.Finished})
	return report, report.Err
}
