package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/distrogate/internal/action"
	"github.com/aristath/distrogate/internal/events"
	"github.com/aristath/distrogate/internal/matrix"
	"github.com/aristath/distrogate/internal/scheduler"
)

// CommandFactory returns the action running a precheck or static stage.
type CommandFactory func(stage *scheduler.Stage) action.Action

// Workspaces hands out an isolated checkout per distro stage.
// *worktree.Manager implements it.
type Workspaces interface {
	Acquire(ctx context.Context, name string) (dir string, release func(), err error)
}

// RunnerConfig configures the stage runner.
type RunnerConfig struct {
	Concurrency int  // Max concurrent stages within a wave (default 4)
	Skip        bool // Skip decision; gated stages resolve Skipped
	Repo        string
	Workdir     string
	Matrix      *matrix.Matrix
	Tests       *TestRunner
	Commands    CommandFactory
	Workspaces  Workspaces  // Optional; nil runs distro stages in Workdir
	Bus         *events.Bus // Optional
	Logger      *zap.Logger // Optional
}

// Runner executes the stage DAG in waves: every eligible stage of a wave
// runs concurrently, and the next wave starts once all of them resolved.
// Halting is expressed by the DAG: dependents of a hard failure never
// become eligible and stay pending.
type Runner struct {
	config RunnerConfig
	dag    *scheduler.DAG
	logger *zap.Logger

	mu      sync.Mutex
	results map[string]StageResult // Distro stage details by stage ID
}

// NewRunner creates a runner over dag.
func NewRunner(cfg RunnerConfig, dag *scheduler.DAG) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		config:  cfg,
		dag:     dag,
		logger:  logger,
		results: make(map[string]StageResult),
	}
}

// Run executes stages until none is eligible. It returns the context error
// if the run was interrupted; stage failures are recorded in the DAG.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		eligible := r.dag.Eligible()
		if len(eligible) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.config.Concurrency)

		for _, stage := range eligible {
			if stage.Gated && r.config.Skip {
				r.skipStage(stage)
				continue
			}
			s := stage
			g.Go(func() error {
				r.executeStage(gctx, s)
				return nil
			})
		}

		// Stage errors live in the DAG; siblings are never cancelled.
		_ = g.Wait()
	}
}

func (r *Runner) skipStage(stage *scheduler.Stage) {
	if err := r.dag.MarkSkipped(stage.ID); err != nil {
		r.logger.Error("failed to skip stage", zap.String("stage", stage.ID), zap.Error(err))
		return
	}
	r.logger.Info("stage skipped by gate", zap.String("stage", stage.ID))
	r.config.Bus.Publish(events.StageSkippedEvent{ID: stage.ID, Timestamp: time.Now()})
	r.publishProgress()
}

func (r *Runner) executeStage(ctx context.Context, stage *scheduler.Stage) {
	log := r.logger.With(zap.String("stage", stage.ID), zap.Stringer("role", stage.Role))

	if err := ctx.Err(); err != nil {
		r.fail(stage, fmt.Errorf("context cancelled before execution: %w", err), log)
		return
	}

	if err := r.dag.MarkRunning(stage.ID); err != nil {
		log.Error("failed to mark stage running", zap.Error(err))
		return
	}
	r.config.Bus.Publish(events.StageStartedEvent{
		ID:        stage.ID,
		Name:      stage.Name,
		Role:      stage.Role.String(),
		Timestamp: time.Now(),
	})
	r.publishProgress()
	log.Info("stage started")

	var err error
	switch stage.Role {
	case scheduler.RolePrimary, scheduler.RoleParallel:
		err = r.runDistro(ctx, stage, log)
	default:
		err = r.runCommand(ctx, stage)
	}

	if err != nil {
		r.fail(stage, err, log)
		return
	}

	if markErr := r.dag.MarkSucceeded(stage.ID); markErr != nil {
		log.Error("failed to mark stage succeeded", zap.Error(markErr))
		return
	}
	done, _ := r.dag.Get(stage.ID)
	log.Info("stage succeeded", zap.Duration("duration", done.Duration))
	r.config.Bus.Publish(events.StageCompletedEvent{ID: stage.ID, Duration: done.Duration, Timestamp: time.Now()})
	r.publishProgress()
}

func (r *Runner) runDistro(ctx context.Context, stage *scheduler.Stage, log *zap.Logger) error {
	workdir := r.config.Workdir
	if r.config.Workspaces != nil {
		dir, release, err := r.config.Workspaces.Acquire(ctx, stage.Distro)
		if err != nil {
			return fmt.Errorf("preparing workspace: %w", err)
		}
		defer release()
		log.Debug("stage workspace ready", zap.String("dir", dir))
		workdir = dir
	}

	res := r.config.Tests.run(ctx, stage.ID, stage.Distro, r.config.Repo, workdir, r.config.Matrix)
	res.Role = stage.Role
	r.mu.Lock()
	r.results[stage.ID] = res
	r.mu.Unlock()
	return res.Err
}

func (r *Runner) runCommand(ctx context.Context, stage *scheduler.Stage) error {
	return r.config.Commands(stage).Invoke(ctx, action.Invocation{
		Repo:    r.config.Repo,
		Option:  stage.Name,
		Workdir: r.config.Workdir,
		Output: func(line string) {
			r.config.Bus.Publish(events.StageOutputEvent{ID: stage.ID, Line: line, Timestamp: time.Now()})
		},
	})
}

func (r *Runner) fail(stage *scheduler.Stage, err error, log *zap.Logger) {
	stageErr := &StageError{Stage: stage.Name, Role: stage.Role, Err: err}
	if markErr := r.dag.MarkFailed(stage.ID, stageErr); markErr != nil {
		log.Error("failed to mark stage failed", zap.Error(markErr))
		return
	}

	warning := stage.Role == scheduler.RolePrecheck
	if warning {
		log.Warn("precheck failed, continuing", zap.Error(err))
	} else {
		log.Error("stage failed", zap.Error(err))
	}

	failed, _ := r.dag.Get(stage.ID)
	r.config.Bus.Publish(events.StageFailedEvent{
		ID:        stage.ID,
		Err:       stageErr,
		Warning:   warning,
		Duration:  failed.Duration,
		Timestamp: time.Now(),
	})
	r.publishProgress()
}

func (r *Runner) publishProgress() {
	counts := r.dag.Count()
	total := 0
	for _, n := range counts {
		total += n
	}
	r.config.Bus.Publish(events.RunProgressEvent{
		Total:     total,
		Succeeded: counts[scheduler.StatusSucceeded],
		Failed:    counts[scheduler.StatusFailed],
		Skipped:   counts[scheduler.StatusSkipped],
		Running:   counts[scheduler.StatusRunning],
		Pending:   counts[scheduler.StatusPending],
		Timestamp: time.Now(),
	})
}

// Results returns one result per stage in plan order.
func (r *Runner) Results() []StageResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	stages := r.dag.Stages()
	results := make([]StageResult, 0, len(stages))
	for _, s := range stages {
		res := StageResult{
			ID:       s.ID,
			Name:     s.Name,
			Role:     s.Role,
			Status:   s.Status,
			Err:      s.Err,
			Duration: s.Duration,
		}
		if detail, ok := r.results[s.ID]; ok {
			res.SubStages = detail.SubStages
			res.Unknown = detail.Unknown
		}
		results = append(results, res)
	}
	return results
}
