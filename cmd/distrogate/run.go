package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/distrogate/internal/action"
	"github.com/aristath/distrogate/internal/events"
	"github.com/aristath/distrogate/internal/pipeline"
	"github.com/aristath/distrogate/internal/tui"
	"github.com/aristath/distrogate/internal/worktree"
)

type runOptions struct {
	matrixPath string
	repo       string
	pull       string
	workdir    string
	tui        bool
}

func newRunCommand(g *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run prechecks, the static check and the distro test stages",
		Long: `Run executes the pipeline for one pull request: prechecks, the static
check, the primary distro and then the parallel distros. The distro stages
are skipped when the pull request carries the skip-ci label.

Exits 0 when the run succeeded or was skipped, 1 otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.matrixPath, "matrix", "", "test matrix file (default from config)")
	cmd.Flags().StringVar(&opts.repo, "repo", "", "repository in owner/name form")
	cmd.Flags().StringVar(&opts.pull, "pull", "", "pull request number")
	cmd.Flags().StringVar(&opts.workdir, "workdir", "", "checkout the stages run in (default from config)")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show the live stage view")
	return cmd
}

func runPipeline(cmd *cobra.Command, g *globalOptions, opts *runOptions) error {
	ctx := cmd.Context()

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, opts.tui)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	matrixPath := opts.matrixPath
	if matrixPath == "" {
		matrixPath = cfg.MatrixFile
	}
	src, err := os.ReadFile(matrixPath)
	if err != nil {
		return fmt.Errorf("reading test matrix: %w", err)
	}

	procs := action.NewProcessManager()
	stopKill := context.AfterFunc(ctx, func() {
		logger.Warn("shutdown signal received, killing test processes", zap.Int("count", procs.Count()))
		if err := procs.KillAll(); err != nil {
			logger.Error("failed to kill test processes", zap.Error(err))
		}
	})
	defer stopKill()

	dispatcher, err := action.FromConfig(cfg, action.Deps{Procs: procs, Logger: logger})
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	in := resolveGateInputs(cfg, opts.repo, opts.pull)
	p := &pipeline.Pipeline{
		Config:  cfg,
		Labels:  labelFetcher(cfg.Gate, in.token, logger),
		Actions: dispatcher,
		Procs:   procs,
		Bus:     bus,
		Logger:  logger,
	}
	if cfg.Isolation.Worktrees {
		workdir := opts.workdir
		if workdir == "" {
			workdir = cfg.Workdir
		}
		wt, err := worktree.NewManager(worktree.Config{
			RepoPath: workdir,
			Dir:      cfg.Isolation.Dir,
			Ref:      cfg.Isolation.Ref,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := wt.Prune(ctx); err != nil {
			logger.Warn("failed to prune stale worktrees", zap.Error(err))
		}
		p.Workspaces = wt
	}

	input := pipeline.Input{
		HasCredentials: in.token != "",
		Repository:     in.repo,
		PullID:         in.pull,
		MatrixSource:   src,
		Workdir:        opts.workdir,
	}

	var report *pipeline.Report
	var runErr error
	if opts.tui {
		report, runErr = runWithTUI(ctx, p, input, bus, cmd.ErrOrStderr())
	} else {
		done := logEvents(bus.SubscribeAll(events.DefaultBufferSize), logger)
		report, runErr = p.Run(ctx, input)
		bus.Close()
		<-done
	}

	fmt.Fprint(cmd.OutOrStdout(), report.Render())
	if runErr != nil || report.Outcome == pipeline.Failure {
		return errRunFailed
	}
	return nil
}

// runWithTUI runs the pipeline under the live view. Quitting the view cancels
// the run; after the run ends the view stays up until the user quits.
func runWithTUI(ctx context.Context, p *pipeline.Pipeline, in pipeline.Input, bus *events.Bus, stderr io.Writer) (*pipeline.Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	prog := tea.NewProgram(tui.New(bus), tea.WithAltScreen(), tea.WithContext(ctx))
	uiDone := make(chan error, 1)
	go func() {
		_, err := prog.Run()
		cancel()
		uiDone <- err
	}()

	report, runErr := p.Run(runCtx, in)

	if err := <-uiDone; err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(stderr, "live view: %v\n", err)
	}
	return report, runErr
}
