package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/distrogate/internal/config"
	"github.com/aristath/distrogate/internal/logging"
)

// errRunFailed is returned when the report has already been printed and only
// the exit status remains to be set.
var errRunFailed = errors.New("run failed")

type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "distrogate",
		Short:         "Run the conditional multi-distro test pipeline for a pull request",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "project config file (default .distrogate/config.json)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newRunCommand(opts),
		newGateCommand(opts),
		newMatrixCommand(),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}

// loadConfig merges the global config with the --config file, or with the
// project default when the flag is unset.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	globalPath, projectPath, err := config.DefaultPaths()
	if err != nil {
		return nil, err
	}
	if o.configPath != "" {
		projectPath = o.configPath
	}
	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// newLogger builds the run logger. quiet drops stdout output and keeps any
// file output; the live view owns the terminal.
func newLogger(cfg config.LogConfig, quiet bool) (*zap.Logger, error) {
	lc := &logging.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		FilePath:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	if quiet {
		switch lc.Output {
		case "", "stdout":
			return zap.NewNop(), nil
		case "both":
			lc.Output = "file"
		}
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, nil
}
