package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/distrogate/internal/gate"
)

func newGateCommand(g *globalOptions) *cobra.Command {
	var repo, pull string

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate the skip label gate for a pull request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			in := resolveGateInputs(cfg, repo, pull)
			decision, err := gate.Evaluate(cmd.Context(), in.gateInput(), labelFetcher(cfg.Gate, in.token, logger))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gate: %s\n", decision)
			if !decision.Checked {
				fmt.Fprintf(out, "missing: %s\n", strings.Join(decision.Missing, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "repository in owner/name form")
	cmd.Flags().StringVar(&pull, "pull", "", "pull request number")
	return cmd
}
