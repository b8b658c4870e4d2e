package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/distrogate/internal/config"
)

func newConfigCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage distrogate configuration",
	}
	cmd.AddCommand(newConfigInitCommand(g))
	return cmd
}

func newConfigInitCommand(g *globalOptions) *cobra.Command {
	var global, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration for editing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			globalPath, projectPath, err := config.DefaultPaths()
			if err != nil {
				return err
			}
			path := projectPath
			switch {
			case global:
				path = globalPath
			case g.configPath != "":
				path = g.configPath
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write the global config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
