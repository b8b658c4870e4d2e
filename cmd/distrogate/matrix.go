package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/aristath/distrogate/internal/matrix"
)

func newMatrixCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Inspect a test matrix file",
	}
	cmd.AddCommand(newMatrixShowCommand())
	return cmd
}

func newMatrixShowCommand() *cobra.Command {
	var repo, distro string

	cmd := &cobra.Command{
		Use:   "show <file>",
		Short: "Print the entries of a test matrix, or the options of one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := matrix.LoadFile(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if repo != "" || distro != "" {
				if repo == "" || distro == "" {
					return fmt.Errorf("--repo and --distro must be given together")
				}
				opts := m.OptionsFor(repo, distro)
				if len(opts) == 0 {
					fmt.Fprintf(out, "%s/%s: no options\n", repo, distro)
					return nil
				}
				for _, name := range sortedOptions(opts) {
					fmt.Fprintf(out, "%s: %s\n", name, opts[name])
				}
				return nil
			}

			fmt.Fprintln(out, renderMatrix(m))
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "repository of the entry to show")
	cmd.Flags().StringVar(&distro, "distro", "", "distro of the entry to show")
	return cmd
}

func renderMatrix(m *matrix.Matrix) string {
	rows := make([][]string, 0, m.Len())
	for _, k := range m.Keys() {
		opts := m.OptionsFor(k.Repo, k.Distro)
		parts := make([]string, 0, len(opts))
		for _, name := range sortedOptions(opts) {
			parts = append(parts, name+"="+opts[name].String())
		}
		rows = append(rows, []string{k.Repo, k.Distro, strings.Join(parts, " ")})
	}

	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("REPO", "DISTRO", "OPTIONS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cell.Bold(true)
			}
			return cell
		}).
		String()
}

func sortedOptions(opts matrix.Options) []string {
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
