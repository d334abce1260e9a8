package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tmscope/internal/presentation"
)

var selectCmd = &cobra.Command{
	Use:   "select <file>...",
	Short: "Show which grammar each file would be tokenized with",
	Long: `Score every registered grammar against each file and print the winner.
Overrides win outright; otherwise the first line and the file name decide.
A file that does not exist is scored on its name alone.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSelect,
}

func init() {
	rootCmd.AddCommand(selectCmd)
}

func runSelect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	formatter := presentation.NewFormatter(cmd.OutOrStdout(), jsonOutput)
	for _, path := range args {
		contents, err := os.ReadFile(path) //nolint:gosec // G304: path is a command argument
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		g, score := e.registry.SelectGrammar(path, contents)
		sel := presentation.SelectionDTO{
			Path:      path,
			ScopeName: g.ScopeName(),
			Name:      g.Name(),
			Score:     score,
			Override:  e.registry.OverrideScopeFor(path) == g.ScopeName(),
		}
		if err := formatter.FormatSelection(sel); err != nil {
			return err
		}
	}
	return nil
}
