package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tmscope/internal/presentation"
)

var grammarsCmd = &cobra.Command{
	Use:   "grammars",
	Short: "List the registered grammars",
	Args:  cobra.NoArgs,
	RunE:  runGrammars,
}

func init() {
	rootCmd.AddCommand(grammarsCmd)
}

func runGrammars(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := newEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	grammars := e.registry.Grammars()
	dtos := make([]presentation.GrammarDTO, len(grammars))
	for i, g := range grammars {
		dtos[i] = presentation.FromGrammar(g)
	}
	sort.Slice(dtos, func(i, j int) bool { return dtos[i].ScopeName < dtos[j].ScopeName })

	return presentation.NewFormatter(cmd.OutOrStdout(), jsonOutput).FormatGrammars(dtos)
}
