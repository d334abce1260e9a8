package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tmscope/internal/presentation"
)

var scopesCmd = &cobra.Command{
	Use:   "scopes <file> <line> <column>",
	Short: "Print the scopes at a position",
	Long: `Print the scopes of the token covering a position, outermost first.
Line and column are 1-based; the column counts characters, not bytes.`,
	Args: cobra.ExactArgs(3),
	RunE: runScopes,
}

var scopesScope string

func init() {
	scopesCmd.Flags().StringVarP(&scopesScope, "scope", "s", "",
		"use the grammar with this scope name instead of selecting one")
	rootCmd.AddCommand(scopesCmd)
}

func runScopes(cmd *cobra.Command, args []string) error {
	line, err := strconv.Atoi(args[1])
	if err != nil || line < 1 {
		return fmt.Errorf("invalid line %q", args[1])
	}
	column, err := strconv.Atoi(args[2])
	if err != nil || column < 1 {
		return fmt.Errorf("invalid column %q", args[2])
	}

	ctx := cmd.Context()
	e, err := newEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	doc, err := e.open(ctx, args[0], scopesScope)
	if err != nil {
		return err
	}
	if line > doc.Len() {
		return fmt.Errorf("line %d is past the end of %s (%d lines)", line, args[0], doc.Len())
	}

	return presentation.NewFormatter(cmd.OutOrStdout(), jsonOutput).FormatScopes(presentation.ScopesDTO{
		Path:   args[0],
		Line:   line,
		Column: column,
		Scopes: doc.ScopesAt(line-1, column-1),
	})
}
