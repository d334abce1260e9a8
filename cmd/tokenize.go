package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tmscope/internal/document"
	"github.com/zjrosen/tmscope/internal/presentation"
)

var tokenizeCmd = &cobra.Command{
	Use:   "tokenize <file>",
	Short: "Print the tokens and scopes of every line of a file",
	Long: `Tokenize a file with the grammar selected for it and print each line's
tokens with their scopes, outermost first.

Examples:
  tmscope tokenize main.rb
  tmscope tokenize --scope source.shell build.inc
  tmscope tokenize --lines 10:20 --json config.json`,
	Args: cobra.ExactArgs(1),
	RunE: runTokenize,
}

var (
	tokenizeScope string
	tokenizeLines string
)

func init() {
	tokenizeCmd.Flags().StringVarP(&tokenizeScope, "scope", "s", "",
		"use the grammar with this scope name instead of selecting one")
	tokenizeCmd.Flags().StringVarP(&tokenizeLines, "lines", "l", "",
		"only print lines FROM:TO (1-based, inclusive)")
	rootCmd.AddCommand(tokenizeCmd)
}

func runTokenize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	doc, err := e.open(ctx, args[0], tokenizeScope)
	if err != nil {
		return err
	}
	from, to, err := parseLineRange(tokenizeLines, doc.Len())
	if err != nil {
		return err
	}

	return presentation.NewFormatter(cmd.OutOrStdout(), jsonOutput).FormatLines(documentLines(doc, from, to))
}

// documentLines converts lines [from, to) of doc.
func documentLines(doc *document.Document, from, to int) []presentation.LineDTO {
	lines := doc.Lines()
	out := make([]presentation.LineDTO, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, presentation.FromTokens(i, lines[i], doc.Tokens(i)))
	}
	return out
}

// parseLineRange turns "FROM:TO" (1-based, inclusive, either side optional)
// or a single line number into a half-open 0-based range clamped to n lines.
func parseLineRange(arg string, n int) (int, int, error) {
	if arg == "" {
		return 0, n, nil
	}
	fromPart, toPart, found := strings.Cut(arg, ":")
	if !found {
		toPart = fromPart
	}
	from, to := 1, n
	var err error
	if fromPart != "" {
		if from, err = strconv.Atoi(fromPart); err != nil || from < 1 {
			return 0, 0, fmt.Errorf("invalid line range %q", arg)
		}
	}
	if toPart != "" {
		if to, err = strconv.Atoi(toPart); err != nil || to < 1 {
			return 0, 0, fmt.Errorf("invalid line range %q", arg)
		}
	}
	if from > to {
		return 0, 0, fmt.Errorf("invalid line range %q: start after end", arg)
	}
	return min(from-1, n), min(to, n), nil
}
