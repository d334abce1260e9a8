package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tmscope/internal/config"
	"github.com/zjrosen/tmscope/internal/presentation"
)

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Pin files to a grammar",
	Long: `Manage per-file grammar overrides. An override beats every other way of
selecting a grammar. Overrides are stored in the config file.`,
}

var overrideSetCmd = &cobra.Command{
	Use:   "set <path> <scope>",
	Short: "Tokenize path with the grammar for scope",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := overridePath(args[0])
		if err != nil {
			return err
		}
		overrides := config.SetOverride(cfg.Overrides, path, args[1])
		if err := config.SaveOverrides(configPath(), overrides); err != nil {
			return err
		}
		cfg.Overrides = overrides
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", path, args[1])
		return err
	},
}

var overrideClearCmd = &cobra.Command{
	Use:   "clear [path]",
	Short: "Remove the override for path, or every override",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var overrides []config.OverrideConfig
		if len(args) == 1 {
			path, err := overridePath(args[0])
			if err != nil {
				return err
			}
			overrides = config.RemoveOverride(cfg.Overrides, path)
		}
		if err := config.SaveOverrides(configPath(), overrides); err != nil {
			return err
		}
		cfg.Overrides = overrides
		return nil
	},
}

var overrideListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		overrides := cfg.OverrideMap()
		paths := make([]string, 0, len(overrides))
		for p := range overrides {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		return presentation.NewFormatter(cmd.OutOrStdout(), jsonOutput).FormatOverrides(paths, overrides)
	},
}

func init() {
	overrideCmd.AddCommand(overrideSetCmd, overrideClearCmd, overrideListCmd)
	rootCmd.AddCommand(overrideCmd)
}

// overridePath makes path absolute so an override applies from any working
// directory.
func overridePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return abs, nil
}
