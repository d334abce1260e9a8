package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/tmscope/internal/config"
	"github.com/zjrosen/tmscope/internal/log"
	"github.com/zjrosen/tmscope/internal/paths"
)

var (
	version    = "dev"
	cfgFile    string
	debugFlag  bool
	jsonOutput bool
	cfg        config.Config

	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "tmscope",
	Short: "Tokenize source files with TextMate grammars",
	Long: `tmscope loads TextMate-style grammars, picks the right one for a file and
reports the scopes of every token. It is meant for grammar authors and for
tools that need syntax scopes without an editor.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCleanup != nil {
			logCleanup()
			logCleanup = nil
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/tmscope/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (also TMSCOPE_DEBUG=1)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"print results as JSON")
	rootCmd.PersistentFlags().StringSlice("grammar-dir", nil,
		"additional directory of grammar files (repeatable)")

	_ = viper.BindPFlag("grammar_dirs", rootCmd.PersistentFlags().Lookup("grammar-dir"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("bundled", defaults.Bundled)
	viper.SetDefault("max_tokens_per_line", defaults.MaxTokensPerLine)
	viper.SetDefault("max_line_length", defaults.MaxLineLength)
	viper.SetDefault("content_cache_ttl", defaults.ContentCacheTTL)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	viper.SetEnvPrefix("tmscope")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(paths.Expand(cfgFile))
	} else {
		// Config lookup order:
		// 1. .tmscope/config.yaml (current directory)
		// 2. ~/.config/tmscope/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "tmscope"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// Running without a config file is fine; `tmscope init` writes one.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

const localConfigPath = ".tmscope/config.yaml"

// configPath is where override changes are saved.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			return used
		}
	}
	if cfgFile != "" {
		return cfgFile
	}
	return localConfigPath
}

func setup(cmd *cobra.Command, _ []string) error {
	debug := os.Getenv("TMSCOPE_DEBUG") != "" || debugFlag
	if debug {
		logPath := os.Getenv("TMSCOPE_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.InitWithTeaLog(logPath, "tmscope")
		if err != nil {
			return fmt.Errorf("initializing debug log: %w", err)
		}
		logCleanup = cleanup
		log.Info(log.CatConfig, "tmscope starting", "command", cmd.CommandPath(), "config", viper.ConfigFileUsed())
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
