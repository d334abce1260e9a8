// Package config provides configuration types and defaults for tmscope.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/tmscope/internal/log"
	"github.com/zjrosen/tmscope/internal/tracing"
)

// Config holds all configuration options for tmscope.
type Config struct {
	// GrammarDirs are scanned for grammar files in addition to the bundled
	// grammars.
	GrammarDirs      []string         `mapstructure:"grammar_dirs"`
	Bundled          bool             `mapstructure:"bundled"`
	MaxTokensPerLine int              `mapstructure:"max_tokens_per_line"`
	MaxLineLength    int              `mapstructure:"max_line_length"`
	ContentCacheTTL  time.Duration    `mapstructure:"content_cache_ttl"`
	Overrides        []OverrideConfig `mapstructure:"overrides"`
	Watch            WatchConfig      `mapstructure:"watch"`
	Tracing          tracing.Config   `mapstructure:"tracing"`
}

// OverrideConfig pins the grammar of one file. It is a list entry rather
// than a map key because viper lower-cases keys and splits them on dots.
type OverrideConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Scope string `mapstructure:"scope" yaml:"scope"`
}

// WatchConfig configures `tmscope watch`.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// OverrideMap returns the overrides keyed by path. Later entries win.
func (c Config) OverrideMap() map[string]string {
	out := make(map[string]string, len(c.Overrides))
	for _, o := range c.Overrides {
		out[o.Path] = o.Scope
	}
	return out
}

// SetOverride returns overrides with path pinned to scopeName, replacing an
// existing entry for path in place.
func SetOverride(overrides []OverrideConfig, path, scopeName string) []OverrideConfig {
	out := append([]OverrideConfig(nil), overrides...)
	for i := range out {
		if out[i].Path == path {
			out[i].Scope = scopeName
			return out
		}
	}
	return append(out, OverrideConfig{Path: path, Scope: scopeName})
}

// RemoveOverride returns overrides without the entries for path.
func RemoveOverride(overrides []OverrideConfig, path string) []OverrideConfig {
	var out []OverrideConfig
	for _, o := range overrides {
		if o.Path != path {
			out = append(out, o)
		}
	}
	return out
}

// DefaultTracesFilePath returns ~/.config/tmscope/traces/traces.jsonl, or ""
// when the home directory is unknown.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tmscope", "traces", "traces.jsonl")
}

// Defaults returns the configuration used when no config file sets a value.
func Defaults() Config {
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()
	return Config{
		Bundled:          true,
		MaxTokensPerLine: 100,
		MaxLineLength:    1000,
		ContentCacheTTL:  30 * time.Second,
		Watch:            WatchConfig{Debounce: 200 * time.Millisecond},
		Tracing:          tr,
	}
}

// Validate checks the whole configuration.
func Validate(cfg Config) error {
	if cfg.MaxTokensPerLine < 2 {
		return fmt.Errorf("max_tokens_per_line must be at least 2, got %d", cfg.MaxTokensPerLine)
	}
	if cfg.MaxLineLength < 1 {
		return fmt.Errorf("max_line_length must be positive, got %d", cfg.MaxLineLength)
	}
	if cfg.ContentCacheTTL < 0 {
		return fmt.Errorf("content_cache_ttl must not be negative, got %s", cfg.ContentCacheTTL)
	}
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %s", cfg.Watch.Debounce)
	}
	for i, dir := range cfg.GrammarDirs {
		if dir == "" {
			return fmt.Errorf("grammar_dirs[%d]: path is empty", i)
		}
	}
	if err := ValidateOverrides(cfg.Overrides); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateOverrides checks that every override names a path and a scope.
func ValidateOverrides(overrides []OverrideConfig) error {
	for i, o := range overrides {
		if o.Path == "" {
			return fmt.Errorf("overrides[%d]: path is required", i)
		}
		if o.Scope == "" {
			return fmt.Errorf("overrides[%d] (%s): scope is required", i, o.Path)
		}
	}
	return nil
}

// ValidateTracing checks the tracing section.
func ValidateTracing(tr tracing.Config) error {
	if tr.SampleRate < 0.0 || tr.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tr.SampleRate)
	}

	switch tr.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tr.Exporter)
	}

	if tr.Enabled {
		if tr.Exporter == "file" && tr.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tr.Exporter == "otlp" && tr.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the commented config written by
// `tmscope init`.
func DefaultConfigTemplate() string {
	return `# tmscope configuration

# Directories scanned for grammar files (.json, .yaml, .yml, .tmLanguage.json)
# grammar_dirs:
#   - ~/.config/tmscope/grammars

# Load the grammars shipped with tmscope (json, shell, ini)
bundled: true

# Tokens emitted per line before the rest of the line becomes one span
max_tokens_per_line: 100

# Lines longer than this many characters are only partly tokenized
max_line_length: 1000

# How long file contents read for grammar selection are reused
content_cache_ttl: 30s

# Per-file grammar overrides (managed with 'tmscope override')
# overrides:
#   - path: /path/to/Makefile.inc
#     scope: source.makefile

watch:
  debounce: 200ms   # Quiet period before reloading edited grammar files

# Tracing (OpenTelemetry)
# tracing:
#   enabled: true
#   exporter: file          # none, file, stdout, otlp
#   file_path: ~/.config/tmscope/traces/traces.jsonl
#
# Example: Send traces to a collector via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: localhost:4317
#   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
