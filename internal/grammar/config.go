package grammar

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingScopeName is returned for a grammar without a scopeName.
	ErrMissingScopeName = errors.New("grammar has no scopeName")
	// ErrUnterminatedRule is returned for a begin rule with neither end nor while.
	ErrUnterminatedRule = errors.New("begin rule has no end")
	// ErrTokenBudget is returned for a maxTokensPerLine that leaves no room
	// for any token after the root scope's open tag.
	ErrTokenBudget = errors.New("maxTokensPerLine must be 0 or at least 2")
)

// Config is the declarative form of a grammar as found in .json, .yaml and
// .tmLanguage.json files.
type Config struct {
	Name              string                   `yaml:"name"`
	FileTypes         []string                 `yaml:"fileTypes"`
	ScopeName         string                   `yaml:"scopeName"`
	FoldingStopMarker string                   `yaml:"foldingStopMarker"`
	MaxTokensPerLine  int                      `yaml:"maxTokensPerLine"`
	MaxLineLength     int                      `yaml:"maxLineLength"`
	Injections        map[string]PatternConfig `yaml:"injections"`
	InjectionSelector string                   `yaml:"injectionSelector"`
	Patterns          []PatternConfig          `yaml:"patterns"`
	Repository        map[string]PatternConfig `yaml:"repository"`
	FirstLineMatch    string                   `yaml:"firstLineMatch"`
}

// PatternConfig is one entry of a patterns list or repository.
type PatternConfig struct {
	Name                string          `yaml:"name"`
	ContentName         string          `yaml:"contentName"`
	Match               string          `yaml:"match"`
	Begin               string          `yaml:"begin"`
	End                 string          `yaml:"end"`
	While               string          `yaml:"while"`
	Include             string          `yaml:"include"`
	Captures            Captures        `yaml:"captures"`
	BeginCaptures       Captures        `yaml:"beginCaptures"`
	EndCaptures         Captures        `yaml:"endCaptures"`
	Patterns            []PatternConfig `yaml:"patterns"`
	ApplyEndPatternLast Flag            `yaml:"applyEndPatternLast"`
	Disabled            Flag            `yaml:"disabled"`
}

// CaptureConfig names a capture group and optionally tokenizes its text with
// nested patterns.
type CaptureConfig struct {
	Name     string          `yaml:"name"`
	Patterns []PatternConfig `yaml:"patterns"`
}

// Captures maps capture group numbers to their configuration.
type Captures map[int]CaptureConfig

// UnmarshalYAML accepts keys written as strings ("1") or integers (1), which
// is how JSON and YAML grammars spell them respectively.
func (c *Captures) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]CaptureConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	out := make(Captures, len(raw))
	for key, capture := range raw {
		n, err := strconv.Atoi(key)
		if err != nil || n < 0 {
			return fmt.Errorf("capture key %q is not a group number", key)
		}
		out[n] = capture
	}
	*c = out
	return nil
}

// Flag is a boolean that also accepts 0 and 1, as older grammars write it.
type Flag bool

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	var b bool
	if err := node.Decode(&b); err == nil {
		*f = Flag(b)
		return nil
	}
	var n int
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("line %d: expected a boolean, got %q", node.Line, node.Value)
	}
	*f = n != 0
	return nil
}

// ParseConfig decodes a grammar definition. JSON is valid YAML, so both
// formats go through the same decoder.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing grammar: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the structural requirements of a grammar. Regular
// expressions are checked later, when rules compile; an invalid one disables
// its pattern rather than the whole grammar.
func (c Config) Validate() error {
	if c.ScopeName == "" {
		return ErrMissingScopeName
	}
	if c.MaxTokensPerLine < 0 || c.MaxTokensPerLine == 1 {
		return fmt.Errorf("%w, got %d", ErrTokenBudget, c.MaxTokensPerLine)
	}
	if err := validatePatterns(c.Patterns, "patterns"); err != nil {
		return err
	}
	names := make([]string, 0, len(c.Repository))
	for name := range c.Repository {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := validatePattern(c.Repository[name], "repository."+name); err != nil {
			return err
		}
	}
	return nil
}

func validatePatterns(patterns []PatternConfig, path string) error {
	for i, p := range patterns {
		if err := validatePattern(p, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func validatePattern(p PatternConfig, path string) error {
	if p.Begin != "" && p.End == "" && p.While == "" {
		return fmt.Errorf("%s: %w", path, ErrUnterminatedRule)
	}
	if err := validatePatterns(p.Patterns, path+".patterns"); err != nil {
		return err
	}
	for _, set := range []Captures{p.Captures, p.BeginCaptures, p.EndCaptures} {
		for n, capture := range set {
			if err := validatePatterns(capture.Patterns, fmt.Sprintf("%s.captures.%d", path, n)); err != nil {
				return err
			}
		}
	}
	return nil
}
