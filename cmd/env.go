package cmd

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/tmscope/internal/config"
	"github.com/zjrosen/tmscope/internal/document"
	"github.com/zjrosen/tmscope/internal/grammar"
	"github.com/zjrosen/tmscope/internal/log"
	"github.com/zjrosen/tmscope/internal/paths"
	"github.com/zjrosen/tmscope/internal/registry"
	"github.com/zjrosen/tmscope/internal/tracing"
)

// env is the registry and tracing a command works with.
type env struct {
	registry *registry.Registry
	tracing  *tracing.Provider
}

// newEnv builds a registry from c: bundled grammars, grammar directories
// and path overrides. A grammar directory that fails to load is reported on
// stderr and skipped.
func newEnv(ctx context.Context, c config.Config) (*env, error) {
	c.Tracing.FilePath = paths.Expand(c.Tracing.FilePath)
	provider, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	_, span := provider.Tracer().Start(ctx, tracing.SpanRegistryLoad)
	reg, err := loadRegistry(c)
	if reg != nil {
		span.SetAttributes(attribute.Int(tracing.AttrGrammarCount, len(reg.Grammars())))
	}
	tracing.Finish(span, err)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	return &env{registry: reg, tracing: provider}, nil
}

func loadRegistry(c config.Config) (*registry.Registry, error) {
	reg := registry.New(
		registry.WithMaxTokensPerLine(c.MaxTokensPerLine),
		registry.WithMaxLineLength(c.MaxLineLength),
		registry.WithContentCacheTTL(c.ContentCacheTTL),
	)

	if c.Bundled {
		if _, err := reg.LoadBundledGrammars(); err != nil {
			return nil, fmt.Errorf("loading bundled grammars: %w", err)
		}
	}
	for _, dir := range grammarDirs(c) {
		if _, err := reg.LoadGrammarDir(dir); err != nil {
			log.ErrorErr(log.CatRegistry, "grammar directory incomplete", err, "dir", dir)
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	for path, scopeName := range c.OverrideMap() {
		reg.SetGrammarOverrideForPath(path, scopeName)
	}
	return reg, nil
}

// grammarDirs resolves the configured grammar directories.
func grammarDirs(c config.Config) []string {
	dirs := make([]string, len(c.GrammarDirs))
	for i, dir := range c.GrammarDirs {
		dirs[i] = paths.ResolveGrammarDir(dir)
	}
	return dirs
}

// grammarFor returns the grammar named by scopeName, or the one the
// registry selects for path when scopeName is empty.
func (e *env) grammarFor(path string, contents []byte, scopeName string) (*grammar.Grammar, error) {
	if scopeName != "" {
		return e.registry.Lookup(scopeName)
	}
	g, _ := e.registry.SelectGrammar(path, contents)
	return g, nil
}

// open reads path and tokenizes it.
func (e *env) open(ctx context.Context, path, scopeName string) (*document.Document, error) {
	contents, err := os.ReadFile(path) //nolint:gosec // G304: path is a command argument
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	g, err := e.grammarFor(path, contents, scopeName)
	if err != nil {
		return nil, err
	}
	return document.New(ctx, g, string(contents), document.WithTracer(e.tracing.Tracer())), nil
}

func (e *env) close(ctx context.Context) {
	if err := e.tracing.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatConfig, "tracing shutdown failed", err)
	}
}
