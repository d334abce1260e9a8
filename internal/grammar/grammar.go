// Package grammar compiles TextMate-style grammars and tokenizes lines with
// them.
//
// A Grammar tokenizes one line at a time. Each call takes the Stack returned
// for the previous line and returns the Stack for the next, so an editor can
// re-tokenize from any line without rescanning the file.
package grammar

import (
	"context"
	"sort"
	"sync"

	"github.com/dlclark/regexp2"
	"github.com/google/uuid"

	"github.com/zjrosen/tmscope/internal/cachemanager"
	"github.com/zjrosen/tmscope/internal/log"
	"github.com/zjrosen/tmscope/internal/pubsub"
	"github.com/zjrosen/tmscope/internal/scope"
)

// Registry is the process-wide collaborator a grammar needs: scope interning,
// other grammars for includes, path overrides and limits.
type Registry interface {
	IDForScope(name string) scope.ID
	ScopeForID(id scope.ID) string
	DecodeTokens(line string, tags []scope.Tag, openAtStart []scope.Tag) []scope.Token
	AddGrammar(g *Grammar) *Registration
	GrammarForScopeName(name string) *Grammar
	OverrideScopeFor(path string) string
	FileContents(path string) ([]byte, error)
	MaxTokensPerLine() int
	MaxLineLength() int
}

// Registration is the handle returned when a grammar is added to a registry.
type Registration struct {
	ID      uuid.UUID
	once    sync.Once
	dispose func()
}

// NewRegistration returns a handle whose Dispose runs dispose once.
func NewRegistration(dispose func()) *Registration {
	return &Registration{ID: uuid.New(), dispose: dispose}
}

// Dispose undoes the registration. Calling it again has no effect.
func (r *Registration) Dispose() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if r.dispose != nil {
			r.dispose()
		}
	})
}

// Grammar is a compiled grammar. Configuration is fixed at construction; the
// compiled rules are built on first use and dropped by ClearRules.
type Grammar struct {
	registry Registry
	config   Config

	firstLine      *regexp2.Regexp
	firstLineLines int

	// Guards the compiled rules and the included scope set.
	mu             sync.Mutex
	root           *rule
	repository     map[string]*rule
	includedScopes map[string]struct{}

	// Guards include expansion for stacks based on this grammar.
	expandMu sync.Mutex
	expanded map[int64][]*pattern

	endPatterns cachemanager.CacheManager[string, *regex]
	updates     *pubsub.Broker[string]

	regMu        sync.Mutex
	registration *Registration
}

// New builds a grammar from cfg. Rules are not compiled until first use.
func New(reg Registry, cfg Config) (*Grammar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Grammar{
		registry:       reg,
		config:         cfg,
		includedScopes: make(map[string]struct{}),
		endPatterns:    cachemanager.NewInMemoryCacheManager[string, *regex]("end patterns", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval),
		updates:        pubsub.NewBroker[string](),
	}
	if cfg.FirstLineMatch != "" {
		re, lines, err := firstLineRegex(cfg.FirstLineMatch)
		if err != nil {
			log.ErrorErr(log.CatGrammar, "invalid firstLineMatch", err, "grammar", cfg.ScopeName)
		} else {
			g.firstLine, g.firstLineLines = re, lines
		}
	}
	return g, nil
}

// Name returns the human readable name.
func (g *Grammar) Name() string { return g.config.Name }

// ScopeName returns the root scope, e.g. "source.go".
func (g *Grammar) ScopeName() string { return g.config.ScopeName }

// FileTypes returns the declared path suffixes.
func (g *Grammar) FileTypes() []string { return append([]string(nil), g.config.FileTypes...) }

// FoldingStopMarker returns the configured folding stop marker.
func (g *Grammar) FoldingStopMarker() string { return g.config.FoldingStopMarker }

// InjectionSelector returns the selector this grammar injects into.
func (g *Grammar) InjectionSelector() string { return g.config.InjectionSelector }

// Injections returns the injection rule sets by selector.
func (g *Grammar) Injections() map[string]PatternConfig { return g.config.Injections }

// Config returns the configuration the grammar was built from.
func (g *Grammar) Config() Config { return g.config }

// MaxTokensPerLine is the grammar's own ceiling or the registry default. A
// registry default below 2 is raised to 2 so the root scope's open tag
// always fits.
func (g *Grammar) MaxTokensPerLine() int {
	if g.config.MaxTokensPerLine > 0 {
		return g.config.MaxTokensPerLine
	}
	if g.registry != nil {
		if n := g.registry.MaxTokensPerLine(); n > 0 {
			return max(n, 2)
		}
	}
	return DefaultMaxTokensPerLine
}

// MaxLineLength is the grammar's own limit or the registry default.
func (g *Grammar) MaxLineLength() int {
	if g.config.MaxLineLength > 0 {
		return g.config.MaxLineLength
	}
	if g.registry != nil {
		if n := g.registry.MaxLineLength(); n > 0 {
			return n
		}
	}
	return DefaultMaxLineLength
}

// Activate adds the grammar to its registry. It is a no-op when already
// active.
func (g *Grammar) Activate() {
	g.regMu.Lock()
	defer g.regMu.Unlock()
	if g.registration != nil {
		return
	}
	g.registration = g.registry.AddGrammar(g)
}

// Deactivate removes the grammar from its registry.
func (g *Grammar) Deactivate() {
	g.regMu.Lock()
	reg := g.registration
	g.registration = nil
	g.regMu.Unlock()
	reg.Dispose()
}

// OnUpdate delivers one event each time the grammar recompiles because an
// included grammar changed. The payload is the changed scope name. Delivery
// is ordered and never blocks the grammar; a subscriber that falls behind
// misses events.
func (g *Grammar) OnUpdate(ctx context.Context) <-chan pubsub.Event[string] {
	return g.updates.Subscribe(ctx)
}

// OnUpdateFunc calls fn on its own goroutine for every OnUpdate event until
// ctx is cancelled.
func (g *Grammar) OnUpdateFunc(ctx context.Context, fn func(pubsub.Event[string])) {
	g.updates.SubscribeFunc(ctx, fn)
}

// ClearRules drops the compiled rules so the next use recompiles them.
func (g *Grammar) ClearRules() {
	g.mu.Lock()
	g.root = nil
	g.repository = nil
	g.mu.Unlock()

	g.expandMu.Lock()
	g.expanded = nil
	g.expandMu.Unlock()

	_ = g.endPatterns.Flush(context.Background())
}

// GrammarUpdated is called when the grammar with scopeName changed. If this
// grammar includes it, the rules are cleared, subscribers are notified and
// true is returned.
func (g *Grammar) GrammarUpdated(scopeName string) bool {
	g.mu.Lock()
	_, ok := g.includedScopes[scopeName]
	g.mu.Unlock()
	if !ok {
		return false
	}
	g.ClearRules()
	log.Debug(log.CatGrammar, "grammar invalidated", "grammar", g.ScopeName(), "dependency", scopeName)
	g.updates.Publish(pubsub.UpdatedEvent, scopeName)
	return true
}

// IncludedGrammarScopes lists the other grammars referenced by compiled
// rules, sorted.
func (g *Grammar) IncludedGrammarScopes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.includedScopes))
	for s := range g.includedScopes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// addIncludedGrammarScope must be called with mu held.
func (g *Grammar) addIncludedGrammarScope(scopeName string) {
	if scopeName == "" || scopeName == g.config.ScopeName {
		return
	}
	g.includedScopes[scopeName] = struct{}{}
}

func (g *Grammar) openTag(name string) scope.Tag {
	return scope.Open(g.registry.IDForScope(name))
}

func (g *Grammar) closeTag(name string) scope.Tag {
	return scope.Close(g.registry.IDForScope(name))
}

// withResolvedEnd returns a copy of r whose end pattern has its back
// references replaced by text from the begin match. Compiled end patterns are
// cached by their resolved source.
func (g *Grammar) withResolvedEnd(r *rule, groups []capture, runes []rune) *rule {
	source := resolveBackReferences(r.end.re.source, groups, runes)
	ctx := context.Background()
	re, ok := g.endPatterns.Get(ctx, source)
	if !ok {
		var err error
		re, err = compileRegex(source)
		if err != nil {
			log.ErrorErr(log.CatGrammar, "invalid resolved end pattern", err, "grammar", g.ScopeName(), "pattern", source)
			return r
		}
		g.endPatterns.Set(ctx, source, re, cachemanager.DefaultExpiration)
	}
	end := *r.end
	end.re = re
	resolved := *r
	resolved.end = &end
	return &resolved
}
