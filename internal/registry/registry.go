// Package registry holds the grammars of a process: it interns scope names,
// selects a grammar for a file, applies per-path overrides and propagates
// grammar changes to the grammars that include them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zjrosen/tmscope/internal/cachemanager"
	"github.com/zjrosen/tmscope/internal/grammar"
	"github.com/zjrosen/tmscope/internal/log"
	"github.com/zjrosen/tmscope/internal/pubsub"
	"github.com/zjrosen/tmscope/internal/scope"
)

// NullScopeName is the scope of the fallback grammar used when no registered
// grammar applies to a file.
const NullScopeName = "text.plain.null-grammar"

// DefaultContentCacheTTL is how long file contents read for scoring are
// reused.
const DefaultContentCacheTTL = 30 * time.Second

// ErrGrammarNotFound is returned by Lookup for an unregistered scope.
var ErrGrammarNotFound = errors.New("grammar not found")

var _ grammar.Registry = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithMaxTokensPerLine sets the ceiling for grammars that do not set one.
func WithMaxTokensPerLine(n int) Option {
	return func(r *Registry) { r.maxTokensPerLine = n }
}

// WithMaxLineLength sets the line limit for grammars that do not set one.
func WithMaxLineLength(n int) Option {
	return func(r *Registry) { r.maxLineLength = n }
}

// WithContentCacheTTL sets how long file contents are cached.
func WithContentCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.contentTTL = ttl }
}

// WithContentReader replaces os.ReadFile for reading file contents.
func WithContentReader(read func(ctx context.Context, path string) ([]byte, error)) Option {
	return func(r *Registry) { r.readFile = read }
}

// Registry is the process-wide set of grammars. It is safe for concurrent
// use.
type Registry struct {
	table *scope.Table

	mu        sync.RWMutex
	grammars  []*grammar.Grammar // registration order
	byScope   map[string]*grammar.Grammar
	overrides map[string]string           // path -> scope name
	files     map[string]*grammar.Grammar // grammar file path -> grammar loaded from it

	null             *grammar.Grammar
	maxTokensPerLine int
	maxLineLength    int

	contentTTL time.Duration
	readFile   func(ctx context.Context, path string) ([]byte, error)
	contents   *cachemanager.ReadThroughCache[string, []byte, string]

	events *pubsub.Broker[string]
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		table:            scope.NewTable(),
		byScope:          make(map[string]*grammar.Grammar),
		overrides:        make(map[string]string),
		files:            make(map[string]*grammar.Grammar),
		maxTokensPerLine: grammar.DefaultMaxTokensPerLine,
		maxLineLength:    grammar.DefaultMaxLineLength,
		contentTTL:       DefaultContentCacheTTL,
		readFile: func(_ context.Context, path string) ([]byte, error) {
			return os.ReadFile(path) //nolint:gosec // G304: paths come from the caller
		},
		events: pubsub.NewBroker[string](),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.contents = cachemanager.NewReadThroughCache[string, []byte, string](
		cachemanager.NewInMemoryCacheManager[string, []byte]("file contents", r.contentTTL, cachemanager.DefaultCleanupInterval),
		r.readFile,
		r.contentTTL <= 0,
	)

	null, err := grammar.New(r, grammar.Config{Name: "Null Grammar", ScopeName: NullScopeName})
	if err != nil {
		panic(err) // the literal config above always validates
	}
	r.null = null
	return r
}

// Table returns the scope table shared by every grammar in the registry.
func (r *Registry) Table() *scope.Table { return r.table }

// IDForScope implements grammar.Registry.
func (r *Registry) IDForScope(name string) scope.ID { return r.table.IDFor(name) }

// ScopeForID implements grammar.Registry.
func (r *Registry) ScopeForID(id scope.ID) string { return r.table.NameFor(id) }

// DecodeTokens implements grammar.Registry.
func (r *Registry) DecodeTokens(line string, tags []scope.Tag, openAtStart []scope.Tag) []scope.Token {
	return r.table.Decode(line, tags, openAtStart)
}

// MaxTokensPerLine implements grammar.Registry.
func (r *Registry) MaxTokensPerLine() int { return r.maxTokensPerLine }

// MaxLineLength implements grammar.Registry.
func (r *Registry) MaxLineLength() int { return r.maxLineLength }

// NullGrammar returns the fallback grammar.
func (r *Registry) NullGrammar() *grammar.Grammar { return r.null }

// Events delivers AddedEvent, RemovedEvent and UpdatedEvent with the
// affected scope name until ctx is cancelled.
func (r *Registry) Events(ctx context.Context) <-chan pubsub.Event[string] {
	return r.events.Subscribe(ctx)
}

// AddGrammar registers g, replacing any grammar with the same scope name,
// and updates the grammars that include it. Disposing the returned handle
// removes g again.
func (r *Registry) AddGrammar(g *grammar.Grammar) *grammar.Registration {
	name := g.ScopeName()

	r.mu.Lock()
	if old, ok := r.byScope[name]; ok {
		r.grammars = remove(r.grammars, old)
	}
	r.grammars = append(r.grammars, g)
	r.byScope[name] = g
	r.mu.Unlock()

	log.Debug(log.CatRegistry, "grammar added", "scope", name)
	r.events.Publish(pubsub.AddedEvent, name)
	r.NotifyGrammarChanged(name)

	return grammar.NewRegistration(func() { r.RemoveGrammar(g) })
}

// RemoveGrammar unregisters g. It does nothing if g has already been
// replaced or removed.
func (r *Registry) RemoveGrammar(g *grammar.Grammar) {
	name := g.ScopeName()

	r.mu.Lock()
	if r.byScope[name] != g {
		r.mu.Unlock()
		return
	}
	delete(r.byScope, name)
	r.grammars = remove(r.grammars, g)
	r.mu.Unlock()

	log.Debug(log.CatRegistry, "grammar removed", "scope", name)
	r.events.Publish(pubsub.RemovedEvent, name)
	r.NotifyGrammarChanged(name)
}

// GrammarForScopeName returns the grammar registered for name, or nil.
func (r *Registry) GrammarForScopeName(name string) *grammar.Grammar {
	if name == NullScopeName {
		return r.null
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byScope[name]
}

// Lookup is GrammarForScopeName returning ErrGrammarNotFound instead of nil.
func (r *Registry) Lookup(name string) (*grammar.Grammar, error) {
	if g := r.GrammarForScopeName(name); g != nil {
		return g, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrGrammarNotFound, name)
}

// Grammars returns the registered grammars in registration order.
func (r *Registry) Grammars() []*grammar.Grammar {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*grammar.Grammar(nil), r.grammars...)
}

// NotifyGrammarChanged tells every grammar that includes scopeName, directly
// or through other grammars, to recompile. Each grammar is updated at most
// once, so include cycles terminate. It returns the updated scope names in
// the order they were updated.
func (r *Registry) NotifyGrammarChanged(scopeName string) []string {
	visited := map[string]struct{}{scopeName: {}}
	queue := []string{scopeName}
	var updated []string

	for len(queue) > 0 {
		changed := queue[0]
		queue = queue[1:]
		for _, g := range r.Grammars() {
			name := g.ScopeName()
			if _, ok := visited[name]; ok {
				continue
			}
			if g.GrammarUpdated(changed) {
				visited[name] = struct{}{}
				updated = append(updated, name)
				queue = append(queue, name)
				r.events.Publish(pubsub.UpdatedEvent, name)
			}
		}
	}
	if len(updated) > 0 {
		log.Debug(log.CatRegistry, "propagated grammar change", "scope", scopeName, "updated", len(updated))
	}
	return updated
}

// SetGrammarOverrideForPath makes scopeName the grammar for path regardless
// of scoring.
func (r *Registry) SetGrammarOverrideForPath(path, scopeName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[path] = scopeName
}

// ClearGrammarOverrideForPath removes the override for path.
func (r *Registry) ClearGrammarOverrideForPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, path)
}

// ClearGrammarOverrides removes every override.
func (r *Registry) ClearGrammarOverrides() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = make(map[string]string)
}

// OverrideScopeFor implements grammar.Registry. It returns "" when path has
// no override.
func (r *Registry) OverrideScopeFor(path string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overrides[path]
}

// Overrides returns a copy of the path overrides.
func (r *Registry) Overrides() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.overrides))
	for k, v := range r.overrides {
		out[k] = v
	}
	return out
}

// SelectGrammar returns the highest scoring grammar for a file and its
// score. Ties go to the grammar registered first. When nothing applies the
// null grammar is returned with score 0. contents may be nil, in which case
// grammars that need them read the file.
func (r *Registry) SelectGrammar(path string, contents []byte) (*grammar.Grammar, int) {
	var (
		best      *grammar.Grammar
		bestScore = -1
	)
	for _, g := range r.Grammars() {
		if score := g.Score(path, contents); score > bestScore {
			best, bestScore = g, score
		}
	}
	if best == nil {
		return r.null, 0
	}
	return best, bestScore
}

// FileContents implements grammar.Registry. Reads are cached for the
// content cache TTL; failures are not cached.
func (r *Registry) FileContents(path string) ([]byte, error) {
	return r.contents.Get(context.Background(), path, path, r.contentTTL)
}

// ForgetContents drops the cached contents of path.
func (r *Registry) ForgetContents(path string) {
	r.contents.Forget(context.Background(), path)
}

func remove(grammars []*grammar.Grammar, g *grammar.Grammar) []*grammar.Grammar {
	out := grammars[:0]
	for _, candidate := range grammars {
		if candidate != g {
			out = append(out, candidate)
		}
	}
	return out
}
