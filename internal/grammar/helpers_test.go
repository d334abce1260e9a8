package grammar

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tmscope/internal/scope"
)

// fakeRegistry is a minimal in-memory Registry.
type fakeRegistry struct {
	table     *scope.Table
	grammars  map[string]*Grammar
	overrides map[string]string
	files     map[string][]byte
	maxTokens int
	maxLine   int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		table:     scope.NewTable(),
		grammars:  make(map[string]*Grammar),
		overrides: make(map[string]string),
		files:     make(map[string][]byte),
	}
}

func (r *fakeRegistry) IDForScope(name string) scope.ID { return r.table.IDFor(name) }
func (r *fakeRegistry) ScopeForID(id scope.ID) string   { return r.table.NameFor(id) }

func (r *fakeRegistry) DecodeTokens(line string, tags []scope.Tag, open []scope.Tag) []scope.Token {
	return r.table.Decode(line, tags, open)
}

func (r *fakeRegistry) AddGrammar(g *Grammar) *Registration {
	r.grammars[g.ScopeName()] = g
	return NewRegistration(func() { delete(r.grammars, g.ScopeName()) })
}

func (r *fakeRegistry) GrammarForScopeName(name string) *Grammar { return r.grammars[name] }
func (r *fakeRegistry) OverrideScopeFor(path string) string      { return r.overrides[path] }

func (r *fakeRegistry) FileContents(path string) ([]byte, error) {
	data, ok := r.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (r *fakeRegistry) MaxTokensPerLine() int { return r.maxTokens }
func (r *fakeRegistry) MaxLineLength() int    { return r.maxLine }

// loadGrammar parses a YAML grammar and activates it in reg.
func loadGrammar(t testing.TB, reg *fakeRegistry, src string) *Grammar {
	t.Helper()
	cfg, err := ParseConfig([]byte(src))
	require.NoError(t, err)
	g, err := New(reg, cfg)
	require.NoError(t, err)
	g.Activate()
	return g
}

// tokenize returns the formatted tags of one line tokenized from stack.
func tokenize(g *Grammar, line string, stack *Stack, firstLine bool) (string, *Stack) {
	res := g.TokenizeLine(line, stack, firstLine)
	return g.registry.(*fakeRegistry).table.Format(res.Tags), res.Stack
}
