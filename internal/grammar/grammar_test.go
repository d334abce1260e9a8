package grammar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tmscope/internal/pubsub"
	"github.com/zjrosen/tmscope/internal/scope"
)

func TestGrammar_ActivateDeactivate(t *testing.T) {
	reg := newFakeRegistry()
	cfg, err := ParseConfig([]byte("scopeName: source.x"))
	require.NoError(t, err)
	g, err := New(reg, cfg)
	require.NoError(t, err)

	require.Nil(t, reg.GrammarForScopeName("source.x"))
	g.Activate()
	g.Activate()
	require.Same(t, g, reg.GrammarForScopeName("source.x"))

	g.Deactivate()
	require.Nil(t, reg.GrammarForScopeName("source.x"))
	g.Deactivate()
}

func TestRegistration_DisposeOnce(t *testing.T) {
	calls := 0
	r := NewRegistration(func() { calls++ })
	require.NotEqual(t, [16]byte{}, [16]byte(r.ID))

	r.Dispose()
	r.Dispose()
	require.Equal(t, 1, calls)

	var nilReg *Registration
	require.NotPanics(t, nilReg.Dispose)
}

func TestGrammar_Limits(t *testing.T) {
	reg := newFakeRegistry()
	g := loadGrammar(t, reg, "scopeName: source.x")
	require.Equal(t, DefaultMaxTokensPerLine, g.MaxTokensPerLine())
	require.Equal(t, DefaultMaxLineLength, g.MaxLineLength())

	reg.maxTokens, reg.maxLine = 10, 20
	require.Equal(t, 10, g.MaxTokensPerLine())
	require.Equal(t, 20, g.MaxLineLength())

	reg.maxTokens = 1
	require.Equal(t, 2, g.MaxTokensPerLine(), "room for the root scope and one token")
	res := g.TokenizeLine("abc", nil, true)
	require.LessOrEqual(t, scope.CountOpen(res.Tags), g.MaxTokensPerLine()-1)

	own := loadGrammar(t, reg, "scopeName: source.y\nmaxTokensPerLine: 5\nmaxLineLength: 7")
	require.Equal(t, 5, own.MaxTokensPerLine())
	require.Equal(t, 7, own.MaxLineLength())
}

func TestGrammar_Accessors(t *testing.T) {
	g := loadGrammar(t, newFakeRegistry(), `
name: Example
scopeName: source.x
fileTypes: [x]
foldingStopMarker: '^\}'
injectionSelector: 'L:comment'
injections:
  'R:string':
    patterns:
      - match: todo
        name: keyword.todo
`)
	require.Equal(t, "Example", g.Name())
	require.Equal(t, "source.x", g.ScopeName())
	require.Equal(t, []string{"x"}, g.FileTypes())
	require.Equal(t, `^\}`, g.FoldingStopMarker())
	require.Equal(t, "L:comment", g.InjectionSelector())
	require.Contains(t, g.Injections(), "R:string")
	require.Equal(t, "source.x", g.Config().ScopeName)
}

func TestRepository_NormalizesInlineEntries(t *testing.T) {
	g := loadGrammar(t, newFakeRegistry(), `
scopeName: source.x
repository:
  keyword:
    match: '\bif\b'
    name: keyword.control
  strings:
    name: meta.strings
    patterns:
      - begin: '"'
        end: '"'
        name: string.quoted
`)

	repo := g.Repository()
	require.Len(t, repo, 2)
	require.Empty(t, repo["keyword"].ScopeName(), "an inline entry is wrapped in an unnamed list")
	require.Equal(t, "meta.strings", repo["strings"].ScopeName())

	again := g.Repository()
	require.Equal(t, repo["keyword"].ID(), again["keyword"].ID())
}

func TestGrammar_ClearRulesRecompiles(t *testing.T) {
	g := loadGrammar(t, newFakeRegistry(), "scopeName: source.x\nrepository:\n  a: {match: a}")

	root := g.InitialRule()
	entry := g.Repository()["a"]
	require.Equal(t, root.ID(), g.InitialRule().ID())

	g.ClearRules()
	require.NotEqual(t, root.ID(), g.InitialRule().ID())
	require.NotEqual(t, entry.ID(), g.Repository()["a"].ID())
}

func TestGrammar_IncludesOtherGrammar(t *testing.T) {
	reg := newFakeRegistry()
	loadGrammar(t, reg, `
scopeName: source.a
patterns:
  - include: '#keyword'
repository:
  keyword:
    match: '\bif\b'
    name: keyword.control
  number:
    match: '\d+'
    name: constant.numeric
`)
	b := loadGrammar(t, reg, `
scopeName: source.b
patterns:
  - include: source.a
  - include: 'source.a#number'
  - include: source.missing
`)

	tags, _ := tokenize(b, "if 1", nil, true)
	require.Equal(t, "+source.b +keyword.control 2 -keyword.control 1 +constant.numeric 1 -constant.numeric -source.b", tags)
	require.Equal(t, []string{"source.a", "source.missing"}, b.IncludedGrammarScopes())
}

func TestGrammar_BaseInclude(t *testing.T) {
	reg := newFakeRegistry()
	loadGrammar(t, reg, `
scopeName: source.embedded
patterns:
  - begin: '\{'
    end: '\}'
    name: meta.block
    patterns:
      - include: '$base'
`)
	host := loadGrammar(t, reg, `
scopeName: source.host
patterns:
  - include: source.embedded
  - match: '\bhost\b'
    name: keyword.host
`)

	tags, _ := tokenize(host, "{host}", nil, true)
	require.Equal(t, "+source.host +meta.block 1 +keyword.host 4 -keyword.host 1 -meta.block -source.host", tags)
}

func TestGrammar_GrammarUpdated(t *testing.T) {
	reg := newFakeRegistry()
	b := loadGrammar(t, reg, `
scopeName: source.b
patterns:
  - include: source.a
`)
	b.InitialRule()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := b.OnUpdate(ctx)

	require.False(t, b.GrammarUpdated("source.unrelated"))
	root := b.InitialRule().ID()
	require.True(t, b.GrammarUpdated("source.a"))
	require.NotEqual(t, root, b.InitialRule().ID())

	select {
	case ev := <-updates:
		require.Equal(t, pubsub.UpdatedEvent, ev.Type)
		require.Equal(t, "source.a", ev.Payload)
	case <-time.After(time.Second):
		require.Fail(t, "no update event")
	}
	select {
	case ev := <-updates:
		require.Fail(t, "unexpected event", ev.Payload)
	default:
	}
}

func TestGrammar_LateIncludedGrammar(t *testing.T) {
	reg := newFakeRegistry()
	b := loadGrammar(t, reg, `
scopeName: source.b
patterns:
  - include: source.a
`)

	tags, _ := tokenize(b, "if", nil, true)
	require.Equal(t, "+source.b 2 -source.b", tags)

	loadGrammar(t, reg, `
scopeName: source.a
patterns:
  - match: if
    name: keyword.control
`)
	require.True(t, b.GrammarUpdated("source.a"))

	tags, _ = tokenize(b, "if", nil, true)
	require.Equal(t, "+source.b +keyword.control 2 -keyword.control -source.b", tags)
}
