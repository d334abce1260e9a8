package grammar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStack_PushPopFloor(t *testing.T) {
	g := loadGrammar(t, newFakeRegistry(), "scopeName: source.x\nrepository:\n  a: {match: a}")
	root := g.InitialRule()
	inner := g.Repository()["a"]

	s := NewStack(Entry{Rule: root, ScopeName: "source.x"})
	_, ok := s.Pop()
	require.False(t, ok, "the root entry is never popped")
	require.Equal(t, 1, s.Len())

	s.Push(Entry{Rule: inner, ScopeName: "meta.a"})
	require.Equal(t, 2, s.Len())
	require.Equal(t, "meta.a", s.Top().ScopeName)

	popped, ok := s.Pop()
	require.True(t, ok)
	require.Equal(t, "meta.a", popped.ScopeName)
	require.Equal(t, 1, s.Len())
}

func TestStack_CloneIsIndependent(t *testing.T) {
	g := loadGrammar(t, newFakeRegistry(), "scopeName: source.x")
	s := NewStack(Entry{Rule: g.InitialRule(), ScopeName: "source.x"})

	c := s.Clone()
	c.Push(Entry{Rule: g.InitialRule(), ScopeName: "meta.y"})
	require.Equal(t, 1, s.Len())
	require.Equal(t, 2, c.Len())
	require.Nil(t, (*Stack)(nil).Clone())

	entries := c.Entries()
	entries[0].ScopeName = "changed"
	require.Equal(t, "source.x", c.Entries()[0].ScopeName)
}

func TestStack_Equal(t *testing.T) {
	g := loadGrammar(t, newFakeRegistry(), "scopeName: source.x\nrepository:\n  a: {match: a}")
	root, other := g.InitialRule(), g.Repository()["a"]

	base := NewStack(Entry{Rule: root, ScopeName: "source.x"})
	same := NewStack(Entry{Rule: root, ScopeName: "source.x"})
	require.True(t, base.Equal(same))

	same.entries[0].anchor = 4
	require.True(t, base.Equal(same), "anchors are ignored")

	require.False(t, base.Equal(NewStack(Entry{Rule: root, ScopeName: "source.y"})))
	require.False(t, base.Equal(NewStack(Entry{Rule: other, ScopeName: "source.x"})))

	deeper := base.Clone()
	deeper.Push(Entry{Rule: other})
	require.False(t, base.Equal(deeper))

	var nilStack *Stack
	require.True(t, nilStack.Equal(nil))
	require.False(t, base.Equal(nil))
}

func TestStack_Rewind(t *testing.T) {
	g := loadGrammar(t, newFakeRegistry(), "scopeName: source.x\nrepository:\n  a: {match: a}")
	root, inner := g.InitialRule(), g.Repository()["a"]

	s := NewStack(Entry{Rule: root})
	s.Push(Entry{Rule: inner, ScopeName: "meta.a"})
	top := s.Top()

	s.Push(Entry{Rule: inner, ScopeName: "meta.b"})
	s.rewind(2, top)
	require.Equal(t, "meta.a", s.Top().ScopeName)

	s.Pop()
	s.rewind(2, top)
	require.Equal(t, 2, s.Len())
	require.Equal(t, "meta.a", s.Top().ScopeName)
}

func TestStack_PushedEntryHasNoAnchor(t *testing.T) {
	g := loadGrammar(t, newFakeRegistry(), `
scopeName: source.x
patterns:
  - include: '#group'
repository:
  group:
    begin: '\('
    end: '\)'
    name: meta.group
    patterns:
      - match: '\G\w'
        name: entity.first
`)

	s := NewStack(Entry{Rule: g.InitialRule(), ScopeName: "source.x"})
	s.Push(Entry{Rule: g.Repository()["group"], ScopeName: "meta.group"})
	require.Equal(t, -1, s.Top().anchor)

	tags, _ := tokenize(g, "a)", s, false)
	require.Equal(t, "1 1 -meta.group -source.x", tags, `\G must not match at the start of a continued line`)
}
