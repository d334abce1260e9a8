package grammar

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/zjrosen/tmscope/internal/scope"
)

// propertyGrammar mixes ordinary rules with ones that match empty text,
// push themselves without consuming input or reuse the root scope.
const propertyGrammar = `
scopeName: source.prop
patterns:
  - match: 'a+'
    name: keyword.a
  - match: '(?=b)'
    name: meta.empty
  - begin: '\('
    end: '\)'
    name: meta.paren
    patterns:
      - include: '$self'
  - begin: '(?=c)'
    end: '(?=c)'
    name: meta.loop
  - begin: 'd'
    end: '$'
    name: comment.line
    contentName: comment.content
  - match: '(e)(f)?'
    captures:
      1: {name: capture.e}
      2: {name: capture.f}
  - begin: '(?=g)'
    end: 'h'
    name: source.prop
  - include: '#nest'
  - begin: '"'
    end: '"'
    name: string.quoted
    patterns:
      - match: '\G'
      - match: '\\.'
        name: constant.escape
repository:
  nest:
    begin: '(?=i)'
    end: 'j'
    patterns:
      - include: '#nest'
`

func drawLine(t *rapid.T, label string) string {
	return rapid.StringMatching(`[abcdefghij()"\\ ]{0,24}`).Draw(t, label)
}

func TestTokenizeLine_Properties(t *testing.T) {
	reg := newFakeRegistry()
	g := loadGrammar(t, reg, propertyGrammar)

	rapid.Check(t, func(t *rapid.T) {
		reg.maxTokens = rapid.IntRange(3, 40).Draw(t, "maxTokens")
		lines := rapid.IntRange(1, 4).Draw(t, "lines")

		var stack *Stack
		for i := range lines {
			line := drawLine(t, "line")
			var before []Entry
			if stack != nil {
				before = stack.Entries()
			}

			res := g.TokenizeLine(line, stack, i == 0)
			again := g.TokenizeLine(line, stack, i == 0)

			if reg.table.Format(res.Tags) != reg.table.Format(again.Tags) || !res.Stack.Equal(again.Stack) {
				t.Fatalf("tokenizing %q twice differed", line)
			}
			if res.Stack.Len() < 1 {
				t.Fatalf("stack lost its root for %q", line)
			}
			if n := scope.CountOpen(res.Tags); n > reg.maxTokens-1 {
				t.Fatalf("%d open tags for %q exceed budget %d", n, line, reg.maxTokens)
			}
			if n := scope.TextLen(res.Tags); n != len([]rune(line)) {
				t.Fatalf("spans cover %d of %d characters in %q: %s", n, len([]rune(line)), line, reg.table.Format(res.Tags))
			}
			if stack != nil && !sameEntries(before, stack.Entries()) {
				t.Fatalf("incoming stack was modified")
			}
			assertBalanced(t, reg, stack, g, res.Tags)
			stack = res.Stack
		}
	})
}

func sameEntries(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ScopeName != b[i].ScopeName || a[i].ContentScopeName != b[i].ContentScopeName || !sameRule(a[i].Rule, b[i].Rule) {
			return false
		}
	}
	return true
}

// assertBalanced checks that every scope open at the start of the line or
// opened on it is closed by the end of the line's tags.
func assertBalanced(t *rapid.T, reg *fakeRegistry, incoming *Stack, g *Grammar, tags []scope.Tag) {
	var open []scope.ID
	if incoming != nil {
		for _, tag := range incoming.openTags(g) {
			open = append(open, tag.Scope())
		}
	}
	for _, tag := range tags {
		switch tag.Kind() {
		case scope.KindOpen:
			open = append(open, tag.Scope())
		case scope.KindClose:
			if len(open) == 0 || open[len(open)-1] != tag.Scope() {
				t.Fatalf("unbalanced close of %s in %s", reg.table.NameFor(tag.Scope()), reg.table.Format(tags))
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) != 0 {
		t.Fatalf("%d scopes left open in %s", len(open), reg.table.Format(tags))
	}
}
