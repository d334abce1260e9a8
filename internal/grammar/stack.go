package grammar

import "github.com/zjrosen/tmscope/internal/scope"

// Entry is one level of a rule stack. ScopeName and ContentScopeName record
// what this level opened when it was pushed, so later changes to the rule's
// configuration never change the meaning of tags already emitted.
type Entry struct {
	Rule             Rule
	ScopeName        string
	ContentScopeName string

	anchor int // end of the begin match on the current line, -1 otherwise
}

// Stack is the continuation state threaded from one line to the next. The
// bottom entry is the grammar's root context and is never popped.
type Stack struct {
	entries []Entry
}

// NewStack returns a stack holding only root.
func NewStack(root Entry) *Stack {
	root.anchor = -1
	return &Stack{entries: []Entry{root}}
}

// Len returns the number of entries.
func (s *Stack) Len() int { return len(s.entries) }

// Top returns the innermost entry.
func (s *Stack) Top() Entry { return s.entries[len(s.entries)-1] }

// Entries returns a copy of the entries, root first.
func (s *Stack) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Clone returns an independent copy of s.
func (s *Stack) Clone() *Stack {
	if s == nil {
		return nil
	}
	return &Stack{entries: s.Entries()}
}

// Push adds an entry on top. The entry carries no \G anchor.
func (s *Stack) Push(e Entry) {
	s.pushAnchored(e, -1)
}

// pushAnchored adds an entry whose begin match ended at anchor.
func (s *Stack) pushAnchored(e Entry, anchor int) {
	e.anchor = anchor
	s.entries = append(s.entries, e)
}

// Pop removes the top entry. It refuses to remove the root and reports
// whether an entry was removed.
func (s *Stack) Pop() (Entry, bool) {
	if len(s.entries) <= 1 {
		return Entry{}, false
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return top, true
}

// Equal reports whether both stacks hold the same rules with the same scope
// names. Anchors are line-local and ignored.
func (s *Stack) Equal(other *Stack) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.entries) != len(other.entries) {
		return false
	}
	for i, a := range s.entries {
		b := other.entries[i]
		if a.ScopeName != b.ScopeName || a.ContentScopeName != b.ContentScopeName {
			return false
		}
		if !sameRule(a.Rule, b.Rule) {
			return false
		}
	}
	return true
}

func sameRule(a, b Rule) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID() != b.ID() {
		return false
	}
	ra, okA := a.(*rule)
	rb, okB := b.(*rule)
	if okA && okB {
		return ra.endSource() == rb.endSource()
	}
	return true
}

// rewind undoes the stack effect of a single scan that started at depth
// with top as its top entry. A scan pushes or pops at most one entry.
func (s *Stack) rewind(depth int, top Entry) {
	switch {
	case len(s.entries) > depth:
		s.entries = s.entries[:depth]
	case len(s.entries) < depth:
		s.entries = append(s.entries, top)
	}
}

func (s *Stack) clearAnchors() {
	for i := range s.entries {
		s.entries[i].anchor = -1
	}
}

// openTags returns the open tags for every scope the stack holds, root
// first.
func (s *Stack) openTags(g *Grammar) []scope.Tag {
	tags := make([]scope.Tag, 0, len(s.entries)*2)
	for _, e := range s.entries {
		if e.ScopeName != "" {
			tags = append(tags, g.openTag(e.ScopeName))
		}
		if e.ContentScopeName != "" {
			tags = append(tags, g.openTag(e.ContentScopeName))
		}
	}
	return tags
}

// closeTags returns close tags for every scope the stack holds, innermost
// first.
func (s *Stack) closeTags(g *Grammar) []scope.Tag {
	tags := make([]scope.Tag, 0, len(s.entries)*2)
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.ContentScopeName != "" {
			tags = append(tags, g.closeTag(e.ContentScopeName))
		}
		if e.ScopeName != "" {
			tags = append(tags, g.closeTag(e.ScopeName))
		}
	}
	return tags
}

// baseGrammar is the grammar that owns the root context, which $base
// includes refer to.
func (s *Stack) baseGrammar(fallback *Grammar) *Grammar {
	if r, ok := s.entries[0].Rule.(*rule); ok && r.grammar != nil {
		return r.grammar
	}
	return fallback
}
