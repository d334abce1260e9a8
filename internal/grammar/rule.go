package grammar

import (
	"strings"
	"sync/atomic"

	"github.com/dlclark/regexp2"

	"github.com/zjrosen/tmscope/internal/log"
	"github.com/zjrosen/tmscope/internal/scope"
)

// Rule is a compiled matcher the tokenizer drives. The tokenizer only ever
// asks the rule on top of the stack for its next match; whether the rule is a
// plain pattern list or a begin/end region is invisible to it.
type Rule interface {
	// ID identifies the rule. Copies made to resolve back-referenced end
	// patterns keep the ID of the rule they were made from.
	ID() int64
	ScopeName() string
	ContentScopeName() string
	// ScanFrom finds the earliest match at or after pos and applies it,
	// pushing or popping at most one stack entry. It returns nil when
	// nothing matches the rest of the line.
	ScanFrom(stack *Stack, line *Line, pos int, firstLine bool) *Match
}

// Match is the result of one scan.
type Match struct {
	Tags       []scope.Tag
	Start, End int
}

// Line is the text a rule scans, in runes.
type Line struct {
	Text   string
	runes  []rune
	length int
	depth  int // capture nesting depth
}

// NewLine prepares text for scanning. With appendNewline the scanned text
// carries a trailing "\n" so that patterns ending in \n or $ can match the
// end of a line that continues.
func NewLine(text string, appendNewline bool) *Line {
	runes := []rune(text)
	n := len(runes)
	if appendNewline {
		runes = append(runes, '\n')
	}
	return &Line{Text: text, runes: runes, length: n}
}

// Len returns the rune length of the line without the appended newline.
func (l *Line) Len() int { return l.length }

var lastRuleID atomic.Int64

func nextRuleID() int64 { return lastRuleID.Add(1) }

// rule is either a pattern list (root, repository entries, capture patterns)
// or, when end is set, a begin/end region.
type rule struct {
	id                  int64
	grammar             *Grammar
	name                string // repository entry the rule was compiled from
	scopeName           string
	contentScopeName    string
	patterns            []*pattern
	end                 *pattern
	applyEndPatternLast bool
}

func (r *rule) ID() int64                { return r.id }
func (r *rule) ScopeName() string        { return r.scopeName }
func (r *rule) ContentScopeName() string { return r.contentScopeName }

// endSource is the resolved end pattern, used to tell apart two copies of the
// same region that expect different closing text.
func (r *rule) endSource() string {
	if r.end == nil || r.end.re == nil {
		return ""
	}
	return r.end.re.source
}

// ScanFrom implements Rule.
func (r *rule) ScanFrom(stack *Stack, line *Line, pos int, firstLine bool) *Match {
	base := stack.baseGrammar(r.grammar)
	anchor := stack.Top().anchor

	var (
		best      *pattern
		bestMatch *regexp2.Match
	)
	try := func(p *pattern) bool {
		if p == nil || p.re == nil {
			return false
		}
		m := p.re.find(line.runes, pos, firstLine, anchor)
		if m != nil && (bestMatch == nil || m.Index < bestMatch.Index) {
			best, bestMatch = p, m
		}
		return bestMatch != nil && bestMatch.Index == pos
	}

	done := false
	if r.end != nil && !r.applyEndPatternLast {
		done = try(r.end)
	}
	if !done {
		for _, p := range base.expand(r) {
			if try(p) {
				done = true
				break
			}
		}
	}
	if !done && r.end != nil && r.applyEndPatternLast {
		try(r.end)
	}
	if best == nil {
		return nil
	}

	tags := best.handleMatch(stack, line, bestMatch)
	return &Match{Tags: tags, Start: bestMatch.Index, End: bestMatch.Index + bestMatch.Length}
}

type patternKind uint8

const (
	matchPattern patternKind = iota
	beginPattern
	endPattern
	includePattern
	groupPattern
)

// pattern is one compiled entry of a rule's patterns list.
type pattern struct {
	grammar     *Grammar
	kind        patternKind
	re          *regex
	name        string
	contentName string
	captures    map[int]captureRule
	push        *rule  // begin patterns
	include     string // include patterns
	group       *rule  // entries that only hold a patterns list
}

// handleMatch emits the tags of a match and applies its stack effect.
func (p *pattern) handleMatch(stack *Stack, line *Line, m *regexp2.Match) []scope.Tag {
	groups := capturesOf(m)
	start, end := m.Index, m.Index+m.Length
	g := p.grammar

	var tags []scope.Tag
	scopeName := ""
	if p.kind == endPattern {
		if content := stack.Top().ContentScopeName; content != "" {
			tags = append(tags, g.closeTag(content))
		}
	} else if p.name != "" {
		scopeName = resolveScopeName(p.name, groups, line.runes)
		if scopeName != "" {
			tags = append(tags, g.openTag(scopeName))
		}
	}

	if len(p.captures) > 0 {
		tagger := &captureTagger{
			grammar: g,
			rules:   p.captures,
			line:    line,
			groups:  groups,
			stack:   stack,
			depth:   line.depth,
			pending: append([]capture(nil), groups...),
		}
		tags = append(tags, tagger.tags()...)
	} else if end > start {
		tags = append(tags, scope.Text(end-start))
	}

	if p.push != nil {
		pushed := p.push
		if pushed.end != nil && pushed.end.re != nil && pushed.end.re.hasBackRefs {
			pushed = g.withResolvedEnd(pushed, groups, line.runes)
		}
		content := resolveScopeName(pushed.contentScopeName, groups, line.runes)
		stack.pushAnchored(Entry{Rule: pushed, ScopeName: scopeName, ContentScopeName: content}, end)
		if content != "" {
			tags = append(tags, g.openTag(content))
		}
		return tags
	}

	if p.kind == endPattern {
		if popped, ok := stack.Pop(); ok {
			scopeName = popped.ScopeName
		}
	}
	if scopeName != "" {
		tags = append(tags, g.closeTag(scopeName))
	}
	return tags
}

// resolveInclude returns the rule an include pattern refers to, or nil when
// the target is not available.
func (p *pattern) resolveInclude(base *Grammar) *rule {
	ref := p.include
	switch {
	case ref == "$self":
		return p.grammar.initialRule()
	case ref == "$base":
		return base.initialRule()
	case strings.HasPrefix(ref, "#"):
		return p.grammar.repositoryRule(ref[1:])
	}

	scopeName, entry, _ := strings.Cut(ref, "#")
	other := p.grammar.registry.GrammarForScopeName(scopeName)
	if other == nil {
		log.Debug(log.CatGrammar, "included grammar not loaded", "grammar", p.grammar.ScopeName(), "include", ref)
		return nil
	}
	if entry != "" {
		return other.repositoryRule(entry)
	}
	return other.initialRule()
}
