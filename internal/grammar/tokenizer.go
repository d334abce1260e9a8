package grammar

import (
	"strings"
	"sync"

	"github.com/zjrosen/tmscope/internal/log"
	"github.com/zjrosen/tmscope/internal/scope"
)

const (
	// DefaultMaxTokensPerLine applies when neither the grammar nor the
	// registry sets a ceiling.
	DefaultMaxTokensPerLine = 100
	// DefaultMaxLineLength applies when neither the grammar nor the registry
	// sets a limit.
	DefaultMaxLineLength = 1000
)

// LineResult is the outcome of tokenizing one line.
type LineResult struct {
	Tags  []scope.Tag
	Stack *Stack
}

// CompatResult is a LineResult that also knows the scopes open at the start
// of the line and can decode itself into tokens.
type CompatResult struct {
	Line          string
	OpenScopeTags []scope.Tag
	Tags          []scope.Tag
	Stack         *Stack

	registry Registry
	once     sync.Once
	tokens   []scope.Token
}

// Tokens decodes the tags on first call and returns the same slice after.
func (r *CompatResult) Tokens() []scope.Token {
	r.once.Do(func() {
		r.tokens = r.registry.DecodeTokens(r.Line, r.Tags, r.OpenScopeTags)
	})
	return r.tokens
}

// TokenizeLine tokenizes line starting from stack, the Stack returned for
// the previous line, or nil for the first line of a document. stack is not
// modified.
//
// Tags opened by this line or implied by stack are all closed by the end of
// the returned tags; the returned Stack records which of them continue onto
// the next line.
func (g *Grammar) TokenizeLine(line string, stack *Stack, firstLine bool) LineResult {
	return g.tokenizeLine(line, stack, firstLine, true)
}

// TokenizeLineCompat is TokenizeLine returning a result that can also
// produce decoded tokens.
func (g *Grammar) TokenizeLineCompat(line string, stack *Stack, firstLine bool) *CompatResult {
	var open []scope.Tag
	if stack != nil && stack.Len() > 0 {
		open = stack.openTags(g)
	}
	res := g.TokenizeLine(line, stack, firstLine)
	return &CompatResult{
		Line:          line,
		OpenScopeTags: open,
		Tags:          res.Tags,
		Stack:         res.Stack,
		registry:      g.registry,
	}
}

// TokenizeLines tokenizes every line of text and decodes the result.
func (g *Grammar) TokenizeLines(text string) [][]scope.Token {
	lines := SplitLines(text)
	out := make([][]scope.Token, len(lines))
	var stack *Stack
	for i, line := range lines {
		var open []scope.Tag
		if stack != nil {
			open = stack.openTags(g)
		}
		res := g.tokenizeLine(line, stack, i == 0, i != len(lines)-1)
		out[i] = g.registry.DecodeTokens(line, res.Tags, open)
		stack = res.Stack
	}
	return out
}

// SplitLines splits text on \n, dropping a \r that precedes it.
func SplitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func (g *Grammar) tokenizeLine(line string, stack *Stack, firstLine, appendNewline bool) LineResult {
	var tags []scope.Tag
	if stack == nil || stack.Len() == 0 {
		root := g.initialRule()
		stack = NewStack(Entry{Rule: root, ScopeName: root.scopeName, ContentScopeName: root.contentScopeName})
		tags = stack.openTags(g)
	} else {
		stack = stack.Clone()
	}

	res := g.scan(line, stack, firstLine, appendNewline, 0, len(tags))
	tags = append(tags, res.tags...)
	tags = append(tags, res.live.closeTags(g)...)
	res.stack.clearAnchors()
	return LineResult{Tags: tags, Stack: res.stack}
}

type scanResult struct {
	tags  []scope.Tag
	stack *Stack // continues onto the next line
	live  *Stack // scopes still open where scanning stopped
}

// scan runs the matching loop over one line. stack is modified in place.
// tokenCount is the number of tokens already spent on the line.
func (g *Grammar) scan(text string, stack *Stack, firstLine, appendNewline bool, depth, tokenCount int) scanResult {
	maxTokens := g.MaxTokensPerLine()
	entry := stack.Clone()

	line := NewLine(text, appendNewline)
	length := line.length
	truncated := false
	if maxLen := g.MaxLineLength(); length > maxLen {
		line = NewLine(string([]rune(text)[:maxLen]), false)
		truncated = true
	}
	line.depth = depth
	scanLen := line.length

	var (
		tags []scope.Tag
		pos  int
		run  zeroWidthRun
	)
	for {
		if pos > scanLen {
			break
		}
		if tokenCount >= maxTokens-1 {
			truncated = true
			break
		}

		prevPos, prevDepth, prevTop := pos, stack.Len(), stack.Top()
		m := prevTop.Rule.ScanFrom(stack, line, pos, firstLine)
		if m == nil {
			tags = flush(tags, pos, scanLen)
			break
		}

		opens := scope.CountOpen(m.Tags)
		if opens > 0 && tokenCount+opens > maxTokens-1 {
			stack.rewind(prevDepth, prevTop)
			truncated = true
			break
		}
		if m.Start > pos {
			tags = append(tags, scope.Text(m.Start-pos))
			tokenCount++
		}
		tags = append(tags, m.Tags...)
		tokenCount += opens
		pos = m.End

		if pos != prevPos {
			run.reset()
			continue
		}

		switch {
		case stack.Len() == prevDepth:
			log.Warn(log.CatTokenizer, "popping rule because it loops",
				"grammar", g.ScopeName(), "column", pos, "depth", stack.Len(), "line", text)
			popped, ok := stack.Pop()
			if !ok {
				return g.finish(flush(tags, pos, scanLen), stack, stack, length)
			}
			tags = append(tags, closeEntry(g, popped)...)

		case stack.Len() > prevDepth:
			entries := stack.entries
			top, parent := entries[len(entries)-1], entries[len(entries)-2]
			selfNested := sameRule(top.Rule, parent.Rule) ||
				(top.ScopeName != "" && top.ScopeName == parent.ScopeName)
			if selfNested {
				stack.Pop()
				tags = dropOpens(g, tags, top)
				return g.finish(flush(tags, pos, scanLen), stack, stack, length)
			}
			if run.pushed(top.Rule.ID(), prevDepth) {
				tags = unwind(g, tags, stack, run.base)
				return g.finish(flush(tags, pos, scanLen), stack, stack, length)
			}

		default:
			if run.hasPush() {
				return g.finish(flush(tags, pos, scanLen), stack, stack, length)
			}
		}
	}

	if truncated {
		if rest := length - pos; rest > 0 {
			if n := len(tags); n > 0 && tags[n-1].IsText() {
				tags[n-1] = scope.Text(tags[n-1].Len() + rest)
			} else {
				tags = append(tags, scope.Text(rest))
			}
		}
		return g.finish(tags, entry, stack, length)
	}
	return g.finish(tags, stack, stack, length)
}

func (g *Grammar) finish(tags []scope.Tag, next, live *Stack, length int) scanResult {
	return scanResult{tags: fitText(tags, length), stack: next, live: live}
}

// zeroWidthRun tracks the rules pushed while the scan position stays put. A
// rule pushed twice in one run, or a pop that undoes a push, means the
// grammar would cycle forever at this position.
type zeroWidthRun struct {
	ids  []int64
	base int // stack depth before the run's first push
}

func (r *zeroWidthRun) reset() { r.ids = r.ids[:0] }

func (r *zeroWidthRun) hasPush() bool { return len(r.ids) > 0 }

// pushed records id, pushed onto a stack of depth before, and reports
// whether it was already pushed in this run.
func (r *zeroWidthRun) pushed(id int64, before int) bool {
	if len(r.ids) == 0 {
		r.base = before
	}
	for _, seen := range r.ids {
		if seen == id {
			return true
		}
	}
	r.ids = append(r.ids, id)
	return false
}

// flush emits the unscanned rest of the line. An empty line always gets one
// span.
func flush(tags []scope.Tag, pos, length int) []scope.Tag {
	if pos < length {
		return append(tags, scope.Text(length-pos))
	}
	if length == 0 && !hasText(tags) {
		return append(tags, scope.Text(0))
	}
	return tags
}

func hasText(tags []scope.Tag) bool {
	for _, t := range tags {
		if t.IsText() {
			return true
		}
	}
	return false
}

func closeEntry(g *Grammar, e Entry) []scope.Tag {
	var tags []scope.Tag
	if e.ContentScopeName != "" {
		tags = append(tags, g.closeTag(e.ContentScopeName))
	}
	if e.ScopeName != "" {
		tags = append(tags, g.closeTag(e.ScopeName))
	}
	return tags
}

// dropOpens removes the open tags a zero-width push just emitted for e. A
// scope whose open tag is not the last one emitted is closed instead.
func dropOpens(g *Grammar, tags []scope.Tag, e Entry) []scope.Tag {
	for _, name := range []string{e.ContentScopeName, e.ScopeName} {
		if name == "" {
			continue
		}
		if n := len(tags); n > 0 && tags[n-1] == g.openTag(name) {
			tags = tags[:n-1]
		} else {
			tags = append(tags, g.closeTag(name))
		}
	}
	return tags
}

// unwind pops every entry above depth, dropping the opens each emitted.
func unwind(g *Grammar, tags []scope.Tag, stack *Stack, depth int) []scope.Tag {
	for stack.Len() > depth {
		top, ok := stack.Pop()
		if !ok {
			break
		}
		tags = dropOpens(g, tags, top)
	}
	return tags
}

// fitText shortens trailing text spans so the spans add up to length. Scans
// see a virtual newline after the line that matches may consume.
func fitText(tags []scope.Tag, length int) []scope.Tag {
	excess := scope.TextLen(tags) - length
	if excess <= 0 {
		return tags
	}
	for i := len(tags) - 1; i >= 0 && excess > 0; i-- {
		n := tags[i].Len()
		if n == 0 {
			continue
		}
		cut := min(n, excess)
		excess -= cut
		tags[i] = scope.Text(n - cut)
	}
	out := tags[:0]
	empty := false
	for _, t := range tags {
		if t.IsText() && t.Len() == 0 {
			// An empty line keeps a single empty span.
			if length > 0 || empty {
				continue
			}
			empty = true
		}
		out = append(out, t)
	}
	return out
}
