package grammar

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/zjrosen/tmscope/internal/scope"
)

// maxCaptureDepth bounds recursion through capture patterns that tokenize
// their own captured text.
const maxCaptureDepth = 16

// capture is one participating group of a match, in rune offsets.
type capture struct {
	index      int
	start, end int
}

// captureRule holds the configuration of one capture group.
type captureRule struct {
	name string
	rule *rule // nil unless the capture has patterns
}

// capturesOf lists the groups of m that took part in the match, group 0
// first, then ordered by start and by descending length so that parents
// precede the groups they contain. Groups outside group 0, which lookaround
// can produce, are dropped.
func capturesOf(m *regexp2.Match) []capture {
	groups := m.Groups()
	whole := capture{index: 0, start: m.Index, end: m.Index + m.Length}
	out := make([]capture, 0, len(groups))
	out = append(out, whole)
	for i, g := range groups {
		if i == 0 || len(g.Captures) == 0 {
			continue
		}
		c := capture{index: i, start: g.Index, end: g.Index + g.Length}
		if c.start < whole.start || c.end > whole.end {
			continue
		}
		out = append(out, c)
	}
	rest := out[1:]
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].start != rest[j].start {
			return rest[i].start < rest[j].start
		}
		return rest[i].end > rest[j].end
	})
	return out
}

func groupText(groups []capture, n int, runes []rune) string {
	for _, c := range groups {
		if c.index == n {
			return string(runes[min(c.start, len(runes)):min(c.end, len(runes))])
		}
	}
	return ""
}

var captureReference = regexp2.MustCompile(`\$(\d+)|\$\{(\d+):/(downcase|upcase)\}`, regexp2.None)

// resolveScopeName substitutes $n and ${n:/downcase} style references in a
// scope name with the text of the corresponding group.
func resolveScopeName(name string, groups []capture, runes []rune) string {
	if !strings.Contains(name, "$") {
		return name
	}
	out, err := captureReference.ReplaceFunc(name, func(m regexp2.Match) string {
		ref, command := m.GroupByNumber(1).String(), ""
		if ref == "" {
			ref, command = m.GroupByNumber(2).String(), m.GroupByNumber(3).String()
		}
		n, err := strconv.Atoi(ref)
		if err != nil {
			return m.String()
		}
		text := strings.TrimLeft(groupText(groups, n, runes), ".")
		switch command {
		case "downcase":
			return strings.ToLower(text)
		case "upcase":
			return strings.ToUpper(text)
		default:
			return text
		}
	}, -1, -1)
	if err != nil {
		return name
	}
	return out
}

// captureTagger turns the groups of one match into nested scope tags.
type captureTagger struct {
	grammar *Grammar
	rules   map[int]captureRule
	line    *Line
	groups  []capture
	stack   *Stack
	depth   int
	pending []capture
}

// tags consumes the parent capture at the head of pending along with every
// capture it contains.
func (c *captureTagger) tags() []scope.Tag {
	parent := c.pending[0]
	c.pending = c.pending[1:]

	var tags []scope.Tag
	parentScope := ""
	cfg, configured := c.rules[parent.index]
	if configured && cfg.name != "" {
		parentScope = resolveScopeName(cfg.name, c.groups, c.line.runes)
		if parentScope != "" {
			tags = append(tags, c.grammar.openTag(parentScope))
		}
	}

	if configured && cfg.rule != nil && c.depth < maxCaptureDepth {
		tags = append(tags, c.grammar.tagsForCaptureRule(cfg.rule, c.line, parent, c.stack, c.depth+1)...)
		for len(c.pending) > 0 && c.pending[0].start < parent.end {
			c.pending = c.pending[1:]
		}
	} else {
		prevEnd := parent.start
		for len(c.pending) > 0 && c.pending[0].start < parent.end {
			child := c.pending[0]
			if child.end == child.start || !c.hasRule(child.index) {
				c.pending = c.pending[1:]
				continue
			}
			if child.start > prevEnd {
				tags = append(tags, scope.Text(child.start-prevEnd))
			}
			tags = append(tags, c.tags()...)
			prevEnd = child.end
		}
		if parent.end > prevEnd {
			tags = append(tags, scope.Text(parent.end-prevEnd))
		}
	}

	if parentScope != "" {
		if len(tags) > 1 {
			tags = append(tags, c.grammar.closeTag(parentScope))
		} else {
			tags = tags[:len(tags)-1]
		}
	}
	return tags
}

func (c *captureTagger) hasRule(index int) bool {
	_, ok := c.rules[index]
	return ok
}

// tagsForCaptureRule tokenizes the text of one capture with the capture's
// own patterns. Scopes the nested scan leaves open are closed, and text past
// the capture is dropped.
func (g *Grammar) tagsForCaptureRule(r *rule, line *Line, c capture, stack *Stack, depth int) []scope.Tag {
	text := string(line.runes[c.start:min(c.end, len(line.runes))])
	nested := stack.Clone()
	nested.Push(Entry{Rule: r})

	result := g.scan(text, nested, false, false, depth, 0)

	length := c.end - c.start
	var open []scope.ID
	out := make([]scope.Tag, 0, len(result.tags))
	offset := 0
	for _, tag := range result.tags {
		switch tag.Kind() {
		case scope.KindText:
			if tag.Len() == 0 || offset >= length {
				continue
			}
			n := min(tag.Len(), length-offset)
			offset += n
			out = append(out, scope.Text(n))
		case scope.KindOpen:
			open = append(open, tag.Scope())
			out = append(out, tag)
		case scope.KindClose:
			if len(open) == 0 || open[len(open)-1] != tag.Scope() {
				continue
			}
			open = open[:len(open)-1]
			out = append(out, tag)
		}
	}
	for i := len(open) - 1; i >= 0; i-- {
		out = append(out, scope.Close(open[i]))
	}
	return out
}
