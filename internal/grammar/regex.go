package grammar

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/zjrosen/tmscope/internal/log"
)

// matchTimeout bounds a single regex search so a catastrophically
// backtracking pattern costs one missed match instead of a hung line.
const matchTimeout = 250 * time.Millisecond

// never is substituted for an anchor that cannot match at the current scan
// position.
const never = `(?!)`

// regex is a compiled pattern source. \G and \A depend on scan state, so each
// combination is compiled up front with the unusable anchor replaced by a
// pattern that never matches. This keeps compiled rules immutable.
type regex struct {
	source      string
	hasBackRefs bool
	variants    [4]*regexp2.Regexp // index: allowA<<1 | allowG
}

func compileRegex(source string) (*regex, error) {
	r := &regex{source: source, hasBackRefs: hasBackReferences(source)}
	hasG := containsEscape(source, 'G')
	hasA := containsEscape(source, 'A')

	for i := range r.variants {
		allowG, allowA := i&1 == 1, i&2 == 2
		if (!hasG && allowG) || (!hasA && allowA) {
			continue
		}
		src := source
		if hasG && !allowG {
			src = replaceEscape(src, 'G', never)
		}
		if hasA && !allowA {
			src = replaceEscape(src, 'A', never)
		}
		re, err := regexp2.Compile(src, regexp2.None)
		if err != nil {
			return nil, err
		}
		re.MatchTimeout = matchTimeout
		r.variants[i] = re
	}
	// Patterns without a given anchor reuse the variant that ignores it.
	for i := range r.variants {
		if r.variants[i] != nil {
			continue
		}
		j := i
		if !hasG {
			j &^= 1
		}
		if !hasA {
			j &^= 2
		}
		r.variants[i] = r.variants[j]
	}
	return r, nil
}

// find searches runes from pos. \A is usable only on the first line and \G
// only when pos is the anchor left by the begin match of the current region.
func (r *regex) find(runes []rune, pos int, firstLine bool, anchor int) *regexp2.Match {
	i := 0
	if pos == anchor {
		i |= 1
	}
	if firstLine {
		i |= 2
	}
	m, err := r.variants[i].FindRunesMatchStartingAt(runes, pos)
	if err != nil {
		log.Warn(log.CatTokenizer, "regex search failed", "pattern", r.source, "error", err.Error())
		return nil
	}
	return m
}

// containsEscape reports whether src contains the escape \c outside of an
// escaped backslash.
func containsEscape(src string, c byte) bool {
	for i := 0; i < len(src)-1; i++ {
		if src[i] != '\\' {
			continue
		}
		if src[i+1] == c {
			return true
		}
		i++
	}
	return false
}

func replaceEscape(src string, c byte, with string) string {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); i++ {
		if src[i] == '\\' && i+1 < len(src) {
			if src[i+1] == c {
				b.WriteString(with)
			} else {
				b.WriteByte(src[i])
				b.WriteByte(src[i+1])
			}
			i++
			continue
		}
		b.WriteByte(src[i])
	}
	return b.String()
}

func hasBackReferences(src string) bool {
	for i := 0; i < len(src)-1; i++ {
		if src[i] != '\\' {
			continue
		}
		if src[i+1] >= '1' && src[i+1] <= '9' {
			return true
		}
		i++
	}
	return false
}

// resolveBackReferences replaces \1..\99 in src with the escaped text of the
// corresponding group of a begin match.
func resolveBackReferences(src string, groups []capture, runes []rune) string {
	var b strings.Builder
	for i := 0; i < len(src); i++ {
		if src[i] != '\\' || i+1 >= len(src) {
			b.WriteByte(src[i])
			continue
		}
		j := i + 1
		n := 0
		for j < len(src) && j < i+3 && src[j] >= '0' && src[j] <= '9' {
			n = n*10 + int(src[j]-'0')
			j++
		}
		if j == i+1 || src[i+1] == '0' {
			b.WriteByte(src[i])
			b.WriteByte(src[i+1])
			i++
			continue
		}
		b.WriteString(regexp2.Escape(groupText(groups, n, runes)))
		i = j - 1
	}
	return b.String()
}

// firstLineRegex compiles a grammar's firstLineMatch and reports how many
// physical lines it spans: one plus the number of \n escapes in its source.
func firstLineRegex(source string) (*regexp2.Regexp, int, error) {
	re, err := regexp2.Compile(source, regexp2.None)
	if err != nil {
		return nil, 0, err
	}
	re.MatchTimeout = matchTimeout

	escaped := false
	newlines := 0
	for _, c := range source {
		switch c {
		case '\\':
			escaped = !escaped
		case 'n':
			if escaped {
				newlines++
			}
			escaped = false
		default:
			escaped = false
		}
	}
	return re, newlines + 1, nil
}
