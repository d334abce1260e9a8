package scope

import (
	"strings"
	"sync"
)

// Token is a decoded span of line text with the scopes open over it,
// outermost first.
type Token struct {
	Value  string
	Scopes []string
}

// Table interns scope names to stable ids. It is safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	ids   map[string]ID
	names []string // names[id-1]
}

// NewTable creates an empty scope table.
func NewTable() *Table {
	return &Table{ids: make(map[string]ID)}
}

// IDFor returns the id for name, interning it on first use.
func (t *Table) IDFor(name string) ID {
	t.mu.RLock()
	id, ok := t.ids[name]
	t.mu.RUnlock()
	if ok {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[name]; ok {
		return id
	}
	t.names = append(t.names, name)
	id = ID(len(t.names))
	t.ids[name] = id
	return id
}

// NameFor returns the scope name interned under id, or "" when unknown.
func (t *Table) NameFor(id ID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id <= 0 || int(id) > len(t.names) {
		return ""
	}
	return t.names[id-1]
}

// Len returns the number of interned scopes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}

// OpenTag returns the open tag for name.
func (t *Table) OpenTag(name string) Tag { return Open(t.IDFor(name)) }

// CloseTag returns the close tag for name.
func (t *Table) CloseTag(name string) Tag { return Close(t.IDFor(name)) }

// Decode turns a line's tags into tokens. openAtStart holds the open tags of
// the scopes already open when the line began.
func (t *Table) Decode(line string, tags []Tag, openAtStart []Tag) []Token {
	runes := []rune(line)
	scopes := make([]ID, 0, len(openAtStart)+4)
	for _, tag := range openAtStart {
		if tag.IsOpen() {
			scopes = append(scopes, tag.Scope())
		}
	}

	tokens := make([]Token, 0, len(tags)/2+1)
	offset := 0
	for _, tag := range tags {
		switch tag.Kind() {
		case KindOpen:
			scopes = append(scopes, tag.Scope())
		case KindClose:
			// Pop back to the matching open; an unmatched close leaves the
			// stack alone.
			for i := len(scopes) - 1; i >= 0; i-- {
				if scopes[i] == tag.Scope() {
					scopes = scopes[:i]
					break
				}
			}
		case KindText:
			start := min(offset, len(runes))
			end := min(offset+tag.Len(), len(runes))
			offset += tag.Len()
			if end == start && !(tag.Len() == 0 && len(runes) == 0) {
				continue
			}
			tokens = append(tokens, Token{
				Value:  string(runes[start:end]),
				Scopes: t.scopeNames(scopes),
			})
		}
	}
	return tokens
}

func (t *Table) scopeNames(ids []ID) []string {
	out := make([]string, len(ids))
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, id := range ids {
		if id > 0 && int(id) <= len(t.names) {
			out[i] = t.names[id-1]
		}
	}
	return out
}

// Format renders tags with scope names for debugging and golden output,
// e.g. "+source.x 3 -source.x".
func (t *Table) Format(tags []Tag) string {
	var b strings.Builder
	for i, tag := range tags {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch tag.Kind() {
		case KindOpen:
			b.WriteByte('+')
			b.WriteString(t.NameFor(tag.Scope()))
		case KindClose:
			b.WriteByte('-')
			b.WriteString(t.NameFor(tag.Scope()))
		default:
			b.WriteString(tag.String())
		}
	}
	return b.String()
}
