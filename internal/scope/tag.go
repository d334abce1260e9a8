// Package scope interns TextMate scope names and decodes tag sequences into tokens.
//
// A tokenized line is described by a sequence of tags. Each tag is either a
// literal span (the next N characters of the line) or a scope boundary that
// opens or closes an interned scope. Tags are only built through Text, Open
// and Close so the encoding stays private to this package.
package scope

import "fmt"

// ID identifies an interned scope name. Valid ids are positive.
type ID int32

// Kind distinguishes the variants of a Tag.
type Kind uint8

const (
	KindText Kind = iota
	KindOpen
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// Tag is one element of a line's tag sequence.
type Tag struct {
	kind Kind
	n    int32 // span length for text, scope id for boundaries
}

// Text returns a literal span tag covering n characters.
func Text(n int) Tag {
	if n < 0 {
		n = 0
	}
	return Tag{kind: KindText, n: int32(n)}
}

// Open returns a tag that opens the scope with the given id.
func Open(id ID) Tag {
	return Tag{kind: KindOpen, n: int32(id)}
}

// Close returns a tag that closes the scope with the given id.
func Close(id ID) Tag {
	return Tag{kind: KindClose, n: int32(id)}
}

// Kind reports which variant the tag holds.
func (t Tag) Kind() Kind { return t.kind }

// IsText reports whether the tag is a literal span.
func (t Tag) IsText() bool { return t.kind == KindText }

// IsOpen reports whether the tag opens a scope.
func (t Tag) IsOpen() bool { return t.kind == KindOpen }

// IsClose reports whether the tag closes a scope.
func (t Tag) IsClose() bool { return t.kind == KindClose }

// Len returns the span length of a text tag, or 0 for boundary tags.
func (t Tag) Len() int {
	if t.kind != KindText {
		return 0
	}
	return int(t.n)
}

// Scope returns the scope id of a boundary tag, or 0 for text tags.
func (t Tag) Scope() ID {
	if t.kind == KindText {
		return 0
	}
	return ID(t.n)
}

func (t Tag) String() string {
	switch t.kind {
	case KindText:
		return fmt.Sprintf("%d", t.n)
	case KindOpen:
		return fmt.Sprintf("+%d", t.n)
	default:
		return fmt.Sprintf("-%d", t.n)
	}
}

// TextLen sums the lengths of every text tag in tags.
func TextLen(tags []Tag) int {
	total := 0
	for _, t := range tags {
		total += t.Len()
	}
	return total
}

// CountOpen returns the number of scope-open tags in tags.
func CountOpen(tags []Tag) int {
	n := 0
	for _, t := range tags {
		if t.IsOpen() {
			n++
		}
	}
	return n
}
