// Package document keeps a text tokenized line by line and re-tokenizes only
// what an edit affects.
package document

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/tmscope/internal/grammar"
	"github.com/zjrosen/tmscope/internal/log"
	"github.com/zjrosen/tmscope/internal/pubsub"
	"github.com/zjrosen/tmscope/internal/scope"
	"github.com/zjrosen/tmscope/internal/tracing"
)

// Option configures a Document.
type Option func(*Document)

// WithTracer records batch operations as spans on t.
func WithTracer(t trace.Tracer) Option {
	return func(d *Document) { d.tracer = t }
}

// Document is a tokenized text. It is safe for concurrent use.
type Document struct {
	tracer  trace.Tracer
	updates *pubsub.Broker[string]

	mu      sync.RWMutex
	grammar *grammar.Grammar
	lines   []string
	results []*grammar.CompatResult

	follow     context.Context // set by InvalidateOnUpdate
	stopFollow context.CancelFunc
}

// New tokenizes text with g.
func New(ctx context.Context, g *grammar.Grammar, text string, opts ...Option) *Document {
	d := &Document{
		tracer:  noop.NewTracerProvider().Tracer("noop"),
		updates: pubsub.NewBroker[string](),
		grammar: g,
		lines:   grammar.SplitLines(text),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.mu.Lock()
	d.tokenizeAll(ctx)
	d.mu.Unlock()
	return d
}

// Grammar returns the grammar the document is tokenized with.
func (d *Document) Grammar() *grammar.Grammar {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.grammar
}

// Len returns the number of lines.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lines)
}

// Lines returns a copy of the lines.
func (d *Document) Lines() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.lines...)
}

// Text returns the lines joined with "\n".
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return strings.Join(d.lines, "\n")
}

// Tokens returns the decoded tokens of line i, or nil when i is out of
// range.
func (d *Document) Tokens(i int) []scope.Token {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i < 0 || i >= len(d.results) {
		return nil
	}
	return d.results[i].Tokens()
}

// Tags returns the tags of line i, or nil when i is out of range.
func (d *Document) Tags(i int) []scope.Tag {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i < 0 || i >= len(d.results) {
		return nil
	}
	return d.results[i].Tags
}

// StackAt returns the rule stack at the end of line i, which is the stack
// line i+1 starts from. It returns nil when i is out of range.
func (d *Document) StackAt(i int) *grammar.Stack {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i < 0 || i >= len(d.results) {
		return nil
	}
	return d.results[i].Stack
}

// ScopesAt returns the scopes over the character at column (in runes) of
// line, outermost first. A column at the end of the line reports the last
// token's scopes. It returns nil for positions outside the document.
func (d *Document) ScopesAt(line, column int) []string {
	tokens := d.Tokens(line)
	if len(tokens) == 0 || column < 0 {
		return nil
	}
	offset := 0
	for _, tok := range tokens {
		n := utf8.RuneCountInString(tok.Value)
		if column < offset+n {
			return append([]string(nil), tok.Scopes...)
		}
		offset += n
	}
	if column == offset {
		return append([]string(nil), tokens[len(tokens)-1].Scopes...)
	}
	return nil
}

// SetText replaces the text and re-tokenizes the changed lines. Tokenizing
// continues past the last changed line until a line starts from the same
// stack it started from before; every line after that keeps its tokens.
// It returns the number of lines tokenized.
func (d *Document) SetText(ctx context.Context, text string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	lines := grammar.SplitLines(text)
	origin := matchLines(d.lines, lines)

	ctx, span := d.tracer.Start(ctx, tracing.SpanDocumentUpdate, trace.WithAttributes(
		attribute.String(tracing.AttrGrammarScope, d.grammar.ScopeName()),
		attribute.Int(tracing.AttrLineCount, len(lines)),
	))

	results := make([]*grammar.CompatResult, len(lines))
	var (
		stack       *grammar.Stack
		retokenized int
		first       = -1
		converged   = -1
	)
	for i, line := range lines {
		if o := origin[i]; o >= 0 && stack.Equal(d.incoming(o)) {
			if first >= 0 && converged < 0 {
				converged = i
			}
			results[i] = d.results[o]
			stack = d.results[o].Stack
			continue
		}
		if first < 0 {
			first = i
		}
		converged = -1
		results[i] = d.grammar.TokenizeLineCompat(line, stack, i == 0)
		stack = results[i].Stack
		retokenized++
	}

	d.lines, d.results = lines, results

	span.SetAttributes(
		attribute.Int(tracing.AttrFirstChangedLine, first),
		attribute.Int(tracing.AttrRetokenized, retokenized),
		attribute.Bool(tracing.AttrConverged, converged >= 0),
	)
	if converged >= 0 {
		span.AddEvent(tracing.EventConverged, trace.WithAttributes(attribute.Int("line", converged)))
	}
	log.Debug(log.CatDocument, "document updated",
		"grammar", d.grammar.ScopeName(),
		"first_changed", first,
		"retokenized", retokenized,
		"trace_id", tracing.TraceID(ctx))
	tracing.Finish(span, nil)
	return retokenized
}

// Invalidate re-tokenizes every line.
func (d *Document) Invalidate(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokenizeAll(ctx)
}

// SetGrammar switches the grammar and re-tokenizes every line.
func (d *Document) SetGrammar(ctx context.Context, g *grammar.Grammar) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grammar = g
	d.tokenizeAll(ctx)
	d.followGrammar()
}

// InvalidateOnUpdate re-tokenizes the document each time its grammar
// recompiles because an included grammar changed, until ctx is cancelled.
// The subscription moves along when SetGrammar switches grammars.
func (d *Document) InvalidateOnUpdate(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.follow = ctx
	d.followGrammar()
}

// OnUpdate delivers one event for every re-tokenization InvalidateOnUpdate
// performs. The payload is the changed dependency's scope name.
func (d *Document) OnUpdate(ctx context.Context) <-chan pubsub.Event[string] {
	return d.updates.Subscribe(ctx)
}

// followGrammar subscribes to the current grammar's updates in place of the
// previous one; mu must be held.
func (d *Document) followGrammar() {
	if d.follow == nil {
		return
	}
	if d.stopFollow != nil {
		d.stopFollow()
	}
	ctx, cancel := context.WithCancel(d.follow)
	d.stopFollow = cancel

	g := d.grammar
	g.OnUpdateFunc(ctx, func(ev pubsub.Event[string]) {
		if d.Grammar() != g || ctx.Err() != nil {
			return
		}
		log.Debug(log.CatDocument, "grammar updated, re-tokenizing", "grammar", g.ScopeName(), "dependency", ev.Payload)
		d.Invalidate(ctx)
		d.updates.Publish(pubsub.UpdatedEvent, ev.Payload)
	})
}

// tokenizeAll must be called with mu held.
func (d *Document) tokenizeAll(ctx context.Context) {
	_, span := d.tracer.Start(ctx, tracing.SpanDocumentTokenize, trace.WithAttributes(
		attribute.String(tracing.AttrGrammarScope, d.grammar.ScopeName()),
		attribute.Int(tracing.AttrLineCount, len(d.lines)),
	))
	defer tracing.Finish(span, nil)

	d.results = make([]*grammar.CompatResult, len(d.lines))
	var stack *grammar.Stack
	for i, line := range d.lines {
		d.results[i] = d.grammar.TokenizeLineCompat(line, stack, i == 0)
		stack = d.results[i].Stack
	}
}

// incoming returns the stack old line o started from; mu must be held.
func (d *Document) incoming(o int) *grammar.Stack {
	if o == 0 {
		return nil
	}
	return d.results[o-1].Stack
}

// matchLines maps each line of next to the index of the identical line of
// prev it was carried over from, or -1 for inserted and changed lines.
func matchLines(prev, next []string) []int {
	origin := make([]int, len(next))
	for i := range origin {
		origin[i] = -1
	}

	// A trailing newline on both sides keeps the last line comparable.
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(strings.Join(prev, "\n")+"\n", strings.Join(next, "\n")+"\n")
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	i, j := 0, 0 // next, prev
	for _, diff := range diffs {
		n := strings.Count(diff.Text, "\n")
		switch diff.Type {
		case diffmatchpatch.DiffEqual:
			for k := 0; k < n && i < len(next); k++ {
				origin[i] = j
				i++
				j++
			}
		case diffmatchpatch.DiffInsert:
			i += n
		case diffmatchpatch.DiffDelete:
			j += n
		}
	}
	return origin
}
