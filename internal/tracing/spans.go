package tracing

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanDocumentTokenize = "document.tokenize"
	SpanDocumentUpdate   = "document.update"
	SpanRegistryLoad     = "registry.load"
)

// Span attribute keys.
const (
	AttrGrammarScope     = "grammar.scope"
	AttrLineCount        = "document.lines"
	AttrFirstChangedLine = "document.first_changed_line"
	AttrRetokenized      = "document.retokenized"
	AttrConverged        = "document.converged"
	AttrGrammarCount     = "registry.grammars"
)

// Event names.
const (
	EventConverged = "document.converged"
)

// Finish records err on span, if any, and ends it.
func Finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID returns the trace id of the span in ctx, or "" if there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
