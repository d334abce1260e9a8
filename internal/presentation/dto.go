package presentation

import (
	"github.com/zjrosen/tmscope/internal/grammar"
	"github.com/zjrosen/tmscope/internal/scope"
)

// GrammarDTO describes a registered grammar.
type GrammarDTO struct {
	Name              string   `json:"name"`
	ScopeName         string   `json:"scope_name"`
	FileTypes         []string `json:"file_types"`
	FirstLineMatch    string   `json:"first_line_match,omitempty"`
	InjectionSelector string   `json:"injection_selector,omitempty"`
	Includes          []string `json:"includes"`
	MaxTokensPerLine  int      `json:"max_tokens_per_line"`
	MaxLineLength     int      `json:"max_line_length"`
}

// FromGrammar converts a grammar to a DTO. Includes lists the grammars the
// compiled rules reference, so it is empty until the grammar has been used.
func FromGrammar(g *grammar.Grammar) GrammarDTO {
	cfg := g.Config()
	fileTypes := g.FileTypes()
	if fileTypes == nil {
		fileTypes = []string{}
	}
	return GrammarDTO{
		Name:              g.Name(),
		ScopeName:         g.ScopeName(),
		FileTypes:         fileTypes,
		FirstLineMatch:    cfg.FirstLineMatch,
		InjectionSelector: g.InjectionSelector(),
		Includes:          g.IncludedGrammarScopes(),
		MaxTokensPerLine:  g.MaxTokensPerLine(),
		MaxLineLength:     g.MaxLineLength(),
	}
}

// TokenDTO is a span of text with its scopes, outermost first.
type TokenDTO struct {
	Value  string   `json:"value"`
	Scopes []string `json:"scopes"`
}

// LineDTO holds the tokens of one line.
type LineDTO struct {
	Line   int        `json:"line"`
	Text   string     `json:"text"`
	Tokens []TokenDTO `json:"tokens"`
}

// FromTokens converts the decoded tokens of line n.
func FromTokens(n int, text string, tokens []scope.Token) LineDTO {
	out := LineDTO{Line: n, Text: text, Tokens: make([]TokenDTO, len(tokens))}
	for i, tok := range tokens {
		out.Tokens[i] = TokenDTO{Value: tok.Value, Scopes: tok.Scopes}
	}
	return out
}

// SelectionDTO is the grammar chosen for a file.
type SelectionDTO struct {
	Path      string `json:"path"`
	ScopeName string `json:"scope_name"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Override  bool   `json:"override"`
}

// ScopesDTO is the scope chain at a position.
type ScopesDTO struct {
	Path   string   `json:"path"`
	Line   int      `json:"line"`
	Column int      `json:"column"`
	Scopes []string `json:"scopes"`
}
