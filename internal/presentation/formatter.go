package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Formatter writes command output as indented JSON or as plain text.
type Formatter struct {
	writer io.Writer
	json   bool
}

// NewFormatter creates a formatter; asJSON selects JSON output.
func NewFormatter(writer io.Writer, asJSON bool) *Formatter {
	return &Formatter{writer: writer, json: asJSON}
}

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatGrammars writes one grammar per line: scope, name and file types.
func (f *Formatter) FormatGrammars(grammars []GrammarDTO) error {
	if f.json {
		return f.encode(grammars)
	}
	for _, g := range grammars {
		if _, err := fmt.Fprintf(f.writer, "%s\t%s\t%s\n", g.ScopeName, g.Name, strings.Join(g.FileTypes, ",")); err != nil {
			return err
		}
	}
	return nil
}

// FormatLines writes each token as its quoted value followed by its scopes.
func (f *Formatter) FormatLines(lines []LineDTO) error {
	if f.json {
		return f.encode(lines)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintf(f.writer, "%d: %s\n", line.Line+1, line.Text); err != nil {
			return err
		}
		for _, tok := range line.Tokens {
			if _, err := fmt.Fprintf(f.writer, "  %q\t%s\n", tok.Value, strings.Join(tok.Scopes, " ")); err != nil {
				return err
			}
		}
	}
	return nil
}

// FormatSelection writes the chosen grammar.
func (f *Formatter) FormatSelection(sel SelectionDTO) error {
	if f.json {
		return f.encode(sel)
	}
	suffix := ""
	if sel.Override {
		suffix = " (override)"
	}
	_, err := fmt.Fprintf(f.writer, "%s\t%s\tscore=%d%s\n", sel.Path, sel.ScopeName, sel.Score, suffix)
	return err
}

// FormatScopes writes the scope chain, outermost first.
func (f *Formatter) FormatScopes(s ScopesDTO) error {
	if f.json {
		return f.encode(s)
	}
	_, err := fmt.Fprintln(f.writer, strings.Join(s.Scopes, " "))
	return err
}

// FormatOverrides writes path to scope mappings sorted as given.
func (f *Formatter) FormatOverrides(paths []string, overrides map[string]string) error {
	if f.json {
		return f.encode(overrides)
	}
	for _, p := range paths {
		if _, err := fmt.Fprintf(f.writer, "%s\t%s\n", p, overrides[p]); err != nil {
			return err
		}
	}
	return nil
}
