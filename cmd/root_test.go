package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tmscope/internal/config"
	"github.com/zjrosen/tmscope/internal/presentation"
	"github.com/zjrosen/tmscope/internal/registry"
	"github.com/zjrosen/tmscope/internal/watcher"
)

// run executes the root command with fresh global state and returns what it
// wrote to stdout and stderr.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	_ = viper.BindPFlag("grammar_dirs", rootCmd.PersistentFlags().Lookup("grammar-dir"))
	cfg = config.Config{}
	cfgFile, jsonOutput, debugFlag = "", false, false
	tokenizeScope, tokenizeLines, scopesScope, watchScope = "", "", "", ""
	initForce = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTokenize_JSON(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "bundled: true\n")
	file := writeFile(t, filepath.Join(dir, "a.json"), "{\"a\": 1}\n")

	out, err := run(t, "--config", cfgPath, "--json", "tokenize", file)
	require.NoError(t, err)

	var lines []presentation.LineDTO
	require.NoError(t, json.Unmarshal([]byte(out), &lines))
	require.Len(t, lines, 2)
	require.Equal(t, `{"a": 1}`, lines[0].Text)

	var number *presentation.TokenDTO
	for i := range lines[0].Tokens {
		if lines[0].Tokens[i].Value == "1" {
			number = &lines[0].Tokens[i]
		}
	}
	require.NotNil(t, number)
	require.Equal(t, "constant.numeric.json", number.Scopes[len(number.Scopes)-1])
}

func TestTokenize_LinesAndScope(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "bundled: true\n")
	file := writeFile(t, filepath.Join(dir, "notes.txt"), "one\ntwo\nthree\n")

	out, err := run(t, "--config", cfgPath, "tokenize", "--lines", "2:2", "--scope", "source.shell", file)
	require.NoError(t, err)
	require.Equal(t, "2: two\n  \"two\"\tsource.shell\n", out)

	_, err = run(t, "--config", cfgPath, "tokenize", "--scope", "source.nope", file)
	require.ErrorIs(t, err, registry.ErrGrammarNotFound)

	_, err = run(t, "--config", cfgPath, "tokenize", filepath.Join(dir, "missing.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSelect(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "bundled: true\n")
	script := writeFile(t, filepath.Join(dir, "build"), "#!/bin/bash\necho hi\n")

	out, err := run(t, "--config", cfgPath, "select", script, filepath.Join(dir, "missing.json"), filepath.Join(dir, "README"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "\tsource.shell\t")
	require.Contains(t, lines[1], "\tsource.json\tscore=4")
	require.Contains(t, lines[2], "\ttext.plain.null-grammar\tscore=0")
}

func TestScopes(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "bundled: true\n")
	file := writeFile(t, filepath.Join(dir, "a.json"), `{"a": 1}`)

	out, err := run(t, "--config", cfgPath, "scopes", file, "1", "7")
	require.NoError(t, err)
	require.Equal(t, "source.json meta.structure.dictionary.json meta.structure.dictionary.value.json constant.numeric.json\n", out)

	_, err = run(t, "--config", cfgPath, "scopes", file, "3", "1")
	require.ErrorContains(t, err, "past the end")

	_, err = run(t, "--config", cfgPath, "scopes", file, "x", "1")
	require.ErrorContains(t, err, `invalid line "x"`)
}

func TestGrammars(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "bundled: true\n")

	out, err := run(t, "--config", cfgPath, "grammars")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "source.ini\tINI\t"))
	require.True(t, strings.HasPrefix(lines[1], "source.json\tJSON\t"))
	require.True(t, strings.HasPrefix(lines[2], "source.shell\tShell Script\t"))
}

func TestGrammars_FromConfiguredDir(t *testing.T) {
	dir := t.TempDir()
	grammars := filepath.Join(dir, "grammars")
	require.NoError(t, os.MkdirAll(grammars, 0o750))
	writeFile(t, filepath.Join(grammars, "demo.yaml"), "name: Demo\nscopeName: source.demo\nfileTypes: [demo]\n")
	cfgPath := writeConfig(t, dir, "bundled: false\ngrammar_dirs:\n  - "+grammars+"\n")

	out, err := run(t, "--config", cfgPath, "--json", "grammars")
	require.NoError(t, err)

	var dtos []presentation.GrammarDTO
	require.NoError(t, json.Unmarshal([]byte(out), &dtos))
	require.Len(t, dtos, 1)
	require.Equal(t, "source.demo", dtos[0].ScopeName)
	require.Equal(t, []string{"demo"}, dtos[0].FileTypes)
}

func TestOverride_SetListClear(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "# keep me\nbundled: true\n")
	file := writeFile(t, filepath.Join(dir, "settings"), "a = 1\n")

	_, err := run(t, "--config", cfgPath, "override", "set", file, "source.ini")
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "# keep me")
	require.Contains(t, string(data), "scope: source.ini")

	out, err := run(t, "--config", cfgPath, "override", "list")
	require.NoError(t, err)
	require.Equal(t, file+"\tsource.ini\n", out)

	out, err = run(t, "--config", cfgPath, "select", file)
	require.NoError(t, err)
	require.Contains(t, out, "\tsource.ini\t")
	require.Contains(t, out, "(override)")

	_, err = run(t, "--config", cfgPath, "override", "clear")
	require.NoError(t, err)
	out, err = run(t, "--config", cfgPath, "override", "list")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := run(t, "init", path)
	require.NoError(t, err)
	require.Equal(t, "Wrote "+path+"\n", out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfigTemplate(), string(data))

	_, err = run(t, "init", path)
	require.ErrorContains(t, err, "already exists")

	_, err = run(t, "init", "--force", path)
	require.NoError(t, err)
}

func TestInvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "max_tokens_per_line: 1\n")
	_, err := run(t, "--config", cfgPath, "grammars")
	require.ErrorContains(t, err, "invalid configuration")
}

func TestParseLineRange(t *testing.T) {
	tests := []struct {
		name     string
		arg      string
		from, to int
		wantErr  bool
	}{
		{name: "empty means all", arg: "", from: 0, to: 10},
		{name: "range", arg: "2:4", from: 1, to: 4},
		{name: "single line", arg: "3", from: 2, to: 3},
		{name: "open end", arg: "8:", from: 7, to: 10},
		{name: "open start", arg: ":2", from: 0, to: 2},
		{name: "clamped", arg: "9:40", from: 8, to: 10},
		{name: "past the end", arg: "20", from: 10, to: 10},
		{name: "reversed", arg: "4:2", wantErr: true},
		{name: "zero", arg: "0:2", wantErr: true},
		{name: "garbage", arg: "a:b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := parseLineRange(tt.arg, 10)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.from, from)
			require.Equal(t, tt.to, to)
		})
	}
}

func TestApplyBatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	grammarPath := writeFile(t, filepath.Join(dir, "demo.yaml"), `
scopeName: source.demo
fileTypes: [demo]
patterns:
  - match: '\d+'
    name: constant.numeric.demo
`)
	target := writeFile(t, filepath.Join(dir, "x.demo"), "a 1")

	c := config.Defaults()
	c.Bundled = false
	c.GrammarDirs = []string{dir}
	e, err := newEnv(ctx, c)
	require.NoError(t, err)
	defer e.close(ctx)

	doc, err := e.open(ctx, target, "")
	require.NoError(t, err)
	require.Equal(t, []string{"source.demo", "constant.numeric.demo"}, doc.ScopesAt(0, 2))

	var errOut bytes.Buffer

	// Editing the grammar re-tokenizes with the reloaded grammar.
	writeFile(t, grammarPath, `
scopeName: source.demo
fileTypes: [demo]
patterns:
  - match: '\d+'
    name: constant.other.demo
`)
	changed, err := applyBatch(ctx, e, doc, target, []watcher.Change{{Path: grammarPath}}, &errOut)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, []string{"source.demo", "constant.other.demo"}, doc.ScopesAt(0, 2))
	require.Contains(t, errOut.String(), "reloaded "+grammarPath)

	// Editing the file picks up the new text.
	writeFile(t, target, "22 b")
	changed, err = applyBatch(ctx, e, doc, target, []watcher.Change{{Path: target}}, &errOut)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "22 b", doc.Text())
	require.Equal(t, []string{"source.demo", "constant.other.demo"}, doc.ScopesAt(0, 1))

	// Removing the grammar falls back to the null grammar.
	require.NoError(t, os.Remove(grammarPath))
	changed, err = applyBatch(ctx, e, doc, target, []watcher.Change{{Path: grammarPath, Removed: true}}, &errOut)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "text.plain.null-grammar", doc.Grammar().ScopeName())
	require.Contains(t, errOut.String(), "unloaded "+grammarPath)
}

func TestApplyBatch_IncludedGrammarChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "outer.yaml"), `
scopeName: source.outer
fileTypes: [outer]
patterns:
  - include: source.inner
`)
	innerPath := writeFile(t, filepath.Join(dir, "inner.yaml"), `
scopeName: source.inner
patterns:
  - match: '\d+'
    name: constant.numeric.inner
`)
	target := writeFile(t, filepath.Join(dir, "x.outer"), "a 1")

	c := config.Defaults()
	c.Bundled = false
	c.GrammarDirs = []string{dir}
	e, err := newEnv(ctx, c)
	require.NoError(t, err)
	defer e.close(ctx)

	doc, err := e.open(ctx, target, "")
	require.NoError(t, err)
	require.Equal(t, []string{"source.outer", "constant.numeric.inner"}, doc.ScopesAt(0, 2))
	doc.InvalidateOnUpdate(ctx)
	updates := doc.OnUpdate(ctx)

	writeFile(t, innerPath, `
scopeName: source.inner
patterns:
  - match: '\d+'
    name: constant.other.inner
`)
	var errOut bytes.Buffer
	changed, err := applyBatch(ctx, e, doc, target, []watcher.Change{{Path: innerPath}}, &errOut)
	require.NoError(t, err)
	require.False(t, changed, "the outer grammar recompiles in place")

	select {
	case ev := <-updates:
		require.Equal(t, "source.inner", ev.Payload)
	case <-time.After(time.Second):
		require.Fail(t, "document was not re-tokenized")
	}
	require.Equal(t, []string{"source.outer", "constant.other.inner"}, doc.ScopesAt(0, 2))
}
