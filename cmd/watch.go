package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tmscope/internal/document"
	"github.com/zjrosen/tmscope/internal/log"
	"github.com/zjrosen/tmscope/internal/presentation"
	"github.com/zjrosen/tmscope/internal/pubsub"
	"github.com/zjrosen/tmscope/internal/registry"
	"github.com/zjrosen/tmscope/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [file]",
	Short: "Reload grammar files as they change",
	Long: `Watch the configured grammar directories and reload grammar files when
they are saved. Grammars that include a reloaded grammar are recompiled.

With a file argument the file is tokenized and printed again whenever it or
a grammar changes, which is handy while writing a grammar.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var watchScope string

func init() {
	watchCmd.Flags().StringVarP(&watchScope, "scope", "s", "",
		"use the grammar with this scope name instead of selecting one")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.close(context.Background())

	var (
		target string
		doc    *document.Document
	)
	dirs := grammarDirs(cfg)
	if len(args) == 1 {
		if target, err = filepath.Abs(args[0]); err != nil {
			return fmt.Errorf("resolving %s: %w", args[0], err)
		}
		if doc, err = e.open(ctx, target, watchScope); err != nil {
			return err
		}
		dirs = append(dirs, filepath.Dir(target))
	}
	if len(dirs) == 0 {
		return fmt.Errorf("nothing to watch: set grammar_dirs or pass a file")
	}

	wcfg := watcher.DefaultConfig(dirs...)
	wcfg.DebounceDur = cfg.Watch.Debounce
	wcfg.Match = func(name string) bool {
		return registry.IsGrammarFile(name) || (target != "" && name == filepath.Base(target))
	}
	w, err := watcher.New(wcfg)
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return err
	}
	defer func() { _ = w.Stop() }()

	out := cmd.OutOrStdout()
	formatter := presentation.NewFormatter(out, jsonOutput)
	printDoc := func() error {
		return formatter.FormatLines(documentLines(doc, 0, doc.Len()))
	}

	// Grammars recompiled because an included grammar changed re-tokenize
	// the document on their own; each one is announced on docUpdates.
	var docUpdates <-chan pubsub.Event[string]
	if doc != nil {
		doc.InvalidateOnUpdate(ctx)
		docUpdates = doc.OnUpdate(ctx)
		if err := printDoc(); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %d director%s (Ctrl+C to stop)\n", len(dirs), plural(len(dirs), "y", "ies"))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-docUpdates:
			if !ok {
				return nil
			}
			log.Debug(log.CatDocument, "dependency changed", "path", target, "dependency", ev.Payload)
			if err := printDoc(); err != nil {
				return err
			}
		case batch := <-changes:
			changed, err := applyBatch(ctx, e, doc, target, batch, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if changed {
				if err := printDoc(); err != nil {
					return err
				}
			}
		}
	}
}

// applyBatch reloads changed grammars, then brings doc up to date with its
// file and the grammar now selected for it. It reports whether doc was
// re-tokenized; a grammar recompiled in place is left to InvalidateOnUpdate.
func applyBatch(ctx context.Context, e *env, doc *document.Document, target string, batch []watcher.Change, errOut io.Writer) (bool, error) {
	var grammarChanges []watcher.Change
	textChanged := false
	for _, c := range batch {
		if c.Path == target {
			textChanged = !c.Removed
			continue
		}
		grammarChanges = append(grammarChanges, c)
	}

	if len(grammarChanges) > 0 {
		if err := e.registry.ApplyChanges(grammarChanges); err != nil {
			fmt.Fprintf(errOut, "Warning: %v\n", err)
		}
		for _, c := range grammarChanges {
			fmt.Fprintf(errOut, "%s %s\n", changeVerb(c), c.Path)
		}
	}
	if doc == nil {
		return false, nil
	}

	changed := false
	if textChanged {
		contents, err := os.ReadFile(target) //nolint:gosec // G304: path is a command argument
		if err != nil {
			return false, fmt.Errorf("reading %s: %w", target, err)
		}
		n := doc.SetText(ctx, string(contents))
		log.Debug(log.CatDocument, "file changed", "path", target, "retokenized", n)
		changed = true
	}
	if len(grammarChanges) > 0 {
		e.registry.ForgetContents(target)
		g, err := e.grammarFor(target, []byte(doc.Text()), watchScope)
		if err != nil {
			// The forced grammar went away; keep the last one.
			fmt.Fprintf(errOut, "Warning: %v\n", err)
			return changed, nil
		}
		if g != doc.Grammar() {
			doc.SetGrammar(ctx, g)
			changed = true
		}
	}
	return changed, nil
}

func changeVerb(c watcher.Change) string {
	if c.Removed {
		return "unloaded"
	}
	return "reloaded"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
