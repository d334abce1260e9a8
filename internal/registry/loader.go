package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zjrosen/tmscope/internal/grammar"
	"github.com/zjrosen/tmscope/internal/log"
	"github.com/zjrosen/tmscope/internal/templates"
	"github.com/zjrosen/tmscope/internal/watcher"
)

// grammarExtensions are the file suffixes treated as grammar definitions.
// ".tmLanguage.json" is covered by ".json".
var grammarExtensions = []string{".json", ".yaml", ".yml"}

// IsGrammarFile reports whether name looks like a grammar definition.
func IsGrammarFile(name string) bool {
	for _, ext := range grammarExtensions {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return true
		}
	}
	return false
}

// ParseGrammar builds a grammar bound to r from JSON or YAML source without
// registering it.
func (r *Registry) ParseGrammar(data []byte) (*grammar.Grammar, error) {
	cfg, err := grammar.ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return grammar.New(r, cfg)
}

// LoadGrammar parses data and activates the resulting grammar.
func (r *Registry) LoadGrammar(data []byte) (*grammar.Grammar, error) {
	g, err := r.ParseGrammar(data)
	if err != nil {
		return nil, err
	}
	g.Activate()
	return g, nil
}

// LoadGrammarFile reads, parses and activates the grammar at path. A grammar
// with the same scope name is replaced, so this also reloads an edited file;
// a reload that fails keeps the previous grammar.
func (r *Registry) LoadGrammarFile(path string) (*grammar.Grammar, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: grammar paths come from config
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	g, err := r.LoadGrammar(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	r.mu.Lock()
	previous := r.files[path]
	r.files[path] = g
	r.mu.Unlock()

	// A file whose scope name changed leaves its old grammar behind.
	if previous != nil && previous.ScopeName() != g.ScopeName() {
		previous.Deactivate()
	}

	log.Info(log.CatRegistry, "loaded grammar", "path", path, "scope", g.ScopeName())
	return g, nil
}

// UnloadGrammarFile removes the grammar that was loaded from path. A grammar
// another file has since registered under the same scope name stays. It
// returns false if no grammar came from path.
func (r *Registry) UnloadGrammarFile(path string) bool {
	r.mu.Lock()
	g, ok := r.files[path]
	delete(r.files, path)
	r.mu.Unlock()
	if !ok {
		return false
	}
	// RemoveGrammar ignores a grammar that is no longer the registered one.
	g.Deactivate()
	log.Info(log.CatRegistry, "unloaded grammar", "path", path, "scope", g.ScopeName())
	return true
}

// GrammarFiles returns the grammar file paths loaded with LoadGrammarFile,
// mapped to their scope names.
func (r *Registry) GrammarFiles() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.files))
	for path, g := range r.files {
		out[path] = g.ScopeName()
	}
	return out
}

// LoadGrammarFS loads every grammar file under root in fsys. Files that fail
// to parse are skipped and reported together in the returned error; the
// grammars that did load are still returned and active.
func (r *Registry) LoadGrammarFS(fsys fs.FS, root string) ([]*grammar.Grammar, error) {
	var (
		loaded []*grammar.Grammar
		errs   []error
	)
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsGrammarFile(d.Name()) {
			return nil
		}

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			return nil
		}
		g, err := r.LoadGrammar(content)
		if err != nil {
			log.ErrorErr(log.CatRegistry, "skipping grammar", err, "path", path)
			errs = append(errs, fmt.Errorf("load %s: %w", path, err))
			return nil
		}
		loaded = append(loaded, g)
		return nil
	})
	if err != nil {
		return loaded, fmt.Errorf("scan grammars: %w", err)
	}
	return loaded, errors.Join(errs...)
}

// LoadGrammarDir loads every grammar file under dir with LoadGrammarFile, so
// the files can later be reloaded by path. Failures are joined as in
// LoadGrammarFS.
func (r *Registry) LoadGrammarDir(dir string) ([]*grammar.Grammar, error) {
	var (
		loaded []*grammar.Grammar
		errs   []error
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsGrammarFile(d.Name()) {
			return nil
		}
		g, err := r.LoadGrammarFile(path)
		if err != nil {
			log.ErrorErr(log.CatRegistry, "skipping grammar", err, "path", path)
			errs = append(errs, err)
			return nil
		}
		loaded = append(loaded, g)
		return nil
	})
	if err != nil {
		return loaded, fmt.Errorf("scan grammars: %w", err)
	}
	return loaded, errors.Join(errs...)
}

// LoadBundledGrammars loads the grammars shipped with tmscope.
func (r *Registry) LoadBundledGrammars() ([]*grammar.Grammar, error) {
	return r.LoadGrammarFS(templates.GrammarsFS(), templates.GrammarsRoot)
}

// ApplyChanges reloads the changed grammar files and unloads removed ones.
// Every change is applied; the failures are returned together.
func (r *Registry) ApplyChanges(changes []watcher.Change) error {
	var errs []error
	for _, c := range changes {
		if c.Removed {
			r.UnloadGrammarFile(c.Path)
			continue
		}
		if _, err := r.LoadGrammarFile(c.Path); err != nil {
			log.ErrorErr(log.CatRegistry, "reload failed", err, "path", c.Path)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
