// Package paths provides path resolution utilities.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectGrammarDir is where a project keeps its own grammars.
const ProjectGrammarDir = ".tmscope/grammars"

// Expand replaces a leading "~" with the home directory and cleans the
// result. Paths are returned unchanged when the home directory is unknown.
func Expand(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		if path == "" {
			return ""
		}
		return filepath.Clean(path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ResolveGrammarDir resolves a grammar directory from user input.
//
// Input normalization:
//   - "~/grammars" -> "$HOME/grammars"
//   - "/path/to/project" (containing .tmscope/grammars) -> "/path/to/project/.tmscope/grammars"
//   - "/path/to/grammars" -> "/path/to/grammars"
//   - "" -> "."
func ResolveGrammarDir(path string) string {
	if path == "" {
		path = "."
	}
	path = Expand(path)

	project := filepath.Join(path, ProjectGrammarDir)
	if info, err := os.Stat(project); err == nil && info.IsDir() {
		return project
	}
	return path
}
