package grammar

import (
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/zjrosen/tmscope/internal/log"
)

// Score ranks how well the grammar fits a file; higher is better and -1
// means the grammar does not apply. An explicit override for the path beats
// a firstLineMatch hit, which beats any file type match. When contents is nil
// and a path is given, the contents are read through the registry; a read
// failure falls back to scoring by path alone.
func (g *Grammar) Score(filePath string, contents []byte) int {
	if contents == nil && filePath != "" && g.registry != nil && g.firstLine != nil {
		data, err := g.registry.FileContents(filePath)
		if err != nil {
			log.Debug(log.CatGrammar, "scoring without contents", "path", filePath, "error", err.Error())
		} else {
			contents = data
		}
	}

	pathLen := utf8.RuneCountInString(filePath)
	switch {
	case g.registry != nil && filePath != "" && g.registry.OverrideScopeFor(filePath) == g.ScopeName():
		return 2 + pathLen
	case g.matchesContents(contents):
		return 1 + pathLen
	default:
		return g.pathScore(filePath)
	}
}

// matchesContents tests firstLineMatch against as many leading lines as the
// pattern spans.
func (g *Grammar) matchesContents(contents []byte) bool {
	if contents == nil || g.firstLine == nil {
		return false
	}
	lines := strings.SplitN(string(contents), "\n", g.firstLineLines+1)
	if len(lines) > g.firstLineLines {
		lines = lines[:g.firstLineLines]
	}
	ok, err := g.firstLine.MatchString(strings.Join(lines, "\n"))
	if err != nil {
		log.Warn(log.CatGrammar, "firstLineMatch failed", "grammar", g.ScopeName(), "error", err.Error())
		return false
	}
	return ok
}

// pathScore is the length of the longest file type whose components equal
// the trailing components of path, or -1.
func (g *Grammar) pathScore(path string) int {
	if path == "" {
		return -1
	}
	if runtime.GOOS == "windows" {
		path = strings.ReplaceAll(path, `\`, "/")
	}
	path = strings.ToLower(path)

	score := -1
	for _, fileType := range g.config.FileTypes {
		if matchesFileType(path, strings.ToLower(fileType)) {
			score = max(score, utf8.RuneCountInString(fileType))
		}
	}
	return score
}

// matchesFileType reports whether fileType equals the trailing components of
// path, split at '/' and '.'. A file type with a leading dot names a whole
// dotfile, so it only matches right after a '/'.
func matchesFileType(path, fileType string) bool {
	if fileType == "" || !strings.HasSuffix(path, fileType) {
		return false
	}
	rest := path[:len(path)-len(fileType)]
	if rest == "" {
		return true
	}
	switch rest[len(rest)-1] {
	case '/':
		return true
	case '.':
		return fileType[0] != '.'
	}
	return false
}
