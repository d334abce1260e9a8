// Package templates ships the grammar definitions bundled with tmscope.
package templates

import (
	"embed"
	"io/fs"
)

// GrammarsRoot is the directory inside GrammarsFS holding the definitions.
const GrammarsRoot = "grammars"

// bundledGrammars embeds grammars/*.yaml. Each file is one grammar in the
// same format users load from disk.
//
//go:embed grammars
var bundledGrammars embed.FS

// GrammarsFS returns the embedded filesystem containing the bundled grammars.
func GrammarsFS() fs.FS {
	return bundledGrammars
}
