// Package langid resolves file paths to canonical workspace-relative form
// and maps file extensions to language identifiers. Every symbol and file
// row stored in the index carries a path canonicalized here, so the rules
// are strict: forward slashes only, no leading slash, no "..", and the path
// must live under the workspace root.
package langid

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned when a path does not resolve under the
// workspace root.
type ErrOutsideWorkspace struct {
	Path string
	Root string
}

func (e ErrOutsideWorkspace) Error() string {
	return fmt.Sprintf("path %q is outside workspace root %q", e.Path, e.Root)
}

// Canonicalize converts an absolute or relative file path into the
// workspace-relative Unix-style form stored in the index.
func Canonicalize(workspaceRoot, path string) (string, error) {
	absRoot, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(absRoot, path)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return "", ErrOutsideWorkspace{Path: path, Root: workspaceRoot}
	}

	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" || strings.HasPrefix(rel, "../") || rel == ".." {
		return "", ErrOutsideWorkspace{Path: path, Root: workspaceRoot}
	}
	return rel, nil
}

// IsCanonical reports whether p already satisfies the stored-path
// invariants: relative, Unix-style, non-empty, no parent traversal.
func IsCanonical(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "" {
			return false
		}
	}
	return true
}

// extensionLanguages maps file extensions to language identifiers for the
// full supported set. Extractor availability varies: languages with a
// tree-sitter grammar get AST extraction, the rest fall back to
// text scanning (see chunk.FallbackExtractor).
var extensionLanguages = map[string]string{
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".hh":    "cpp",
	".ts":    "typescript",
	".tsx":   "tsx",
	".mts":   "typescript",
	".cts":   "typescript",
	".js":    "javascript",
	".jsx":   "jsx",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".py":    "python",
	".pyw":   "python",
	".pyi":   "python",
	".java":  "java",
	".cs":    "csharp",
	".go":    "go",
	".php":   "php",
	".rb":    "ruby",
	".rake":  "ruby",
	".swift": "swift",
	".kt":    "kotlin",
	".kts":   "kotlin",
	".dart":  "dart",
	".lua":   "lua",
	".gd":    "gdscript",
	".vue":   "vue",
	".razor": "razor",
	".cshtml": "razor",
	".sql":   "sql",
	".html":  "html",
	".htm":   "html",
	".css":   "css",
	".regex": "regex",
	".sh":    "bash",
	".bash":  "bash",
	".zsh":   "bash",
	".ps1":   "powershell",
	".psm1":  "powershell",
	".zig":   "zig",
	".md":    "markdown",
	".mdx":   "markdown",
	".markdown": "markdown",
	".json":  "json",
	".toml":  "toml",
	".yaml":  "yaml",
	".yml":   "yaml",
}

// specialFiles maps exact basenames with no useful extension.
var specialFiles = map[string]string{
	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
}

// LanguageForPath returns the language identifier for a file path, or ""
// when the file is not indexable.
func LanguageForPath(path string) string {
	base := filepath.Base(path)
	if lang, ok := specialFiles[base]; ok {
		return lang
	}
	ext := strings.ToLower(filepath.Ext(base))
	return extensionLanguages[ext]
}

// IsIndexable reports whether files with this path are fed to an extractor.
func IsIndexable(path string) bool {
	return LanguageForPath(path) != ""
}

// SupportedLanguages returns the distinct set of language identifiers,
// sorted lexically.
func SupportedLanguages() []string {
	seen := make(map[string]bool)
	for _, lang := range extensionLanguages {
		seen[lang] = true
	}
	for _, lang := range specialFiles {
		seen[lang] = true
	}
	langs := make([]string, 0, len(seen))
	for lang := range seen {
		langs = append(langs, lang)
	}
	sortStrings(langs)
	return langs
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
