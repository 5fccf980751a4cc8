// Package scanner provides file scanning functionality for julie.
// It discovers indexable files in a workspace, respecting exclusion
// patterns, .gitignore/.julieignore rules, and sensitive file patterns.
package scanner

import (
	"time"

	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/langid"
)

// ContentType represents the type of content in a file.
type ContentType string

const (
	// ContentTypeCode represents source code files.
	ContentTypeCode ContentType = "code"
	// ContentTypeMarkdown represents markdown documentation files.
	ContentTypeMarkdown ContentType = "markdown"
	// ContentTypeText represents plain text files.
	ContentTypeText ContentType = "text"
	// ContentTypeConfig represents configuration files.
	ContentTypeConfig ContentType = "config"
)

// FileInfo contains metadata about a discovered file.
type FileInfo struct {
	Path        string      // Relative path to workspace root
	AbsPath     string      // Absolute path
	Size        int64       // File size in bytes
	ModTime     time.Time   // Last modification time
	ContentType ContentType // code, markdown, text, config
	Language    string      // go, typescript, python, etc.
	IsGenerated bool        // Detected as generated file
}

// ScanOptions configures the scanner behavior.
type ScanOptions struct {
	// RootDir is the workspace root directory to scan.
	RootDir string

	// IncludePatterns specifies patterns to include (empty = all).
	IncludePatterns []string

	// ExcludePatterns specifies patterns to exclude.
	ExcludePatterns []string

	// RespectGitignore enables .gitignore parsing.
	RespectGitignore bool

	// Workers is the number of concurrent workers (0 = NumCPU).
	Workers int

	// MaxFileSize is the maximum file size to include in bytes (0 = 10MB default).
	MaxFileSize int64

	// FollowSymlinks enables following symbolic links (default: false).
	FollowSymlinks bool

	// ProgressFunc is called with progress updates during scanning.
	ProgressFunc func(scanned, total int)

	// Submodules configures git submodule discovery.
	// If nil or Enabled is false, submodules are not scanned.
	Submodules *config.SubmoduleConfig
}

// ScanResult is returned from the scanner channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the default maximum file size (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// configLanguages are the languages whose files carry structured
// configuration rather than code or prose.
var configLanguages = map[string]bool{
	"json":       true,
	"yaml":       true,
	"toml":       true,
	"dockerfile": true,
	"makefile":   true,
}

// DetectLanguage detects the programming language from a file path.
// Language identity has exactly one owner - the langid resolver - so the
// scanner, the extractors, and the watcher can never disagree on what a
// file is.
func DetectLanguage(path string) string {
	return langid.LanguageForPath(path)
}

// DetectContentType maps a language identifier onto the coarse content
// classes the discovery phase reports.
func DetectContentType(language string) ContentType {
	switch {
	case language == "":
		return ContentTypeText
	case language == "markdown":
		return ContentTypeMarkdown
	case configLanguages[language]:
		return ContentTypeConfig
	default:
		return ContentTypeCode
	}
}
