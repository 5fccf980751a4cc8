package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IgnoreFileName is the workspace-scoped ignore file holding glob patterns
// the indexer skips, one per line. It sits next to .gitignore and uses the
// same syntax subset (no negation).
const IgnoreFileName = ".julieignore"

// vendorDirNames are directory names that usually hold third-party code.
// A directory with one of these names and more than vendorDirMinFiles
// files is flagged.
var vendorDirNames = map[string]bool{
	"vendor":      true,
	"vendors":     true,
	"lib":         true,
	"libs":        true,
	"plugin":      true,
	"plugins":     true,
	"third-party": true,
	"third_party": true,
	"thirdparty":  true,
	"node_modules": true,
	"bower_components": true,
}

const vendorDirMinFiles = 5

// minifiedDominanceRatio: a directory where at least this fraction of
// files look minified (.min.js / .min.css / bundle artifacts) is vendored.
const minifiedDominanceRatio = 0.5

// libraryFilePrefixes flag well-known bundled libraries by filename.
var libraryFilePrefixes = []string{
	"jquery", "bootstrap", "angular", "react.", "vue.", "lodash",
	"moment", "d3.", "three.",
}

// VendorDetection is the result of a workspace vendor scan.
type VendorDetection struct {
	// Patterns are ignore globs, workspace-relative, one per detected
	// vendor location.
	Patterns []string

	// Reasons maps each pattern to why it was flagged.
	Reasons map[string]string
}

// DetectVendorDirs walks the workspace and flags directories that hold
// third-party or generated code: name-based vendor directories with more
// than a handful of files, directories dominated by minified files, and
// concentrations of well-known bundled libraries.
func DetectVendorDirs(root string) (*VendorDetection, error) {
	det := &VendorDetection{Reasons: make(map[string]string)}

	type dirStats struct {
		files    int
		minified int
		library  int
	}
	stats := make(map[string]*dirStats)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (name == ".git" || name == ".julie") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		dir := filepath.ToSlash(filepath.Dir(rel))
		if dir == "." {
			dir = ""
		}

		st := stats[dir]
		if st == nil {
			st = &dirStats{}
			stats[dir] = st
		}
		st.files++

		base := strings.ToLower(d.Name())
		if strings.Contains(base, ".min.js") || strings.Contains(base, ".min.css") ||
			strings.HasSuffix(base, ".bundle.js") || strings.HasSuffix(base, ".chunk.js") {
			st.minified++
		}
		for _, prefix := range libraryFilePrefixes {
			if strings.HasPrefix(base, prefix) {
				st.library++
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vendor scan of %s: %w", root, err)
	}

	flagged := make(map[string]string)
	for dir, st := range stats {
		if dir == "" {
			continue
		}
		name := dir
		if i := strings.LastIndex(dir, "/"); i >= 0 {
			name = dir[i+1:]
		}

		switch {
		case vendorDirNames[strings.ToLower(name)] && st.files > vendorDirMinFiles:
			flagged[dir] = fmt.Sprintf("directory name %q with %d files", name, st.files)
		case st.files > 0 && float64(st.minified)/float64(st.files) >= minifiedDominanceRatio:
			flagged[dir] = fmt.Sprintf("%d of %d files are minified", st.minified, st.files)
		case st.library >= 3:
			flagged[dir] = fmt.Sprintf("%d bundled library files (jquery/bootstrap/...)", st.library)
		}
	}

	// Collapse children of flagged parents; the parent pattern covers them.
	dirs := make([]string, 0, len(flagged))
	for dir := range flagged {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		covered := false
		for _, p := range det.Patterns {
			prefix := strings.TrimSuffix(p, "/**")
			if strings.HasPrefix(dir+"/", prefix+"/") {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		pattern := dir + "/**"
		det.Patterns = append(det.Patterns, pattern)
		det.Reasons[pattern] = flagged[dir]
	}

	return det, nil
}

// WriteIgnoreFile writes a .julieignore at root from the detection, with a
// self-documenting header naming why each pattern was added. It refuses to
// overwrite an existing file: a hand-maintained ignore list wins over
// detection. Returns the file path, or "" when nothing was written.
func WriteIgnoreFile(root string, det *VendorDetection) (string, error) {
	if det == nil || len(det.Patterns) == 0 {
		return "", nil
	}

	path := filepath.Join(root, IgnoreFileName)
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("# Generated by julie: detected vendor/minified directories.\n")
	b.WriteString("# Files matching these globs are excluded from indexing.\n")
	b.WriteString("# Edit freely; this file is only written when absent.\n\n")
	for _, p := range det.Patterns {
		fmt.Fprintf(&b, "# %s\n%s\n", det.Reasons[p], p)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", IgnoreFileName, err)
	}
	return path, nil
}

// LoadIgnorePatterns reads the workspace ignore file, returning its globs
// with comments and blank lines stripped. A missing file is not an error.
func LoadIgnorePatterns(root string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(root, IgnoreFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}
