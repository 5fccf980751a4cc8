package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// IndexInfo describes an index's configuration and size for diagnostics.
type IndexInfo struct {
	Location    string
	ProjectRoot string

	// Embedding configuration recorded at index time.
	IndexModel      string
	IndexBackend    string
	IndexDimensions int

	// Statistics.
	ChunkCount      int
	DocumentCount   int
	IndexSizeBytes  int64
	BM25SizeBytes   int64
	VectorSizeBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time

	// Currently configured embedder, for compatibility checking.
	CurrentModel      string
	CurrentBackend    string
	CurrentDimensions int
	Compatible        bool
}

// EmbedderInfoInput carries the currently configured embedder's identity
// into GetIndexInfo for the compatibility check.
type EmbedderInfoInput struct {
	Model      string
	Backend    string
	Dimensions int
}

// GetIndexInfo assembles index diagnostics from the metadata store's state
// keys and the on-disk layout under dataDir.
func GetIndexInfo(ctx context.Context, metadata MetadataStore, dataDir string, current *EmbedderInfoInput) (*IndexInfo, error) {
	info := &IndexInfo{
		Location:    dataDir,
		ProjectRoot: filepath.Dir(dataDir),
	}

	if model, err := metadata.GetState(ctx, StateKeyIndexModel); err == nil && model != "" {
		info.IndexModel = model
		info.IndexBackend = inferBackendFromModel(model)
	}
	if dims, err := metadata.GetState(ctx, StateKeyIndexDimension); err == nil && dims != "" {
		if n, perr := strconv.Atoi(dims); perr == nil {
			info.IndexDimensions = n
		}
	}

	symbols, err := metadata.CountSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("count symbols: %w", err)
	}
	info.ChunkCount = symbols

	paths, err := metadata.ListFilePaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	info.DocumentCount = len(paths)

	info.IndexSizeBytes = getDirSize(dataDir)
	info.BM25SizeBytes = getDirSize(filepath.Join(dataDir, "db"))
	info.VectorSizeBytes = getDirSize(filepath.Join(dataDir, "vectors"))

	if stat, serr := os.Stat(dataDir); serr == nil {
		info.UpdatedAt = stat.ModTime()
	}
	if stat, serr := os.Stat(filepath.Join(dataDir, "db")); serr == nil {
		info.CreatedAt = stat.ModTime()
	}

	if current != nil {
		info.CurrentModel = current.Model
		info.CurrentBackend = current.Backend
		info.CurrentDimensions = current.Dimensions
		info.Compatible = info.IndexDimensions == 0 || info.IndexDimensions == current.Dimensions
	}

	return info, nil
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)

	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatTime formats a timestamp for display, with "unknown" for the zero
// value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of the substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses the embedding backend from a model name.
func inferBackendFromModel(model string) string {
	switch {
	case model == "static" || strings.HasPrefix(model, "static"):
		return "static"
	case filepath.IsAbs(model) || containsAny(model, []string{"mlx-community/", "mlx-"}):
		return "mlx"
	default:
		return "ollama"
	}
}

// getDirSize sums file sizes under a directory; missing paths count as 0.
func getDirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, ierr := d.Info(); ierr == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
