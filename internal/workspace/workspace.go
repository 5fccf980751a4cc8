// Package workspace models the per-workspace physical index layout and the
// user-level registry of known workspaces. Each workspace root exclusively
// owns <root>/.julie/indexes/<id>/ (SQLite database, HNSW vectors, logs);
// the registry is a shared JSON file under the user's home directory and is
// never the source of truth for any workspace's contents.
package workspace

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"lukechampine.com/blake3"
)

// Layout constants under <root>/.julie/.
const (
	julieDir   = ".julie"
	indexesDir = "indexes"
	dbDir      = "db"
	vectorsDir = "vectors"
	logsDir    = "logs"

	// DatabaseFileName is the single SQLite file (WAL sidecar appears
	// next to it at runtime).
	DatabaseFileName = "symbols.db"

	// VectorIndexFileName is the HNSW graph snapshot; an id-map sidecar
	// is stored alongside.
	VectorIndexFileName = "hnsw_index.bin"
)

// idLength is the number of hex characters in a workspace ID. Twelve gives
// 48 bits: collision-free in practice for the workspace counts a single
// user accumulates, and short enough to read in paths.
const idLength = 12

// IDForRoot derives the deterministic workspace ID from the canonical
// absolute root path. Stable across restarts, distinct for distinct roots.
func IDForRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("canonicalize workspace root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	sum := blake3.Sum256([]byte(filepath.ToSlash(abs)))
	return hex.EncodeToString(sum[:])[:idLength], nil
}

// Workspace is one project root the server has indexed, with its physical
// index directory and tier-readiness state.
type Workspace struct {
	ID   string
	Root string

	// Readiness flags published by the indexing orchestrator and read by
	// the search engine to decide which CASCADE tiers are live.
	sqliteFTSReady atomic.Bool
	semanticReady  atomic.Bool
}

// Open resolves the workspace for root, creating its index directory tree
// when absent.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	id, err := IDForRoot(abs)
	if err != nil {
		return nil, err
	}

	w := &Workspace{ID: id, Root: abs}
	for _, dir := range []string{w.DatabaseDir(), w.VectorsDir(), w.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory %s: %w", dir, err)
		}
	}
	return w, nil
}

// IndexDir is <root>/.julie/indexes/<id>.
func (w *Workspace) IndexDir() string {
	return filepath.Join(w.Root, julieDir, indexesDir, w.ID)
}

// DatabaseDir is the db/ directory inside the index dir.
func (w *Workspace) DatabaseDir() string { return filepath.Join(w.IndexDir(), dbDir) }

// DatabasePath is the SQLite file path.
func (w *Workspace) DatabasePath() string { return filepath.Join(w.DatabaseDir(), DatabaseFileName) }

// VectorsDir is the vectors/ directory inside the index dir.
func (w *Workspace) VectorsDir() string { return filepath.Join(w.IndexDir(), vectorsDir) }

// VectorIndexPath is the HNSW snapshot path.
func (w *Workspace) VectorIndexPath() string {
	return filepath.Join(w.VectorsDir(), VectorIndexFileName)
}

// LogsDir is the logs/ directory inside the index dir.
func (w *Workspace) LogsDir() string { return filepath.Join(w.IndexDir(), logsDir) }

// DatabasePathForID builds the SQLite path of another workspace's index
// under the same root layout, for reference-workspace queries.
func DatabasePathForID(root, id string) string {
	return filepath.Join(root, julieDir, indexesDir, id, dbDir, DatabaseFileName)
}

// SetSQLiteFTSReady publishes the keyword tier's readiness.
func (w *Workspace) SetSQLiteFTSReady(ready bool) { w.sqliteFTSReady.Store(ready) }

// SQLiteFTSReady reports whether the FTS5 keyword tier is live.
func (w *Workspace) SQLiteFTSReady() bool { return w.sqliteFTSReady.Load() }

// SetSemanticReady publishes the semantic tier's readiness.
func (w *Workspace) SetSemanticReady(ready bool) { w.semanticReady.Store(ready) }

// SemanticReady reports whether the HNSW semantic tier is live.
func (w *Workspace) SemanticReady() bool { return w.semanticReady.Load() }

// Stats is the per-workspace summary tracked in the registry.
type Stats struct {
	FileCount     int   `json:"file_count"`
	SymbolCount   int   `json:"symbol_count"`
	IndexSizeByte int64 `json:"index_size_bytes"`
}

// Entry is one registry record.
type Entry struct {
	WorkspaceID string    `json:"workspace_id"`
	DisplayName string    `json:"display_name"`
	RootPath    string    `json:"absolute_root_path"`
	LastSeen    time.Time `json:"last_seen"`
	LastIndexed time.Time `json:"last_indexed"`
	Stats       Stats     `json:"stats"`
}
