package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/juliecode/julie/internal/chunk"
	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/embed"
	"github.com/juliecode/julie/internal/langid"
	"github.com/juliecode/julie/internal/scanner"
	"github.com/juliecode/julie/internal/store"
	"github.com/juliecode/julie/internal/watcher"
	"github.com/juliecode/julie/internal/workspace"
)

// GitignoreHashKey is the state key holding the combined hash of all
// gitignore files, used for startup reconciliation.
const GitignoreHashKey = "gitignore_hash"

// vectorSavePendingThreshold is how many incremental vector mutations
// accumulate before the coordinator persists the HNSW graph.
const vectorSavePendingThreshold = 64

// CoordinatorConfig configures the incremental update coordinator.
type CoordinatorConfig struct {
	// RootDir is the workspace root being watched.
	RootDir string

	// Workspace carries the index layout and readiness flags.
	Workspace *workspace.Workspace

	// Metadata is the symbol database.
	Metadata store.MetadataStore

	// Vector store receiving incremental embedding updates.
	Vector store.VectorStore

	// Embedder generates embeddings for changed symbols. Optional: nil
	// degrades incremental updates to text-only.
	Embedder embed.Embedder

	// Extractor turns files into symbol rows.
	Extractor *chunk.FileExtractor

	// Config supplies include/exclude patterns for reconciliation scans.
	Config *config.Config

	// MaxFileSize skips files larger than this (0 = scanner default).
	MaxFileSize int64
}

// Coordinator applies debounced file events to the index incrementally:
// re-extract, atomic SQLite swap, embedding refresh, vector-store insert.
// Within a single file, updates are serialized: the dispatcher is
// single-threaded per workspace, so a later event observes all effects of
// earlier ones.
type Coordinator struct {
	cfg CoordinatorConfig

	mu          sync.Mutex
	pendingSave int
}

// NewCoordinator creates a coordinator for a workspace.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{cfg: cfg}
}

func (c *Coordinator) maxFileSize() int64 {
	if c.cfg.MaxFileSize > 0 {
		return c.cfg.MaxFileSize
	}
	return scanner.DefaultMaxFileSize
}

// HandleEvents processes a debounced batch of file events.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.handleEvent(ctx, event); err != nil {
			// One bad file never stops the dispatcher.
			slog.Warn("incremental update failed",
				slog.String("path", event.Path),
				slog.String("op", event.Operation.String()),
				slog.String("error", err.Error()))
		}
	}

	if c.pendingSave >= vectorSavePendingThreshold {
		c.saveVectors()
	}
	return nil
}

func (c *Coordinator) handleEvent(ctx context.Context, event watcher.FileEvent) error {
	if event.IsDir {
		return nil
	}

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return c.indexFile(ctx, event.Path)
	case watcher.OpDelete:
		return c.removeFile(ctx, event.Path)
	case watcher.OpRename:
		// Rename is delete-old + create-new.
		if event.OldPath != "" {
			if err := c.removeFile(ctx, event.OldPath); err != nil {
				slog.Warn("rename cleanup failed",
					slog.String("old_path", event.OldPath),
					slog.String("error", err.Error()))
			}
		}
		return c.indexFile(ctx, event.Path)
	case watcher.OpIgnoreChange, watcher.OpConfigChange:
		return c.handleIgnoreRulesChange(ctx)
	default:
		return nil
	}
}

// indexFile re-extracts one file and applies the delta atomically.
func (c *Coordinator) indexFile(ctx context.Context, relPath string) error {
	start := time.Now()

	relPath = filepath.ToSlash(relPath)
	if !langid.IsIndexable(relPath) {
		return nil
	}

	absPath := filepath.Join(c.cfg.RootDir, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Deleted between event and dispatch.
			return c.removeFile(ctx, relPath)
		}
		return fmt.Errorf("stat %s: %w", relPath, err)
	}
	if info.Size() > c.maxFileSize() {
		slog.Info("file_skipped_too_large",
			slog.String("path", relPath),
			slog.Int64("size", info.Size()))
		return nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", relPath, err)
	}
	if isBinaryContent(content) {
		return nil
	}

	// Unchanged content is a no-op: a hash match means re-indexing would
	// produce identical rows.
	hash := chunk.HashContent(content)
	if stored, derr := c.cfg.Metadata.GetFileByPath(ctx, relPath); derr == nil && stored != nil && stored.ContentHash == hash {
		return nil
	}

	// Symbols that existed before the edit and vanish after it need
	// their vectors tombstoned.
	before, err := c.cfg.Metadata.GetSymbolsByFile(ctx, relPath)
	if err != nil {
		return fmt.Errorf("load prior symbols for %s: %w", relPath, err)
	}

	language := langid.LanguageForPath(relPath)
	res, err := c.cfg.Extractor.Extract(ctx, c.cfg.Workspace.ID, relPath, language, content, info.ModTime())
	if err != nil {
		return fmt.Errorf("extract %s: %w", relPath, err)
	}

	if err := c.cfg.Metadata.IncrementalUpdateAtomic(ctx,
		[]string{relPath},
		[]*store.File{res.File},
		res.Symbols,
		res.Relationships,
	); err != nil {
		return fmt.Errorf("atomic update for %s: %w", relPath, err)
	}

	kept := make(map[string]bool, len(res.Symbols))
	for _, s := range res.Symbols {
		kept[s.ID] = true
	}
	var gone []string
	for _, s := range before {
		if !kept[s.ID] {
			gone = append(gone, s.ID)
		}
	}
	if len(gone) > 0 {
		if err := c.cfg.Vector.Delete(ctx, gone); err != nil {
			slog.Warn("vector tombstone failed",
				slog.String("path", relPath),
				slog.String("error", err.Error()))
		}
		c.pendingSave += len(gone)
	}

	// Embed the changed symbols now so semantic search stays fresh. The
	// vectors must be persisted AND inserted into the vector store, not
	// merely computed: generating them into the void leaves semantic
	// search stale until restart.
	if err := c.embedChanged(ctx, res.Symbols); err != nil {
		slog.Warn("incremental embedding failed, text tiers remain fresh",
			slog.String("path", relPath),
			slog.String("error", err.Error()))
	}

	slog.Info("incremental_update",
		slog.String("path", relPath),
		slog.Int("symbols", len(res.Symbols)),
		slog.Int("removed_vectors", len(gone)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// embedChanged generates, persists, and inserts embeddings for the given
// symbols. Symbols whose embedding text is empty are skipped.
func (c *Coordinator) embedChanged(ctx context.Context, symbols []*store.Symbol) error {
	if c.cfg.Embedder == nil || len(symbols) == 0 {
		return nil
	}
	if !c.cfg.Embedder.Available(ctx) {
		return nil
	}

	var texts []string
	var targets []*store.Symbol
	for _, s := range symbols {
		text := chunk.EmbeddingText(s)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		targets = append(targets, s)
	}
	if len(targets) == 0 {
		return nil
	}

	vectors, err := c.cfg.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}

	modelID := c.cfg.Embedder.ModelName()
	now := time.Now().UTC()
	rows := make([]*store.EmbeddingVector, 0, len(targets))
	ids := make([]string, 0, len(targets))
	vecs := make([][]float32, 0, len(targets))
	for i, s := range targets {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			continue
		}
		rows = append(rows, &store.EmbeddingVector{
			SymbolID:  s.ID,
			ModelID:   modelID,
			Vector:    vectors[i],
			CreatedAt: now,
		})
		ids = append(ids, s.ID)
		vecs = append(vecs, vectors[i])
	}
	if len(rows) == 0 {
		return nil
	}

	if err := c.cfg.Metadata.BulkStoreEmbeddings(ctx, rows); err != nil {
		return fmt.Errorf("persist embeddings: %w", err)
	}
	if err := c.cfg.Vector.InsertBatch(ctx, ids, vecs); err != nil {
		return fmt.Errorf("vector insert: %w", err)
	}
	c.pendingSave += len(ids)
	return nil
}

// removeFile deletes all rows derived from a file and tombstones its
// vectors.
func (c *Coordinator) removeFile(ctx context.Context, relPath string) error {
	relPath = filepath.ToSlash(relPath)

	symbols, err := c.cfg.Metadata.GetSymbolsByFile(ctx, relPath)
	if err != nil {
		return fmt.Errorf("load symbols for %s: %w", relPath, err)
	}
	if len(symbols) == 0 {
		if stored, derr := c.cfg.Metadata.GetFileByPath(ctx, relPath); derr != nil || stored == nil {
			// Unknown file: nothing indexed, nothing to do.
			return nil
		}
	}

	if err := c.cfg.Metadata.IncrementalUpdateAtomic(ctx, []string{relPath}, nil, nil, nil); err != nil {
		return fmt.Errorf("delete rows for %s: %w", relPath, err)
	}

	if len(symbols) > 0 {
		ids := make([]string, len(symbols))
		for i, s := range symbols {
			ids[i] = s.ID
		}
		if err := c.cfg.Vector.Delete(ctx, ids); err != nil {
			slog.Warn("vector tombstone failed",
				slog.String("path", relPath),
				slog.String("error", err.Error()))
		}
		c.pendingSave += len(ids)
	}

	slog.Info("incremental_remove",
		slog.String("path", relPath),
		slog.Int("symbols", len(symbols)))
	return nil
}

// handleIgnoreRulesChange reconciles the index against the current ignore
// rules: newly-ignored files are removed, newly-visible files indexed.
func (c *Coordinator) handleIgnoreRulesChange(ctx context.Context) error {
	slog.Info("ignore_rules_reconcile_started")
	if err := c.reconcileFiles(ctx); err != nil {
		return err
	}

	hash, err := ComputeGitignoreHash(c.cfg.RootDir)
	if err == nil {
		if serr := c.cfg.Metadata.SetState(ctx, GitignoreHashKey, hash); serr != nil {
			slog.Warn("failed to save gitignore hash", slog.String("error", serr.Error()))
		}
	}
	return nil
}

// ReconcileOnStartup re-runs ignore-rule reconciliation when the combined
// gitignore hash changed while the server was down.
func (c *Coordinator) ReconcileOnStartup(ctx context.Context) error {
	currentHash, err := ComputeGitignoreHash(c.cfg.RootDir)
	if err != nil {
		return fmt.Errorf("compute gitignore hash: %w", err)
	}

	storedHash, err := c.cfg.Metadata.GetState(ctx, GitignoreHashKey)
	if err == nil && storedHash == currentHash {
		return nil
	}

	slog.Info("gitignore_changed_while_down", slog.String("hash", currentHash))
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reconcileFiles(ctx); err != nil {
		return err
	}
	return c.cfg.Metadata.SetState(ctx, GitignoreHashKey, currentHash)
}

// ReconcileFilesOnStartup diffs the indexed file set against the
// filesystem and applies adds, updates, and removals. Covers edits made
// while the watcher wasn't running.
func (c *Coordinator) ReconcileFilesOnStartup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcileFiles(ctx)
}

func (c *Coordinator) reconcileFiles(ctx context.Context) error {
	start := time.Now()

	current, err := c.scanCurrentFiles(ctx)
	if err != nil {
		return fmt.Errorf("scan current files: %w", err)
	}

	indexedPaths, err := c.cfg.Metadata.ListFilePaths(ctx)
	if err != nil {
		return fmt.Errorf("list indexed files: %w", err)
	}

	var added, removed int

	for path := range current {
		if err := ctx.Err(); err != nil {
			return err
		}
		// indexFile hash-skips unchanged content itself.
		if err := c.indexFile(ctx, path); err != nil {
			slog.Warn("reconcile index failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		added++
	}

	for _, path := range indexedPaths {
		if current[path] != nil {
			continue
		}
		if err := c.removeFile(ctx, path); err != nil {
			slog.Warn("reconcile remove failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	c.saveVectors()

	slog.Info("reconcile_complete",
		slog.Int("visited", added),
		slog.Int("removed", removed),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// scanCurrentFiles walks the workspace with the active ignore rules and
// returns indexable files keyed by canonical path.
func (c *Coordinator) scanCurrentFiles(ctx context.Context) (map[string]*scanner.FileInfo, error) {
	s, err := scanner.New()
	if err != nil {
		return nil, err
	}

	var include, exclude []string
	if c.cfg.Config != nil {
		include = c.cfg.Config.Paths.Include
		exclude = append(exclude, c.cfg.Config.Paths.Exclude...)
	}
	exclude = append(exclude, "**/.julie/**")
	if patterns, perr := scanner.LoadIgnorePatterns(c.cfg.RootDir); perr == nil {
		exclude = append(exclude, patterns...)
	}

	results, err := s.Scan(ctx, &scanner.ScanOptions{
		RootDir:          c.cfg.RootDir,
		IncludePatterns:  include,
		ExcludePatterns:  exclude,
		RespectGitignore: true,
		MaxFileSize:      c.maxFileSize(),
	})
	if err != nil {
		return nil, err
	}

	current := make(map[string]*scanner.FileInfo)
	for result := range results {
		if result.Error != nil || result.File == nil {
			continue
		}
		path := filepath.ToSlash(result.File.Path)
		if langid.IsIndexable(path) {
			current[path] = result.File
		}
	}
	return current, nil
}

// Shutdown drains pending vector-store state and checkpoints the WAL.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.saveVectors()
	if err := c.cfg.Metadata.CheckpointWAL(ctx); err != nil {
		slog.Warn("shutdown WAL checkpoint failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) saveVectors() {
	if c.pendingSave == 0 {
		return
	}
	if err := c.cfg.Vector.Save(c.cfg.Workspace.VectorIndexPath()); err != nil {
		slog.Warn("vector store save failed", slog.String("error", err.Error()))
		return
	}
	c.pendingSave = 0
}

// ComputeGitignoreHash hashes every ignore file under root - .gitignore
// at any depth plus the workspace's .julieignore - (path + content) into
// one digest for change detection.
func ComputeGitignoreHash(rootPath string) (string, error) {
	h := sha256.New()

	err := filepath.WalkDir(rootPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != rootPath && (name == ".git" || name == ".julie" || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" && d.Name() != scanner.IgnoreFileName {
			return nil
		}
		content, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		rel, _ := filepath.Rel(rootPath, path)
		h.Write([]byte(filepath.ToSlash(rel)))
		h.Write([]byte{0})
		h.Write(content)
		h.Write([]byte{0})
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// isBinaryContent detects binary files by NUL bytes in the first 8KB.
func isBinaryContent(content []byte) bool {
	n := len(content)
	if n > 8192 {
		n = 8192
	}
	return strings.ContainsRune(string(content[:n]), 0)
}
