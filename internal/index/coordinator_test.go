package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliecode/julie/internal/chunk"
	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/watcher"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *testHarness) {
	t.Helper()
	h := newTestHarness(t)

	pool := chunk.NewParserPool()
	t.Cleanup(pool.Close)

	c := NewCoordinator(CoordinatorConfig{
		RootDir:   h.root,
		Workspace: h.ws,
		Metadata:  h.metadata,
		Vector:    h.vector,
		Embedder:  h.embedder,
		Extractor: chunk.NewFileExtractor(pool),
		Config:    config.NewConfig(),
	})
	return c, h
}

func TestCoordinatorCreateEvent(t *testing.T) {
	c, h := newTestCoordinator(t)
	h.writeFile(t, "src/util.go", "package src\n\nfunc Util() {}\n")

	ctx := context.Background()
	err := c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "src/util.go", Operation: watcher.OpCreate},
	})
	require.NoError(t, err)

	symbols, err := h.metadata.GetSymbolsByFile(ctx, "src/util.go")
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "Util", symbols[0].Name)

	// Embeddings were persisted and inserted, not computed into the void.
	all, err := h.metadata.GetAllEmbeddings(ctx, h.embedder.ModelName())
	require.NoError(t, err)
	assert.Contains(t, all, symbols[0].ID)
	assert.True(t, h.vector.Contains(symbols[0].ID))
}

func TestCoordinatorModifyRenamesSymbol(t *testing.T) {
	c, h := newTestCoordinator(t)
	ctx := context.Background()

	h.writeFile(t, "src/main.rs", "fn main() {}\nfn helper(x: i32) -> i32 { x + 1 }\n")
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "src/main.rs", Operation: watcher.OpCreate},
	}))

	before, err := h.metadata.FindSymbolsByName(ctx, "helper", 10)
	require.NoError(t, err)
	require.NotEmpty(t, before)
	helperID := before[0].ID

	// Rename helper -> compute.
	h.writeFile(t, "src/main.rs", "fn main() {}\nfn compute(x: i32) -> i32 { x + 1 }\n")
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "src/main.rs", Operation: watcher.OpModify},
	}))

	gone, err := h.metadata.FindSymbolsByName(ctx, "helper", 10)
	require.NoError(t, err)
	assert.Empty(t, gone)

	renamed, err := h.metadata.FindSymbolsByName(ctx, "compute", 10)
	require.NoError(t, err)
	require.NotEmpty(t, renamed)

	// The old symbol's vector is tombstoned.
	assert.False(t, h.vector.Contains(helperID))
}

func TestCoordinatorUnchangedContentIsNoOp(t *testing.T) {
	c, h := newTestCoordinator(t)
	ctx := context.Background()

	h.writeFile(t, "a.go", "package a\n\nfunc A() {}\n")
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "a.go", Operation: watcher.OpCreate},
	}))

	before, err := h.metadata.GetSymbolsByFile(ctx, "a.go")
	require.NoError(t, err)
	require.Len(t, before, 1)

	// Touch without content change: same hash, so nothing is rewritten.
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "a.go", Operation: watcher.OpModify},
	}))

	after, err := h.metadata.GetSymbolsByFile(ctx, "a.go")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[0].LastIndexed.Unix(), after[0].LastIndexed.Unix())
}

func TestCoordinatorDeleteEvent(t *testing.T) {
	c, h := newTestCoordinator(t)
	ctx := context.Background()

	h.writeFile(t, "gone.py", "def gone():\n    pass\n")
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "gone.py", Operation: watcher.OpCreate},
	}))

	symbols, err := h.metadata.GetSymbolsByFile(ctx, "gone.py")
	require.NoError(t, err)
	require.NotEmpty(t, symbols)
	id := symbols[0].ID

	require.NoError(t, os.Remove(filepath.Join(h.root, "gone.py")))
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "gone.py", Operation: watcher.OpDelete},
	}))

	after, err := h.metadata.GetSymbolsByFile(ctx, "gone.py")
	require.NoError(t, err)
	assert.Empty(t, after)

	stored, err := h.metadata.GetFileByPath(ctx, "gone.py")
	require.NoError(t, err)
	assert.Nil(t, stored)

	assert.False(t, h.vector.Contains(id))
}

func TestCoordinatorRenameEvent(t *testing.T) {
	c, h := newTestCoordinator(t)
	ctx := context.Background()

	h.writeFile(t, "old.go", "package p\n\nfunc Moved() {}\n")
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "old.go", Operation: watcher.OpCreate},
	}))

	// Simulate the rename on disk.
	require.NoError(t, os.Rename(
		filepath.Join(h.root, "old.go"),
		filepath.Join(h.root, "new.go"),
	))
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "new.go", OldPath: "old.go", Operation: watcher.OpRename},
	}))

	oldSymbols, err := h.metadata.GetSymbolsByFile(ctx, "old.go")
	require.NoError(t, err)
	assert.Empty(t, oldSymbols)

	newSymbols, err := h.metadata.GetSymbolsByFile(ctx, "new.go")
	require.NoError(t, err)
	require.Len(t, newSymbols, 1)
	assert.Equal(t, "Moved", newSymbols[0].Name)
}

func TestCoordinatorSkipsNonIndexableFiles(t *testing.T) {
	c, h := newTestCoordinator(t)
	ctx := context.Background()

	h.writeFile(t, "image.png", "\x89PNG\x00\x00")
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "image.png", Operation: watcher.OpCreate},
	}))

	paths, err := h.metadata.ListFilePaths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestCoordinatorReconcileFindsOfflineEdits(t *testing.T) {
	c, h := newTestCoordinator(t)
	ctx := context.Background()

	// Files created while no watcher was running.
	h.writeFile(t, "a.go", "package p\n\nfunc A() {}\n")
	h.writeFile(t, "b.go", "package p\n\nfunc B() {}\n")

	require.NoError(t, c.ReconcileFilesOnStartup(ctx))

	paths, err := h.metadata.ListFilePaths(ctx)
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	// A file deleted offline disappears on the next reconcile.
	require.NoError(t, os.Remove(filepath.Join(h.root, "b.go")))
	require.NoError(t, c.ReconcileFilesOnStartup(ctx))

	paths, err = h.metadata.ListFilePaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, paths)
}

func TestCoordinatorWriteDeleteRestoresState(t *testing.T) {
	c, h := newTestCoordinator(t)
	ctx := context.Background()

	pathsBefore, err := h.metadata.ListFilePaths(ctx)
	require.NoError(t, err)

	h.writeFile(t, "temp.go", "package p\n\nfunc Temp() {}\n")
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "temp.go", Operation: watcher.OpCreate},
	}))
	require.NoError(t, os.Remove(filepath.Join(h.root, "temp.go")))
	require.NoError(t, c.HandleEvents(ctx, []watcher.FileEvent{
		{Path: "temp.go", Operation: watcher.OpDelete},
	}))

	pathsAfter, err := h.metadata.ListFilePaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, pathsBefore, pathsAfter)

	symbols, err := h.metadata.GetSymbolsByFile(ctx, "temp.go")
	require.NoError(t, err)
	assert.Empty(t, symbols)

	all, err := h.metadata.GetAllEmbeddings(ctx, h.embedder.ModelName())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestComputeGitignoreHashChangesWithContent(t *testing.T) {
	root := t.TempDir()

	h1, err := ComputeGitignoreHash(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("dist/\n"), 0o644))
	h2, err := ComputeGitignoreHash(root)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("dist/\nbuild/\n"), 0o644))
	h3, err := ComputeGitignoreHash(root)
	require.NoError(t, err)
	assert.NotEqual(t, h2, h3)
}

func TestIsBinaryContent(t *testing.T) {
	assert.True(t, isBinaryContent([]byte{0x89, 'P', 'N', 'G', 0x00}))
	assert.False(t, isBinaryContent([]byte("plain text\n")))
	assert.False(t, isBinaryContent(nil))
}
