package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliecode/julie/internal/store"
	"github.com/juliecode/julie/internal/workspace"
)

func writeProjectFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestIndexCmd_ForceAndResumeMutuallyExclusive(t *testing.T) {
	cmd := newIndexCmd()
	cmd.SetArgs([]string{"--force", "--resume", t.TempDir()})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestRunIndex_SmallProject(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "src/main.rs", "fn main() {}\nfn helper(x: i32) -> i32 { x + 1 }\n")

	cmd := newIndexCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	// Offline/static keeps the test hermetic.
	require.NoError(t, runIndexWithOptions(context.Background(), cmd, root, true, true, false))

	ws, err := workspace.Open(root)
	require.NoError(t, err)
	assert.FileExists(t, ws.DatabasePath())

	metadata, err := store.NewSQLiteStore(ws.DatabasePath())
	require.NoError(t, err)
	defer func() { _ = metadata.Close() }()

	ctx := context.Background()
	helpers, err := metadata.FindSymbolsByName(ctx, "helper", 10)
	require.NoError(t, err)
	require.NotEmpty(t, helpers)
	assert.Equal(t, "src/main.rs", helpers[0].FilePath)

	// The keyword tier answers immediately.
	hits, err := metadata.SearchFileContentFTS(ctx, "helper", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestRunIndex_RerunIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	cmd := newIndexCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	ctx := context.Background()
	require.NoError(t, runIndexWithOptions(ctx, cmd, root, true, true, false))
	require.NoError(t, runIndexWithOptions(ctx, cmd, root, true, true, false))

	ws, err := workspace.Open(root)
	require.NoError(t, err)
	metadata, err := store.NewSQLiteStore(ws.DatabasePath())
	require.NoError(t, err)
	defer func() { _ = metadata.Close() }()

	symbols, err := metadata.GetSymbolsByFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Len(t, symbols, 1)
}

func TestRunIndex_ForceClearsIndex(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	cmd := newIndexCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	ctx := context.Background()
	require.NoError(t, runIndexWithOptions(ctx, cmd, root, true, true, false))

	// Remove the file, then force-rebuild: the stale rows disappear.
	require.NoError(t, os.Remove(filepath.Join(root, "a.go")))
	writeProjectFile(t, root, "b.go", "package a\n\nfunc B() {}\n")
	require.NoError(t, runIndexWithOptions(ctx, cmd, root, true, true, true))

	ws, err := workspace.Open(root)
	require.NoError(t, err)
	metadata, err := store.NewSQLiteStore(ws.DatabasePath())
	require.NoError(t, err)
	defer func() { _ = metadata.Close() }()

	paths, err := metadata.ListFilePaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.go"}, paths)
}

func TestOpenWorkspaceStore_RebuildsCorruptDatabase(t *testing.T) {
	root := t.TempDir()
	ws, err := workspace.Open(root)
	require.NoError(t, err)

	// A garbage database file fails the integrity check.
	require.NoError(t, os.WriteFile(ws.DatabasePath(), []byte("not a sqlite file at all"), 0o644))

	metadata, err := openWorkspaceStore(context.Background(), ws)
	require.NoError(t, err)
	defer func() { _ = metadata.Close() }()

	// The rebuilt database serves queries.
	paths, err := metadata.ListFilePaths(context.Background())
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestClearIndexData(t *testing.T) {
	root := t.TempDir()
	ws, err := workspace.Open(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.DatabasePath(), []byte("x"), 0o644))

	require.NoError(t, clearIndexData(ws))
	assert.NoFileExists(t, ws.DatabasePath())
}
