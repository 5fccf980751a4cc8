package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "home", ".julie", RegistryFileName))
	require.NoError(t, err)
	return reg
}

func TestRegistryTouchCreatesEntry(t *testing.T) {
	reg := testRegistry(t)

	w, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, reg.Touch(w))

	e, err := reg.Get(w.ID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, w.ID, e.WorkspaceID)
	assert.Equal(t, w.Root, e.RootPath)
	assert.Equal(t, filepath.Base(w.Root), e.DisplayName)
	assert.WithinDuration(t, time.Now(), e.LastSeen, 5*time.Second)
	assert.True(t, e.LastIndexed.IsZero())
}

func TestRegistryRecordIndexed(t *testing.T) {
	reg := testRegistry(t)

	w, err := Open(t.TempDir())
	require.NoError(t, err)

	stats := Stats{FileCount: 12, SymbolCount: 340, IndexSizeByte: 1 << 20}
	require.NoError(t, reg.RecordIndexed(w, stats))

	e, err := reg.Get(w.ID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, stats, e.Stats)
	assert.False(t, e.LastIndexed.IsZero())
}

func TestRegistryListOrdering(t *testing.T) {
	reg := testRegistry(t)

	w1, err := Open(t.TempDir())
	require.NoError(t, err)
	w2, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, reg.Touch(w1))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, reg.Touch(w2))

	entries, err := reg.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, w2.ID, entries[0].WorkspaceID)
	assert.Equal(t, w1.ID, entries[1].WorkspaceID)

	recent, err := reg.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, w2.ID, recent[0].WorkspaceID)
}

func TestRegistryRemove(t *testing.T) {
	reg := testRegistry(t)

	w, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, reg.Touch(w))
	require.NoError(t, reg.Remove(w.ID))

	e, err := reg.Get(w.ID)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestRegistryFileShape(t *testing.T) {
	reg := testRegistry(t)

	w, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, reg.Touch(w))

	data, err := os.ReadFile(reg.Path())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "version")
	assert.Contains(t, raw, "workspaces")

	var workspaces map[string]*Entry
	require.NoError(t, json.Unmarshal(raw["workspaces"], &workspaces))
	assert.Contains(t, workspaces, w.ID)
}

func TestRegistryCorruptFileRecovers(t *testing.T) {
	reg := testRegistry(t)
	require.NoError(t, os.WriteFile(reg.Path(), []byte("{not json"), 0o644))

	entries, err := reg.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Writes replace the corrupt file with a valid one.
	w, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, reg.Touch(w))

	data, err := os.ReadFile(reg.Path())
	require.NoError(t, err)
	var parsed registryFile
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Len(t, parsed.Workspaces, 1)
}

func TestRegistrySharedAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), RegistryFileName)

	regA, err := OpenRegistry(path)
	require.NoError(t, err)
	regB, err := OpenRegistry(path)
	require.NoError(t, err)

	w, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, regA.Touch(w))

	// B has no cache yet, so it sees A's write immediately.
	e, err := regB.Get(w.ID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, w.Root, e.RootPath)
}
