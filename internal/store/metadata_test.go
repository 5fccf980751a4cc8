package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, ".julie", "metadata.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store, tmpDir
}

func testFile(path string) *File {
	return &File{
		Path:         path,
		Language:     "go",
		ContentHash:  "hash-" + path,
		SizeBytes:    1024,
		LastModified: time.Now(),
		Content:      "package main\n\nfunc Handle() {}\n",
	}
}

func testSymbol(id, name, file string) *Symbol {
	return &Symbol{
		ID:            id,
		Name:          name,
		QualifiedName: file + "." + name,
		Kind:          KindFunction,
		Language:      "go",
		FilePath:      file,
		StartLine:     1,
		EndLine:       5,
		Signature:     "func " + name + "()",
		LastIndexed:   time.Now(),
	}
}

func TestSQLiteStore_SchemaAutoCreation(t *testing.T) {
	store, tmpDir := newTestStore(t)
	_ = tmpDir

	ctx := context.Background()
	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("main.go")}))

	f, err := store.GetFileByPath(ctx, "main.go")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "main.go", f.Path)
}

func TestSQLiteStore_BulkStoreAndFind(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("handlers.go")}))

	symbols := []*Symbol{
		testSymbol("sym-1", "HandleLogin", "handlers.go"),
		testSymbol("sym-2", "HandleLogout", "handlers.go"),
	}
	require.NoError(t, store.BulkStoreSymbols(ctx, symbols))

	found, err := store.FindSymbolsByName(ctx, "HandleLogin", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "sym-1", found[0].ID)

	byFile, err := store.GetSymbolsByFile(ctx, "handlers.go")
	require.NoError(t, err)
	assert.Len(t, byFile, 2)

	byPattern, err := store.FindSymbolsByPattern(ctx, "Handle", 10)
	require.NoError(t, err)
	assert.Len(t, byPattern, 2)

	byIDs, err := store.GetSymbolsByIDs(ctx, []string{"sym-1", "sym-2"})
	require.NoError(t, err)
	assert.Len(t, byIDs, 2)
}

func TestSQLiteStore_UpsertReplacesByID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("a.go")}))

	sym := testSymbol("sym-up", "Original", "a.go")
	require.NoError(t, store.BulkStoreSymbols(ctx, []*Symbol{sym}))

	sym.Name = "Renamed"
	require.NoError(t, store.BulkStoreSymbols(ctx, []*Symbol{sym}))

	got, err := store.GetSymbolsByIDs(ctx, []string{"sym-up"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Renamed", got[0].Name)
}

func TestSQLiteStore_Relationships(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("svc.go")}))
	require.NoError(t, store.BulkStoreSymbols(ctx, []*Symbol{
		testSymbol("caller", "Caller", "svc.go"),
		testSymbol("callee", "Callee", "svc.go"),
	}))

	rel := &Relationship{
		ID:           "rel-1",
		FromSymbolID: "caller",
		ToSymbolID:   "callee",
		Kind:         RelCalls,
		FilePath:     "svc.go",
		Line:         3,
		Confidence:   1.0,
	}
	require.NoError(t, store.BulkStoreRelationships(ctx, []*Relationship{rel}))

	from, err := store.GetRelationshipsFromSymbol(ctx, "caller")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "callee", from[0].ToSymbolID)

	to, err := store.GetRelationshipsToSymbol(ctx, "callee")
	require.NoError(t, err)
	require.Len(t, to, 1)

	toMany, err := store.GetRelationshipsToSymbols(ctx, []string{"callee"})
	require.NoError(t, err)
	assert.Len(t, toMany, 1)
}

func TestSQLiteStore_IncrementalUpdateAtomic(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("old.go")}))
	require.NoError(t, store.BulkStoreSymbols(ctx, []*Symbol{testSymbol("old-1", "Old", "old.go")}))

	err := store.IncrementalUpdateAtomic(ctx,
		[]string{"old.go"},
		[]*File{testFile("new.go")},
		[]*Symbol{testSymbol("new-1", "New", "new.go")},
		nil,
	)
	require.NoError(t, err)

	oldFile, err := store.GetFileByPath(ctx, "old.go")
	require.NoError(t, err)
	assert.Nil(t, oldFile)

	oldSyms, err := store.GetSymbolsByFile(ctx, "old.go")
	require.NoError(t, err)
	assert.Empty(t, oldSyms)

	newSyms, err := store.GetSymbolsByFile(ctx, "new.go")
	require.NoError(t, err)
	assert.Len(t, newSyms, 1)
}

func TestSQLiteStore_DeleteFileCascades(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("gone.go")}))
	require.NoError(t, store.BulkStoreSymbols(ctx, []*Symbol{testSymbol("gone-1", "Gone", "gone.go")}))

	require.NoError(t, store.DeleteFile(ctx, "gone.go"))

	f, err := store.GetFileByPath(ctx, "gone.go")
	require.NoError(t, err)
	assert.Nil(t, f)

	syms, err := store.GetSymbolsByFile(ctx, "gone.go")
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestSQLiteStore_ListFilePaths(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("a.go"), testFile("b.go")}))

	paths, err := store.ListFilePaths(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, paths)
}

func TestSQLiteStore_SearchFileContentFTS(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	f := testFile("search.go")
	f.Content = "package main\n\nfunc ProcessPayment() {}\n"
	require.NoError(t, store.BulkStoreFiles(ctx, []*File{f}))

	results, err := store.SearchFileContentFTS(ctx, "ProcessPayment", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "search.go", results[0].Path)
}

func TestSQLiteStore_SearchFileContentFTS_Empty(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	results, err := store.SearchFileContentFTS(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteStore_EmbeddingsRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("emb.go")}))
	require.NoError(t, store.BulkStoreSymbols(ctx, []*Symbol{
		testSymbol("e1", "One", "emb.go"),
		testSymbol("e2", "Two", "emb.go"),
	}))

	vecs := []*EmbeddingVector{
		{SymbolID: "e1", ModelID: "test-model", Vector: []float32{0.1, 0.2, 0.3}, CreatedAt: time.Now()},
	}
	require.NoError(t, store.BulkStoreEmbeddings(ctx, vecs))

	all, err := store.GetAllEmbeddings(ctx, "test-model")
	require.NoError(t, err)
	require.Contains(t, all, "e1")
	assert.InDelta(t, float32(0.2), all["e1"][1], 0.0001)

	missing, err := store.GetSymbolsWithoutEmbeddings(ctx, "test-model", 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "e2", missing[0].ID)
}

func TestSQLiteStore_GetSymbolsWithoutEmbeddings_SkipsEmptyText(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("blank.go")}))

	blank := testSymbol("blank-1", "", "blank.go")
	blank.Signature = ""
	blank.DocComment = ""
	blank.CodeContext = ""
	require.NoError(t, store.BulkStoreSymbols(ctx, []*Symbol{blank}))

	missing, err := store.GetSymbolsWithoutEmbeddings(ctx, "test-model", 10)
	require.NoError(t, err)
	assert.Empty(t, missing, "symbols with no composable embedding text must never be requeued")
}

func TestSQLiteStore_State(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	value, err := store.GetState(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, store.SetState(ctx, "embedder_model", "qwen3-0.6b"))
	value, err = store.GetState(ctx, "embedder_model")
	require.NoError(t, err)
	assert.Equal(t, "qwen3-0.6b", value)

	require.NoError(t, store.SetState(ctx, "embedder_model", "qwen3-4b"))
	value, err = store.GetState(ctx, "embedder_model")
	require.NoError(t, err)
	assert.Equal(t, "qwen3-4b", value)
}

func TestSQLiteStore_IntegrityCheckAndCheckpoint(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IntegrityCheck(ctx))
	require.NoError(t, store.CheckpointWAL(ctx))
}

func TestSQLiteStore_BulkInsertBracket(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BeginBulkInsert(ctx))
	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("bulk.go")}))
	require.NoError(t, store.BulkStoreSymbols(ctx, []*Symbol{testSymbol("bulk-1", "Bulk", "bulk.go")}))
	require.NoError(t, store.EndBulkInsert(ctx))

	found, err := store.FindSymbolsByName(ctx, "Bulk", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestSQLiteStore_ConfigurableCacheSize(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, ".julie", "metadata.db")

	cfg := StoreConfig{CacheSizeMB: 32}
	store, err := NewSQLiteStoreWithConfig(dbPath, cfg)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	require.NoError(t, store.BulkStoreFiles(ctx, []*File{testFile("cache.go")}))
}

func TestSQLiteStore_DefaultStoreConfig(t *testing.T) {
	cfg := DefaultStoreConfig()
	assert.Equal(t, 64, cfg.CacheSizeMB)
}

func TestSQLiteStore_ConcurrentReads(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	files := make([]*File, 50)
	for i := 0; i < 50; i++ {
		files[i] = testFile(fmt.Sprintf("file%d.go", i))
	}
	require.NoError(t, store.BulkStoreFiles(ctx, files))

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ListFilePaths(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent read error: %v", err)
	}
}

func TestEmbeddingBytesConversion(t *testing.T) {
	original := []float32{0.1, 0.2, 0.3, -0.5, 1.0, 0.0}

	bytes := embeddingToBytes(original)
	result := bytesToEmbedding(bytes)

	require.Len(t, result, len(original))
	for i, v := range original {
		assert.InDelta(t, v, result[i], 0.0001, "mismatch at index %d", i)
	}
}

func TestEmbeddingBytesConversion_EmptyInput(t *testing.T) {
	assert.Empty(t, embeddingToBytes([]float32{}))
	assert.Nil(t, bytesToEmbedding(nil))
	assert.Nil(t, bytesToEmbedding([]byte{}))
}

func TestSQLiteStore_DB(t *testing.T) {
	store, _ := newTestStore(t)

	db := store.DB()
	assert.NotNil(t, db)
	assert.NoError(t, db.Ping())
}
