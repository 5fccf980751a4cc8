package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliecode/julie/internal/store"
)

func seedSymbolWithEmbedding(t *testing.T, h *testHarness, id, name string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.metadata.BulkStoreFiles(ctx, []*store.File{{
		Path:        name + ".go",
		Language:    "go",
		ContentHash: "hash-" + id,
		Content:     "package p",
	}}))
	require.NoError(t, h.metadata.BulkStoreSymbols(ctx, []*store.Symbol{{
		ID:            id,
		Name:          name,
		QualifiedName: name,
		Kind:          store.KindFunction,
		Language:      "go",
		FilePath:      name + ".go",
		StartLine:     1,
		EndLine:       1,
		LastIndexed:   time.Now(),
	}}))

	vec := make([]float32, h.embedder.Dimensions())
	vec[0] = 1
	require.NoError(t, h.metadata.BulkStoreEmbeddings(ctx, []*store.EmbeddingVector{{
		SymbolID: id,
		ModelID:  h.embedder.ModelName(),
		Vector:   vec,
	}}))
}

func TestConsistencyCheckClean(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	seedSymbolWithEmbedding(t, h, "sym-1", "alpha")
	vec := make([]float32, h.embedder.Dimensions())
	vec[0] = 1
	require.NoError(t, h.vector.InsertBatch(ctx, []string{"sym-1"}, [][]float32{vec}))

	checker := NewConsistencyChecker(h.metadata, nil, h.vector, h.embedder.ModelName())
	res, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Empty(t, res.Inconsistencies)

	ok, err := checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConsistencyCheckMissingVector(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	seedSymbolWithEmbedding(t, h, "sym-1", "alpha")
	// Nothing inserted into the vector store.

	checker := NewConsistencyChecker(h.metadata, nil, h.vector, h.embedder.ModelName())
	res, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, res.Inconsistencies, 1)
	assert.Equal(t, InconsistencyMissingVector, res.Inconsistencies[0].Type)
	assert.Equal(t, "sym-1", res.Inconsistencies[0].SymbolID)

	ok, err := checker.QuickCheck(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsistencyCheckOrphanVectorAndRepair(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	vec := make([]float32, h.embedder.Dimensions())
	vec[0] = 1
	require.NoError(t, h.vector.InsertBatch(ctx, []string{"ghost"}, [][]float32{vec}))

	checker := NewConsistencyChecker(h.metadata, nil, h.vector, h.embedder.ModelName())
	res, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, res.Inconsistencies, 1)
	assert.Equal(t, InconsistencyOrphanVector, res.Inconsistencies[0].Type)

	require.NoError(t, checker.Repair(ctx, res.Inconsistencies))
	assert.False(t, h.vector.Contains("ghost"))
}

func TestInconsistencyTypeString(t *testing.T) {
	assert.Equal(t, "orphan_bm25", InconsistencyOrphanBM25.String())
	assert.Equal(t, "orphan_vector", InconsistencyOrphanVector.String())
	assert.Equal(t, "missing_bm25", InconsistencyMissingBM25.String())
	assert.Equal(t, "missing_vector", InconsistencyMissingVector.String())
}
