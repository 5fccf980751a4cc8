package search

import (
	"context"
	"time"

	"github.com/juliecode/julie/internal/store"
)

// MockBM25Index is a configurable test double for store.BM25Index.
type MockBM25Index struct {
	IndexFn  func(ctx context.Context, docs []*store.Document) error
	SearchFn func(ctx context.Context, query string, limit int) ([]*store.BM25Result, error)
	DeleteFn func(ctx context.Context, docIDs []string) error
	StatsFn  func() *store.IndexStats
}

func (m *MockBM25Index) Index(ctx context.Context, docs []*store.Document) error {
	if m.IndexFn != nil {
		return m.IndexFn(ctx, docs)
	}
	return nil
}

func (m *MockBM25Index) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, limit)
	}
	return nil, nil
}

func (m *MockBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, docIDs)
	}
	return nil
}

func (m *MockBM25Index) AllIDs() ([]string, error) { return nil, nil }

func (m *MockBM25Index) Stats() *store.IndexStats {
	if m.StatsFn != nil {
		return m.StatsFn()
	}
	return &store.IndexStats{}
}

func (m *MockBM25Index) Save(path string) error { return nil }
func (m *MockBM25Index) Load(path string) error { return nil }
func (m *MockBM25Index) Close() error           { return nil }

// MockVectorStore is a configurable test double for store.VectorStore.
type MockVectorStore struct {
	SearchFn func(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
	DeleteFn func(ctx context.Context, ids []string) error
	CountFn  func() int
}

func (m *MockVectorStore) BuildIndex(ctx context.Context, ids []string, vectors [][]float32) error {
	return nil
}

func (m *MockVectorStore) InsertBatch(ctx context.Context, ids []string, vectors [][]float32) error {
	return nil
}

func (m *MockVectorStore) Delete(ctx context.Context, ids []string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, ids)
	}
	return nil
}

func (m *MockVectorStore) Search(ctx context.Context, query []float32, k int, threshold float32) ([]*store.VectorResult, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, k)
	}
	return nil, nil
}

func (m *MockVectorStore) AllIDs() []string { return nil }
func (m *MockVectorStore) Contains(id string) bool { return false }

func (m *MockVectorStore) Count() int {
	if m.CountFn != nil {
		return m.CountFn()
	}
	return 0
}

func (m *MockVectorStore) LoadTime() time.Time    { return time.Time{} }
func (m *MockVectorStore) Save(path string) error { return nil }
func (m *MockVectorStore) Load(path string) error { return nil }
func (m *MockVectorStore) Close() error           { return nil }

// MockEmbedder is a configurable test double for embed.Embedder.
type MockEmbedder struct {
	EmbedFn      func(ctx context.Context, text string) ([]float32, error)
	DimensionsFn func() int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}
	return make([]float32, 768), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int {
	if m.DimensionsFn != nil {
		return m.DimensionsFn()
	}
	return 768
}

func (m *MockEmbedder) ModelName() string           { return "mock-embedder" }
func (m *MockEmbedder) Available(ctx context.Context) bool { return true }
func (m *MockEmbedder) Close() error                { return nil }
func (m *MockEmbedder) SetBatchIndex(idx int)       {}
func (m *MockEmbedder) SetFinalBatch(isFinal bool)  {}

// MockMetadataStore is a configurable in-memory test double for store.MetadataStore.
// Only the operations exercised by the search engine are implemented.
type MockMetadataStore struct {
	symbols map[string]*store.Symbol
	state   map[string]string
}

func NewMockMetadataStore() *MockMetadataStore {
	return &MockMetadataStore{
		symbols: make(map[string]*store.Symbol),
		state:   make(map[string]string),
	}
}

func (m *MockMetadataStore) Migrate(ctx context.Context, targetVersion int) error { return nil }
func (m *MockMetadataStore) IntegrityCheck(ctx context.Context) error            { return nil }
func (m *MockMetadataStore) CheckpointWAL(ctx context.Context) error             { return nil }
func (m *MockMetadataStore) Close() error                                       { return nil }

func (m *MockMetadataStore) BeginBulkInsert(ctx context.Context) error { return nil }
func (m *MockMetadataStore) EndBulkInsert(ctx context.Context) error   { return nil }

func (m *MockMetadataStore) BulkStoreFiles(ctx context.Context, files []*store.File) error {
	return nil
}

func (m *MockMetadataStore) BulkStoreSymbols(ctx context.Context, symbols []*store.Symbol) error {
	for _, s := range symbols {
		m.symbols[s.ID] = s
	}
	return nil
}

func (m *MockMetadataStore) BulkStoreRelationships(ctx context.Context, rels []*store.Relationship) error {
	return nil
}

func (m *MockMetadataStore) BulkStoreEmbeddings(ctx context.Context, vecs []*store.EmbeddingVector) error {
	return nil
}

func (m *MockMetadataStore) IncrementalUpdateAtomic(ctx context.Context, filesToClean []string, newFiles []*store.File, newSymbols []*store.Symbol, newRelationships []*store.Relationship) error {
	for _, s := range newSymbols {
		m.symbols[s.ID] = s
	}
	return nil
}

func (m *MockMetadataStore) FindSymbolsByName(ctx context.Context, name string, limit int) ([]*store.Symbol, error) {
	return nil, nil
}

func (m *MockMetadataStore) FindSymbolsByPattern(ctx context.Context, pattern string, limit int) ([]*store.Symbol, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetSymbolsByIDs(ctx context.Context, ids []string) ([]*store.Symbol, error) {
	out := make([]*store.Symbol, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.symbols[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MockMetadataStore) GetSymbolsByFile(ctx context.Context, filePath string) ([]*store.Symbol, error) {
	out := make([]*store.Symbol, 0)
	for _, s := range m.symbols {
		if s.FilePath == filePath {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MockMetadataStore) GetRelationshipsFromSymbol(ctx context.Context, id string) ([]*store.Relationship, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetRelationshipsToSymbol(ctx context.Context, id string) ([]*store.Relationship, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetRelationshipsToSymbols(ctx context.Context, ids []string) ([]*store.Relationship, error) {
	return nil, nil
}

func (m *MockMetadataStore) SearchFileContentFTS(ctx context.Context, query string, limit int) ([]store.FTSResult, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetSymbolsWithoutEmbeddings(ctx context.Context, modelID string, limit int) ([]*store.Symbol, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetAllEmbeddings(ctx context.Context, modelID string) (map[string][]float32, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetFileByPath(ctx context.Context, path string) (*store.File, error) {
	return nil, nil
}

func (m *MockMetadataStore) DeleteFile(ctx context.Context, path string) error { return nil }

func (m *MockMetadataStore) ListFilePaths(ctx context.Context) ([]string, error) { return nil, nil }

func (m *MockMetadataStore) GetRelationshipsToName(ctx context.Context, name string) ([]*store.Relationship, error) {
	return nil, nil
}

func (m *MockMetadataStore) CountSymbols(ctx context.Context) (int, error) {
	return len(m.symbols), nil
}

func (m *MockMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	return m.state[key], nil
}

func (m *MockMetadataStore) SetState(ctx context.Context, key, value string) error {
	m.state[key] = value
	return nil
}
