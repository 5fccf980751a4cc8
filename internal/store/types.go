// Package store provides vector storage (HNSW), BM25 index, and metadata
// persistence (SQLite). This is the persistence layer for all indexed data:
// SQLite is the source of truth, FTS5 is a derived keyword tier, and HNSW is
// a derived, lazily-built semantic tier.
package store

import (
	"context"
	"fmt"
	"time"
)

// SymbolKind is the kind of a named entity extracted from source.
type SymbolKind string

const (
	KindClass       SymbolKind = "class"
	KindStruct      SymbolKind = "struct"
	KindInterface   SymbolKind = "interface"
	KindFunction    SymbolKind = "function"
	KindMethod      SymbolKind = "method"
	KindField       SymbolKind = "field"
	KindVariable    SymbolKind = "variable"
	KindModule      SymbolKind = "module"
	KindNamespace   SymbolKind = "namespace"
	KindConstant    SymbolKind = "constant"
	KindTypeAlias   SymbolKind = "type_alias"
	KindEnum        SymbolKind = "enum"
	KindEnumVariant SymbolKind = "enum_variant"
	KindTrait       SymbolKind = "trait"
	KindDocSection  SymbolKind = "doc_section"
	KindConfigKey   SymbolKind = "config_key"
	KindFileContent SymbolKind = "file_content"
	KindOther       SymbolKind = "other"
)

// KindEquivalence groups kinds that should be treated as interchangeable for
// cross-language match ranking.
var KindEquivalence = map[SymbolKind]string{
	KindClass:     "type",
	KindStruct:    "type",
	KindInterface: "type",
	KindTypeAlias: "type",
}

// Visibility is the access level of a symbol, where the language expresses one.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityPrivate   Visibility = "private"
	VisibilityProtected Visibility = "protected"
	VisibilityInternal  Visibility = "internal"
	VisibilityUnknown   Visibility = ""
)

// Symbol is the atomic unit of the index: a named declaration or meaningful
// code entity extracted from source. Its ID is stable under unrelated edits
// elsewhere in the file so cross-references survive re-indexing.
type Symbol struct {
	ID            string // stable: hash(workspace_id, file_path, kind, qualified_name, start_line)
	Name          string
	QualifiedName string
	Kind          SymbolKind
	Language      string
	FilePath      string // workspace-relative, Unix-style, never leading "/", never ".."
	StartLine     int    // 1-indexed
	EndLine       int
	StartCol      int
	EndCol        int
	Signature     string
	DocComment    string
	Visibility    Visibility
	ParentID      string // nullable (empty string = no parent)
	CodeContext   string // surrounding text extract, optional
	ContentHash   string
	LastIndexed   time.Time
}

// RelationshipKind is the kind of directed edge between two symbols.
type RelationshipKind string

const (
	RelCalls      RelationshipKind = "calls"
	RelReferences RelationshipKind = "references"
	RelImplements RelationshipKind = "implements"
	RelExtends    RelationshipKind = "extends"
	RelContains   RelationshipKind = "contains"
	RelImports    RelationshipKind = "imports"
	RelReads      RelationshipKind = "reads"
	RelWrites     RelationshipKind = "writes"
)

// Relationship is a directed edge between two symbols.
type Relationship struct {
	ID           string
	FromSymbolID string
	ToSymbolID   string // may be empty when ToName resolves to a symbol in another file
	ToName       string // name-based reference, resolved at query time when ToSymbolID is unknown
	Kind         RelationshipKind
	FilePath     string
	Line         int
	Confidence   float64 // 0..1
}

// File is one row per indexed file; content is retained for FTS5.
type File struct {
	Path         string
	Language     string
	ContentHash  string // BLAKE3
	SizeBytes    int64
	LastModified time.Time
	SymbolCount  int
	Content      string
}

// EmbeddingVector is the persisted embedding for one symbol under one model.
type EmbeddingVector struct {
	SymbolID  string
	ModelID   string
	Vector    []float32
	CreatedAt time.Time
}

// MetadataStore is the Symbol Database: the single source of truth for
// symbols, relationships, file content, and the FTS5 index. All other
// indexes (HNSW, in-memory caches) are derived and must be reconstructible
// from this store alone.
type MetadataStore interface {
	// Migration & lifecycle. Open (construction) is handled by the
	// concrete NewMetadataStore constructor: PRAGMA journal_mode=WAL must
	// be confirmed before Migrate or any other statement runs.
	Migrate(ctx context.Context, targetVersion int) error
	IntegrityCheck(ctx context.Context) error
	CheckpointWAL(ctx context.Context) error
	Close() error

	// Bulk writes. Each brackets begin_bulk_insert/end_bulk_insert:
	// secondary indexes are dropped, inserts batched via prepared
	// statements, indexes recreated on End. Primary-key conflicts use
	// INSERT OR REPLACE (identity semantics = logical delete+insert).
	BeginBulkInsert(ctx context.Context) error
	EndBulkInsert(ctx context.Context) error
	BulkStoreFiles(ctx context.Context, files []*File) error
	BulkStoreSymbols(ctx context.Context, symbols []*Symbol) error
	BulkStoreRelationships(ctx context.Context, rels []*Relationship) error
	BulkStoreEmbeddings(ctx context.Context, vecs []*EmbeddingVector) error

	// IncrementalUpdateAtomic performs, in a single transaction: delete
	// symbols/relationships/FTS rows for filesToClean, insert newFiles,
	// newSymbols, newRelationships. All-or-nothing.
	IncrementalUpdateAtomic(ctx context.Context, filesToClean []string, newFiles []*File, newSymbols []*Symbol, newRelationships []*Relationship) error

	// Reads.
	FindSymbolsByName(ctx context.Context, name string, limit int) ([]*Symbol, error)
	FindSymbolsByPattern(ctx context.Context, pattern string, limit int) ([]*Symbol, error)
	GetSymbolsByIDs(ctx context.Context, ids []string) ([]*Symbol, error)
	GetSymbolsByFile(ctx context.Context, filePath string) ([]*Symbol, error)
	GetRelationshipsFromSymbol(ctx context.Context, id string) ([]*Relationship, error)
	GetRelationshipsToSymbol(ctx context.Context, id string) ([]*Relationship, error)
	GetRelationshipsToSymbols(ctx context.Context, ids []string) ([]*Relationship, error)
	GetRelationshipsToName(ctx context.Context, name string) ([]*Relationship, error)
	CountSymbols(ctx context.Context) (int, error)
	SearchFileContentFTS(ctx context.Context, query string, limit int) ([]FTSResult, error)
	GetSymbolsWithoutEmbeddings(ctx context.Context, modelID string, limit int) ([]*Symbol, error)
	GetAllEmbeddings(ctx context.Context, modelID string) (map[string][]float32, error)

	// File-level helpers used by discovery/incremental-update reconciliation.
	GetFileByPath(ctx context.Context, path string) (*File, error)
	DeleteFile(ctx context.Context, path string) error
	ListFilePaths(ctx context.Context) ([]string, error)

	// Key-value state (embedder model/dimension bookkeeping, checkpoints).
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// FTSResult is one row from an FTS5 MATCH query over file content.
type FTSResult struct {
	Path    string
	Snippet string
	Rank    float64
}

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// State keys used with MetadataStore.GetState/SetState for embedder
// bookkeeping: detecting a dimension/model change across re-index runs.
const (
	StateKeyIndexDimension = "index_embedding_dimension"
	StateKeyIndexModel     = "index_embedding_model"
)

// Document represents a piece of text to be indexed in BM25 (a symbol's
// composed searchable text, or a file's full content).
type Document struct {
	ID      string // Symbol ID or "file:"+path
	Content string
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using BM25 algorithm. This backs
// Tier 1 when a workspace opts out of SQLite FTS5 in favor of an
// in-process index (see DESIGN.md: bleve-backed alternate implementation).
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains programming keywords to filter out.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorResult represents a single vector search result (symbol ID).
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	Dimensions     int // 384 for the default embedding model
	Quantization   string
	Metric         string // "cos" or "l2"
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides approximate nearest-neighbor search using HNSW.
type VectorStore interface {
	BuildIndex(ctx context.Context, ids []string, vectors [][]float32) error
	InsertBatch(ctx context.Context, ids []string, vectors [][]float32) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, query []float32, k int, threshold float32) ([]*VectorResult, error)
	AllIDs() []string
	Contains(id string) bool
	Count() int
	LoadTime() time.Time
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'julie index --force')", e.Expected, e.Got)
}
