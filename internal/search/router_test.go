package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliecode/julie/internal/embed"
	"github.com/juliecode/julie/internal/store"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		query string
		want  QueryIntent
	}{
		{`"ParseConfig"`, IntentExactSymbol},
		{"MAX_RETRIES", IntentExactSymbol},
		{"Vec<String>", IntentSymbolPattern},
		{"fn(x) -> y", IntentSymbolPattern},
		{"src/main.rs", IntentFilePath},
		{"config.yaml", IntentFilePath},
		{"how does the parser recover from errors", IntentSemanticConcept},
		{"parse structured input", IntentSemanticConcept},
		{"parser", IntentMixed},
		{"error handling", IntentMixed},
		{"", IntentMixed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyIntent(tt.query), tt.query)
	}
}

func TestNamingVariants(t *testing.T) {
	variants := NamingVariants("getUserData")
	assert.Equal(t, "getUserData", variants[0])
	assert.Contains(t, variants, "get_user_data")
	assert.Contains(t, variants, "GetUserData")
	assert.Contains(t, variants, "get-user-data")
	assert.Contains(t, variants, "GET_USER_DATA")

	// snake_case input round-trips to the same set.
	fromSnake := NamingVariants("get_user_data")
	assert.Contains(t, fromSnake, "getUserData")
	assert.Contains(t, fromSnake, "GetUserData")

	// No duplicates.
	seen := map[string]bool{}
	for _, v := range variants {
		assert.False(t, seen[v], v)
		seen[v] = true
	}

	// Single-word identifiers still produce case variants.
	single := NamingVariants("helper")
	assert.Contains(t, single, "Helper")
	assert.Contains(t, single, "HELPER")
}

// routerHarness wires a Router over real stores with the static embedder.
type routerHarness struct {
	metadata *store.SQLiteStore
	router   *Router
	semantic bool
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()

	metadata, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	embedder := embed.NewStaticEmbedder()
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	bm25, err := store.NewSQLiteBM25Index("", store.DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25.Close() })

	engine, err := NewEngine(bm25, vector, embedder, metadata, DefaultConfig())
	require.NoError(t, err)

	h := &routerHarness{metadata: metadata, semantic: true}
	h.router = NewRouter(engine, metadata,
		func() bool { return true },
		func() bool { return h.semantic },
	)
	return h
}

func (h *routerHarness) seedSymbol(t *testing.T, id, name, language, path string, kind store.SymbolKind) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.metadata.BulkStoreFiles(ctx, []*store.File{{
		Path:        path,
		Language:    language,
		ContentHash: "h-" + id,
		Content:     name,
	}}))
	require.NoError(t, h.metadata.BulkStoreSymbols(ctx, []*store.Symbol{{
		ID:            id,
		Name:          name,
		QualifiedName: name,
		Kind:          kind,
		Language:      language,
		FilePath:      path,
		StartLine:     1,
		EndLine:       2,
		LastIndexed:   time.Now(),
	}}))
}

func TestRouterCrossLanguageVariantSearch(t *testing.T) {
	h := newRouterHarness(t)
	// Same concept, two conventions, two languages.
	h.seedSymbol(t, "py-1", "get_user_data", "python", "user.py", store.KindFunction)
	h.seedSymbol(t, "ts-1", "getUserData", "typescript", "user.ts", store.KindFunction)

	res, err := h.router.Route(context.Background(), `"getUserData"`, RouterOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, IntentExactSymbol, res.Intent)
	assert.Equal(t, "symbols", res.Tier)

	names := map[string]bool{}
	for _, r := range res.Results {
		names[r.Symbol.Name] = true
	}
	assert.True(t, names["getUserData"])
	assert.True(t, names["get_user_data"])
}

func TestRouterExactMatchRanksFirst(t *testing.T) {
	h := newRouterHarness(t)
	h.seedSymbol(t, "a", "parse_input", "python", "a.py", store.KindFunction)
	h.seedSymbol(t, "b", "ParseInput", "go", "b.go", store.KindFunction)

	res, err := h.router.Route(context.Background(), `"ParseInput"`, RouterOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "ParseInput", res.Results[0].Symbol.Name)
	assert.Greater(t, res.Confidence, 0.8)
}

func TestRouterLanguageFilter(t *testing.T) {
	h := newRouterHarness(t)
	h.seedSymbol(t, "py-1", "get_user_data", "python", "user.py", store.KindFunction)
	h.seedSymbol(t, "ts-1", "getUserData", "typescript", "user.ts", store.KindFunction)

	res, err := h.router.Route(context.Background(), `"getUserData"`, RouterOptions{
		Limit:    10,
		Language: "python",
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "python", res.Results[0].Symbol.Language)
}

func TestRouterFilePathIntentUsesFTS(t *testing.T) {
	h := newRouterHarness(t)
	h.seedSymbol(t, "a", "main", "rust", "src/main.rs", store.KindFunction)

	res, err := h.router.Route(context.Background(), "src/main.rs", RouterOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, IntentFilePath, res.Intent)
}

func TestRouterEmptyResultCarriesInsight(t *testing.T) {
	h := newRouterHarness(t)

	res, err := h.router.Route(context.Background(), `"NoSuchSymbolAnywhere"`, RouterOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, "none", res.Tier)
	assert.Less(t, res.Confidence, 0.3)
	assert.NotEmpty(t, res.Insights)
}

func TestRouterDegradesWhenSemanticUnavailable(t *testing.T) {
	h := newRouterHarness(t)
	h.semantic = false
	h.seedSymbol(t, "a", "retry_with_backoff", "python", "util.py", store.KindFunction)

	// A natural-language query would prefer Tier 3; with it down the
	// router reports the gap instead of failing.
	res, err := h.router.Route(context.Background(), "how is retry backoff implemented", RouterOptions{Limit: 10})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Insights)
}

func TestPatternQueryName(t *testing.T) {
	assert.Equal(t, "Vec", patternQueryName("Vec<String>"))
	assert.Equal(t, "HashMap", patternQueryName("HashMap<K, V>"))
	assert.Equal(t, "fnx  y", patternQueryName("fn(x) -> y"))
}

func TestPathMatches(t *testing.T) {
	assert.True(t, pathMatches("src/main.rs", "src/"))
	assert.True(t, pathMatches("src/main.rs", "*.rs"))
	assert.True(t, pathMatches("internal/store/hnsw.go", "internal/*/hnsw.go"))
	assert.False(t, pathMatches("src/main.rs", "*.go"))
	assert.True(t, pathMatches("anything", ""))
}

func TestSameKindClass(t *testing.T) {
	assert.True(t, sameKindClass(store.KindClass, store.KindStruct))
	assert.True(t, sameKindClass(store.KindInterface, store.KindTypeAlias))
	assert.True(t, sameKindClass(store.KindFunction, store.KindFunction))
	assert.False(t, sameKindClass(store.KindFunction, store.KindClass))
}
