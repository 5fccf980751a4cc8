package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/embed"
	"github.com/juliecode/julie/internal/search"
	"github.com/juliecode/julie/internal/store"
	"github.com/juliecode/julie/internal/workspace"
)

// serverFixture wires a Server over real in-memory stores.
type serverFixture struct {
	srv      *Server
	ws       *workspace.Workspace
	metadata *store.SQLiteStore
	embedder embed.Embedder
	registry *workspace.Registry
	root     string
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()

	root := t.TempDir()
	ws, err := workspace.Open(root)
	require.NoError(t, err)

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

	engine, err := search.NewEngine(bm25, vector, embedder, metadata, search.DefaultConfig())
	require.NoError(t, err)

	router := search.NewRouter(engine, metadata, ws.SQLiteFTSReady, ws.SemanticReady)
	ws.SetSQLiteFTSReady(true)

	registry, err := workspace.OpenRegistry(root + "/registry.json")
	require.NoError(t, err)

	srv, err := NewServer(ServerDeps{
		Router:    router,
		Metadata:  metadata,
		Workspace: ws,
		Registry:  registry,
		Embedder:  embedder,
		Config:    config.NewConfig(),
	})
	require.NoError(t, err)

	return &serverFixture{
		srv:      srv,
		ws:       ws,
		metadata: metadata,
		embedder: embedder,
		registry: registry,
		root:     root,
	}
}

// seed inserts one file with one symbol.
func (f *serverFixture) seed(t *testing.T, id, name, language, path, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.metadata.BulkStoreFiles(ctx, []*store.File{{
		Path:        path,
		Language:    language,
		ContentHash: "h-" + id,
		Content:     content,
	}}))
	require.NoError(t, f.metadata.BulkStoreSymbols(ctx, []*store.Symbol{{
		ID:            id,
		Name:          name,
		QualifiedName: name,
		Kind:          store.KindFunction,
		Language:      language,
		FilePath:      path,
		StartLine:     1,
		EndLine:       3,
		Signature:     "func " + name + "()",
		LastIndexed:   time.Now(),
	}}))
}

func TestServer_New_Success(t *testing.T) {
	f := newTestServer(t)
	assert.NotNil(t, f.srv)
	assert.NotNil(t, f.srv.MCPServer())
}

func TestServer_New_MissingDeps_ReturnsError(t *testing.T) {
	_, err := NewServer(ServerDeps{})
	require.Error(t, err)
}

func TestServer_Info_ReturnsCorrectValues(t *testing.T) {
	f := newTestServer(t)
	name, ver := f.srv.Info()
	assert.Equal(t, "julie", name)
	assert.NotEmpty(t, ver)
}

func TestServer_Capabilities_HasToolsAndResources(t *testing.T) {
	f := newTestServer(t)
	hasTools, hasResources := f.srv.Capabilities()
	assert.True(t, hasTools)
	assert.True(t, hasResources)
}

func TestServer_ListTools_ReturnsToolSurface(t *testing.T) {
	f := newTestServer(t)
	tools := f.srv.ListTools()
	require.Len(t, tools, 8)

	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.Description)
	}
	for _, want := range []string{
		"fast_search", "fast_goto", "fast_refs", "get_symbols",
		"trace_call_path", "edit_lines", "fuzzy_replace", "manage_workspace",
	} {
		assert.True(t, names[want], want)
	}
}

func TestServer_CallTool_UnknownTool_ReturnsError(t *testing.T) {
	f := newTestServer(t)
	_, err := f.srv.CallTool(context.Background(), "no_such_tool", nil)
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_CallTool_FastSearchMissingQuery(t *testing.T) {
	f := newTestServer(t)
	_, err := f.srv.CallTool(context.Background(), "fast_search", map[string]any{})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestServer_ListResources_ReturnsIndexedFiles(t *testing.T) {
	f := newTestServer(t)
	f.seed(t, "s1", "Alpha", "go", "a.go", "package a\n\nfunc Alpha() {}\n")

	resources, cursor, err := f.srv.ListResources(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, cursor)
	require.Len(t, resources, 1)
	assert.Equal(t, "file://a.go", resources[0].URI)
}

func TestServer_ReadResource_ReturnsContent(t *testing.T) {
	f := newTestServer(t)
	f.seed(t, "s1", "Alpha", "go", "a.go", "package a\n\nfunc Alpha() {}\n")

	content, err := f.srv.ReadResource(context.Background(), "file://a.go")
	require.NoError(t, err)
	assert.Contains(t, content.Content, "func Alpha()")
}

func TestServer_ReadResource_NotFound(t *testing.T) {
	f := newTestServer(t)
	_, err := f.srv.ReadResource(context.Background(), "file://missing.go")
	require.Error(t, err)
}

func TestServer_ConcurrentRequests_RaceSafe(t *testing.T) {
	f := newTestServer(t)
	f.seed(t, "s1", "Alpha", "go", "a.go", "package a\n\nfunc Alpha() {}\n")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.srv.CallTool(context.Background(), "fast_search", map[string]any{
				"query": `"Alpha"`,
			})
		}()
	}
	wg.Wait()
}
