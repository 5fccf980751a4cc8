package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/juliecode/julie/internal/async"
	"github.com/juliecode/julie/internal/budget"
	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/embed"
	"github.com/juliecode/julie/internal/search"
	"github.com/juliecode/julie/internal/store"
	"github.com/juliecode/julie/internal/telemetry"
	"github.com/juliecode/julie/internal/workspace"
	"github.com/juliecode/julie/pkg/version"
)

// IndexFunc triggers a (re)index of the primary workspace. force requests
// full re-extraction.
type IndexFunc func(ctx context.Context, force bool) error

// Server is the MCP server for julie. It bridges AI clients (Claude Code,
// Cursor) with the CASCADE index: intent-routed search, symbol
// navigation, call tracing, line-precise editing, and workspace
// lifecycle.
type Server struct {
	mcp      *mcp.Server
	router   *search.Router
	metadata store.MetadataStore
	embedder embed.Embedder
	config   *config.Config
	logger   *slog.Logger

	workspace *workspace.Workspace
	registry  *workspace.Registry
	rootPath  string

	// indexFunc backs manage_workspace(operation=index). Optional.
	indexFunc IndexFunc

	// Background indexing progress (nil if not indexing)
	indexProgress *async.IndexProgress

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ServerDeps carries the injected dependencies for NewServer.
type ServerDeps struct {
	// Router routes queries across the CASCADE tiers (required).
	Router *search.Router

	// Metadata is the primary workspace's symbol database (required).
	Metadata store.MetadataStore

	// Workspace is the primary workspace (required).
	Workspace *workspace.Workspace

	// Registry of known workspaces. Optional; manage_workspace list/add/
	// remove degrade gracefully without it.
	Registry *workspace.Registry

	// Embedder for capability signaling. May be nil.
	Embedder embed.Embedder

	// Config is the loaded configuration. Defaults applied when nil.
	Config *config.Config

	// IndexFunc backs manage_workspace(operation=index). Optional.
	IndexFunc IndexFunc
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// NewServer creates a new MCP server.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Router == nil {
		return nil, errors.New("router is required")
	}
	if deps.Metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if deps.Workspace == nil {
		return nil, errors.New("workspace is required")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		router:    deps.Router,
		metadata:  deps.Metadata,
		embedder:  deps.Embedder,
		config:    cfg,
		workspace: deps.Workspace,
		registry:  deps.Registry,
		rootPath:  deps.Workspace.Root,
		indexFunc: deps.IndexFunc,
		logger:    slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "julie",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	return s, nil
}

// SetIndexProgress sets the index progress tracker for background indexing.
func (s *Server) SetIndexProgress(progress *async.IndexProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexProgress = progress
}

// SetMetrics sets the query metrics collector for telemetry.
// When set, a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "julie", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, true
}

// toolCatalog is the registration table: one row per tool.
var toolCatalog = []ToolInfo{
	{
		Name:        "fast_search",
		Description: "Primary query tool over the workspace index. Routes by intent across keyword, symbol, and semantic tiers with cross-language naming-variant expansion. Use for 95% of search tasks - faster and smarter than grep.",
	},
	{
		Name:        "fast_goto",
		Description: "Find a symbol's definition. Multi-strategy: exact name, then naming variants (camelCase/snake_case/...), then semantic lookup.",
	},
	{
		Name:        "fast_refs",
		Description: "Find all references to a symbol, including cross-file name-based references. Batched lookup, ordered by confidence.",
	},
	{
		Name:        "get_symbols",
		Description: "Outline a file's symbols. Structure-only by default; body modes opt in to code inclusion.",
	},
	{
		Name:        "trace_call_path",
		Description: "Trace execution paths through the call graph, upstream (callers) or downstream (callees), optionally across languages.",
	},
	{
		Name:        "edit_lines",
		Description: "Line-precise file edit: insert, replace, or delete a line range. Supports dry_run preview.",
	},
	{
		Name:        "fuzzy_replace",
		Description: "Whitespace-tolerant fuzzy text replacement with a similarity threshold. Supports dry_run preview.",
	},
	{
		Name:        "manage_workspace",
		Description: "Workspace lifecycle and introspection: index, add, remove, list, recent, health, stats.",
	},
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return toolCatalog
}

// registerTools registers all tools with the MCP server.
// BUG-033: Added logging for debugging tool registration issues.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{Name: "fast_search", Description: toolCatalog[0].Description}, s.handleFastSearch)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "fast_goto", Description: toolCatalog[1].Description}, s.handleFastGoto)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "fast_refs", Description: toolCatalog[2].Description}, s.handleFastRefs)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "get_symbols", Description: toolCatalog[3].Description}, s.handleGetSymbols)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "trace_call_path", Description: toolCatalog[4].Description}, s.handleTraceCallPath)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "edit_lines", Description: toolCatalog[5].Description}, s.handleEditLines)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "fuzzy_replace", Description: toolCatalog[6].Description}, s.handleFuzzyReplace)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "manage_workspace", Description: toolCatalog[7].Description}, s.handleManageWorkspace)

	s.logger.Info("MCP tools registered", slog.Int("count", len(toolCatalog)))
}

// CallTool invokes a tool by name with loosely-typed arguments. This is
// the legacy dispatch path kept for direct (non-SDK) callers and tests;
// the SDK path goes through the typed handlers registered above.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (budget.Envelope, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return budget.Envelope{}, NewInvalidParamsError(err.Error())
	}

	decode := func(v any) error {
		return json.Unmarshal(raw, v)
	}

	switch name {
	case "fast_search":
		var input FastSearchInput
		if err := decode(&input); err != nil {
			return budget.Envelope{}, NewInvalidParamsError(err.Error())
		}
		_, env, err := s.handleFastSearch(ctx, nil, input)
		return env, err
	case "fast_goto":
		var input FastGotoInput
		if err := decode(&input); err != nil {
			return budget.Envelope{}, NewInvalidParamsError(err.Error())
		}
		_, env, err := s.handleFastGoto(ctx, nil, input)
		return env, err
	case "fast_refs":
		var input FastRefsInput
		if err := decode(&input); err != nil {
			return budget.Envelope{}, NewInvalidParamsError(err.Error())
		}
		_, env, err := s.handleFastRefs(ctx, nil, input)
		return env, err
	case "get_symbols":
		var input GetSymbolsInput
		if err := decode(&input); err != nil {
			return budget.Envelope{}, NewInvalidParamsError(err.Error())
		}
		_, env, err := s.handleGetSymbols(ctx, nil, input)
		return env, err
	case "trace_call_path":
		var input TraceCallPathInput
		if err := decode(&input); err != nil {
			return budget.Envelope{}, NewInvalidParamsError(err.Error())
		}
		_, env, err := s.handleTraceCallPath(ctx, nil, input)
		return env, err
	case "edit_lines":
		var input EditLinesInput
		if err := decode(&input); err != nil {
			return budget.Envelope{}, NewInvalidParamsError(err.Error())
		}
		_, env, err := s.handleEditLines(ctx, nil, input)
		return env, err
	case "fuzzy_replace":
		var input FuzzyReplaceInput
		if err := decode(&input); err != nil {
			return budget.Envelope{}, NewInvalidParamsError(err.Error())
		}
		_, env, err := s.handleFuzzyReplace(ctx, nil, input)
		return env, err
	case "manage_workspace":
		var input ManageWorkspaceInput
		if err := decode(&input); err != nil {
			return budget.Envelope{}, NewInvalidParamsError(err.Error())
		}
		_, env, err := s.handleManageWorkspace(ctx, nil, input)
		return env, err
	default:
		return budget.Envelope{}, NewMethodNotFoundError(name)
	}
}

// notReadyEnvelope reports whether the workspace's keyword tier is still
// building (initial background index). The envelope carries the progress
// snapshot and a rough ETA derived from throughput so far.
func (s *Server) notReadyEnvelope(tool string) (budget.Envelope, bool) {
	if s.workspace.SQLiteFTSReady() {
		return budget.Envelope{}, false
	}

	s.mu.RLock()
	progress := s.indexProgress
	s.mu.RUnlock()
	if progress == nil || !progress.IsIndexing() {
		return budget.Envelope{}, false
	}

	snap := progress.Snapshot()
	eta := 30
	if snap.ProgressPct > 0 && snap.ElapsedSeconds > 0 {
		remaining := float64(snap.ElapsedSeconds) * (100 - snap.ProgressPct) / snap.ProgressPct
		if remaining > 0 {
			eta = int(remaining) + 1
		}
	}

	env := budget.NotReady(tool, eta)
	env.Metadata["stage"] = snap.Stage
	env.Metadata["files_processed"] = snap.FilesProcessed
	env.Metadata["files_total"] = snap.FilesTotal
	return env, true
}

// storeFor resolves the symbol database for a workspace selector:
// "primary" (or empty) is the loaded workspace; anything else is a
// workspace ID whose own SQLite file is opened on demand via the
// registry. There is deliberately no "all workspaces" selector: each
// workspace is physically isolated, and aggregation is a caller concern.
func (s *Server) storeFor(ctx context.Context, selector string) (store.MetadataStore, func(), error) {
	if selector == "" || selector == "primary" || selector == s.workspace.ID {
		return s.metadata, func() {}, nil
	}
	if s.registry == nil {
		return nil, nil, NewInvalidParamsError("no workspace registry configured")
	}

	entry, err := s.registry.Get(selector)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, NewInvalidParamsError(fmt.Sprintf("unknown workspace %q", selector))
	}

	ref, err := store.NewSQLiteStore(workspace.DatabasePathForID(entry.RootPath, entry.WorkspaceID))
	if err != nil {
		return nil, nil, err
	}
	return ref, func() { _ = ref.Close() }, nil
}

// routerFor resolves the query router for a workspace selector. Reference
// workspaces get a metadata-only router (keyword + symbol tiers); the
// primary workspace gets the full CASCADE router.
func (s *Server) routerFor(ctx context.Context, selector string) (*search.Router, func(), error) {
	if selector == "" || selector == "primary" || selector == s.workspace.ID {
		return s.router, func() {}, nil
	}
	metadata, cleanup, err := s.storeFor(ctx, selector)
	if err != nil {
		return nil, nil, err
	}
	return search.NewRouter(nil, metadata, nil, func() bool { return false }), cleanup, nil
}

// ListResources returns all available resources.
func (s *Server) ListResources(ctx context.Context, cursor string) ([]ResourceInfo, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths, err := s.metadata.ListFilePaths(ctx)
	if err != nil {
		return nil, "", err
	}

	resources := make([]ResourceInfo, 0, len(paths))
	for _, p := range paths {
		resources = append(resources, ResourceInfo{
			URI:      fmt.Sprintf("file://%s", p),
			Name:     p,
			MIMEType: MimeTypeForPath(p),
		})
	}

	return resources, "", nil // No pagination for now
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		return nil, NewResourceNotFoundError(uri)
	}

	file, err := s.metadata.GetFileByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, NewResourceNotFoundError(uri)
	}

	return &ResourceContent{
		URI:      uri,
		Content:  file.Content,
		MIMEType: MimeTypeForPath(path),
	}, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("Using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		// SSE transport not yet implemented in SDK
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server doesn't have a Close method - it stops when context is canceled
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
