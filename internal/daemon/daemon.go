// Package daemon keeps the embedding model loaded in a long-lived
// background process so CLI searches answer instantly. Clients talk to it
// over a Unix domain socket; per-project index state is loaded lazily and
// evicted LRU when MaxProjects is exceeded.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/embed"
	"github.com/juliecode/julie/internal/search"
	"github.com/juliecode/julie/internal/store"
	"github.com/juliecode/julie/internal/workspace"
)

// projectState holds one loaded project's stores and engine.
type projectState struct {
	root     string
	metadata store.MetadataStore
	vector   store.VectorStore
	bm25     store.BM25Index
	engine   *search.Engine
	modelID  string
	lastUsed time.Time

	// Compaction bookkeeping (see CompactionManager).
	compacting bool
}

func (p *projectState) close() {
	if p.engine != nil {
		_ = p.engine.Close()
	}
	if p.bm25 != nil {
		_ = p.bm25.Close()
	}
	if p.vector != nil {
		_ = p.vector.Close()
	}
	if p.metadata != nil {
		_ = p.metadata.Close()
	}
}

// Daemon is the background search process.
type Daemon struct {
	config   Config
	embedder embed.Embedder
	server   *Server
	pidfile  *PIDFile
	started  time.Time

	mu       sync.RWMutex
	projects map[string]*projectState

	// compaction runs lazy background HNSW rebuilds on idle projects.
	compaction *CompactionManager
}

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// WithEmbedder injects a pre-built embedder (tests, custom providers).
func WithEmbedder(e embed.Embedder) DaemonOption {
	return func(d *Daemon) {
		d.embedder = e
	}
}

// NewDaemon creates a daemon from config. The embedder is initialized
// lazily on Start unless injected via WithEmbedder.
func NewDaemon(cfg Config, opts ...DaemonOption) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		config:   cfg,
		projects: make(map[string]*projectState),
		pidfile:  NewPIDFile(cfg.PIDPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start runs the daemon until ctx is cancelled. It claims the PID file
// (cleaning a stale one), initializes the embedder if none was injected,
// and serves requests on the Unix socket.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.config.EnsureDir(); err != nil {
		return fmt.Errorf("failed to prepare daemon directories: %w", err)
	}

	// A stale PID file from a dead process must not block startup.
	if pid, err := d.pidfile.Read(); err == nil && !processExists(pid) {
		_ = d.pidfile.Remove()
	}
	if d.pidfile.IsRunning() {
		return fmt.Errorf("daemon already running (pid file %s)", d.config.PIDPath)
	}
	if err := d.pidfile.Write(); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer func() { _ = d.pidfile.Remove() }()

	if d.embedder == nil {
		cfg := config.NewConfig()
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			slog.Warn("embedder unavailable, daemon degraded to keyword search",
				slog.String("error", err.Error()))
			embedder = embed.NewStaticEmbedder()
		}
		d.embedder = embedder
	}
	defer func() { _ = d.embedder.Close() }()

	server, err := NewServer(d.config.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	server.SetHandler(d)
	d.server = server
	d.started = time.Now()

	d.compaction = NewCompactionManager(d, config.NewConfig().Compaction)
	d.compaction.Start(ctx)
	defer d.compaction.Stop()

	defer d.closeAllProjects()

	slog.Info("daemon started",
		slog.Int("pid", os.Getpid()),
		slog.String("socket", d.config.SocketPath),
		slog.String("embedder", d.embedder.ModelName()))

	return server.ListenAndServe(ctx)
}

// HandleSearch serves one search request against the project's index,
// loading it on first use.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if d.compaction != nil {
		// A live search outranks background maintenance.
		d.compaction.InterruptCompaction(params.RootPath)
	}

	state, err := d.loadProject(ctx, params.RootPath)
	if err != nil {
		return nil, err
	}

	opts := search.SearchOptions{
		Limit:    params.Limit,
		Filter:   params.Filter,
		Language: params.Language,
		Scopes:   params.Scopes,
		BM25Only: params.BM25Only,
		Explain:  params.Explain,
	}
	results, err := state.engine.Search(ctx, params.Query, opts)
	if err != nil {
		return nil, err
	}

	if d.compaction != nil {
		d.compaction.OnSearchComplete(params.RootPath)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Symbol == nil {
			continue
		}
		sr := SearchResult{
			FilePath:  r.Symbol.FilePath,
			StartLine: r.Symbol.StartLine,
			EndLine:   r.Symbol.EndLine,
			Score:     r.Score,
			Content:   r.Symbol.CodeContext,
			Language:  r.Symbol.Language,
			BM25Score: r.BM25Score,
			VecScore:  r.VecScore,
			BM25Rank:  r.BM25Rank,
			VecRank:   r.VecRank,
		}
		if r.Explain != nil {
			sr.Explain = &ExplainData{
				Query:                r.Explain.Query,
				BM25ResultCount:      r.Explain.BM25ResultCount,
				VectorResultCount:    r.Explain.VectorResultCount,
				BM25Weight:           r.Explain.Weights.BM25,
				SemanticWeight:       r.Explain.Weights.Semantic,
				RRFConstant:          r.Explain.RRFConstant,
				BM25Only:             r.Explain.BM25Only,
				DimensionMismatch:    r.Explain.DimensionMismatch,
				MultiQueryDecomposed: r.Explain.MultiQueryDecomposed,
				SubQueries:           r.Explain.SubQueries,
			}
		}
		out = append(out, sr)
	}
	return out, nil
}

// GetStatus reports daemon health for the status RPC.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.RLock()
	loaded := len(d.projects)
	d.mu.RUnlock()

	embedderType := "none"
	embedderStatus := "unavailable"
	if d.embedder != nil {
		embedderType = d.embedder.ModelName()
		embedderStatus = "ready"
		if !d.embedder.Available(context.Background()) {
			embedderStatus = "fallback"
		}
	}

	return StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(d.started).Round(time.Second).String(),
		EmbedderType:   embedderType,
		EmbedderStatus: embedderStatus,
		ProjectsLoaded: loaded,
	}
}

// loadProject returns the cached project state, opening the workspace's
// stores on first use.
func (d *Daemon) loadProject(ctx context.Context, rootPath string) (*projectState, error) {
	d.mu.RLock()
	state, ok := d.projects[rootPath]
	d.mu.RUnlock()
	if ok {
		d.mu.Lock()
		state.lastUsed = time.Now()
		d.mu.Unlock()
		return state, nil
	}

	ws, err := workspace.Open(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	if _, err := os.Stat(ws.DatabasePath()); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found for %s - run 'julie index' first", rootPath)
	}

	metadata, err := store.NewSQLiteStore(ws.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open symbol database: %w", err)
	}

	cfg, err := config.Load(rootPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	bm25, err := store.NewBM25IndexWithBackend(ws.IndexDir()+"/bm25", store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to open BM25 index: %w", err)
	}

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(d.embedder.Dimensions()))
	if err != nil {
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	if _, statErr := os.Stat(ws.VectorIndexPath()); statErr == nil {
		if loadErr := vector.Load(ws.VectorIndexPath()); loadErr != nil {
			slog.Warn("vector snapshot load failed, semantic tier disabled",
				slog.String("project", rootPath),
				slog.String("error", loadErr.Error()))
		}
	}

	engine, err := search.NewEngine(bm25, vector, d.embedder, metadata, search.DefaultConfig())
	if err != nil {
		_ = vector.Close()
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("failed to create search engine: %w", err)
	}

	modelID, _ := metadata.GetState(ctx, store.StateKeyIndexModel)
	state = &projectState{
		root:     rootPath,
		metadata: metadata,
		vector:   vector,
		bm25:     bm25,
		engine:   engine,
		modelID:  modelID,
		lastUsed: time.Now(),
	}

	d.mu.Lock()
	d.projects[rootPath] = state
	d.evictLocked()
	d.mu.Unlock()

	slog.Info("project loaded", slog.String("root", rootPath))
	return state, nil
}

// evictLocked drops least-recently-used projects beyond MaxProjects.
// Caller holds d.mu.
func (d *Daemon) evictLocked() {
	max := d.config.MaxProjects
	if max <= 0 || len(d.projects) <= max {
		return
	}

	type entry struct {
		root string
		used time.Time
	}
	var entries []entry
	for root, state := range d.projects {
		entries = append(entries, entry{root: root, used: state.lastUsed})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].used.Before(entries[j].used) })

	for _, e := range entries[:len(d.projects)-max] {
		if state := d.projects[e.root]; state != nil && !state.compacting {
			state.close()
			delete(d.projects, e.root)
			slog.Info("project evicted", slog.String("root", e.root))
		}
	}
}

func (d *Daemon) closeAllProjects() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for root, state := range d.projects {
		state.close()
		delete(d.projects, root)
	}
}
