package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/juliecode/julie/internal/async"
	"github.com/juliecode/julie/internal/chunk"
	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/embed"
	"github.com/juliecode/julie/internal/index"
	"github.com/juliecode/julie/internal/logging"
	"github.com/juliecode/julie/internal/mcp"
	"github.com/juliecode/julie/internal/search"
	"github.com/juliecode/julie/internal/session"
	"github.com/juliecode/julie/internal/store"
	"github.com/juliecode/julie/internal/telemetry"
	"github.com/juliecode/julie/internal/ui"
	"github.com/juliecode/julie/internal/watcher"
	"github.com/juliecode/julie/internal/workspace"
)

func newServeCmd() *cobra.Command {
	var transport string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server over stdio for AI clients (Claude Code, Cursor).

The server answers navigation and search tools against the workspace's
CASCADE index and keeps it fresh through a background file watcher.
Run 'julie index' first, or let the server index on first start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio|sse)")
	cmd.Flags().IntVar(&port, "port", 8765, "Port for SSE transport")

	return cmd
}

// runServe assembles the read path (stores, engine, router, MCP server)
// and the write path (watcher, coordinator), then serves tool calls.
// BUG-034: stdout carries JSON-RPC exclusively; everything else logs to
// file. BUG-035: the watcher initializes in the background so the MCP
// handshake is never delayed by slow filesystems.
func runServe(ctx context.Context, transport string, port int) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	ws, err := workspace.Open(root)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}

	metadata, err := openWorkspaceStore(ctx, ws)
	if err != nil {
		return fmt.Errorf("failed to open symbol database: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	// Keyword tier is live as soon as the database has rows.
	if paths, perr := metadata.ListFilePaths(ctx); perr == nil && len(paths) > 0 {
		ws.SetSQLiteFTSReady(true)
	}

	// Embedder is best-effort for serving: a load failure degrades the
	// workspace to "no semantic tier" and the router works around it.
	var embedder embed.Embedder
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedCtx, embedCancel := context.WithTimeout(ctx, 15*time.Second)
	embedder, err = embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
	embedCancel()
	if err != nil {
		slog.Warn("embedder unavailable, semantic tier disabled",
			slog.String("error", err.Error()))
		embedder = embed.NewStaticEmbedder()
	}
	defer func() { _ = embedder.Close() }()

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()
	if _, statErr := os.Stat(ws.VectorIndexPath()); statErr == nil {
		if loadErr := vector.Load(ws.VectorIndexPath()); loadErr == nil {
			ws.SetSemanticReady(true)
		} else {
			slog.Warn("vector snapshot load failed, semantic tier disabled",
				slog.String("error", loadErr.Error()))
		}
	}

	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(ws.IndexDir(), "bm25"), store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to create BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	engineOpts := []search.EngineOption{
		search.WithClassifier(search.NewPatternClassifier()),
		search.WithQueryExpander(search.NewQueryExpander()),
	}
	if metricsStore, merr := telemetry.NewSQLiteMetricsStore(metadata.DB()); merr == nil {
		engineOpts = append(engineOpts, search.WithMetrics(telemetry.NewQueryMetrics(metricsStore)))
	}

	engine, err := search.NewEngine(bm25, vector, embedder, metadata, search.DefaultConfig(), engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	router := search.NewRouter(engine, metadata, ws.SQLiteFTSReady, func() bool {
		// Staleness check: a background build may have written a newer
		// snapshot than the one in memory. Reload before answering.
		if stat, serr := os.Stat(ws.VectorIndexPath()); serr == nil && stat.ModTime().After(vector.LoadTime()) {
			if lerr := vector.Load(ws.VectorIndexPath()); lerr == nil {
				ws.SetSemanticReady(true)
			}
		}
		return ws.SemanticReady()
	})

	registry, regErr := workspace.OpenRegistry("")
	if regErr != nil {
		slog.Warn("workspace registry unavailable", slog.String("error", regErr.Error()))
		registry = nil
	} else if terr := registry.Touch(ws); terr != nil {
		slog.Warn("registry touch failed", slog.String("error", terr.Error()))
	}

	renderer := ui.NewRenderer(ui.NewConfig(os.Stderr, ui.WithForcePlain(true)))

	indexFunc := func(ictx context.Context, force bool) error {
		runner, rerr := index.NewRunner(index.RunnerDependencies{
			Renderer:  renderer,
			Config:    cfg,
			Workspace: ws,
			Registry:  registry,
			Metadata:  metadata,
			Vector:    vector,
			BM25:      bm25,
			Embedder:  embedder,
		})
		if rerr != nil {
			return rerr
		}
		defer func() { _ = runner.Close() }()
		_, rerr = runner.Run(ictx, index.RunnerConfig{RootDir: root, Force: force})
		return rerr
	}

	srv, err := mcp.NewServer(mcp.ServerDeps{
		Router:    router,
		Metadata:  metadata,
		Workspace: ws,
		Registry:  registry,
		Embedder:  embedder,
		Config:    cfg,
		IndexFunc: indexFunc,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	// Fresh workspace: build the initial index in the background so the
	// MCP handshake answers immediately; tools report NotReady (with the
	// progress snapshot) until the keyword tier is live.
	if !ws.SQLiteFTSReady() {
		indexer := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: ws.IndexDir()})
		indexer.IndexFunc = func(ictx context.Context, progress *async.IndexProgress) error {
			progress.SetStage(async.StageScanning, 0)
			return indexFunc(ictx, false)
		}
		srv.SetIndexProgress(indexer.Progress())
		indexer.Start(ctx)
		defer indexer.Stop()
	}

	// Write path: watcher + coordinator start in the background so the
	// MCP handshake responds immediately (BUG-035).
	pool := chunk.NewParserPool()
	defer pool.Close()
	coordinator := index.NewCoordinator(index.CoordinatorConfig{
		RootDir:   root,
		Workspace: ws,
		Metadata:  metadata,
		Vector:    vector,
		Embedder:  embedder,
		Extractor: chunk.NewFileExtractor(pool),
		Config:    cfg,
	})

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	go startWatcher(watchCtx, root, cfg, coordinator)

	defer coordinator.Shutdown(context.Background())

	return srv.Serve(ctx, transport, fmt.Sprintf(":%d", port))
}

// startWatcher runs startup reconciliation, then dispatches debounced
// file events to the coordinator until the context ends.
func startWatcher(ctx context.Context, root string, cfg *config.Config, coordinator *index.Coordinator) {
	startupTimeout := 30 * time.Second
	if v := os.Getenv("JULIE_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			startupTimeout = d
		}
	}

	opts := watcher.DefaultOptions()
	if cfg.Performance.WatchDebounce != "" {
		if d, err := time.ParseDuration(cfg.Performance.WatchDebounce); err == nil {
			opts.DebounceWindow = d
		}
	}

	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		slog.Warn("file watcher unavailable, index will not auto-update",
			slog.String("error", err.Error()))
		return
	}
	defer func() { _ = w.Stop() }()

	startCtx, startCancel := context.WithTimeout(ctx, startupTimeout)
	err = w.Start(startCtx, root)
	startCancel()
	if err != nil {
		slog.Warn("file watcher failed to start", slog.String("error", err.Error()))
		return
	}
	slog.Info("file watcher started", slog.String("root", root))

	// Catch up on edits made while the server was down.
	if err := coordinator.ReconcileOnStartup(ctx); err != nil {
		slog.Warn("startup reconciliation failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events():
			if !ok {
				return
			}
			if err := coordinator.HandleEvents(ctx, event); err != nil {
				slog.Warn("event dispatch failed", slog.String("error", err.Error()))
			}
		case werr, ok := <-w.Errors():
			if !ok {
				return
			}
			slog.Warn("watcher error", slog.String("error", werr.Error()))
		}
	}
}

// runServeWithSession restores a saved session's index files into the
// project's index directory, then serves it.
func runServeWithSession(ctx context.Context, name, projectPath, transport string, port int) error {
	cfg := config.NewConfig()
	mgr, err := session.NewManager(session.ManagerConfig{
		StoragePath: cfg.Sessions.StoragePath,
		MaxSessions: cfg.Sessions.MaxSessions,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	ws, err := workspace.Open(projectPath)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	if err := session.CopyIndexFiles(mgr.SessionDir(name), ws.IndexDir()); err != nil {
		return fmt.Errorf("failed to restore session index: %w", err)
	}

	if err := os.Chdir(projectPath); err != nil {
		return fmt.Errorf("failed to enter project directory: %w", err)
	}
	return runServe(ctx, transport, port)
}
