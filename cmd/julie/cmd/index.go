package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/embed"
	"github.com/juliecode/julie/internal/index"
	"github.com/juliecode/julie/internal/logging"
	"github.com/juliecode/julie/internal/store"
	"github.com/juliecode/julie/internal/ui"
	"github.com/juliecode/julie/internal/workspace"
)

func newIndexCmd() *cobra.Command {
	var (
		noTUI   bool
		resume  bool
		force   bool
		backend string
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a workspace for searching",
		Long: `Index a workspace to enable hybrid search over its contents.

This scans files, extracts symbols and relationships, generates
embeddings, and builds the keyword (FTS5) and semantic (HNSW) tiers
for fast retrieval.

Backend Selection:
  (default)          Auto-detect: MLX on Apple Silicon, Ollama otherwise
  --backend=mlx      Use MLX (Apple Silicon, ~1.7x faster)
  --backend=ollama   Use Ollama (cross-platform)

Use --resume to continue an interrupted run (embedding generation picks
up exactly where it stopped). Use --force to clear existing index data
and rebuild from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Set up signal handling for Ctrl+C - this ensures context cancellation
			// propagates properly so GPU operations stop when user interrupts
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			if force && resume {
				return fmt.Errorf("--force and --resume are mutually exclusive")
			}

			// Set backend via environment variable if flag provided
			// This ensures all downstream code respects the choice
			if backend != "" {
				os.Setenv("JULIE_EMBEDDER", backend)
			}

			return runIndexWithOptions(ctx, cmd, path, false, noTUI, force)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue a previously interrupted run")
	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index and rebuild from scratch")
	cmd.Flags().StringVar(&backend, "backend", "", "Embedding backend: auto-detect (default), mlx, ollama, or static")

	// Add subcommands
	cmd.AddCommand(newIndexInfoCmd())

	return cmd
}

// clearIndexData removes a workspace's index directory. The workspace's
// .julie.yaml config (at project root) is preserved.
func clearIndexData(ws *workspace.Workspace) error {
	if err := os.RemoveAll(ws.IndexDir()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", ws.IndexDir(), err)
	}
	return nil
}

// openWorkspaceStore opens (creating as needed) the workspace's symbol
// database, deleting and rebuilding on integrity-check failure.
func openWorkspaceStore(ctx context.Context, ws *workspace.Workspace) (*store.SQLiteStore, error) {
	metadata, err := store.NewSQLiteStore(ws.DatabasePath())
	if err == nil {
		if ierr := metadata.IntegrityCheck(ctx); ierr == nil {
			return metadata, nil
		}
		_ = metadata.Close()
	}

	// Malformed database: the store is a derived view, so delete and
	// rebuild from sources rather than patching.
	slog.Warn("symbol database failed integrity check, rebuilding",
		slog.String("path", ws.DatabasePath()))
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(ws.DatabasePath() + suffix)
	}
	return store.NewSQLiteStore(ws.DatabasePath())
}

func runIndexWithOptions(ctx context.Context, cmd *cobra.Command, path string, offline bool, noTUI bool, force bool) error {
	// Initialize logging for CLI observability (BUG-039)
	// Use file-only logging to avoid interfering with user-facing output
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger) // Set as default so slog.Info goes to file
		defer cleanup()
	}
	// Continue even if logging setup fails - not critical for CLI

	// Validate path exists first (needed for renderer header)
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	// Find project root (may be different from path if path is subdirectory)
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	ws, err := workspace.Open(root)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}

	if force {
		if err := clearIndexData(ws); err != nil {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
		// Re-create the directory layout the clear removed.
		if ws, err = workspace.Open(root); err != nil {
			return fmt.Errorf("failed to reopen workspace: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared existing index data, starting fresh...\n")
		slog.Info("index_force_clear", slog.String("index_dir", ws.IndexDir()))
	}

	// Create renderer (auto-detects TTY/CI, respects --no-tui flag)
	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		// Fall back to basic output if renderer fails to start
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	// Load configuration
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	// BUG-040: Clean up stale serve.pid if process no longer exists
	servePidPath := filepath.Join(root, ".julie", "serve.pid")
	if pidData, err := os.ReadFile(servePidPath); err == nil {
		var pid int
		if _, scanErr := fmt.Sscanf(string(pidData), "%d", &pid); scanErr == nil && pid > 0 {
			if process, findErr := os.FindProcess(pid); findErr == nil {
				if sigErr := process.Signal(syscall.Signal(0)); sigErr != nil {
					_ = os.Remove(servePidPath)
					slog.Debug("removed stale serve.pid", slog.Int("pid", pid))
				}
			}
		}
	}

	// Initialize the symbol database (integrity-checked)
	metadata, err := openWorkspaceStore(ctx, ws)
	if err != nil {
		return fmt.Errorf("failed to create metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	// Check context before potentially blocking embedder init
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// BUG-052: Wire thermal config from config.yaml to embedder factory
	thermalCfg := embed.ThermalConfig{
		TimeoutProgression:     cfg.Embeddings.TimeoutProgression,
		RetryTimeoutMultiplier: cfg.Embeddings.RetryTimeoutMultiplier,
	}
	var interBatchDelay time.Duration
	if cfg.Embeddings.InterBatchDelay != "" {
		if delay, parseErr := time.ParseDuration(cfg.Embeddings.InterBatchDelay); parseErr == nil && delay > 0 {
			thermalCfg.InterBatchDelay = delay
			interBatchDelay = delay
		}
	}
	embed.SetThermalConfig(thermalCfg)

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})

	// Initialize embedder first (to get correct dimensions)
	// BUG-073: No silent fallback - fail if embedder unavailable
	var embedder embed.Embedder
	if offline {
		embedder = embed.NewStaticEmbedder()
	} else {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)

		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageScanning,
			Message: fmt.Sprintf("Connecting to %s embedder...", provider),
		})

		// Use timeout context to prevent indefinite blocking (15s max for init)
		embedCtx, embedCancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err = embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
		embedCancel()

		if err != nil {
			// BUG-073: No silent fallback - show clear error to user
			return fmt.Errorf("embedder initialization failed: %w", err)
		}
	}
	defer func() { _ = embedder.Close() }()

	// Initialize vector store with embedder's dimensions, reloading any
	// existing snapshot so incremental inserts extend it.
	vectorCfg := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()
	if _, statErr := os.Stat(ws.VectorIndexPath()); statErr == nil {
		if loadErr := vector.Load(ws.VectorIndexPath()); loadErr != nil {
			slog.Warn("vector snapshot load failed, rebuilding",
				slog.String("error", loadErr.Error()))
		}
	}

	// In-process BM25 index feeding the hybrid engine's rank fusion.
	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(ws.IndexDir(), "bm25"), store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to create BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	// Workspace registry (user-level); optional on failure.
	registry, regErr := workspace.OpenRegistry("")
	if regErr != nil {
		slog.Warn("workspace registry unavailable", slog.String("error", regErr.Error()))
		registry = nil
	}

	// Create Runner with injected dependencies
	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer:  renderer,
		Config:    cfg,
		Workspace: ws,
		Registry:  registry,
		Metadata:  metadata,
		Vector:    vector,
		BM25:      bm25,
		Embedder:  embedder,
	})
	if err != nil {
		return fmt.Errorf("failed to create index runner: %w", err)
	}
	defer func() { _ = runner.Close() }()

	// Run indexing
	_, err = runner.Run(ctx, index.RunnerConfig{
		RootDir:         root,
		Force:           force,
		InterBatchDelay: interBatchDelay,
	})

	return err
}
