package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/juliecode/julie/internal/chunk"
	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/embed"
	"github.com/juliecode/julie/internal/langid"
	"github.com/juliecode/julie/internal/scanner"
	"github.com/juliecode/julie/internal/store"
	"github.com/juliecode/julie/internal/ui"
	"github.com/juliecode/julie/internal/workspace"
)

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// RootDir is the workspace root directory to index.
	RootDir string

	// Force re-extracts every file even when its content hash matches
	// the stored row.
	Force bool

	// InterBatchDelay is the cooling delay between embedding batches.
	InterBatchDelay time.Duration
}

// RunnerResult contains the outcome of an indexing operation.
type RunnerResult struct {
	// Files is the number of files indexed (including hash-skipped).
	Files int

	// Skipped is the number of files skipped because their content hash
	// matched the stored row.
	Skipped int

	// Symbols is the number of symbol rows written.
	Symbols int

	// Embedded is the number of symbols that received an embedding this
	// run.
	Embedded int

	// Duration is the total indexing time.
	Duration time.Duration

	// Errors is the count of fatal errors.
	Errors int

	// Warnings is the count of non-fatal warnings.
	Warnings int
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Config is the loaded project configuration (required).
	Config *config.Config

	// Workspace carries the index layout and readiness flags (required).
	Workspace *workspace.Workspace

	// Registry records post-index statistics. Optional.
	Registry *workspace.Registry

	// Metadata is the symbol database (required).
	Metadata store.MetadataStore

	// Vector store for semantic search (required).
	Vector store.VectorStore

	// BM25 is the in-process keyword index backing the hybrid engine.
	// Optional: the FTS5 tier inside the symbol database always exists;
	// this one additionally feeds rank fusion.
	BM25 store.BM25Index

	// Embedder for generating embeddings (required).
	Embedder embed.Embedder

	// Extractor turns files into symbol rows. Defaults to a fresh
	// FileExtractor over a new parser pool.
	Extractor *chunk.FileExtractor
}

// Runner executes indexing runs with progress reporting. It drives the
// write path end-to-end: discover, extract, write SQLite, then the
// background tiers (embeddings, HNSW). Readiness flags on the workspace
// are published as each tier becomes live.
type Runner struct {
	renderer  ui.Renderer
	config    *config.Config
	ws        *workspace.Workspace
	registry  *workspace.Registry
	metadata  store.MetadataStore
	vector    store.VectorStore
	bm25      store.BM25Index
	embedder  embed.Embedder
	extractor *chunk.FileExtractor
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Workspace == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if deps.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if deps.Vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	extractor := deps.Extractor
	if extractor == nil {
		extractor = chunk.NewFileExtractor(chunk.NewParserPool())
	}

	return &Runner{
		renderer:  deps.Renderer,
		config:    deps.Config,
		ws:        deps.Workspace,
		registry:  deps.Registry,
		metadata:  deps.Metadata,
		vector:    deps.Vector,
		bm25:      deps.BM25,
		embedder:  deps.Embedder,
		extractor: extractor,
	}, nil
}

// stageTiming tracks duration for each indexing stage.
type stageTiming struct {
	scan    time.Duration
	extract time.Duration
	write   time.Duration
	context time.Duration
	embed   time.Duration
	save    time.Duration
}

// extractedFile is one file's extraction output waiting for the write
// phase.
type extractedFile struct {
	result *chunk.ExtractResult
}

// Run executes the full indexing pipeline.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	startTime := time.Now()
	var timing stageTiming
	result := &RunnerResult{}

	root := cfg.RootDir
	if root == "" {
		root = r.ws.Root
	}

	// Phase 1: discover.
	scanStart := time.Now()
	files, err := r.scanFiles(ctx, root)
	if err != nil {
		return nil, err
	}
	timing.scan = time.Since(scanStart)

	if len(files) == 0 {
		result.Duration = time.Since(startTime)
		r.complete(result, timing)
		return result, nil
	}

	// Phase 2: extract (parallel, hash-skip unchanged files).
	extractStart := time.Now()
	extracted, skipped, warns := r.extractFiles(ctx, files, cfg.Force)
	timing.extract = time.Since(extractStart)
	result.Warnings += warns
	result.Skipped = skipped
	result.Files = len(files)

	// Phase 3: write to SQLite under bulk mode.
	writeStart := time.Now()
	symbolCount, err := r.writeBatch(ctx, extracted)
	if err != nil {
		return nil, err
	}
	timing.write = time.Since(writeStart)
	result.Symbols = symbolCount

	// The keyword tier is live: FTS5 rows are trigger-synced with the
	// file content we just wrote.
	r.ws.SetSQLiteFTSReady(true)

	// Phase 4: contextual enrichment (optional) feeds better text into
	// the embedding recipe below.
	if r.config.Contextual.Enabled {
		contextStart := time.Now()
		if err := r.enrichWithContext(ctx, extracted); err != nil {
			slog.Warn("contextual enrichment failed, continuing with original content",
				slog.String("error", err.Error()))
		}
		timing.context = time.Since(contextStart)
	}

	// Phase 5: embeddings for symbols that still lack them.
	embedStart := time.Now()
	embedded, err := r.generateEmbeddings(ctx, cfg)
	if err != nil {
		// Embedding failure degrades to text-only; retried next index.
		slog.Warn("embedding generation failed, semantic tier unavailable",
			slog.String("error", err.Error()))
		result.Warnings++
	} else {
		result.Embedded = embedded
	}
	timing.embed = time.Since(embedStart)

	// Phase 6: persist the vector graph and publish readiness.
	saveStart := time.Now()
	if err == nil {
		if saveErr := r.vector.Save(r.ws.VectorIndexPath()); saveErr != nil {
			slog.Warn("vector store save failed", slog.String("error", saveErr.Error()))
			result.Warnings++
		} else {
			r.ws.SetSemanticReady(true)
		}
	}
	timing.save = time.Since(saveStart)

	if r.registry != nil {
		if regErr := r.registry.RecordIndexed(r.ws, workspace.Stats{
			FileCount:   result.Files,
			SymbolCount: result.Symbols,
		}); regErr != nil {
			slog.Warn("registry update failed", slog.String("error", regErr.Error()))
		}
	}

	result.Duration = time.Since(startTime)
	r.complete(result, timing)
	return result, nil
}

// scanFiles discovers indexable files, auto-generating the workspace
// ignore file from detected vendor directories when absent.
func (r *Runner) scanFiles(ctx context.Context, root string) ([]*scanner.FileInfo, error) {
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: fmt.Sprintf("Scanning %s...", root),
	})
	slog.Info("index_scan_started", slog.String("path", root))

	det, err := scanner.DetectVendorDirs(root)
	if err != nil {
		slog.Warn("vendor detection failed", slog.String("error", err.Error()))
	} else if written, werr := scanner.WriteIgnoreFile(root, det); werr != nil {
		slog.Warn("ignore file generation failed", slog.String("error", werr.Error()))
	} else if written != "" {
		slog.Info("ignore_file_generated",
			slog.String("path", written),
			slog.Int("patterns", len(det.Patterns)))
	}

	excludePatterns := append([]string{}, r.config.Paths.Exclude...)
	excludePatterns = append(excludePatterns, "**/.julie/**")
	if ignorePatterns, ierr := scanner.LoadIgnorePatterns(root); ierr == nil {
		excludePatterns = append(excludePatterns, ignorePatterns...)
	}

	s, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	results, err := s.Scan(ctx, &scanner.ScanOptions{
		RootDir:          root,
		IncludePatterns:  r.config.Paths.Include,
		ExcludePatterns:  excludePatterns,
		RespectGitignore: true,
		MaxFileSize:      r.maxFileSize(),
		Workers:          runtime.NumCPU(),
		Submodules:       &r.config.Submodules,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start scanning: %w", err)
	}

	var files []*scanner.FileInfo
	for result := range results {
		if result.Error != nil {
			r.renderer.AddError(ui.ErrorEvent{
				File:   result.File.Path,
				Err:    result.Error,
				IsWarn: true,
			})
			continue
		}
		if !langid.IsIndexable(result.File.Path) {
			continue
		}
		files = append(files, result.File)
	}

	slog.Info("index_scan_complete", slog.Int("files", len(files)))
	return files, nil
}

func (r *Runner) maxFileSize() int64 {
	return scanner.DefaultMaxFileSize
}

// extractFiles runs the extractors in parallel over the discovered files.
// Files whose content hash matches the stored row are skipped (no-op
// incremental); extractor failure on one file is logged and skipped.
func (r *Runner) extractFiles(ctx context.Context, files []*scanner.FileInfo, force bool) ([]*extractedFile, int, int) {
	total := len(files)
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage: ui.StageChunking,
		Total: total,
	})

	var mu sync.Mutex
	var extracted []*extractedFile
	var skipped, warns, done int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, file := range files {
		file := file
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			content, err := os.ReadFile(file.AbsPath)
			if err != nil {
				mu.Lock()
				warns++
				mu.Unlock()
				r.renderer.AddError(ui.ErrorEvent{
					File:   file.Path,
					Err:    fmt.Errorf("failed to read: %w", err),
					IsWarn: true,
				})
				return nil
			}

			relPath, err := langid.Canonicalize(r.ws.Root, file.AbsPath)
			if err != nil {
				relPath = file.Path
			}
			language := langid.LanguageForPath(relPath)

			if !force {
				hash := chunk.HashContent(content)
				if stored, derr := r.metadata.GetFileByPath(gctx, relPath); derr == nil && stored != nil && stored.ContentHash == hash {
					mu.Lock()
					skipped++
					done++
					mu.Unlock()
					return nil
				}
			}

			res, err := r.extractor.Extract(gctx, r.ws.ID, relPath, language, content, file.ModTime)
			if err != nil {
				mu.Lock()
				warns++
				mu.Unlock()
				r.renderer.AddError(ui.ErrorEvent{
					File:   file.Path,
					Err:    fmt.Errorf("extraction failed: %w", err),
					IsWarn: true,
				})
				return nil
			}

			mu.Lock()
			extracted = append(extracted, &extractedFile{result: res})
			done++
			current := done
			mu.Unlock()

			r.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageChunking,
				Current:     current,
				Total:       total,
				CurrentFile: file.Path,
			})
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("index_extract_complete",
		slog.Int("files", len(extracted)),
		slog.Int("skipped", skipped))
	return extracted, skipped, warns
}

// writeBatch stores files, symbols, and relationships under bulk mode.
func (r *Runner) writeBatch(ctx context.Context, extracted []*extractedFile) (int, error) {
	if len(extracted) == 0 {
		return 0, nil
	}

	var files []*store.File
	var symbols []*store.Symbol
	var rels []*store.Relationship
	for _, e := range extracted {
		files = append(files, e.result.File)
		symbols = append(symbols, e.result.Symbols...)
		rels = append(rels, e.result.Relationships...)
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageIndexing,
		Message: fmt.Sprintf("Writing %d symbols...", len(symbols)),
	})

	if err := r.metadata.BeginBulkInsert(ctx); err != nil {
		return 0, fmt.Errorf("begin bulk insert: %w", err)
	}
	bulkErr := func() error {
		if err := r.metadata.BulkStoreFiles(ctx, files); err != nil {
			return fmt.Errorf("store files: %w", err)
		}
		if err := r.metadata.BulkStoreSymbols(ctx, symbols); err != nil {
			return fmt.Errorf("store symbols: %w", err)
		}
		if err := r.metadata.BulkStoreRelationships(ctx, rels); err != nil {
			return fmt.Errorf("store relationships: %w", err)
		}
		return nil
	}()
	if err := r.metadata.EndBulkInsert(ctx); err != nil && bulkErr == nil {
		bulkErr = fmt.Errorf("end bulk insert: %w", err)
	}
	if bulkErr != nil {
		return 0, bulkErr
	}

	if r.bm25 != nil && len(symbols) > 0 {
		docs := make([]*store.Document, 0, len(symbols))
		for _, s := range symbols {
			docs = append(docs, &store.Document{
				ID:      s.ID,
				Content: symbolDocumentText(s),
			})
		}
		if err := r.bm25.Index(ctx, docs); err != nil {
			slog.Warn("bm25 index update failed", slog.String("error", err.Error()))
		}
	}

	slog.Info("index_write_complete",
		slog.Int("files", len(files)),
		slog.Int("symbols", len(symbols)),
		slog.Int("relationships", len(rels)))
	return len(symbols), nil
}

// symbolDocumentText composes a symbol's keyword-searchable text.
func symbolDocumentText(s *store.Symbol) string {
	parts := []string{s.Name, s.QualifiedName, s.Signature, s.DocComment, s.CodeContext}
	var b []byte
	for _, p := range parts {
		if p == "" {
			continue
		}
		if len(b) > 0 {
			b = append(b, ' ')
		}
		b = append(b, p...)
	}
	return string(b)
}

// enrichWithContext adds generated context to freshly extracted symbols
// (CR-1 Contextual Retrieval) before they are embedded.
func (r *Runner) enrichWithContext(ctx context.Context, extracted []*extractedFile) error {
	var symbols []*store.Symbol
	for _, e := range extracted {
		symbols = append(symbols, e.result.Symbols...)
	}
	if len(symbols) == 0 {
		return nil
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageContextual,
		Message: "Generating contextual descriptions...",
		Total:   len(symbols),
	})

	var gen ContextGenerator
	if r.config.Contextual.FallbackOnly {
		gen = NewPatternContextGenerator(r.config)
		slog.Info("contextual_using_pattern_fallback",
			slog.Bool("code_chunks", r.config.Contextual.CodeChunks))
	} else {
		llmGen, err := NewLLMContextGenerator(ContextGeneratorConfig{
			OllamaHost: r.config.Embeddings.OllamaHost,
			Model:      r.config.Contextual.Model,
			Timeout:    r.config.Contextual.Timeout,
			BatchSize:  r.config.Contextual.BatchSize,
		})
		if err != nil || !llmGen.Available(ctx) {
			slog.Info("contextual_llm_unavailable_using_pattern",
				slog.String("model", r.config.Contextual.Model))
			gen = NewPatternContextGenerator(r.config)
		} else {
			gen = NewHybridContextGenerator(llmGen, r.config)
			slog.Info("contextual_using_llm", slog.String("model", r.config.Contextual.Model))
		}
	}
	defer func() { _ = gen.Close() }()

	symbolsByFile := GroupSymbolsByFile(symbols)
	processed := 0

	for filePath, fileSymbols := range symbolsByFile {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		docContext := ExtractDocumentContext(fileSymbols)
		contexts, err := gen.GenerateBatch(ctx, fileSymbols, docContext)
		if err != nil {
			slog.Debug("contextual_batch_failed",
				slog.String("file", filePath),
				slog.String("error", err.Error()))
			continue
		}

		for i, s := range fileSymbols {
			if i < len(contexts) && contexts[i] != "" {
				EnrichSymbolWithContext(s, contexts[i])
			}
		}

		processed += len(fileSymbols)
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageContextual,
			Current: processed,
			Total:   len(symbols),
		})
	}

	// Persist the enriched context so the embedding phase (which reads
	// symbols back from the database) sees it.
	if err := r.metadata.BulkStoreSymbols(ctx, symbols); err != nil {
		return fmt.Errorf("store enriched symbols: %w", err)
	}

	slog.Info("contextual_enrichment_complete",
		slog.Int("symbols", len(symbols)),
		slog.String("generator", gen.ModelName()))
	return nil
}

// generateEmbeddings embeds every symbol the database still reports as
// lacking one. Enumeration via GetSymbolsWithoutEmbeddings makes the
// phase naturally resumable: an interrupted run picks up exactly where it
// stopped, and symbols whose embedding text is empty never re-queue.
func (r *Runner) generateEmbeddings(ctx context.Context, cfg RunnerConfig) (int, error) {
	if !r.embedder.Available(ctx) {
		return 0, fmt.Errorf("embedder %s unavailable", r.embedder.ModelName())
	}

	modelID := r.embedder.ModelName()
	batchSize := r.config.Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	firstBuild := r.vector.Count() == 0
	var allIDs []string
	var allVectors [][]float32
	embedded := 0

	for {
		select {
		case <-ctx.Done():
			return embedded, ctx.Err()
		default:
		}

		pending, err := r.metadata.GetSymbolsWithoutEmbeddings(ctx, modelID, batchSize)
		if err != nil {
			return embedded, fmt.Errorf("enumerate symbols without embeddings: %w", err)
		}
		if len(pending) == 0 {
			break
		}

		var texts []string
		var targets []*store.Symbol
		for _, s := range pending {
			if text := chunk.EmbeddingText(s); text != "" {
				texts = append(texts, text)
				targets = append(targets, s)
			}
		}
		if len(targets) == 0 {
			// The enumeration query excludes un-embeddable symbols; a
			// batch with none left means we'd spin, so stop here.
			slog.Warn("pending symbols produced no embedding text, stopping",
				slog.Int("pending", len(pending)))
			break
		}

		vectors, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return embedded, fmt.Errorf("embed batch: %w", err)
		}

		now := time.Now().UTC()
		rows := make([]*store.EmbeddingVector, 0, len(targets))
		ids := make([]string, 0, len(targets))
		vecs := make([][]float32, 0, len(targets))
		for i, s := range targets {
			if i >= len(vectors) || len(vectors[i]) == 0 {
				continue
			}
			rows = append(rows, &store.EmbeddingVector{
				SymbolID:  s.ID,
				ModelID:   modelID,
				Vector:    vectors[i],
				CreatedAt: now,
			})
			ids = append(ids, s.ID)
			vecs = append(vecs, vectors[i])
		}

		if err := r.metadata.BulkStoreEmbeddings(ctx, rows); err != nil {
			return embedded, fmt.Errorf("store embeddings: %w", err)
		}

		if firstBuild {
			allIDs = append(allIDs, ids...)
			allVectors = append(allVectors, vecs...)
		} else if len(ids) > 0 {
			if err := r.vector.InsertBatch(ctx, ids, vecs); err != nil {
				return embedded, fmt.Errorf("vector insert: %w", err)
			}
		}

		embedded += len(rows)
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageEmbedding,
			Current: embedded,
			Message: fmt.Sprintf("%d symbols embedded", embedded),
		})

		if cfg.InterBatchDelay > 0 {
			select {
			case <-time.After(cfg.InterBatchDelay):
			case <-ctx.Done():
				return embedded, ctx.Err()
			}
		}
	}

	if firstBuild && len(allIDs) > 0 {
		if err := r.vector.BuildIndex(ctx, allIDs, allVectors); err != nil {
			return embedded, fmt.Errorf("build vector index: %w", err)
		}
	}

	// Record the embedder identity for dimension-mismatch detection at
	// search time and for embedding-backed rebuilds (compaction).
	if err := r.metadata.SetState(ctx, store.StateKeyIndexModel, modelID); err != nil {
		slog.Warn("failed to record index model", slog.String("error", err.Error()))
	}
	if err := r.metadata.SetState(ctx, store.StateKeyIndexDimension, fmt.Sprintf("%d", r.embedder.Dimensions())); err != nil {
		slog.Warn("failed to record index dimension", slog.String("error", err.Error()))
	}

	slog.Info("index_embedding_complete",
		slog.Int("embedded", embedded),
		slog.String("model", modelID))
	return embedded, nil
}

// complete reports final statistics to the renderer and the log.
func (r *Runner) complete(result *RunnerResult, timing stageTiming) {
	embedderInfo := embed.GetInfo(context.Background(), r.embedder)

	r.renderer.Complete(ui.CompletionStats{
		Files:    result.Files,
		Chunks:   result.Symbols,
		Duration: result.Duration,
		Errors:   result.Errors,
		Warnings: result.Warnings,
		Stages: ui.StageTimings{
			Scan:    timing.scan,
			Chunk:   timing.extract,
			Context: timing.context,
			Embed:   timing.embed,
			Index:   timing.write + timing.save,
		},
		Embedder: ui.EmbedderInfo{
			Backend:    string(embedderInfo.Provider),
			Model:      embedderInfo.Model,
			Dimensions: embedderInfo.Dimensions,
		},
	})

	slog.Info("index_complete",
		slog.Int("files", result.Files),
		slog.Int("skipped", result.Skipped),
		slog.Int("symbols", result.Symbols),
		slog.Int("embedded", result.Embedded),
		slog.Int64("duration_total_ms", result.Duration.Milliseconds()),
		slog.Int64("duration_scan_ms", timing.scan.Milliseconds()),
		slog.Int64("duration_extract_ms", timing.extract.Milliseconds()),
		slog.Int64("duration_write_ms", timing.write.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.embed.Milliseconds()),
		slog.String("embedder_model", embedderInfo.Model))
}

// Close releases resources held by the Runner.
func (r *Runner) Close() error {
	return nil
}
