// Package index drives the write path: full indexing runs (Runner),
// watcher-driven incremental updates (Coordinator), cross-store
// consistency checks, and optional contextual enrichment of symbols
// before embedding.
//
// Contextual enrichment (CR-1) prepends a generated 1-2 sentence
// description to a symbol's embedding input, situating it within its file.
// Based on Anthropic's research showing a 67% reduction in retrieval
// errors. See: https://www.anthropic.com/news/contextual-retrieval
package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/juliecode/julie/internal/store"
)

// ContextGenerator generates contextual descriptions for symbols.
type ContextGenerator interface {
	// GenerateContext generates a 1-2 sentence context for a symbol.
	// docContext is the file-level context (path, imports, section
	// headers). Returns empty string on failure.
	GenerateContext(ctx context.Context, sym *store.Symbol, docContext string) (string, error)

	// GenerateBatch generates context for multiple symbols from the
	// same file, sharing docContext across the batch.
	GenerateBatch(ctx context.Context, syms []*store.Symbol, docContext string) ([]string, error)

	// Available checks if the generator is ready.
	Available(ctx context.Context) bool

	// ModelName returns the model identifier being used.
	ModelName() string

	// Close releases any resources held by the generator.
	Close() error
}

// ContextGeneratorConfig configures the context generator.
type ContextGeneratorConfig struct {
	// OllamaHost is the Ollama API endpoint.
	// Default: http://localhost:11434
	OllamaHost string

	// Model is the LLM model to use for context generation.
	// Default: qwen3:0.6b (small, fast model)
	Model string

	// Timeout is the per-symbol timeout for context generation.
	// Default: 5s
	Timeout string

	// BatchSize is the number of symbols to process in a batch.
	// Default: 8
	BatchSize int

	// FallbackOnly skips LLM and uses pattern-based fallback only.
	FallbackOnly bool
}

// DefaultContextGeneratorConfig returns the default configuration.
func DefaultContextGeneratorConfig() ContextGeneratorConfig {
	return ContextGeneratorConfig{
		OllamaHost: "http://localhost:11434",
		Model:      "qwen3:0.6b",
		Timeout:    "5s",
		BatchSize:  8,
	}
}

// EnrichSymbolWithContext prepends generated context to a symbol's
// CodeContext, which feeds the embedding-text recipe. Modifies sym in
// place.
func EnrichSymbolWithContext(sym *store.Symbol, generatedContext string) {
	if generatedContext == "" || sym == nil {
		return
	}
	sym.CodeContext = generatedContext + "\n\n" + sym.CodeContext
}

// ExtractDocumentContext builds file-level context shared by all of a
// file's symbols: the path plus, for doc files, the leading section
// titles.
func ExtractDocumentContext(syms []*store.Symbol) string {
	if len(syms) == 0 {
		return ""
	}
	filePath := syms[0].FilePath

	if syms[0].Kind == store.KindDocSection {
		headers := []string{fmt.Sprintf("Document: %s", filePath)}
		for _, s := range syms {
			headers = append(headers, "- "+s.Name)
			if len(headers) > 5 {
				headers = append(headers[:6], "...")
				break
			}
		}
		return strings.Join(headers, "\n")
	}

	return fmt.Sprintf("File: %s", filePath)
}

// GroupSymbolsByFile groups symbols by their file path for batch
// processing.
func GroupSymbolsByFile(syms []*store.Symbol) map[string][]*store.Symbol {
	grouped := make(map[string][]*store.Symbol)
	for _, s := range syms {
		grouped[s.FilePath] = append(grouped[s.FilePath], s)
	}
	return grouped
}

// isCodeSymbol distinguishes code declarations from doc/config rows for
// the enrichment gate.
func isCodeSymbol(sym *store.Symbol) bool {
	switch sym.Kind {
	case store.KindDocSection, store.KindConfigKey, store.KindFileContent:
		return false
	default:
		return true
	}
}
