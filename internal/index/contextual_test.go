package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/store"
)

func contextualConfig(codeChunks bool) *config.Config {
	cfg := config.NewConfig()
	cfg.Contextual.Enabled = true
	cfg.Contextual.CodeChunks = codeChunks
	return cfg
}

func TestPatternGeneratorCodeSymbol(t *testing.T) {
	gen := NewPatternContextGenerator(contextualConfig(true))

	sym := &store.Symbol{
		Name:       "ParseConfig",
		Kind:       store.KindFunction,
		Language:   "go",
		FilePath:   "internal/config/config.go",
		DocComment: "ParseConfig reads the YAML configuration. It applies defaults.",
	}

	out, err := gen.GenerateContext(context.Background(), sym, "File: internal/config/config.go")
	require.NoError(t, err)
	assert.Contains(t, out, "internal/config/config.go")
	assert.Contains(t, out, "function ParseConfig")
	assert.Contains(t, out, "ParseConfig reads the YAML configuration")
	assert.Contains(t, out, "Language: go")
}

func TestPatternGeneratorSkipsCodeWhenDisabled(t *testing.T) {
	gen := NewPatternContextGenerator(contextualConfig(false))

	sym := &store.Symbol{Name: "F", Kind: store.KindFunction, FilePath: "f.go", Language: "go"}
	out, err := gen.GenerateContext(context.Background(), sym, "")
	require.NoError(t, err)
	assert.Empty(t, out)

	// Doc sections are still enriched.
	doc := &store.Symbol{Name: "Install", Kind: store.KindDocSection, FilePath: "README.md"}
	out, err = gen.GenerateContext(context.Background(), doc, "")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestPatternGeneratorBatch(t *testing.T) {
	gen := NewPatternContextGenerator(contextualConfig(true))

	syms := []*store.Symbol{
		{Name: "A", Kind: store.KindFunction, FilePath: "a.go", Language: "go"},
		{Name: "B", Kind: store.KindClass, FilePath: "a.go", Language: "go"},
	}
	outs, err := gen.GenerateBatch(context.Background(), syms, "File: a.go")
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Contains(t, outs[0], "function A")
	assert.Contains(t, outs[1], "class B")
}

func TestEnrichSymbolWithContext(t *testing.T) {
	sym := &store.Symbol{Name: "F", CodeContext: "func F() {}"}
	EnrichSymbolWithContext(sym, "Defines the F helper.")
	assert.Equal(t, "Defines the F helper.\n\nfunc F() {}", sym.CodeContext)

	// Empty context leaves the symbol untouched.
	before := sym.CodeContext
	EnrichSymbolWithContext(sym, "")
	assert.Equal(t, before, sym.CodeContext)
}

func TestExtractDocumentContext(t *testing.T) {
	code := []*store.Symbol{
		{Name: "F", Kind: store.KindFunction, FilePath: "pkg/f.go"},
	}
	assert.Equal(t, "File: pkg/f.go", ExtractDocumentContext(code))

	docs := []*store.Symbol{
		{Name: "Guide", Kind: store.KindDocSection, FilePath: "docs/guide.md"},
		{Name: "Install", Kind: store.KindDocSection, FilePath: "docs/guide.md"},
	}
	out := ExtractDocumentContext(docs)
	assert.Contains(t, out, "Document: docs/guide.md")
	assert.Contains(t, out, "- Guide")
	assert.Contains(t, out, "- Install")

	assert.Empty(t, ExtractDocumentContext(nil))
}

func TestGroupSymbolsByFile(t *testing.T) {
	syms := []*store.Symbol{
		{Name: "A", FilePath: "a.go"},
		{Name: "B", FilePath: "b.go"},
		{Name: "C", FilePath: "a.go"},
	}
	grouped := GroupSymbolsByFile(syms)
	require.Len(t, grouped, 2)
	assert.Len(t, grouped["a.go"], 2)
	assert.Len(t, grouped["b.go"], 1)
}

func TestHybridGeneratorFallsBackToPattern(t *testing.T) {
	// No LLM injected: hybrid always uses the pattern generator.
	gen := NewHybridContextGenerator(nil, contextualConfig(true))

	sym := &store.Symbol{Name: "F", Kind: store.KindFunction, FilePath: "f.go", Language: "go"}
	out, err := gen.GenerateContext(context.Background(), sym, "")
	require.NoError(t, err)
	assert.Contains(t, out, "function F")

	assert.True(t, gen.Available(context.Background()))
	assert.Equal(t, "pattern-based", gen.ModelName())
}

func TestExtractFirstSentence(t *testing.T) {
	assert.Equal(t, "Does a thing", extractFirstSentence("Does a thing. And more."))
	assert.Equal(t, "One line", extractFirstSentence("One line\nsecond line"))
	assert.Empty(t, extractFirstSentence(""))
}
