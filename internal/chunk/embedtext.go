package chunk

import (
	"encoding/json"
	"strings"

	"github.com/juliecode/julie/internal/store"
)

// EmbeddingTextMaxContextLines bounds how much of a symbol's surrounding
// code is folded into its embedding text.
const EmbeddingTextMaxContextLines = 10

// memoriesDir is the workspace-relative directory whose doc_section symbols
// get the JSON-description special case instead of the ordinary recipe.
const memoriesDir = ".memories/"

// EmbeddingText composes the deterministic text fed to the embedding model
// for one symbol. An empty return means the symbol is deliberately
// un-embedded: callers (the symbols-without-embeddings query and the
// indexing orchestrator's embedding phase) must treat empty text as "skip",
// never as "needs retry", or un-embeddable symbols re-queue forever.
func EmbeddingText(s *store.Symbol) string {
	if s == nil {
		return ""
	}

	if s.Kind == store.KindDocSection && strings.Contains(s.FilePath, memoriesDir) {
		return memoryDescriptionText(s)
	}

	if s.Kind == store.KindDocSection && s.DocComment == "" && s.CodeContext == "" {
		// Markdown heading with no doc text under it.
		return ""
	}

	var b strings.Builder
	b.WriteString(string(s.Kind))
	b.WriteByte(' ')
	b.WriteString(s.Name)
	if s.Signature != "" {
		b.WriteByte(' ')
		b.WriteString(s.Signature)
	}
	if s.DocComment != "" {
		b.WriteByte(' ')
		b.WriteString(s.DocComment)
	}
	if ctx := firstNLines(s.CodeContext, EmbeddingTextMaxContextLines); ctx != "" {
		b.WriteByte(' ')
		b.WriteString(ctx)
	}

	return strings.TrimSpace(b.String())
}

// memoryDescriptionText implements the .memories/ special case: only the
// symbol named "description" inside a memory's JSON object produces
// embedding text, shaped as "{type}: {description}"; every other symbol in
// a memory file is deliberately left un-embedded.
func memoryDescriptionText(s *store.Symbol) string {
	if s.Name != "description" {
		return ""
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(s.CodeContext), &obj); err != nil {
		// Not JSON, or CodeContext doesn't hold the enclosing object —
		// fall back to description text alone.
		if s.Signature != "" {
			return s.Signature
		}
		return ""
	}

	typ, _ := obj["type"].(string)
	desc, _ := obj["description"].(string)
	if desc == "" {
		desc = s.Signature
	}
	if typ == "" || desc == "" {
		return desc
	}
	return typ + ": " + desc
}

// firstNLines returns at most n lines of s, trimmed.
func firstNLines(s string, n int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
