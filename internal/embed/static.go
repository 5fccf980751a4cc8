package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings by signed feature hashing: no
// network, no model download, deterministic output. Semantic quality is
// reduced but identical identifiers always land on identical vectors, so
// exact and near-exact symbol lookups still work offline.
//
// Three feature channels are folded into the vector:
//
//   - identifier sub-terms plus the compound identifier itself, so
//     getUserData and get_user_data embed close together while the whole
//     identifier still contributes its own signal
//   - ordered sub-term bigrams ("get>user", "user>data"), a cheap
//     stand-in for phrase structure
//   - character trigrams at low weight, for typo robustness
//
// Each feature flips sign by one hash bit (the hashing trick): collisions
// then tend to cancel rather than pile up as spurious similarity.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// programmingStopWords contains common programming language keywords to filter out.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

// Feature channel weights.
const (
	subtermWeight  = 0.6
	compoundWeight = 0.5
	bigramWeight   = 0.3
	trigramWeight  = 0.15
	trigramSize    = 3
)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	// Handle empty/whitespace input
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// generateVector folds the three feature channels into one vector.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	return hashEmbedding(text, StaticDimensions)
}

// hashEmbedding is the shared signed-feature-hash generator behind both
// static embedders (384 and 768 wide).
func hashEmbedding(text string, dims int) []float32 {
	vector := make([]float32, dims)

	for _, word := range identifierWords(text) {
		subterms := splitIdentifier(word)

		// Compound identifier: only worth a separate feature when it
		// actually split.
		if len(subterms) > 1 {
			addFeature(vector, "c:"+strings.ToLower(word), compoundWeight)
		}

		var kept []string
		for _, sub := range subterms {
			lower := strings.ToLower(sub)
			if programmingStopWords[lower] {
				continue
			}
			kept = append(kept, lower)
			addFeature(vector, "t:"+lower, subtermWeight)
		}

		// Ordered sub-term bigrams within the identifier.
		for i := 1; i < len(kept); i++ {
			addFeature(vector, "b:"+kept[i-1]+">"+kept[i], bigramWeight)
		}
	}

	// Character trigrams over the flattened text.
	flat := flattenForTrigrams(text)
	for i := 0; i+trigramSize <= len(flat); i++ {
		addFeature(vector, "g:"+flat[i:i+trigramSize], trigramWeight)
	}

	return vector
}

// addFeature hashes one feature into the vector with a sign bit.
func addFeature(vector []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	index := int(sum % uint64(len(vector)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vector[index] += weight
}

// identifierWords extracts identifier-shaped runs from raw text.
func identifierWords(text string) []string {
	var words []string
	var current strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
			continue
		}
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}

// splitIdentifier splits snake_case and camelCase identifiers into
// sub-terms, keeping acronym runs together.
func splitIdentifier(token string) []string {
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part == "" {
			continue
		}
		result = append(result, splitCamelCase(part)...)
	}
	return result
}

// splitCamelCase splits camelCase identifiers.
func splitCamelCase(s string) []string {
	// Return empty slice, not nil, for consistent API behavior (DEBT-012)
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split if previous is lowercase OR next is lowercase (handles acronyms)
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// flattenForTrigrams lowercases and strips everything but letters and
// digits, so trigram features ignore spacing and punctuation.
func flattenForTrigrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}

	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available checks if the embedder is ready (always true for static).
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// SetBatchIndex is a no-op for static embedder (no thermal management needed).
func (e *StaticEmbedder) SetBatchIndex(_ int) {}

// SetFinalBatch is a no-op for static embedder (no thermal management needed).
func (e *StaticEmbedder) SetFinalBatch(_ bool) {}
