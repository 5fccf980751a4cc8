package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Default classifier configuration values.
const (
	DefaultClassifierModel     = "llama3.2:1b"
	DefaultClassifierTimeout   = 2 * time.Second
	DefaultClassifierCacheSize = 10000 // QW-2: Increased from 1000 for better hit rate (~100KB additional memory)
	DefaultOllamaHost          = "http://localhost:11434"
)

// ClassifierConfig holds configuration for the query classifier.
type ClassifierConfig struct {
	// Model is the Ollama model to use for classification (default: llama3.2:1b).
	Model string

	// Timeout is the maximum time to wait for LLM response (default: 2s).
	Timeout time.Duration

	// CacheSize is the LRU cache size for classification results (default: 10000).
	CacheSize int

	// OllamaHost is the Ollama API base URL (default: http://localhost:11434).
	OllamaHost string
}

// DefaultClassifierConfig returns sensible defaults for the classifier.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Model:      DefaultClassifierModel,
		Timeout:    DefaultClassifierTimeout,
		CacheSize:  DefaultClassifierCacheSize,
		OllamaHost: DefaultOllamaHost,
	}
}

// classificationResult holds one cached classification: the routing
// intent plus its derived type and weights.
type classificationResult struct {
	intent    QueryIntent
	queryType QueryType
	weights   Weights
}

// HybridClassifier tries LLM intent classification first, falls back to
// shape patterns. Results are cached in an LRU cache keyed by the
// normalized query.
type HybridClassifier struct {
	llm      *LLMClassifier
	patterns *PatternClassifier
	cache    *lru.Cache[string, classificationResult]
}

// NewHybridClassifier creates a classifier that tries LLM first, then patterns.
// If llm is nil, only pattern-based classification is used.
func NewHybridClassifier(llm *LLMClassifier) *HybridClassifier {
	cache, _ := lru.New[string, classificationResult](DefaultClassifierCacheSize)
	return &HybridClassifier{
		llm:      llm,
		patterns: NewPatternClassifier(),
		cache:    cache,
	}
}

// NewHybridClassifierWithConfig creates a classifier with custom configuration.
func NewHybridClassifierWithConfig(llm *LLMClassifier, config ClassifierConfig) *HybridClassifier {
	cacheSize := config.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultClassifierCacheSize
	}
	cache, _ := lru.New[string, classificationResult](cacheSize)
	return &HybridClassifier{
		llm:      llm,
		patterns: NewPatternClassifier(),
		cache:    cache,
	}
}

// Classify determines the query type and optimal weights, derived from
// the routing intent. Uses the LRU cache, tries LLM first (if available),
// falls back to shape patterns.
func (h *HybridClassifier) Classify(ctx context.Context, query string) (QueryType, Weights, error) {
	result := h.classify(ctx, query)
	return result.queryType, result.weights, nil
}

// Intent returns the routing intent for a query through the same
// LLM-then-patterns path and cache as Classify.
func (h *HybridClassifier) Intent(ctx context.Context, query string) QueryIntent {
	return h.classify(ctx, query).intent
}

func (h *HybridClassifier) classify(ctx context.Context, query string) classificationResult {
	cacheKey := normalizeQuery(query)
	if cacheKey == "" {
		return resultForIntent(IntentMixed)
	}

	if cached, ok := h.cache.Get(cacheKey); ok {
		return cached
	}

	var intent QueryIntent
	if h.llm != nil {
		if llmIntent, err := h.llm.ClassifyIntent(ctx, query); err == nil {
			intent = llmIntent
		}
	}
	if intent == "" {
		intent = h.patterns.Intent(query)
	}

	result := resultForIntent(intent)
	h.cache.Add(cacheKey, result)
	return result
}

// resultForIntent derives the coarse type and fusion weights an intent
// implies.
func resultForIntent(intent QueryIntent) classificationResult {
	qt := intentQueryType(intent)
	return classificationResult{
		intent:    intent,
		queryType: qt,
		weights:   WeightsForQueryType(qt),
	}
}

// normalizeQuery normalizes a query for cache key.
func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Ensure HybridClassifier implements Classifier interface.
var _ Classifier = (*HybridClassifier)(nil)

// =============================================================================
// LLMClassifier
// =============================================================================

// LLMClassifier asks a small Ollama model for the routing intent. Shape
// patterns cover the common cases for free; the model earns its keep on
// ambiguous short queries ("useEffect cleanup", "index corruption") where
// surface shape underdetermines what the user wants.
type LLMClassifier struct {
	client *http.Client
	config ClassifierConfig
	prompt string
}

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the Ollama /api/generate response body.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewLLMClassifier creates a new LLM-based classifier.
func NewLLMClassifier(config ClassifierConfig) *LLMClassifier {
	// Apply defaults
	if config.Model == "" {
		config.Model = DefaultClassifierModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultClassifierTimeout
	}
	if config.OllamaHost == "" {
		config.OllamaHost = DefaultOllamaHost
	}

	client := &http.Client{
		Timeout: config.Timeout,
	}

	return &LLMClassifier{
		client: client,
		config: config,
		prompt: intentPrompt,
	}
}

// intentPrompt is the prompt template for intent classification. The
// categories mirror the router's tier strategies exactly.
const intentPrompt = `You route queries for a code-intelligence search engine. Classify the query into exactly ONE category:

EXACT_SYMBOL - the user wants one specific named symbol. Examples:
- Quoted identifiers: "getUserData"
- Constants: MAX_RETRY_COUNT
- Identifiers in any convention: handleAuth, parse_config, HttpClient

SYMBOL_PATTERN - a structural pattern over symbol names. Examples:
- Generics: Vec<String>, HashMap<K, V>
- Signatures with operators: fn(x) -> y, *Handler

FILE_PATH - the user is locating a file. Examples:
- src/auth/handler.go, config.yaml, README.md

SEMANTIC_CONCEPT - natural language about behavior or design. Examples:
- "how does the watcher coalesce events"
- "code that retries failed embedding batches"

MIXED - short or ambiguous, benefits from keyword and semantic search together. Examples:
- "authentication", "useEffect cleanup"

Respond with ONLY the category name.

Query: %s

Category:`

// ClassifyIntent asks the model for the routing intent.
func (l *LLMClassifier) ClassifyIntent(ctx context.Context, query string) (QueryIntent, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return IntentMixed, nil
	}

	prompt := fmt.Sprintf(l.prompt, query)
	reqBody := generateRequest{
		Model:  l.config.Model,
		Prompt: prompt,
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return IntentMixed, fmt.Errorf("marshal request: %w", err)
	}

	url := l.config.OllamaHost + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return IntentMixed, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return IntentMixed, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return IntentMixed, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return IntentMixed, fmt.Errorf("decode response: %w", err)
	}

	return parseIntentResponse(result.Response), nil
}

// Classify satisfies the Classifier interface by deriving type and
// weights from the model's intent.
func (l *LLMClassifier) Classify(ctx context.Context, query string) (QueryType, Weights, error) {
	intent, err := l.ClassifyIntent(ctx, query)
	if err != nil {
		return QueryTypeMixed, WeightsForQueryType(QueryTypeMixed), err
	}
	qt := intentQueryType(intent)
	return qt, WeightsForQueryType(qt), nil
}

// parseIntentResponse extracts the routing intent from an LLM response.
// Legacy coarse labels (LEXICAL/SEMANTIC/MIXED) are accepted so older
// fine-tunes keep working.
func parseIntentResponse(response string) QueryIntent {
	response = strings.ToUpper(strings.TrimSpace(response))

	intentTokens := []struct {
		token  string
		intent QueryIntent
	}{
		{"EXACT_SYMBOL", IntentExactSymbol},
		{"SYMBOL_PATTERN", IntentSymbolPattern},
		{"FILE_PATH", IntentFilePath},
		{"SEMANTIC_CONCEPT", IntentSemanticConcept},
	}
	for _, it := range intentTokens {
		if strings.Contains(response, it.token) {
			return it.intent
		}
	}

	switch {
	case strings.Contains(response, "LEXICAL"):
		return IntentExactSymbol
	case strings.Contains(response, "SEMANTIC"):
		return IntentSemanticConcept
	}
	return IntentMixed
}

// parseClassificationResponse folds an LLM response onto the coarse
// lexical/semantic/mixed axis.
func parseClassificationResponse(response string) QueryType {
	return intentQueryType(parseIntentResponse(response))
}

// Available checks if Ollama is available and the model is loaded.
func (l *LLMClassifier) Available(ctx context.Context) bool {
	url := l.config.OllamaHost + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Ensure LLMClassifier implements Classifier interface.
var _ Classifier = (*LLMClassifier)(nil)
