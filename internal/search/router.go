package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/juliecode/julie/internal/store"
)

// intentPatterns is the shared shape classifier backing ClassifyIntent.
var intentPatterns = NewPatternClassifier()

// ClassifyIntent inspects the raw query and picks the tier strategy.
func ClassifyIntent(query string) QueryIntent {
	return intentPatterns.Intent(query)
}

// NamingVariants generates the cross-language naming-convention variants
// of an identifier: camelCase, snake_case, PascalCase, kebab-case, and
// SCREAMING_SNAKE_CASE. The original is always first; duplicates are
// dropped.
func NamingVariants(identifier string) []string {
	identifier = strings.Trim(identifier, `"'`)
	words := identifierWords(identifier)
	if len(words) == 0 {
		return []string{identifier}
	}

	lower := make([]string, len(words))
	for i, w := range words {
		lower[i] = strings.ToLower(w)
	}

	var camel strings.Builder
	var pascal strings.Builder
	for i, w := range lower {
		t := strings.ToUpper(w[:1]) + w[1:]
		pascal.WriteString(t)
		if i == 0 {
			camel.WriteString(w)
		} else {
			camel.WriteString(t)
		}
	}

	candidates := []string{
		identifier,
		camel.String(),
		strings.Join(lower, "_"),
		pascal.String(),
		strings.Join(lower, "-"),
		strings.ToUpper(strings.Join(lower, "_")),
	}

	seen := make(map[string]bool, len(candidates))
	var variants []string
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		variants = append(variants, c)
	}
	return variants
}

// identifierWords splits an identifier into its constituent words across
// camelCase, snake_case, and kebab-case boundaries.
func identifierWords(identifier string) []string {
	normalized := strings.ReplaceAll(identifier, "-", "_")
	var words []string
	for _, tok := range strings.Split(normalized, "_") {
		if tok == "" {
			continue
		}
		words = append(words, splitCamelSnake(tok)...)
	}
	return words
}

// RouterOptions configures one routed query.
type RouterOptions struct {
	// Limit is the maximum number of results (default 10).
	Limit int

	// Language filters results by language identifier.
	Language string

	// FilePattern filters results by a substring/glob of the file path.
	FilePattern string

	// Mode forces a tier: "text", "semantic", or "hybrid". Empty lets
	// the intent router decide.
	Mode string
}

// RouteResult is the outcome of a routed query.
type RouteResult struct {
	Results []*SearchResult

	// Intent the router assigned to the query.
	Intent QueryIntent

	// Tier that produced the results: "fts", "symbols", "semantic",
	// "hybrid", or "none".
	Tier string

	// Confidence in the result set (0-1). Empty result sets carry low
	// confidence plus an insight explaining which tiers were consulted.
	Confidence float64

	// Insights are diagnostic notes for the caller (tier fallbacks,
	// widening, degradation).
	Insights []string
}

// Router routes queries across the CASCADE tiers: SQLite FTS5 (always
// available once indexed), symbol name/pattern lookup with cross-language
// variant expansion, and HNSW semantic search when the workspace's
// embedding build has completed. Fallback order degrades gracefully: a
// missing tier is skipped, an empty tier falls through to the next.
type Router struct {
	engine   *Engine
	metadata store.MetadataStore

	// Readiness probes published by the indexing orchestrator.
	ftsReady      func() bool
	semanticReady func() bool
}

// NewRouter builds a Router over a hybrid engine and the symbol database.
// Probes may be nil, which means "always ready".
func NewRouter(engine *Engine, metadata store.MetadataStore, ftsReady, semanticReady func() bool) *Router {
	if ftsReady == nil {
		ftsReady = func() bool { return true }
	}
	if semanticReady == nil {
		semanticReady = func() bool { return true }
	}
	return &Router{
		engine:        engine,
		metadata:      metadata,
		ftsReady:      ftsReady,
		semanticReady: semanticReady,
	}
}

// Route executes a query through the tier cascade.
func (r *Router) Route(ctx context.Context, query string, opts RouterOptions) (*RouteResult, error) {
	query = strings.TrimSpace(query)
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	intent := ClassifyIntent(query)
	switch opts.Mode {
	case "text":
		if intent == IntentSemanticConcept || intent == IntentMixed {
			intent = IntentMixed
		}
	case "semantic":
		intent = IntentSemanticConcept
	case "hybrid":
		intent = IntentMixed
	}

	res := &RouteResult{Intent: intent}

	switch intent {
	case IntentExactSymbol:
		r.runSymbolTier(ctx, query, opts, res, false)
	case IntentSymbolPattern:
		r.runSymbolTier(ctx, query, opts, res, true)
	case IntentFilePath:
		r.runFTSTier(ctx, query, opts, res)
	case IntentSemanticConcept:
		r.runSemanticTier(ctx, query, opts, res)
		if len(res.Results) == 0 {
			res.Insights = append(res.Insights, "semantic tier empty, falling back to keyword tier")
			r.runFTSTier(ctx, query, opts, res)
		}
	default:
		r.runHybridTier(ctx, query, opts, res)
	}

	// Degradation chain: symbol tiers that came up empty escalate to
	// semantic when it's live.
	if len(res.Results) == 0 && (intent == IntentExactSymbol || intent == IntentSymbolPattern) {
		if r.semanticReady() {
			res.Insights = append(res.Insights, "no symbol matches, escalating to semantic tier")
			r.runSemanticTier(ctx, query, opts, res)
		}
		if len(res.Results) == 0 && r.ftsReady() {
			r.runFTSTier(ctx, query, opts, res)
		}
	}

	if len(res.Results) == 0 {
		res.Tier = "none"
		res.Confidence = 0.1
		res.Insights = append(res.Insights,
			"no results in any tier; try a broader query, a naming variant, or mode=semantic")
	}
	return res, nil
}

// runSymbolTier is Tier 2: exact or pattern lookup against the symbols
// table, widened by cross-language naming variants.
func (r *Router) runSymbolTier(ctx context.Context, query string, opts RouterOptions, res *RouteResult, pattern bool) {
	var symbols []*store.Symbol
	seen := make(map[string]bool)

	collect := func(found []*store.Symbol) {
		for _, s := range found {
			if !seen[s.ID] {
				seen[s.ID] = true
				symbols = append(symbols, s)
			}
		}
	}

	if pattern {
		cleaned := patternQueryName(query)
		if found, err := r.metadata.FindSymbolsByPattern(ctx, cleaned, opts.Limit*4); err == nil {
			collect(found)
		}
	}

	for _, variant := range NamingVariants(query) {
		if pattern && len(symbols) >= opts.Limit {
			break
		}
		if found, err := r.metadata.FindSymbolsByName(ctx, variant, opts.Limit*2); err == nil {
			collect(found)
		}
	}

	if len(symbols) == 0 {
		return
	}

	results := make([]*SearchResult, 0, len(symbols))
	bare := strings.Trim(query, `"'`)
	for _, s := range symbols {
		score := 0.5
		if s.Name == bare {
			score = 1.0
		} else if strings.EqualFold(s.Name, bare) {
			score = 0.9
		} else if sameKindClass(s.Kind, symbols[0].Kind) {
			score = 0.6
		}
		results = append(results, &SearchResult{Symbol: s, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	results = r.applyRouterFilters(results, opts)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	res.Results = results
	res.Tier = "symbols"
	res.Confidence = confidenceFor(results)
}

// runFTSTier is Tier 1: SQLite FTS5 over file content.
func (r *Router) runFTSTier(ctx context.Context, query string, opts RouterOptions, res *RouteResult) {
	if !r.ftsReady() {
		res.Insights = append(res.Insights, "keyword tier not ready yet")
		return
	}

	hits, err := r.metadata.SearchFileContentFTS(ctx, query, opts.Limit*2)
	if err != nil {
		slog.Warn("fts tier failed", slog.String("error", err.Error()))
		return
	}

	var results []*SearchResult
	for _, hit := range hits {
		if opts.FilePattern != "" && !pathMatches(hit.Path, opts.FilePattern) {
			continue
		}
		results = append(results, &SearchResult{
			Symbol: &store.Symbol{
				Kind:        store.KindFileContent,
				Name:        hit.Path,
				FilePath:    hit.Path,
				CodeContext: hit.Snippet,
			},
			Score: normalizedBM25Rank(hit.Rank),
		})
		if len(results) >= opts.Limit {
			break
		}
	}

	res.Results = results
	res.Tier = "fts"
	res.Confidence = confidenceFor(results)
}

// runSemanticTier is Tier 3, with dynamic widening: when a language or
// file-pattern filter is set, the engine is re-queried with a doubled
// limit (up to three attempts) until enough post-filter results exist.
func (r *Router) runSemanticTier(ctx context.Context, query string, opts RouterOptions, res *RouteResult) {
	if r.engine == nil || !r.semanticReady() {
		res.Insights = append(res.Insights, "semantic tier not ready yet")
		return
	}

	weights := &Weights{BM25: 0.1, Semantic: 0.9}
	filtered := opts.Language != "" || opts.FilePattern != ""

	searchLimit := opts.Limit
	attempts := 1
	if filtered {
		attempts = 3
	}

	var results []*SearchResult
	for attempt := 0; attempt < attempts; attempt++ {
		found, err := r.engine.Search(ctx, query, SearchOptions{
			Limit:    searchLimit,
			Language: opts.Language,
			Weights:  weights,
		})
		if err != nil {
			slog.Warn("semantic tier failed", slog.String("error", err.Error()))
			return
		}
		results = r.applyRouterFilters(found, opts)
		if len(results) >= opts.Limit || len(found) < searchLimit || attempt == attempts-1 {
			break
		}
		searchLimit *= 2
		slog.Info("semantic_search_widening",
			slog.String("query", query),
			slog.Int("next_limit", searchLimit))
		res.Insights = append(res.Insights, "widened semantic search to satisfy filters")
	}

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	res.Results = results
	res.Tier = "semantic"
	res.Confidence = confidenceFor(results)
}

// runHybridTier runs the fused BM25+vector engine search.
func (r *Router) runHybridTier(ctx context.Context, query string, opts RouterOptions, res *RouteResult) {
	if r.engine == nil {
		// Metadata-only router (reference workspaces): symbol lookup
		// first, keyword tier as backstop.
		r.runSymbolTier(ctx, query, opts, res, false)
		if len(res.Results) == 0 {
			r.runFTSTier(ctx, query, opts, res)
		}
		return
	}
	searchOpts := SearchOptions{
		Limit:    opts.Limit,
		Language: opts.Language,
	}
	if !r.semanticReady() {
		searchOpts.BM25Only = true
		res.Insights = append(res.Insights, "semantic tier unavailable, keyword-only hybrid")
	}

	found, err := r.engine.Search(ctx, query, searchOpts)
	if err != nil {
		slog.Warn("hybrid tier failed", slog.String("error", err.Error()))
		r.runFTSTier(ctx, query, opts, res)
		return
	}

	results := r.applyRouterFilters(found, opts)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	res.Results = results
	res.Tier = "hybrid"
	res.Confidence = confidenceFor(results)
}

// applyRouterFilters applies the router-level language and file-pattern
// filters.
func (r *Router) applyRouterFilters(results []*SearchResult, opts RouterOptions) []*SearchResult {
	if opts.Language == "" && opts.FilePattern == "" {
		return results
	}
	var out []*SearchResult
	for _, res := range results {
		if res.Symbol == nil {
			continue
		}
		if opts.Language != "" && !strings.EqualFold(res.Symbol.Language, opts.Language) {
			continue
		}
		if opts.FilePattern != "" && !pathMatches(res.Symbol.FilePath, opts.FilePattern) {
			continue
		}
		out = append(out, res)
	}
	return out
}

// sameKindClass reports whether two kinds fall in the same equivalence
// class ({class, struct, interface, type_alias} collapse to one).
func sameKindClass(a, b store.SymbolKind) bool {
	ca, aok := store.KindEquivalence[a]
	cb, bok := store.KindEquivalence[b]
	if aok && bok {
		return ca == cb
	}
	return a == b
}

// patternQueryName strips generics and operator punctuation down to the
// identifier-ish core used for LIKE matching.
func patternQueryName(query string) string {
	cleaned := genericsPattern.ReplaceAllString(query, "")
	cleaned = strings.Map(func(r rune) rune {
		if strings.ContainsRune(operatorChars, r) {
			return -1
		}
		return r
	}, cleaned)
	return strings.TrimSpace(cleaned)
}

// pathMatches implements the file_pattern filter: substring or single-*
// glob.
func pathMatches(path, pattern string) bool {
	if pattern == "" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return strings.Contains(path, pattern)
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		pos := strings.Index(path[idx:], part)
		if pos < 0 {
			return false
		}
		if i == 0 && pos != 0 && !strings.HasPrefix(pattern, "*") {
			return false
		}
		idx += pos + len(part)
	}
	if !strings.HasSuffix(pattern, "*") && len(parts) > 0 && parts[len(parts)-1] != "" {
		return strings.HasSuffix(path, parts[len(parts)-1])
	}
	return true
}

// normalizedBM25Rank converts an FTS5 BM25 rank (more negative = better)
// into a 0-1 score.
func normalizedBM25Rank(rank float64) float64 {
	if rank < 0 {
		rank = -rank
	}
	return rank / (rank + 1)
}

// confidenceFor scores a result set: top-heavy sets with a strong first
// hit carry high confidence, empty ones near zero.
func confidenceFor(results []*SearchResult) float64 {
	if len(results) == 0 {
		return 0.1
	}
	top := results[0].Score
	if top > 1 {
		top = 1
	}
	if top < 0.3 {
		top = 0.3
	}
	return top
}
