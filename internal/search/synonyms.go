package search

import "strings"

// Query-expansion vocabulary for the keyword tier (QI-1 Lite).
//
// Standard information retrieval struggles on code because the searcher's
// vocabulary and the symbol's vocabulary rarely overlap (a query "read
// JSON data" should reach deserialize_json_from_stream). The expansion
// table bridges that gap in two layers:
//
//  1. Symmetric clusters: cross-language keyword families where every
//     member is a synonym of every other (func/def/fn/method, ...).
//     These are declared once per cluster and expanded into the lookup
//     table at init, so the table cannot drift asymmetric.
//  2. Directional mappings: natural-language terms that translate INTO
//     code vocabulary but not back ("where" → file/path; no code term
//     expands to "where").
//
// The symbol-kind families mirror the kinds the extractors emit, so a
// query phrased in one language's terms ("trait") reaches the equivalent
// declarations in every other ("interface", "protocol").

// synonymClusters are symmetric: each member expands to all the others.
var synonymClusters = [][]string{
	// Cross-language declaration keywords.
	{"function", "func", "fn", "def", "method", "procedure"},
	{"lambda", "closure", "anonymous", "arrow"},

	// Symbol-kind equivalence families (one per extractor kind group).
	{"class", "struct", "type", "record"},
	{"interface", "trait", "protocol", "contract"},
	{"enum", "enumeration", "variant", "union"},
	{"constant", "const", "final", "readonly"},
	{"variable", "var", "let", "field", "member"},
	{"module", "namespace", "package", "crate"},

	// Navigation vocabulary: how users name the index's own operations.
	{"definition", "declaration", "decl", "defined"},
	{"reference", "usage", "use", "occurrence"},
	{"caller", "callsite", "invocation", "called"},
	{"implements", "implementation", "impl", "satisfies"},

	// The index's own domain: symbols, workspaces, tiers.
	{"query", "search", "find", "lookup", "locate"},
	{"symbol", "identifier", "name"},
	{"workspace", "project", "repo", "repository"},
	{"index", "indexer", "indexing", "catalog"},
	{"embedding", "embed", "embedder", "vector"},
	{"watcher", "watch", "fsnotify", "monitor"},
	{"parse", "parser", "parsing", "grammar"},
	{"token", "tokenize", "tokenizer", "term"},
	{"tree", "ast", "syntax", "node"},

	// Error handling.
	{"error", "err", "exception", "failure", "fail"},
	{"handle", "handler", "catch", "process"},
	{"retry", "backoff", "attempt", "reattempt"},
	{"panic", "fatal", "crash", "abort"},

	// Common abbreviations.
	{"request", "req"},
	{"response", "resp", "reply"},
	{"context", "ctx"},
	{"config", "cfg", "configuration", "settings", "options", "opts"},
	{"database", "db", "sqlite", "store"},
	{"directory", "dir", "folder"},

	// CRUD / lifecycle verbs.
	{"create", "new", "make", "init", "initialize"},
	{"get", "fetch", "retrieve", "load", "read"},
	{"set", "put", "assign", "write", "save", "persist"},
	{"update", "modify", "edit", "change"},
	{"delete", "remove", "drop", "destroy", "tombstone"},
	{"close", "shutdown", "stop", "cleanup"},
	{"start", "begin", "run", "launch"},

	// Concurrency.
	{"goroutine", "async", "concurrent", "parallel"},
	{"channel", "chan", "queue", "pipe"},
	{"mutex", "lock", "semaphore"},

	// Observability.
	{"log", "logger", "logging", "slog"},
	{"metric", "telemetry", "stats", "measurement"},
}

// directionalSynonyms translate user phrasing into code vocabulary
// one-way: the code terms never expand back to the natural-language side.
var directionalSynonyms = map[string][]string{
	"where":     {"location", "file", "path"},
	"how":       {"implementation", "logic"},
	"what":      {"definition", "type"},
	"returns":   {"return", "result", "output"},
	"parameter": {"param", "arg", "argument"},
	"argument":  {"arg", "param"},
	"test":      {"testing", "spec", "verify"},
	"mock":      {"fake", "stub", "spy"},
}

// CodeSynonyms is the flattened lookup table the expander consumes,
// built from the clusters and directional mappings at init.
var CodeSynonyms = buildSynonymTable()

func buildSynonymTable() map[string][]string {
	table := make(map[string][]string, 256)

	for _, cluster := range synonymClusters {
		for _, term := range cluster {
			for _, other := range cluster {
				if other == term {
					continue
				}
				if !containsTerm(table[term], other) {
					table[term] = append(table[term], other)
				}
			}
		}
	}

	for term, targets := range directionalSynonyms {
		for _, target := range targets {
			if !containsTerm(table[term], target) {
				table[term] = append(table[term], target)
			}
		}
	}

	return table
}

func containsTerm(terms []string, term string) bool {
	for _, t := range terms {
		if t == term {
			return true
		}
	}
	return false
}

// GetSynonyms returns all synonyms for a given term, case-insensitively.
// Returns nil if no synonyms exist.
func GetSynonyms(term string) []string {
	if synonyms, ok := CodeSynonyms[term]; ok {
		return synonyms
	}
	if synonyms, ok := CodeSynonyms[strings.ToLower(term)]; ok {
		return synonyms
	}
	return nil
}
