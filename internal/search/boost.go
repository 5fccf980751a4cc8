package search

import (
	"math"
	"sort"
	"strings"
)

// Path relevance weights. Source code ranks highest, tests are penalized less
// than generated/vendored output, and documentation sits in between.
const (
	PathWeightSource    = 1.0
	PathWeightTest      = 0.4
	PathWeightDocs      = 0.2
	PathWeightVendored  = 0.1
	exactMatchBoostBase = 0.15
)

// vendoredDirs are path segments that mark generated or third-party code a
// query almost never actually wants, unless the query names the segment
// itself (see PathRelevanceScorer).
var vendoredDirs = []string{
	"vendor/", "node_modules/", "dist/", "build/", "target/",
	"third_party/", "thirdparty/", ".venv/", "__pycache__/",
}

var docsDirs = []string{"docs/", "doc/", "documentation/"}

// ExactMatchBoost applies a logarithmic boost to results whose symbol name
// (or qualified name) matches the query exactly, case-insensitively. The log
// keeps one exact hit among many fused results from swamping the ranking
// while still reliably outranking partial/fuzzy matches.
//
// boosted = score * (1 + exactMatchBoostBase * ln(1 + matchWeight))
//
// matchWeight is 2 for an exact Name match, 1 for an exact QualifiedName
// match (e.g. "Engine.Search" for query "Search" wouldn't match; only the
// full qualified string would), 0 otherwise.
func ExactMatchBoost(results []*SearchResult, query string) []*SearchResult {
	if len(results) == 0 || strings.TrimSpace(query) == "" {
		return results
	}
	q := strings.ToLower(strings.TrimSpace(query))

	for _, r := range results {
		if r.Symbol == nil {
			continue
		}
		var weight float64
		if strings.ToLower(r.Symbol.Name) == q {
			weight = 2
		} else if strings.ToLower(r.Symbol.QualifiedName) == q {
			weight = 1
		}
		if weight > 0 {
			r.Score *= 1 + exactMatchBoostBase*math.Log(1+weight)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// PathRelevanceScorer multiplies each result's score by a weight derived
// from its file path: source 1.0x, test 0.4x, docs 0.2x, vendored/generated
// 0.1x. A result is NOT demoted if the query itself names the directory
// word responsible for the demotion (e.g. querying "vendor patch" should not
// have its vendor/ hits punished), since that signals deliberate intent.
func PathRelevanceScorer(results []*SearchResult, query string) []*SearchResult {
	if len(results) == 0 {
		return results
	}
	q := strings.ToLower(query)

	for _, r := range results {
		if r.Symbol == nil {
			continue
		}
		path := r.Symbol.FilePath
		weight := pathWeight(path)
		if weight == PathWeightSource {
			continue
		}
		if queryNamesWeightedSegment(q, path, weight) {
			continue
		}
		r.Score *= weight
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

func pathWeight(path string) float64 {
	lower := strings.ToLower(path)
	for _, v := range vendoredDirs {
		if strings.Contains(lower, v) {
			return PathWeightVendored
		}
	}
	if IsTestFile(path) {
		return PathWeightTest
	}
	for _, d := range docsDirs {
		if strings.Contains(lower, d) {
			return PathWeightDocs
		}
	}
	return PathWeightSource
}

// queryNamesWeightedSegment reports whether the query already mentions the
// directory word that triggered a demotion (e.g. "vendor", "test", "docs"),
// in which case the demotion is skipped: the user is deliberately asking
// about that area of the tree.
func queryNamesWeightedSegment(query, path string, weight float64) bool {
	var candidates []string
	switch weight {
	case PathWeightVendored:
		candidates = vendoredDirs
	case PathWeightTest:
		candidates = []string{"test", "tests", "spec"}
	case PathWeightDocs:
		candidates = docsDirs
	}
	for _, c := range candidates {
		word := strings.Trim(c, "/")
		if word != "" && strings.Contains(query, word) {
			return true
		}
	}
	_ = path
	return false
}
