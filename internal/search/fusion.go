// Package search provides hybrid search functionality combining BM25 and
// semantic search. Results from the two tiers are fused per symbol ID by
// blending reciprocal-rank contributions with the tiers' own normalized
// scores, semantic down-weighted by default.
package search

import (
	"sort"

	"github.com/juliecode/julie/internal/store"
)

// DefaultRRFConstant is the smoothing parameter for the rank component.
// k=60 is empirically validated across domains.
const DefaultRRFConstant = 60

// rankBlend is how much of the fused score comes from rank positions; the
// remainder comes from the tiers' raw scores. Rank dominates so a tier
// with inflated absolute scores cannot drown out the other, but raw
// scores still separate near-ties that pure rank fusion would flatten.
const rankBlend = 0.7

// convergenceBonus is multiplied into the fused score when a symbol
// appears in both tiers. Agreement between keyword and semantic retrieval
// is the strongest relevance signal the engine has.
const convergenceBonus = 1.15

// FusedResult is one symbol's combined standing after fusion.
type FusedResult struct {
	SymbolID     string   // Symbol identifier
	RRFScore     float64  // Blended fused score (normalized 0-1)
	BM25Score    float64  // Original BM25 score (preserved)
	BM25Rank     int      // Position in BM25 list (1-indexed, 0 if absent)
	VecScore     float64  // Original vector similarity score (preserved)
	VecRank      int      // Position in vector list (1-indexed, 0 if absent)
	InBothLists  bool     // Symbol appeared in both result lists
	MatchedTerms []string // BM25 matched terms (for highlighting)
}

// tierEntries is one retrieval tier's ranked contribution to fusion.
type tierEntries struct {
	weight float64
	ids    []string
	scores []float64
	terms  [][]string // BM25 matched terms, nil for the semantic tier
	maxRaw float64
	vector bool
}

// RRFFusion fuses the keyword and semantic tiers per symbol ID.
//
//	score(s) = blend * Σ w_i/(k + rank_i(s))  +  (1-blend) * Σ w_i * norm_i(s)/k
//
// then multiplied by a convergence bonus when s appears in both tiers.
// rank_i uses max(len)+1 for a tier that missed the symbol; norm_i is the
// tier's raw score scaled by its own maximum, so BM25's unbounded scores
// and cosine similarities land on the same 0-1 footing.
type RRFFusion struct {
	K int // rank smoothing constant (default: 60)
}

// NewRRFFusion creates a fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a fusion instance with custom k.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines the BM25 and vector tiers.
//
// Results are sorted by: fused score (desc) → InBothLists (true first) →
// BM25Score (desc) → SymbolID (asc), then normalized so the top result
// scores 1.0.
func (f *RRFFusion) Fuse(
	bm25 []*store.BM25Result,
	vec []*store.VectorResult,
	weights Weights,
) []*FusedResult {
	// Empty slice, not nil, for consistent API behavior (DEBT-012)
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	tiers := []*tierEntries{
		bm25Tier(bm25, weights.BM25),
		vectorTier(vec, weights.Semantic),
	}

	fused := make(map[string]*FusedResult, len(bm25)+len(vec))
	missingRank := missingRankFor(len(bm25), len(vec))

	for _, tier := range tiers {
		for i, id := range tier.ids {
			r := fused[id]
			if r == nil {
				r = &FusedResult{SymbolID: id}
				fused[id] = r
			}
			rank := i + 1
			if tier.vector {
				r.VecScore = tier.scores[i]
				r.VecRank = rank
			} else {
				r.BM25Score = tier.scores[i]
				r.BM25Rank = rank
				r.MatchedTerms = tier.terms[i]
			}
			r.RRFScore += f.contribution(tier, rank, tier.scores[i])
		}
	}

	for _, r := range fused {
		r.InBothLists = r.BM25Rank > 0 && r.VecRank > 0
		// A tier that missed the symbol still contributes at the
		// missing rank (with a zero score component), so single-tier
		// hits aren't unfairly flattened against each other.
		if r.BM25Rank == 0 {
			r.RRFScore += f.contribution(tiers[0], missingRank, 0)
		}
		if r.VecRank == 0 {
			r.RRFScore += f.contribution(tiers[1], missingRank, 0)
		}
		if r.InBothLists {
			r.RRFScore *= convergenceBonus
		}
	}

	results := sortFused(fused)
	normalizeFused(results)
	return results
}

// contribution is one tier's share of a symbol's fused score: the blended
// reciprocal-rank term plus the tier-normalized raw score term.
func (f *RRFFusion) contribution(tier *tierEntries, rank int, raw float64) float64 {
	rankTerm := tier.weight / float64(f.K+rank)
	scoreTerm := 0.0
	if tier.maxRaw > 0 {
		scoreTerm = tier.weight * (raw / tier.maxRaw) / float64(f.K)
	}
	return rankBlend*rankTerm + (1-rankBlend)*scoreTerm
}

func bm25Tier(results []*store.BM25Result, weight float64) *tierEntries {
	t := &tierEntries{weight: weight}
	for _, r := range results {
		t.ids = append(t.ids, r.DocID)
		t.scores = append(t.scores, r.Score)
		t.terms = append(t.terms, r.MatchedTerms)
		if r.Score > t.maxRaw {
			t.maxRaw = r.Score
		}
	}
	return t
}

func vectorTier(results []*store.VectorResult, weight float64) *tierEntries {
	t := &tierEntries{weight: weight, vector: true}
	for _, r := range results {
		t.ids = append(t.ids, r.ID)
		t.scores = append(t.scores, float64(r.Score))
		if float64(r.Score) > t.maxRaw {
			t.maxRaw = float64(r.Score)
		}
	}
	return t
}

// missingRankFor penalizes symbols absent from a tier as if they ranked
// just past that tier's longest list.
func missingRankFor(bm25Len, vecLen int) int {
	if bm25Len > vecLen {
		return bm25Len + 1
	}
	return vecLen + 1
}

// sortFused orders fused results deterministically:
//
//  1. Higher fused score
//  2. Present in both tiers (true before false)
//  3. Higher BM25 score (exact-match indicator)
//  4. Lexicographically smaller SymbolID
func sortFused(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.InBothLists != b.InBothLists {
			return a.InBothLists
		}
		if a.BM25Score != b.BM25Score {
			return a.BM25Score > b.BM25Score
		}
		return a.SymbolID < b.SymbolID
	})
	return results
}

// normalizeFused scales scores so the top result is 1.0.
func normalizeFused(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	maxScore := results[0].RRFScore
	if maxScore == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore /= maxScore
	}
}
