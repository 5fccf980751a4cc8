// Package budget shapes tool responses to fit a per-tool token budget while
// preserving information density: count reduction first, then structural
// code truncation, always preserving rank order.
package budget

import (
	"strings"
	"unicode"
)

// DefaultMaxTokens is the typical per-tool response budget named in the
// tool surface design (10k-20k).
const DefaultMaxTokens = 15000

// ReductionFractions are the fixed proportions tried, in order, when a
// response exceeds budget. The first fraction whose resulting item count
// fits wins; order is always preserved so the highest-ranked items survive.
var ReductionFractions = []float64{1.0, 0.75, 0.5, 0.3, 0.2, 0.1, 0.05}

// essentialTruncateThreshold bounds how long a code body can get before structural
// truncation kicks in.
const essentialTruncateThreshold = 50

// EstimateTokens approximates token count from rune composition: ASCII
// characters cost ~4 chars/token, CJK ideographs ~2 chars/token (they pack
// more meaning per rune), and punctuation-dense code/symbol text ~3
// chars/token. Good to within the accuracy a budgeter needs, and well under
// 1ms per call.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	var ascii, cjk, other int
	for _, r := range s {
		switch {
		case isCJK(r):
			cjk++
		case r < unicode.MaxASCII && (unicode.IsPunct(r) || unicode.IsSymbol(r)):
			other++
		case r < unicode.MaxASCII:
			ascii++
		default:
			other++
		}
	}
	tokens := float64(ascii)/4.0 + float64(cjk)/2.0 + float64(other)/3.0
	if tokens < 1 && len(s) > 0 {
		return 1
	}
	return int(tokens + 0.5)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3040 && r <= 0x30FF) || // Hiragana/Katakana
		(r >= 0xAC00 && r <= 0xD7A3) // Hangul syllables
}

// Sized is anything whose response cost can be estimated independently of
// the others, so the budgeter can reduce a slice of them by count.
type Sized interface {
	TokenCost() int
}

// FitByCount reduces items, trying ReductionFractions in order, until the
// total estimated cost (sum of TokenCost plus fixedOverhead) fits maxTokens
// or until the smallest fraction has been tried. Order is preserved: a
// fraction keeps the first N items, never reorders or samples.
//
// Returns the kept slice and the fraction that was used (1.0 if nothing had
// to be cut).
func FitByCount[T Sized](items []T, maxTokens int, fixedOverhead int) ([]T, float64) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if totalCost(items, fixedOverhead) <= maxTokens {
		return items, 1.0
	}

	total := len(items)
	for _, frac := range ReductionFractions {
		n := int(float64(total) * frac)
		if n < 1 && total > 0 {
			n = 1
		}
		if n > total {
			n = total
		}
		candidate := items[:n]
		if totalCost(candidate, fixedOverhead) <= maxTokens || n == 1 {
			return candidate, frac
		}
	}
	if total > 0 {
		return items[:1], ReductionFractions[len(ReductionFractions)-1]
	}
	return items, 1.0
}

func totalCost[T Sized](items []T, fixedOverhead int) int {
	sum := fixedOverhead
	for _, it := range items {
		sum += it.TokenCost()
	}
	return sum
}

// TruncateCode applies structure-preserving truncation to a code body
// longer than essentialTruncateThreshold lines: the leading run of doc
// comment + signature lines and the trailing closing-brace/return lines are
// kept, the interior is collapsed into one elision marker line naming the
// number of omitted lines. Truncation only ever happens on line boundaries.
func TruncateCode(code string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = essentialTruncateThreshold
	}
	lines := strings.Split(code, "\n")
	if len(lines) <= maxLines {
		return code
	}

	head := essentialHead(lines, maxLines)
	tail := essentialTail(lines, maxLines-head)
	if head+tail >= len(lines) {
		return code
	}

	omitted := len(lines) - head - tail
	var b strings.Builder
	b.WriteString(strings.Join(lines[:head], "\n"))
	b.WriteByte('\n')
	b.WriteString("// ... ")
	b.WriteString(itoa(omitted))
	b.WriteString(" lines omitted ...\n")
	b.WriteString(strings.Join(lines[len(lines)-tail:], "\n"))
	return b.String()
}

// essentialHead returns how many leading lines look like doc comments or a
// signature (kept as-is): runs of comment lines, then the first line that
// opens a block.
func essentialHead(lines []string, budget int) int {
	n := 0
	limit := budget / 2
	if limit < 1 {
		limit = 1
	}
	for n < len(lines) && n < limit {
		trimmed := strings.TrimSpace(lines[n])
		isComment := strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") ||
			strings.HasPrefix(trimmed, "/*") || strings.HasPrefix(trimmed, "#")
		opensBlock := strings.Contains(trimmed, "{") || strings.HasSuffix(trimmed, ":")
		n++
		if opensBlock || (!isComment && trimmed != "") {
			break
		}
	}
	return n
}

// essentialTail returns how many trailing lines look like return statements
// or closing braces, kept verbatim.
func essentialTail(lines []string, budget int) int {
	if budget < 1 {
		budget = 1
	}
	n := 0
	for i := len(lines) - 1; i >= 0 && n < budget; i-- {
		trimmed := strings.TrimSpace(lines[i])
		n++
		isClose := trimmed == "}" || trimmed == "})" || trimmed == ")" ||
			strings.HasPrefix(trimmed, "return") || trimmed == ""
		if !isClose && n > 1 {
			break
		}
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
