package mcp

import (
	"fmt"
	"strings"

	"github.com/juliecode/julie/internal/search"
)

// FormatSearchResults formats search results as markdown.
func FormatSearchResults(query string, results []*search.SearchResult) string {
	validResults := filterValidResults(results)

	if len(validResults) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Search Results for \"%s\"\n\n", query))
	sb.WriteString(fmt.Sprintf("Found %d result", len(validResults)))
	if len(validResults) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range validResults {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// filterValidResults removes results with nil symbols.
func filterValidResults(results []*search.SearchResult) []*search.SearchResult {
	valid := make([]*search.SearchResult, 0, len(results))
	for _, r := range results {
		if r != nil && r.Symbol != nil {
			valid = append(valid, r)
		}
	}
	return valid
}

// formatResult formats a single result.
func formatResult(sb *strings.Builder, num int, r *search.SearchResult) {
	if r.Symbol == nil {
		return
	}
	sym := r.Symbol

	fmt.Fprintf(sb, "### %d. %s:%d-%d (score: %.2f)\n",
		num, sym.FilePath, sym.StartLine, sym.EndLine, r.Score)
	fmt.Fprintf(sb, "**%s** `%s`\n\n", sym.Kind, sym.Name)

	if sym.Signature != "" {
		lang := sym.Language
		if lang == "" {
			lang = "text"
		}
		fmt.Fprintf(sb, "```%s\n%s\n```\n\n", lang, sym.Signature)
	}
	if sym.DocComment != "" {
		doc := sym.DocComment
		if idx := strings.Index(doc, "\n"); idx > 0 {
			doc = doc[:idx]
		}
		fmt.Fprintf(sb, "%s\n\n", doc)
	}
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// renderSymbolResult renders one SymbolResult for the budgeted text
// output.
func renderSymbolResult(result any) string {
	r, ok := result.(SymbolResult)
	if !ok {
		return renderGeneric(result)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "- **%s** `%s` %s:%d", r.Kind, r.Name, r.FilePath, r.StartLine)
	if r.Score > 0 {
		fmt.Fprintf(&sb, " (%.2f)", r.Score)
	}
	if r.Signature != "" {
		fmt.Fprintf(&sb, "\n  `%s`", firstLine(r.Signature))
	}
	if r.Doc != "" {
		fmt.Fprintf(&sb, "\n  %s", firstLine(r.Doc))
	}
	if r.Snippet != "" {
		lang := r.Language
		if lang == "" {
			lang = "text"
		}
		fmt.Fprintf(&sb, "\n```%s\n%s\n```", lang, r.Snippet)
	}
	return sb.String()
}

// renderLineResult renders one grep-style line hit.
func renderLineResult(result any) string {
	r, ok := result.(LineResult)
	if !ok {
		return renderGeneric(result)
	}
	return fmt.Sprintf("- `%s`: %s", r.FilePath, firstLine(r.Snippet))
}

// renderRefResult renders one reference edge.
func renderRefResult(result any) string {
	r, ok := result.(RefResult)
	if !ok {
		return renderGeneric(result)
	}
	return fmt.Sprintf("- %s `%s` at %s:%d (%.2f)", r.Kind, r.FromSymbol, r.FilePath, r.Line, r.Confidence)
}

// renderTraceNode renders one call-path hop with depth indentation.
func renderTraceNode(result any) string {
	r, ok := result.(TraceNode)
	if !ok {
		return renderGeneric(result)
	}
	indent := strings.Repeat("  ", r.Depth)
	arrow := "→"
	if r.Direction == "upstream" {
		arrow = "←"
	}
	return fmt.Sprintf("%s%s `%s` %s:%d [%s]", indent, arrow, r.Symbol, r.FilePath, r.Line, r.Language)
}

// renderGeneric renders map-shaped results as key: value lines.
func renderGeneric(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return fmt.Sprintf("- %v", result)
	}
	var parts []string
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}
	sortStrings(parts)
	return "- " + strings.Join(parts, ", ")
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
