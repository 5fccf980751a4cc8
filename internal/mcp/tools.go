package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/juliecode/julie/internal/budget"
	"github.com/juliecode/julie/internal/search"
	"github.com/juliecode/julie/internal/store"
	"github.com/juliecode/julie/internal/workspace"
)

// FastSearchInput is the input schema for the fast_search tool.
type FastSearchInput struct {
	Query       string `json:"query" jsonschema:"the search query"`
	Mode        string `json:"mode,omitempty" jsonschema:"search mode: text, semantic, or hybrid (default hybrid)"`
	Language    string `json:"language,omitempty" jsonschema:"filter by language identifier (go, rust, python, ...)"`
	FilePattern string `json:"file_pattern,omitempty" jsonschema:"filter by file path substring or glob"`
	Workspace   string `json:"workspace,omitempty" jsonschema:"workspace to query: primary (default) or a workspace id"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Output      string `json:"output,omitempty" jsonschema:"result shape: symbols (default) or lines"`
}

// FastGotoInput is the input schema for the fast_goto tool.
type FastGotoInput struct {
	Symbol      string `json:"symbol" jsonschema:"symbol name to find the definition of"`
	ContextFile string `json:"context_file,omitempty" jsonschema:"file the reference appears in, used to rank nearby definitions"`
	Workspace   string `json:"workspace,omitempty" jsonschema:"workspace to query: primary (default) or a workspace id"`
}

// FastRefsInput is the input schema for the fast_refs tool.
type FastRefsInput struct {
	Symbol    string `json:"symbol" jsonschema:"symbol name to find references to"`
	Workspace string `json:"workspace,omitempty" jsonschema:"workspace to query: primary (default) or a workspace id"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of references, default 50"`
}

// GetSymbolsInput is the input schema for the get_symbols tool.
type GetSymbolsInput struct {
	FilePath    string `json:"file_path" jsonschema:"workspace-relative file to outline"`
	Target      string `json:"target,omitempty" jsonschema:"restrict output to this symbol and its children"`
	MaxDepth    int    `json:"max_depth,omitempty" jsonschema:"containment depth to include, default unlimited"`
	IncludeBody bool   `json:"include_body,omitempty" jsonschema:"include code bodies (mode full implies this)"`
	Mode        string `json:"mode,omitempty" jsonschema:"structure (default), minimal, or full"`
}

// TraceCallPathInput is the input schema for the trace_call_path tool.
type TraceCallPathInput struct {
	Symbol        string `json:"symbol" jsonschema:"symbol to trace from"`
	Direction     string `json:"direction,omitempty" jsonschema:"upstream (callers), downstream (callees), or both (default)"`
	MaxDepth      int    `json:"max_depth,omitempty" jsonschema:"maximum hops, default 3"`
	CrossLanguage bool   `json:"cross_language,omitempty" jsonschema:"follow name-based edges across languages"`
}

// EditLinesInput is the input schema for the edit_lines tool.
type EditLinesInput struct {
	FilePath  string `json:"file_path" jsonschema:"workspace-relative file to edit"`
	Operation string `json:"operation" jsonschema:"insert, replace, or delete"`
	StartLine int    `json:"start_line" jsonschema:"1-indexed first line the operation applies to"`
	EndLine   int    `json:"end_line,omitempty" jsonschema:"1-indexed last line for replace/delete (default start_line)"`
	Content   string `json:"content,omitempty" jsonschema:"text for insert/replace"`
	DryRun    bool   `json:"dry_run,omitempty" jsonschema:"preview the edit without writing"`
}

// FuzzyReplaceInput is the input schema for the fuzzy_replace tool.
type FuzzyReplaceInput struct {
	FilePath    string  `json:"file_path" jsonschema:"workspace-relative file to edit"`
	Pattern     string  `json:"pattern" jsonschema:"text to find (whitespace-tolerant match)"`
	Replacement string  `json:"replacement" jsonschema:"replacement text"`
	Threshold   float64 `json:"threshold,omitempty" jsonschema:"minimum similarity 0-1, default 0.8"`
	DryRun      bool    `json:"dry_run,omitempty" jsonschema:"preview the edit without writing"`
}

// ManageWorkspaceInput is the input schema for the manage_workspace tool.
type ManageWorkspaceInput struct {
	Operation string `json:"operation" jsonschema:"index, add, remove, list, recent, health, or stats"`
	Path      string `json:"path,omitempty" jsonschema:"workspace root for add"`
	Workspace string `json:"workspace,omitempty" jsonschema:"workspace id for remove/stats"`
	Force     bool   `json:"force,omitempty" jsonschema:"force full re-extraction for index"`
}

// SymbolResult is the structured per-symbol payload carried in the result
// envelope.
type SymbolResult struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Language  string  `json:"language,omitempty"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Signature string  `json:"signature,omitempty"`
	Doc       string  `json:"doc,omitempty"`
	Score     float64 `json:"score,omitempty"`
	Snippet   string  `json:"snippet,omitempty"`
}

// LineResult is the grep-style payload for fast_search output=lines.
type LineResult struct {
	FilePath string  `json:"file_path"`
	Snippet  string  `json:"snippet"`
	Rank     float64 `json:"rank"`
}

// RefResult is one reference edge in fast_refs output.
type RefResult struct {
	FromSymbol string  `json:"from_symbol"`
	FilePath   string  `json:"file_path"`
	Line       int     `json:"line"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

// TraceNode is one hop in a trace_call_path result.
type TraceNode struct {
	Symbol    string `json:"symbol"`
	FilePath  string `json:"file_path"`
	Line      int    `json:"line"`
	Language  string `json:"language,omitempty"`
	Depth     int    `json:"depth"`
	Direction string `json:"direction"`
	Via       string `json:"via,omitempty"`
}

func symbolResult(s *store.Symbol, score float64) SymbolResult {
	return SymbolResult{
		ID:        s.ID,
		Name:      s.Name,
		Kind:      string(s.Kind),
		Language:  s.Language,
		FilePath:  s.FilePath,
		StartLine: s.StartLine,
		EndLine:   s.EndLine,
		Signature: s.Signature,
		Doc:       s.DocComment,
		Score:     score,
	}
}

// toolResult assembles the dual output every tool returns: the envelope as
// structured content plus a budget-fitted text rendering.
func toolResult(env budget.Envelope, render budget.TextRenderer) (*mcp.CallToolResult, budget.Envelope, error) {
	text, _, err := budget.Render(env, budget.DefaultMaxTokens, render)
	if err != nil {
		return nil, env, MapError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: !env.Success,
	}, env, nil
}

// handleFastSearch is the primary query tool: intent-routed over the
// CASCADE tiers with cross-language variant expansion.
func (s *Server) handleFastSearch(ctx context.Context, _ *mcp.CallToolRequest, input FastSearchInput) (*mcp.CallToolResult, budget.Envelope, error) {
	start := time.Now()
	requestID := generateRequestID()
	logger := s.logger.With("request_id", requestID, "tool", "fast_search")

	if strings.TrimSpace(input.Query) == "" {
		return nil, budget.Envelope{}, NewInvalidParamsError("query is required")
	}
	limit := clampLimit(input.Limit, 10, 1, 100)

	// Initial background index still running: no tier can answer yet, so
	// return NotReady with a time-to-ready estimate instead of an empty
	// result that reads like "nothing matched".
	if env, waiting := s.notReadyEnvelope("fast_search"); waiting {
		return toolResult(env, renderGeneric)
	}

	router, cleanup, err := s.routerFor(ctx, input.Workspace)
	if err != nil {
		return nil, budget.Envelope{}, MapError(err)
	}
	defer cleanup()

	env := budget.Envelope{Tool: "fast_search", Success: true}

	if input.Output == "lines" {
		metadata, storeCleanup, serr := s.storeFor(ctx, input.Workspace)
		if serr != nil {
			return nil, budget.Envelope{}, MapError(serr)
		}
		defer storeCleanup()
		hits, err := metadata.SearchFileContentFTS(ctx, input.Query, limit)
		if err != nil {
			return nil, budget.Envelope{}, MapError(err)
		}
		for _, h := range hits {
			if input.FilePattern != "" && !strings.Contains(h.Path, strings.Trim(input.FilePattern, "*")) {
				continue
			}
			env.Results = append(env.Results, LineResult{FilePath: h.Path, Snippet: h.Snippet, Rank: h.Rank})
		}
		env.Confidence = 0.8
		if len(env.Results) == 0 {
			env.Confidence = 0.1
			env.NextActions = append(env.NextActions, "retry with output=symbols or mode=semantic")
		}
		logger.Info("fast_search completed",
			"duration", time.Since(start), "results", len(env.Results), "output", "lines")
		return toolResult(env, renderLineResult)
	}

	routed, err := router.Route(ctx, input.Query, search.RouterOptions{
		Limit:       limit,
		Language:    input.Language,
		FilePattern: input.FilePattern,
		Mode:        input.Mode,
	})
	if err != nil {
		return nil, budget.Envelope{}, MapError(err)
	}

	for _, r := range routed.Results {
		env.Results = append(env.Results, symbolResult(r.Symbol, r.Score))
	}
	env.Confidence = routed.Confidence
	env.Metadata = map[string]any{
		"intent":   string(routed.Intent),
		"tier":     routed.Tier,
		"insights": routed.Insights,
	}
	if len(env.Results) == 0 {
		env.NextActions = append(env.NextActions,
			"try mode=semantic for concept queries",
			"try a naming variant (camelCase vs snake_case)")
	}

	logger.Info("fast_search completed",
		"duration", time.Since(start),
		"results", len(env.Results),
		"tier", routed.Tier)
	return toolResult(env, renderSymbolResult)
}

// handleFastGoto finds definitions: exact name, then naming variants,
// then semantic fallback.
func (s *Server) handleFastGoto(ctx context.Context, _ *mcp.CallToolRequest, input FastGotoInput) (*mcp.CallToolResult, budget.Envelope, error) {
	requestID := generateRequestID()
	logger := s.logger.With("request_id", requestID, "tool", "fast_goto")

	if input.Symbol == "" {
		return nil, budget.Envelope{}, NewInvalidParamsError("symbol is required")
	}

	metadata, cleanup, err := s.storeFor(ctx, input.Workspace)
	if err != nil {
		return nil, budget.Envelope{}, MapError(err)
	}
	defer cleanup()

	var matches []*store.Symbol
	seen := make(map[string]bool)
	for _, variant := range search.NamingVariants(input.Symbol) {
		found, ferr := metadata.FindSymbolsByName(ctx, variant, 20)
		if ferr != nil {
			continue
		}
		for _, sym := range found {
			if !seen[sym.ID] && isDefinitionKind(sym.Kind) {
				seen[sym.ID] = true
				matches = append(matches, sym)
			}
		}
		if len(matches) > 0 && variant == input.Symbol {
			break
		}
	}

	// Semantic fallback for fuzzy recollections of the name.
	if len(matches) == 0 && s.router != nil {
		routed, rerr := s.router.Route(ctx, input.Symbol, search.RouterOptions{Limit: 5, Mode: "semantic"})
		if rerr == nil {
			for _, r := range routed.Results {
				if r.Symbol != nil && isDefinitionKind(r.Symbol.Kind) && !seen[r.Symbol.ID] {
					seen[r.Symbol.ID] = true
					matches = append(matches, r.Symbol)
				}
			}
		}
	}

	rankDefinitions(matches, input.Symbol, input.ContextFile)

	env := budget.Envelope{Tool: "fast_goto", Success: true}
	for i, sym := range matches {
		score := 1.0 - float64(i)*0.1
		if score < 0.1 {
			score = 0.1
		}
		env.Results = append(env.Results, symbolResult(sym, score))
	}
	env.Confidence = 0.95
	if len(matches) == 0 {
		env.Confidence = 0.1
		env.NextActions = append(env.NextActions, "use fast_search with mode=hybrid to locate the symbol")
	} else if matches[0].Name != input.Symbol {
		env.Confidence = 0.6
	}

	logger.Info("fast_goto completed", "matches", len(matches))
	return toolResult(env, renderSymbolResult)
}

// handleFastRefs finds all references to a symbol using the batched
// relationship lookup.
func (s *Server) handleFastRefs(ctx context.Context, _ *mcp.CallToolRequest, input FastRefsInput) (*mcp.CallToolResult, budget.Envelope, error) {
	requestID := generateRequestID()
	logger := s.logger.With("request_id", requestID, "tool", "fast_refs")

	if input.Symbol == "" {
		return nil, budget.Envelope{}, NewInvalidParamsError("symbol is required")
	}
	limit := clampLimit(input.Limit, 50, 1, 500)

	metadata, cleanup, err := s.storeFor(ctx, input.Workspace)
	if err != nil {
		return nil, budget.Envelope{}, MapError(err)
	}
	defer cleanup()

	// Resolve the symbol (and its naming variants) to IDs, then batch
	// the edge lookup: one query, not one per ID.
	var ids []string
	names := make(map[string]bool)
	for _, variant := range search.NamingVariants(input.Symbol) {
		names[variant] = true
		found, ferr := metadata.FindSymbolsByName(ctx, variant, 20)
		if ferr != nil {
			continue
		}
		for _, sym := range found {
			ids = append(ids, sym.ID)
		}
	}

	edges, err := metadata.GetRelationshipsToSymbols(ctx, ids)
	if err != nil {
		return nil, budget.Envelope{}, MapError(err)
	}
	// Name-based edges cover references whose target lives in another
	// file.
	for name := range names {
		named, nerr := metadata.GetRelationshipsToName(ctx, name)
		if nerr != nil {
			continue
		}
		edges = append(edges, named...)
	}

	fromIDs := make([]string, 0, len(edges))
	for _, e := range edges {
		fromIDs = append(fromIDs, e.FromSymbolID)
	}
	fromSymbols, err := metadata.GetSymbolsByIDs(ctx, fromIDs)
	if err != nil {
		return nil, budget.Envelope{}, MapError(err)
	}
	fromByID := make(map[string]*store.Symbol, len(fromSymbols))
	for _, sym := range fromSymbols {
		fromByID[sym.ID] = sym
	}

	env := budget.Envelope{Tool: "fast_refs", Success: true}
	seen := make(map[string]bool)
	for _, e := range edges {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		fromName := e.FromSymbolID
		if sym := fromByID[e.FromSymbolID]; sym != nil {
			fromName = sym.Name
		}
		env.Results = append(env.Results, RefResult{
			FromSymbol: fromName,
			FilePath:   e.FilePath,
			Line:       e.Line,
			Kind:       string(e.Kind),
			Confidence: e.Confidence,
		})
		if len(env.Results) >= limit {
			break
		}
	}

	env.Confidence = 0.9
	if len(env.Results) == 0 {
		env.Confidence = 0.2
		env.NextActions = append(env.NextActions, "fast_search the name to confirm it exists in this workspace")
	}

	logger.Info("fast_refs completed", "references", len(env.Results))
	return toolResult(env, renderRefResult)
}

// handleGetSymbols returns a file outline, structure-only by default.
func (s *Server) handleGetSymbols(ctx context.Context, _ *mcp.CallToolRequest, input GetSymbolsInput) (*mcp.CallToolResult, budget.Envelope, error) {
	if input.FilePath == "" {
		return nil, budget.Envelope{}, NewInvalidParamsError("file_path is required")
	}

	symbols, err := s.metadata.GetSymbolsByFile(ctx, filepath.ToSlash(input.FilePath))
	if err != nil {
		return nil, budget.Envelope{}, MapError(err)
	}

	if input.Target != "" {
		symbols = filterToTarget(symbols, input.Target)
	}
	if input.MaxDepth > 0 {
		symbols = filterToDepth(symbols, input.MaxDepth)
	}

	includeBody := input.IncludeBody || input.Mode == "full"
	minimal := input.Mode == "minimal"

	env := budget.Envelope{Tool: "get_symbols", Success: true, Confidence: 1.0}
	for _, sym := range symbols {
		r := symbolResult(sym, 0)
		if minimal {
			r.Signature = ""
			r.Doc = ""
		}
		if includeBody {
			r.Snippet = budget.TruncateCode(sym.CodeContext, 80)
		}
		env.Results = append(env.Results, r)
	}
	if len(symbols) == 0 {
		env.Confidence = 0.3
		env.NextActions = append(env.NextActions, "check the path is workspace-relative; manage_workspace(operation=index) if the file is new")
	}

	return toolResult(env, renderSymbolResult)
}

// handleTraceCallPath walks call edges breadth-first with a visited set,
// so cyclic call graphs terminate.
func (s *Server) handleTraceCallPath(ctx context.Context, _ *mcp.CallToolRequest, input TraceCallPathInput) (*mcp.CallToolResult, budget.Envelope, error) {
	if input.Symbol == "" {
		return nil, budget.Envelope{}, NewInvalidParamsError("symbol is required")
	}
	maxDepth := input.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	direction := input.Direction
	if direction == "" {
		direction = "both"
	}

	roots, err := s.metadata.FindSymbolsByName(ctx, input.Symbol, 10)
	if err != nil {
		return nil, budget.Envelope{}, MapError(err)
	}
	if input.CrossLanguage {
		for _, variant := range search.NamingVariants(input.Symbol)[1:] {
			more, merr := s.metadata.FindSymbolsByName(ctx, variant, 10)
			if merr == nil {
				roots = append(roots, more...)
			}
		}
	}

	env := budget.Envelope{Tool: "trace_call_path", Success: true, Confidence: 0.85}
	if len(roots) == 0 {
		env.Confidence = 0.1
		env.NextActions = append(env.NextActions, "fast_search the symbol name first")
		return toolResult(env, renderTraceNode)
	}

	var nodes []TraceNode
	if direction == "upstream" || direction == "both" {
		nodes = append(nodes, s.traceDirection(ctx, roots, "upstream", maxDepth, input.CrossLanguage)...)
	}
	if direction == "downstream" || direction == "both" {
		nodes = append(nodes, s.traceDirection(ctx, roots, "downstream", maxDepth, input.CrossLanguage)...)
	}
	for _, n := range nodes {
		env.Results = append(env.Results, n)
	}
	if len(nodes) == 0 {
		env.Confidence = 0.4
		env.NextActions = append(env.NextActions, "no call edges recorded; the symbol may be data or unreferenced")
	}

	return toolResult(env, renderTraceNode)
}

// traceDirection walks one direction of the call graph from the roots.
func (s *Server) traceDirection(ctx context.Context, roots []*store.Symbol, direction string, maxDepth int, crossLanguage bool) []TraceNode {
	type frontier struct {
		sym   *store.Symbol
		depth int
	}

	visited := make(map[string]bool)
	var queue []frontier
	for _, r := range roots {
		if !visited[r.ID] {
			visited[r.ID] = true
			queue = append(queue, frontier{sym: r, depth: 0})
		}
	}

	var nodes []TraceNode
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}

		var edges []*store.Relationship
		var err error
		if direction == "upstream" {
			edges, err = s.metadata.GetRelationshipsToSymbols(ctx, []string{cur.sym.ID})
			if err == nil && crossLanguage {
				named, nerr := s.metadata.GetRelationshipsToName(ctx, cur.sym.Name)
				if nerr == nil {
					edges = append(edges, named...)
				}
			}
		} else {
			edges, err = s.metadata.GetRelationshipsFromSymbol(ctx, cur.sym.ID)
		}
		if err != nil {
			continue
		}

		for _, e := range edges {
			if e.Kind != store.RelCalls && e.Kind != store.RelReferences {
				continue
			}
			var nextID string
			if direction == "upstream" {
				nextID = e.FromSymbolID
			} else {
				nextID = e.ToSymbolID
			}

			var next *store.Symbol
			if nextID != "" {
				if visited[nextID] {
					continue
				}
				found, ferr := s.metadata.GetSymbolsByIDs(ctx, []string{nextID})
				if ferr != nil || len(found) == 0 {
					continue
				}
				next = found[0]
			} else if direction == "downstream" && e.ToName != "" && crossLanguage {
				// Name-only edge: resolve across files/languages.
				found, ferr := s.metadata.FindSymbolsByName(ctx, e.ToName, 1)
				if ferr != nil || len(found) == 0 {
					continue
				}
				next = found[0]
				if visited[next.ID] {
					continue
				}
			} else {
				continue
			}

			visited[next.ID] = true
			nodes = append(nodes, TraceNode{
				Symbol:    next.Name,
				FilePath:  next.FilePath,
				Line:      next.StartLine,
				Language:  next.Language,
				Depth:     cur.depth + 1,
				Direction: direction,
				Via:       string(e.Kind),
			})
			queue = append(queue, frontier{sym: next, depth: cur.depth + 1})
		}
	}
	return nodes
}

// handleEditLines applies a line-precise edit.
func (s *Server) handleEditLines(ctx context.Context, _ *mcp.CallToolRequest, input EditLinesInput) (*mcp.CallToolResult, budget.Envelope, error) {
	if input.FilePath == "" {
		return nil, budget.Envelope{}, NewInvalidParamsError("file_path is required")
	}
	if input.StartLine < 1 {
		return nil, budget.Envelope{}, NewInvalidParamsError("start_line must be >= 1")
	}

	abs := filepath.Join(s.rootPath, filepath.FromSlash(input.FilePath))
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, budget.Envelope{}, MapError(err)
	}
	lines := strings.Split(string(data), "\n")

	endLine := input.EndLine
	if endLine == 0 {
		endLine = input.StartLine
	}
	if endLine < input.StartLine {
		return nil, budget.Envelope{}, NewInvalidParamsError("end_line must be >= start_line")
	}

	var edited []string
	switch input.Operation {
	case "insert":
		if input.StartLine > len(lines)+1 {
			return nil, budget.Envelope{}, NewInvalidParamsError("start_line beyond end of file")
		}
		at := input.StartLine - 1
		edited = append(edited, lines[:at]...)
		edited = append(edited, strings.Split(input.Content, "\n")...)
		edited = append(edited, lines[at:]...)
	case "replace":
		if endLine > len(lines) {
			return nil, budget.Envelope{}, NewInvalidParamsError("end_line beyond end of file")
		}
		edited = append(edited, lines[:input.StartLine-1]...)
		edited = append(edited, strings.Split(input.Content, "\n")...)
		edited = append(edited, lines[endLine:]...)
	case "delete":
		if endLine > len(lines) {
			return nil, budget.Envelope{}, NewInvalidParamsError("end_line beyond end of file")
		}
		edited = append(edited, lines[:input.StartLine-1]...)
		edited = append(edited, lines[endLine:]...)
	default:
		return nil, budget.Envelope{}, NewInvalidParamsError("operation must be insert, replace, or delete")
	}

	newContent := strings.Join(edited, "\n")
	env := budget.Envelope{Tool: "edit_lines", Success: true, Confidence: 1.0}
	env.Metadata = map[string]any{
		"operation":  input.Operation,
		"start_line": input.StartLine,
		"end_line":   endLine,
		"dry_run":    input.DryRun,
	}
	env.Results = append(env.Results, map[string]any{
		"preview": previewAround(edited, input.StartLine),
	})

	if !input.DryRun {
		if err := os.WriteFile(abs, []byte(newContent), 0o644); err != nil {
			return nil, budget.Envelope{}, MapError(err)
		}
		env.FilesModified = append(env.FilesModified, input.FilePath)
	}

	return toolResult(env, renderGeneric)
}

// handleFuzzyReplace replaces a whitespace-tolerant match of pattern.
func (s *Server) handleFuzzyReplace(ctx context.Context, _ *mcp.CallToolRequest, input FuzzyReplaceInput) (*mcp.CallToolResult, budget.Envelope, error) {
	if input.FilePath == "" || input.Pattern == "" {
		return nil, budget.Envelope{}, NewInvalidParamsError("file_path and pattern are required")
	}
	threshold := input.Threshold
	if threshold <= 0 {
		threshold = 0.8
	}

	abs := filepath.Join(s.rootPath, filepath.FromSlash(input.FilePath))
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, budget.Envelope{}, MapError(err)
	}
	lines := strings.Split(string(data), "\n")
	patternLines := strings.Split(input.Pattern, "\n")

	bestStart, bestScore := -1, 0.0
	for i := 0; i+len(patternLines) <= len(lines); i++ {
		score := windowSimilarity(lines[i:i+len(patternLines)], patternLines)
		if score > bestScore {
			bestScore = score
			bestStart = i
		}
	}

	env := budget.Envelope{Tool: "fuzzy_replace", Success: true}
	env.Metadata = map[string]any{
		"similarity": bestScore,
		"threshold":  threshold,
		"dry_run":    input.DryRun,
	}

	if bestStart < 0 || bestScore < threshold {
		env.Success = false
		env.Confidence = bestScore
		env.NextActions = append(env.NextActions,
			"lower the threshold or adjust the pattern",
			fmt.Sprintf("best candidate scored %.2f at line %d", bestScore, bestStart+1))
		return toolResult(env, renderGeneric)
	}

	var edited []string
	edited = append(edited, lines[:bestStart]...)
	edited = append(edited, strings.Split(input.Replacement, "\n")...)
	edited = append(edited, lines[bestStart+len(patternLines):]...)

	env.Confidence = bestScore
	env.Results = append(env.Results, map[string]any{
		"matched_line": bestStart + 1,
		"similarity":   bestScore,
		"preview":      previewAround(edited, bestStart+1),
	})

	if !input.DryRun {
		if err := os.WriteFile(abs, []byte(strings.Join(edited, "\n")), 0o644); err != nil {
			return nil, budget.Envelope{}, MapError(err)
		}
		env.FilesModified = append(env.FilesModified, input.FilePath)
	}

	return toolResult(env, renderGeneric)
}

// handleManageWorkspace is workspace lifecycle and introspection.
func (s *Server) handleManageWorkspace(ctx context.Context, _ *mcp.CallToolRequest, input ManageWorkspaceInput) (*mcp.CallToolResult, budget.Envelope, error) {
	env := budget.Envelope{Tool: "manage_workspace", Success: true, Confidence: 1.0}

	switch input.Operation {
	case "index":
		if s.indexFunc == nil {
			return nil, budget.Envelope{}, NewInvalidParamsError("indexing is not wired on this server")
		}
		if err := s.indexFunc(ctx, input.Force); err != nil {
			return nil, budget.Envelope{}, MapError(err)
		}
		env.Results = append(env.Results, map[string]any{"indexed": true, "workspace": s.workspace.ID})

	case "add":
		if input.Path == "" {
			return nil, budget.Envelope{}, NewInvalidParamsError("path is required for add")
		}
		ws, err := workspace.Open(input.Path)
		if err != nil {
			return nil, budget.Envelope{}, MapError(err)
		}
		if s.registry != nil {
			if err := s.registry.Touch(ws); err != nil {
				return nil, budget.Envelope{}, MapError(err)
			}
		}
		env.Results = append(env.Results, map[string]any{"workspace_id": ws.ID, "root": ws.Root})

	case "remove":
		if input.Workspace == "" {
			return nil, budget.Envelope{}, NewInvalidParamsError("workspace is required for remove")
		}
		if s.registry != nil {
			entry, err := s.registry.Get(input.Workspace)
			if err != nil {
				return nil, budget.Envelope{}, MapError(err)
			}
			if entry != nil {
				_ = os.RemoveAll(filepath.Join(entry.RootPath, ".julie", "indexes", entry.WorkspaceID))
			}
			if err := s.registry.Remove(input.Workspace); err != nil {
				return nil, budget.Envelope{}, MapError(err)
			}
		}
		env.Results = append(env.Results, map[string]any{"removed": input.Workspace})

	case "list", "recent":
		if s.registry == nil {
			break
		}
		var entries []*workspace.Entry
		var err error
		if input.Operation == "recent" {
			entries, err = s.registry.Recent(5)
		} else {
			entries, err = s.registry.List()
		}
		if err != nil {
			return nil, budget.Envelope{}, MapError(err)
		}
		for _, e := range entries {
			env.Results = append(env.Results, map[string]any{
				"workspace_id": e.WorkspaceID,
				"display_name": e.DisplayName,
				"root":         e.RootPath,
				"last_indexed": e.LastIndexed,
				"symbols":      e.Stats.SymbolCount,
			})
		}

	case "health":
		health := map[string]any{
			"workspace_id":     s.workspace.ID,
			"sqlite_fts_ready": s.workspace.SQLiteFTSReady(),
			"semantic_ready":   s.workspace.SemanticReady(),
		}
		if err := s.metadata.IntegrityCheck(ctx); err != nil {
			health["integrity"] = err.Error()
			env.Confidence = 0.3
		} else {
			health["integrity"] = "ok"
		}
		env.Results = append(env.Results, health)

	case "stats":
		metadata, cleanup, err := s.storeFor(ctx, input.Workspace)
		if err != nil {
			return nil, budget.Envelope{}, MapError(err)
		}
		defer cleanup()

		paths, err := metadata.ListFilePaths(ctx)
		if err != nil {
			return nil, budget.Envelope{}, MapError(err)
		}
		symbols, err := metadata.CountSymbols(ctx)
		if err != nil {
			return nil, budget.Envelope{}, MapError(err)
		}
		env.Results = append(env.Results, map[string]any{
			"files":   len(paths),
			"symbols": symbols,
		})

	default:
		return nil, budget.Envelope{}, NewInvalidParamsError(
			"operation must be one of index, add, remove, list, recent, health, stats")
	}

	return toolResult(env, renderGeneric)
}

// isDefinitionKind filters out file-content pseudo-symbols from goto
// results.
func isDefinitionKind(kind store.SymbolKind) bool {
	return kind != store.KindFileContent
}

// rankDefinitions orders goto candidates: exact name first, then same
// directory as the context file, then shortest path.
func rankDefinitions(matches []*store.Symbol, name, contextFile string) {
	contextDir := filepath.ToSlash(filepath.Dir(contextFile))
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if (a.Name == name) != (b.Name == name) {
			return a.Name == name
		}
		if contextFile != "" {
			aNear := strings.HasPrefix(a.FilePath, contextDir)
			bNear := strings.HasPrefix(b.FilePath, contextDir)
			if aNear != bNear {
				return aNear
			}
		}
		return len(a.FilePath) < len(b.FilePath)
	})
}

// filterToTarget keeps the named symbol and everything it contains.
func filterToTarget(symbols []*store.Symbol, target string) []*store.Symbol {
	var root *store.Symbol
	for _, s := range symbols {
		if s.Name == target {
			root = s
			break
		}
	}
	if root == nil {
		return nil
	}

	children := make(map[string][]*store.Symbol)
	for _, s := range symbols {
		if s.ParentID != "" {
			children[s.ParentID] = append(children[s.ParentID], s)
		}
	}

	var out []*store.Symbol
	var walk func(*store.Symbol)
	walk = func(s *store.Symbol) {
		out = append(out, s)
		for _, c := range children[s.ID] {
			walk(c)
		}
	}
	walk(root)
	return out
}

// filterToDepth keeps symbols within maxDepth containment levels.
func filterToDepth(symbols []*store.Symbol, maxDepth int) []*store.Symbol {
	byID := make(map[string]*store.Symbol, len(symbols))
	for _, s := range symbols {
		byID[s.ID] = s
	}
	depthOf := func(s *store.Symbol) int {
		depth := 0
		for cur := s; cur.ParentID != ""; {
			parent, ok := byID[cur.ParentID]
			if !ok {
				break
			}
			depth++
			cur = parent
			if depth > len(symbols) {
				break // defensive against parent cycles in bad data
			}
		}
		return depth
	}

	var out []*store.Symbol
	for _, s := range symbols {
		if depthOf(s) < maxDepth {
			out = append(out, s)
		}
	}
	return out
}

// windowSimilarity scores how closely a window of file lines matches the
// pattern lines, whitespace-insensitively.
func windowSimilarity(window, pattern []string) float64 {
	if len(pattern) == 0 {
		return 0
	}
	total := 0.0
	for i := range pattern {
		total += lineSimilarity(strings.TrimSpace(window[i]), strings.TrimSpace(pattern[i]))
	}
	return total / float64(len(pattern))
}

// lineSimilarity is 1 - normalized edit distance.
func lineSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = minInt(minInt(cur[j-1]+1, prev[j]+1), prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}

	max := la
	if lb > max {
		max = lb
	}
	return 1 - float64(prev[lb])/float64(max)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// previewAround returns a short window of the edited lines for display.
func previewAround(lines []string, line int) string {
	lo := line - 3
	if lo < 0 {
		lo = 0
	}
	hi := line + 3
	if hi > len(lines) {
		hi = len(lines)
	}
	return strings.Join(lines[lo:hi], "\n")
}
