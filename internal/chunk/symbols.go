package chunk

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"github.com/juliecode/julie/internal/store"
)

// codeContextLines is the window of surrounding source captured per symbol
// for display and embedding input.
const codeContextLines = 20

// FileExtractor turns one file into the Symbol and Relationship rows the
// index stores. AST languages go through the parser pool and the
// tree-walking extractor; languages without a grammar, and files whose
// parse produced nothing usable, fall back to text scanning. Markdown,
// JSON, and TOML get structure-specific extraction (headings, top-level
// keys).
type FileExtractor struct {
	pool     *ParserPool
	symbols  *SymbolExtractor
	fallback *FallbackExtractor
	filectx  *FileContextExtractor
	markdown *MarkdownParser
}

// NewFileExtractor creates an extractor sharing the given parser pool.
func NewFileExtractor(pool *ParserPool) *FileExtractor {
	return &FileExtractor{
		pool:     pool,
		symbols:  NewSymbolExtractorWithRegistry(pool.Registry()),
		fallback: NewFallbackExtractor(),
		filectx:  NewFileContextExtractor(),
		markdown: NewMarkdownParser(),
	}
}

// ExtractResult is everything the index stores for one file.
type ExtractResult struct {
	File          *store.File
	Symbols       []*store.Symbol
	Relationships []*store.Relationship
}

// Extract produces symbol and relationship rows for one file. relPath must
// already be canonical (workspace-relative, Unix-style); the caller
// resolves it via langid.Canonicalize. Parse failures degrade to the text
// fallback and never return an error: a partial index beats a skipped
// file. Output is deterministic for identical input.
func (e *FileExtractor) Extract(ctx context.Context, workspaceID, relPath, language string, content []byte, modTime time.Time) (*ExtractResult, error) {
	now := time.Now().UTC()
	res := &ExtractResult{
		File: &store.File{
			Path:         relPath,
			Language:     language,
			ContentHash:  HashContent(content),
			SizeBytes:    int64(len(content)),
			LastModified: modTime,
			Content:      string(content),
		},
	}

	var symbols []*store.Symbol
	var rels []*store.Relationship
	var fileContext string

	switch language {
	case "markdown":
		symbols = e.extractMarkdownSections(workspaceID, relPath, content)
	case "json":
		symbols = extractJSONKeys(workspaceID, relPath, content)
	case "toml":
		symbols = extractTOMLKeys(workspaceID, relPath, content)
	default:
		symbols, rels, fileContext = e.extractCode(ctx, workspaceID, relPath, language, content)
	}

	lines := strings.Split(string(content), "\n")
	for _, s := range symbols {
		s.Language = language
		s.ContentHash = res.File.ContentHash
		s.LastIndexed = now
		if s.CodeContext == "" {
			s.CodeContext = contextWindow(lines, s.StartLine, s.EndLine)
		}
	}
	linkContainment(symbols)

	// File-level context (package clause, imports) situates top-level
	// symbols for display and embedding input.
	if fileContext != "" {
		for _, s := range symbols {
			if s.ParentID == "" {
				s.CodeContext = combineContextAndContent(fileContext, s.CodeContext)
			}
		}
	}
	rels = append(rels, ContainmentEdges(symbols, relPath)...)

	res.Symbols = symbols
	res.Relationships = rels
	res.File.SymbolCount = len(symbols)
	return res, nil
}

// extractCode handles AST languages with text-scanning fallback. The
// third return is the file-level context (package clause, imports) the
// chunker recovers for languages it understands.
func (e *FileExtractor) extractCode(ctx context.Context, workspaceID, relPath, language string, content []byte) ([]*store.Symbol, []*store.Relationship, string) {
	var raw []*Symbol
	var tree *Tree

	if e.pool.Supported(language) {
		var err error
		tree, err = e.pool.Parse(ctx, content, language)
		if err == nil && tree != nil {
			raw = e.symbols.Extract(tree, content)
		}
	}
	if len(raw) == 0 {
		// No grammar, failed parse, or a tree so broken nothing came
		// out. Text scanning still recovers declarations.
		raw = e.fallback.Extract(content, language)
	} else if tree != nil && tree.HasError {
		// Partial tree: the AST walk found what it could; text scanning
		// recovers declarations stranded inside ERROR regions.
		raw = mergeSymbols(raw, e.fallback.Extract(content, language))
	}

	symbols := make([]*store.Symbol, 0, len(raw))
	for _, r := range raw {
		symbols = append(symbols, convertSymbol(workspaceID, relPath, r))
	}

	var fileContext string
	if tree != nil {
		fileContext = e.filectx.Extract(tree, content, language)
	}

	var rels []*store.Relationship
	if tree != nil {
		rels = extractRelationships(workspaceID, relPath, tree, content, symbols)
	}
	return symbols, rels, fileContext
}

// mergeSymbols appends fallback-recovered symbols that the AST walk
// missed, keyed by name and start line.
func mergeSymbols(primary, recovered []*Symbol) []*Symbol {
	seen := make(map[string]bool, len(primary))
	for _, s := range primary {
		seen[s.Name+"\x00"+itoaLine(s.StartLine)] = true
	}
	for _, s := range recovered {
		if !seen[s.Name+"\x00"+itoaLine(s.StartLine)] {
			primary = append(primary, s)
		}
	}
	return primary
}

// convertSymbol maps the extractor's language-neutral symbol onto the
// stored shape, assigning the stable ID.
func convertSymbol(workspaceID, relPath string, r *Symbol) *store.Symbol {
	kind := kindForSymbolType(r.Type)
	qualified := r.QualifiedName
	if qualified == "" {
		qualified = r.Name
	}
	return &store.Symbol{
		ID:            SymbolID(workspaceID, relPath, string(kind), qualified, r.StartLine),
		Name:          r.Name,
		QualifiedName: qualified,
		Kind:          kind,
		FilePath:      relPath,
		StartLine:     r.StartLine,
		EndLine:       maxInt(r.EndLine, r.StartLine),
		StartCol:      r.StartCol,
		EndCol:        r.EndCol,
		Signature:     r.Signature,
		DocComment:    r.DocComment,
		Visibility:    store.Visibility(r.Visibility),
		CodeContext:   r.CodeContext,
	}
}

// kindForSymbolType maps extractor symbol types to stored kinds. The two
// vocabularies coincide except for the extractor's bare "type".
func kindForSymbolType(t SymbolType) store.SymbolKind {
	if t == SymbolTypeType {
		return store.KindTypeAlias
	}
	return store.SymbolKind(t)
}

// SymbolID derives the stable symbol ID. It folds in workspace, path,
// kind, qualified name, and start line, so unrelated edits elsewhere in
// the file leave the ID unchanged and cross-references survive
// re-indexing.
func SymbolID(workspaceID, relPath, kind, qualifiedName string, startLine int) string {
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d", workspaceID, relPath, kind, qualifiedName, startLine)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// RelationshipID derives a stable edge ID.
func RelationshipID(fromID, to, kind string, line int) string {
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d", fromID, to, kind, line)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// HashContent returns the hex BLAKE3 digest stored as a file's
// content_hash.
func HashContent(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// callNodeTypes are tree-sitter node types that represent an invocation,
// across the registered grammars.
var callNodeTypes = []string{
	"call_expression",        // go, js/ts, rust, c, cpp
	"call",                   // python, ruby
	"method_invocation",      // java
	"invocation_expression",  // csharp
	"function_call_expression", // php
	"function_call",          // lua, sql
}

// importNodeTypes are node types that represent a module import.
var importNodeTypes = []string{
	"import_declaration",        // go, java, ts
	"import_statement",          // python, js
	"import_from_statement",     // python
	"use_declaration",           // rust
	"preproc_include",           // c, cpp
	"using_directive",           // csharp
	"namespace_use_declaration", // php
}

// extractRelationships walks the parse tree for call and import edges.
// Calls resolve to a same-file symbol ID when the callee name matches one;
// otherwise the edge carries the name for query-time resolution. Edges
// always originate from the innermost symbol enclosing the call site.
func extractRelationships(workspaceID, relPath string, tree *Tree, source []byte, symbols []*store.Symbol) []*store.Relationship {
	if tree == nil || tree.Root == nil || len(symbols) == 0 {
		return nil
	}

	byName := make(map[string]*store.Symbol, len(symbols))
	for _, s := range symbols {
		if byName[s.Name] == nil {
			byName[s.Name] = s
		}
	}

	callTypes := make(map[string]bool, len(callNodeTypes))
	for _, t := range callNodeTypes {
		callTypes[t] = true
	}
	importTypes := make(map[string]bool, len(importNodeTypes))
	for _, t := range importNodeTypes {
		importTypes[t] = true
	}

	var rels []*store.Relationship
	seen := make(map[string]bool)

	tree.Root.Walk(func(n *Node) bool {
		line := int(n.StartPoint.Row) + 1

		switch {
		case callTypes[n.Type]:
			callee := calleeName(n, source)
			if callee == "" {
				return true
			}
			from := enclosingSymbol(symbols, line)
			if from == nil || from.Name == callee {
				return true
			}
			rel := &store.Relationship{
				FromSymbolID: from.ID,
				ToName:       callee,
				Kind:         store.RelCalls,
				FilePath:     relPath,
				Line:         line,
				Confidence:   0.7,
			}
			if target := byName[callee]; target != nil {
				rel.ToSymbolID = target.ID
				rel.Confidence = 0.95
			}
			rel.ID = RelationshipID(rel.FromSymbolID, rel.ToSymbolID+rel.ToName, string(rel.Kind), line)
			if !seen[rel.ID] {
				seen[rel.ID] = true
				rels = append(rels, rel)
			}

		case importTypes[n.Type]:
			target := importTarget(n, source)
			if target == "" {
				return true
			}
			from := enclosingSymbol(symbols, line)
			if from == nil {
				from = symbols[0]
			}
			rel := &store.Relationship{
				FromSymbolID: from.ID,
				ToName:       target,
				Kind:         store.RelImports,
				FilePath:     relPath,
				Line:         line,
				Confidence:   0.9,
			}
			rel.ID = RelationshipID(rel.FromSymbolID, rel.ToName, string(rel.Kind), line)
			if !seen[rel.ID] {
				seen[rel.ID] = true
				rels = append(rels, rel)
			}
			return false
		}
		return true
	})

	return rels
}

// calleeName extracts the trailing identifier of a call's function
// expression: f(...) -> f, pkg.F(...) -> F, obj.method(...) -> method.
func calleeName(call *Node, source []byte) string {
	if len(call.Children) == 0 {
		return ""
	}
	fn := call.Children[0]

	// Java's method_invocation keeps the name as a direct identifier
	// child after the object; take the last identifier-ish child before
	// the argument list.
	var last *Node
	fn.Walk(func(n *Node) bool {
		switch n.Type {
		case "identifier", "field_identifier", "property_identifier", "name", "attribute_identifier":
			last = n
		case "argument_list", "arguments":
			return false
		}
		return true
	})
	if last == nil {
		return ""
	}
	name := last.GetContent(source)
	if !identifierPattern.MatchString(name) {
		return ""
	}
	return name
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// importTarget extracts the imported path or module name.
func importTarget(n *Node, source []byte) string {
	text := strings.TrimSpace(n.GetContent(source))
	for _, prefix := range []string{"import", "use", "using", "#include", "from"} {
		text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
	}
	text = strings.Trim(text, `"'<>();`)
	if i := strings.IndexAny(text, "\n"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	if len(text) > 120 {
		return ""
	}
	return text
}

// enclosingSymbol returns the innermost symbol whose span covers line.
func enclosingSymbol(symbols []*store.Symbol, line int) *store.Symbol {
	var best *store.Symbol
	for _, s := range symbols {
		if s.StartLine <= line && line <= s.EndLine {
			if best == nil || s.EndLine-s.StartLine < best.EndLine-best.StartLine {
				best = s
			}
		}
	}
	return best
}

// linkContainment fills ParentID by line-span nesting: the innermost
// strictly-larger span wins.
func linkContainment(symbols []*store.Symbol) {
	for _, child := range symbols {
		var parent *store.Symbol
		for _, cand := range symbols {
			if cand == child {
				continue
			}
			if cand.StartLine <= child.StartLine && child.EndLine <= cand.EndLine &&
				(cand.EndLine-cand.StartLine) > (child.EndLine-child.StartLine) {
				if parent == nil || (cand.EndLine-cand.StartLine) < (parent.EndLine-parent.StartLine) {
					parent = cand
				}
			}
		}
		if parent != nil {
			child.ParentID = parent.ID
			if child.QualifiedName == child.Name {
				child.QualifiedName = parent.Name + "." + child.Name
			}
		}
	}
}

// ContainmentEdges materializes contains relationships from ParentID
// links. Kept separate from linkContainment so callers that only need
// parent pointers skip edge construction.
func ContainmentEdges(symbols []*store.Symbol, relPath string) []*store.Relationship {
	var rels []*store.Relationship
	for _, s := range symbols {
		if s.ParentID == "" {
			continue
		}
		rel := &store.Relationship{
			FromSymbolID: s.ParentID,
			ToSymbolID:   s.ID,
			Kind:         store.RelContains,
			FilePath:     relPath,
			Line:         s.StartLine,
			Confidence:   1.0,
		}
		rel.ID = RelationshipID(rel.FromSymbolID, rel.ToSymbolID, string(rel.Kind), s.StartLine)
		rels = append(rels, rel)
	}
	return rels
}

// extractMarkdownSections turns the heading hierarchy into doc_section
// symbols, delegating section parsing to the markdown chunker. Each
// heading's qualified name is its path through the hierarchy; DocComment
// carries the first paragraph under the heading so headings with prose
// become embeddable and bare ones stay empty.
func (e *FileExtractor) extractMarkdownSections(workspaceID, relPath string, content []byte) []*store.Symbol {
	lines := strings.Split(string(content), "\n")
	sections := e.markdown.parseSections(string(content))
	totalLines := len(lines)

	var symbols []*store.Symbol
	byPath := make(map[string]*store.Symbol, len(sections))

	// YAML frontmatter: surface the document title as its own section so
	// metadata-titled documents stay findable without an H1.
	if start, end := frontmatterBounds(lines); end > start {
		for i := start; i < end; i++ {
			trimmed := strings.TrimSpace(lines[i])
			if title, ok := strings.CutPrefix(trimmed, "title:"); ok {
				title = strings.Trim(strings.TrimSpace(title), `"'`)
				if title == "" {
					break
				}
				symbols = append(symbols, &store.Symbol{
					ID:            SymbolID(workspaceID, relPath, string(store.KindDocSection), title, i+1),
					Name:          title,
					QualifiedName: title,
					Kind:          store.KindDocSection,
					FilePath:      relPath,
					StartLine:     i + 1,
					EndLine:       end,
					DocComment:    title,
				})
				break
			}
		}
	}

	for i, sec := range sections {
		if sec.headerTitle == "" {
			continue
		}
		startLine := sec.startLine + 1 // sections are 0-indexed

		endLine := totalLines
		if i+1 < len(sections) {
			endLine = sections[i+1].startLine
		}
		if endLine < startLine {
			endLine = startLine
		}

		parentID := ""
		if idx := strings.LastIndex(sec.headerPath, " > "); idx > 0 {
			if parent := byPath[sec.headerPath[:idx]]; parent != nil {
				parentID = parent.ID
			}
		}

		sym := &store.Symbol{
			ID:            SymbolID(workspaceID, relPath, string(store.KindDocSection), sec.headerPath, startLine),
			Name:          sec.headerTitle,
			QualifiedName: sec.headerPath,
			Kind:          store.KindDocSection,
			FilePath:      relPath,
			StartLine:     startLine,
			EndLine:       endLine,
			ParentID:      parentID,
			DocComment:    firstParagraph(sec.content),
		}
		byPath[sec.headerPath] = sym
		symbols = append(symbols, sym)
	}
	return symbols
}

// firstParagraph returns the first non-empty prose block of a section's
// content, skipping fenced code.
func firstParagraph(content string) string {
	var para []string
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if trimmed == "" {
			if len(para) > 0 {
				break
			}
			continue
		}
		para = append(para, trimmed)
		if len(para) >= 5 {
			break
		}
	}
	return strings.Join(para, " ")
}

// extractJSONKeys emits config_key symbols for each top-level key of a
// JSON object. Memory records under .memories/ get their full enclosing
// object as CodeContext so the embedding-text recipe can read type and
// description out of it.
func extractJSONKeys(workspaceID, relPath string, content []byte) []*store.Symbol {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(content, &obj); err != nil {
		return nil
	}

	isMemory := strings.Contains(relPath, ".memories/")
	lines := strings.Split(string(content), "\n")

	var symbols []*store.Symbol
	for key, raw := range obj {
		line := lineOfJSONKey(lines, key)
		sym := &store.Symbol{
			ID:            SymbolID(workspaceID, relPath, string(kindForConfigFile(isMemory)), key, line),
			Name:          key,
			QualifiedName: key,
			Kind:          kindForConfigFile(isMemory),
			FilePath:      relPath,
			StartLine:     line,
			EndLine:       line,
			Signature:     compactJSONValue(raw),
		}
		if isMemory {
			sym.CodeContext = string(content)
		}
		symbols = append(symbols, sym)
	}

	sortSymbolsByLine(symbols)
	return symbols
}

// kindForConfigFile: memory-record fields index as doc sections (they are
// prose records, and the embedding recipe treats them specially); ordinary
// JSON keys are config keys.
func kindForConfigFile(isMemory bool) store.SymbolKind {
	if isMemory {
		return store.KindDocSection
	}
	return store.KindConfigKey
}

// lineOfJSONKey finds the 1-indexed line where a top-level key appears.
func lineOfJSONKey(lines []string, key string) int {
	needle := `"` + key + `"`
	for i, line := range lines {
		if strings.Contains(line, needle) {
			return i + 1
		}
	}
	return 1
}

// compactJSONValue renders a raw value for the signature column, truncated.
func compactJSONValue(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		s = str
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

var (
	tomlTablePattern = regexp.MustCompile(`^\s*\[\[?([^\]]+)\]\]?\s*(?:#.*)?$`)
	tomlKeyPattern   = regexp.MustCompile(`^([A-Za-z0-9_.-]+)\s*=`)
)

// extractTOMLKeys emits config_key symbols for tables and top-level keys.
func extractTOMLKeys(workspaceID, relPath string, content []byte) []*store.Symbol {
	lines := strings.Split(string(content), "\n")

	var symbols []*store.Symbol
	currentTable := ""
	for i, line := range lines {
		if m := tomlTablePattern.FindStringSubmatch(line); m != nil {
			currentTable = strings.TrimSpace(m[1])
			symbols = append(symbols, &store.Symbol{
				ID:            SymbolID(workspaceID, relPath, string(store.KindConfigKey), currentTable, i+1),
				Name:          currentTable,
				QualifiedName: currentTable,
				Kind:          store.KindConfigKey,
				FilePath:      relPath,
				StartLine:     i + 1,
				EndLine:       i + 1,
				Signature:     strings.TrimSpace(line),
			})
			continue
		}
		if currentTable != "" {
			continue // nested keys belong to their table symbol
		}
		if m := tomlKeyPattern.FindStringSubmatch(line); m != nil {
			key := m[1]
			symbols = append(symbols, &store.Symbol{
				ID:            SymbolID(workspaceID, relPath, string(store.KindConfigKey), key, i+1),
				Name:          key,
				QualifiedName: key,
				Kind:          store.KindConfigKey,
				FilePath:      relPath,
				StartLine:     i + 1,
				EndLine:       i + 1,
				Signature:     strings.TrimSpace(line),
			})
		}
	}
	return symbols
}

// contextWindow extracts up to codeContextLines lines centered on the
// symbol's span.
func contextWindow(lines []string, startLine, endLine int) string {
	if len(lines) == 0 || startLine < 1 {
		return ""
	}
	lo := startLine - 1
	hi := endLine
	if hi > len(lines) {
		hi = len(lines)
	}
	if hi-lo > codeContextLines {
		hi = lo + codeContextLines
	} else {
		// Pad symmetrically up to the window size.
		pad := (codeContextLines - (hi - lo)) / 2
		lo -= pad
		if lo < 0 {
			lo = 0
		}
		hi += pad
		if hi > len(lines) {
			hi = len(lines)
		}
	}
	return strings.Join(lines[lo:hi], "\n")
}

func sortSymbolsByLine(symbols []*store.Symbol) {
	for i := 1; i < len(symbols); i++ {
		for j := i; j > 0 && symbols[j].StartLine < symbols[j-1].StartLine; j-- {
			symbols[j], symbols[j-1] = symbols[j-1], symbols[j]
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
