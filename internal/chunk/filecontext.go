package chunk

import "strings"

// FileContextExtractor recovers a file's framing declarations - package
// clause, imports, includes - from its parse tree. The result is prepended
// to top-level symbols' code context so display and embedding input carry
// where a symbol lives, not just what it says.
type FileContextExtractor struct{}

// NewFileContextExtractor creates a file-context extractor.
func NewFileContextExtractor() *FileContextExtractor {
	return &FileContextExtractor{}
}

// contextNodeTypes lists, per language, the top-level node types that
// frame a file. Order is preserved in the output.
var contextNodeTypes = map[string][]string{
	"go":         {"package_clause", "import_declaration"},
	"typescript": {"import_statement"},
	"tsx":        {"import_statement"},
	"javascript": {"import_statement"},
	"jsx":        {"import_statement"},
	"python":     {"import_statement", "import_from_statement"},
	"rust":       {"use_declaration", "mod_item", "extern_crate_declaration"},
	"java":       {"package_declaration", "import_declaration"},
	"c":          {"preproc_include"},
	"cpp":        {"preproc_include", "using_declaration"},
	"csharp":     {"using_directive", "namespace_declaration"},
	"php":        {"namespace_definition", "namespace_use_declaration"},
	"ruby":       {"call"}, // require/require_relative sit as bare calls
	"kotlin":     {"package_header", "import_list"},
}

// maxContextDeclarations caps how many framing declarations are kept;
// beyond this the import block dominates the symbol's own text.
const maxContextDeclarations = 12

// Extract returns the file's framing declarations joined by blank lines,
// or "" for languages without registered context shapes.
func (c *FileContextExtractor) Extract(tree *Tree, source []byte, language string) string {
	if tree == nil || tree.Root == nil {
		return ""
	}
	types := contextNodeTypes[language]
	if len(types) == 0 {
		return ""
	}

	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var parts []string
	for _, node := range tree.Root.Children {
		if !wanted[node.Type] {
			continue
		}
		text := strings.TrimSpace(node.GetContent(source))
		if text == "" {
			continue
		}
		if language == "ruby" && !strings.HasPrefix(text, "require") {
			continue
		}
		parts = append(parts, text)
		if len(parts) >= maxContextDeclarations {
			break
		}
	}

	return strings.Join(parts, "\n\n")
}

// combineContextAndContent prepends the file context to a symbol's own
// content, separated by a blank line.
func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	if rawContent == "" {
		return context
	}
	return context + "\n\n" + rawContent
}
