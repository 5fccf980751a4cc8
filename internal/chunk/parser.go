package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// maxParseBytes bounds what a single parse will accept. Anything larger
// is almost certainly generated or binary-ish content the scanner should
// have excluded, and tree-sitter's memory use grows with input size.
const maxParseBytes = 10 << 20

// Parser wraps one tree-sitter parser instance. A Parser is not safe for
// concurrent use; the ParserPool lends instances out one goroutine at a
// time.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser creates a new parser with default language registry
func NewParser() *Parser {
	return NewParserWithRegistry(DefaultRegistry())
}

// NewParserWithRegistry creates a new parser with a custom language registry
func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
	}
}

// Parse parses source code and returns the converted tree. The returned
// Tree is plain Go data, independent of the parser and of tree-sitter's
// C-side memory, so it stays valid after the parser is returned to the
// pool or closed.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	if len(source) > maxParseBytes {
		return nil, fmt.Errorf("parse %s: source exceeds %d bytes", language, maxParseBytes)
	}

	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("parse: no grammar registered for language %q", language)
	}

	// Set language (smacker bindings don't return error)
	p.parser.SetLanguage(tsLang)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", language, err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("parse %s: nil tree", language)
	}

	root, hasError := convertTree(tsTree.RootNode())

	return &Tree{
		Root:     root,
		Source:   source,
		Language: language,
		HasError: hasError,
	}, nil
}

// Close releases parser resources
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// convertTree copies a tree-sitter tree into plain Nodes iteratively
// (deeply nested sources would blow the stack recursively) and reports
// whether any ERROR node exists anywhere in it.
func convertTree(tsRoot *sitter.Node) (*Node, bool) {
	if tsRoot == nil {
		return nil, false
	}

	root := shallowNode(tsRoot)
	hasError := root.HasError

	type frame struct {
		ts   *sitter.Node
		node *Node
	}
	stack := []frame{{ts: tsRoot, node: root}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		count := int(f.ts.ChildCount())
		if count == 0 {
			continue
		}
		f.node.Children = make([]*Node, 0, count)
		for i := 0; i < count; i++ {
			tsChild := f.ts.Child(i)
			if tsChild == nil {
				continue
			}
			child := shallowNode(tsChild)
			if child.HasError {
				hasError = true
			}
			f.node.Children = append(f.node.Children, child)
			stack = append(stack, frame{ts: tsChild, node: child})
		}
	}

	return root, hasError
}

// shallowNode copies one node's own fields, children excluded.
func shallowNode(tsNode *sitter.Node) *Node {
	return &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    tsNode.EndPoint().Row,
			Column: tsNode.EndPoint().Column,
		},
		HasError: tsNode.HasError(),
	}
}

// GetContent returns the source content for a node
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType finds the first child with the given type
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// FindChildrenByType finds all children with the given type (non-recursive)
func (n *Node) FindChildrenByType(nodeType string) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Type == nodeType {
			result = append(result, child)
		}
	}
	return result
}

// FindAllByType recursively finds all nodes with the given type
func (n *Node) FindAllByType(nodeType string) []*Node {
	var result []*Node
	n.Walk(func(node *Node) bool {
		if node.Type == nodeType {
			result = append(result, node)
		}
		return true
	})
	return result
}

// Walk traverses the tree depth-first, pre-order, calling fn for each
// node. Returning false prunes the node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
