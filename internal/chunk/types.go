// Package chunk turns source files into the symbols and relationships
// the index stores: tree-sitter parsing through a shared pool, per-node
// symbol extraction with text-scanning fallback, markdown section and
// config-key extraction, and the embedding-text recipe.
package chunk

// SymbolType represents the kind of code symbol
type SymbolType string

const (
	SymbolTypeFunction    SymbolType = "function"
	SymbolTypeClass       SymbolType = "class"
	SymbolTypeInterface   SymbolType = "interface"
	SymbolTypeType        SymbolType = "type" // type alias; see store.KindTypeAlias
	SymbolTypeVariable    SymbolType = "variable"
	SymbolTypeConstant    SymbolType = "constant"
	SymbolTypeMethod      SymbolType = "method"
	SymbolTypeStruct      SymbolType = "struct"
	SymbolTypeEnum        SymbolType = "enum"
	SymbolTypeEnumVariant SymbolType = "enum_variant"
	SymbolTypeTrait       SymbolType = "trait"
	SymbolTypeNamespace   SymbolType = "namespace"
	SymbolTypeField       SymbolType = "field"
	SymbolTypeModule      SymbolType = "module"
	SymbolTypeDocSection  SymbolType = "doc_section"
	SymbolTypeConfigKey   SymbolType = "config_key"
	SymbolTypeFileContent SymbolType = "file_content"
	SymbolTypeOther       SymbolType = "other"
)

// Symbol represents a code symbol extracted from parsing. Fields beyond
// Name/Type/StartLine/EndLine/Signature/DocComment are best-effort: not
// every language/extractor populates QualifiedName, columns, or context.
type Symbol struct {
	Name          string
	QualifiedName string // dotted/namespaced form; defaults to Name when unknown
	Type          SymbolType
	StartLine     int
	EndLine       int
	StartCol      int
	EndCol        int
	Signature     string
	DocComment    string
	Visibility    string // public/private/protected/internal, or "" when the language/extractor doesn't track it
	CodeContext   string // small surrounding window, for embedding/display
}

// Tree represents a parsed AST
type Tree struct {
	Root     *Node
	Source   []byte
	Language string

	// HasError is true when any ERROR node exists in the tree (broken
	// editor state, mid-edit saves). Extraction tolerates these but
	// supplements the AST walk with text scanning.
	HasError bool
}

// Node represents a node in the AST
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds configuration for a supported language
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that indicate function declarations
	FunctionTypes []string

	// Node types that indicate class/struct definitions
	ClassTypes []string

	// Node types that indicate interface definitions
	InterfaceTypes []string

	// Node types that indicate method definitions
	MethodTypes []string

	// Node types that indicate type definitions
	TypeDefTypes []string

	// Node types that indicate constant declarations
	ConstantTypes []string

	// Node types that indicate variable declarations
	VariableTypes []string

	// Node type for name identifier
	NameField string
}
