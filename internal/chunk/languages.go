package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/lua"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/sql"
	"github.com/smacker/go-tree-sitter/toml"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry manages supported languages and their configurations
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig // keyed by language name
	extToLang   map[string]string          // extension -> language name
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a new registry with default language configurations
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	// Register default languages
	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()
	r.registerRust()
	r.registerC()
	r.registerCpp()
	r.registerJava()
	r.registerCSharp()
	r.registerPHP()
	r.registerRuby()
	r.registerBash()
	r.registerHTML()
	r.registerCSS()
	r.registerSQL()
	r.registerTOML()
	r.registerKotlin()
	r.registerLua()

	return r
}

// GetByExtension returns the language configuration for a file extension
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Normalize extension
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}

	config, ok := r.configs[langName]
	return config, ok
}

// GetByName returns the language configuration by name
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the tree-sitter language for a language name
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions returns all supported file extensions
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

// registerLanguage adds a language to the registry
func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang

	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	config := &LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		FunctionTypes: []string{
			"function_declaration",
		},
		MethodTypes: []string{
			"method_declaration",
		},
		ClassTypes: []string{}, // Go doesn't have classes
		TypeDefTypes: []string{
			"type_declaration",
		},
		InterfaceTypes: []string{}, // Go interfaces are type declarations
		ConstantTypes: []string{
			"const_declaration",
		},
		VariableTypes: []string{
			"var_declaration",
		},
		NameField: "name",
	}

	r.registerLanguage(config, golang.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	// TypeScript
	tsConfig := &LanguageConfig{
		Name:       "typescript",
		Extensions: []string{".ts"},
		FunctionTypes: []string{
			"function_declaration",
		},
		MethodTypes: []string{
			"method_definition",
		},
		ClassTypes: []string{
			"class_declaration",
		},
		InterfaceTypes: []string{
			"interface_declaration",
		},
		TypeDefTypes: []string{
			"type_alias_declaration",
		},
		ConstantTypes: []string{
			"lexical_declaration", // const and let
		},
		VariableTypes: []string{
			"variable_declaration", // var
		},
		NameField: "name",
	}
	r.registerLanguage(tsConfig, typescript.GetLanguage())

	// TSX
	tsxConfig := &LanguageConfig{
		Name:           "tsx",
		Extensions:     []string{".tsx"},
		FunctionTypes:  tsConfig.FunctionTypes,
		MethodTypes:    tsConfig.MethodTypes,
		ClassTypes:     tsConfig.ClassTypes,
		InterfaceTypes: tsConfig.InterfaceTypes,
		TypeDefTypes:   tsConfig.TypeDefTypes,
		ConstantTypes:  tsConfig.ConstantTypes,
		VariableTypes:  tsConfig.VariableTypes,
		NameField:      tsConfig.NameField,
	}
	r.registerLanguage(tsxConfig, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	// JavaScript
	jsConfig := &LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".mjs"},
		FunctionTypes: []string{
			"function_declaration",
			"function",
		},
		MethodTypes: []string{
			"method_definition",
		},
		ClassTypes: []string{
			"class_declaration",
		},
		InterfaceTypes: []string{}, // JS doesn't have interfaces
		TypeDefTypes:   []string{},
		ConstantTypes: []string{
			"lexical_declaration", // const and let
		},
		VariableTypes: []string{
			"variable_declaration", // var
		},
		NameField: "name",
	}
	r.registerLanguage(jsConfig, javascript.GetLanguage())

	// JSX (uses same parser as JS)
	jsxConfig := &LanguageConfig{
		Name:           "jsx",
		Extensions:     []string{".jsx"},
		FunctionTypes:  jsConfig.FunctionTypes,
		MethodTypes:    jsConfig.MethodTypes,
		ClassTypes:     jsConfig.ClassTypes,
		InterfaceTypes: jsConfig.InterfaceTypes,
		TypeDefTypes:   jsConfig.TypeDefTypes,
		ConstantTypes:  jsConfig.ConstantTypes,
		VariableTypes:  jsConfig.VariableTypes,
		NameField:      jsConfig.NameField,
	}
	r.registerLanguage(jsxConfig, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	config := &LanguageConfig{
		Name:       "python",
		Extensions: []string{".py"},
		FunctionTypes: []string{
			"function_definition",
		},
		MethodTypes: []string{}, // In Python, methods are function_definition inside class
		ClassTypes: []string{
			"class_definition",
		},
		InterfaceTypes: []string{}, // Python doesn't have interfaces
		TypeDefTypes:   []string{},
		ConstantTypes:  []string{}, // Python doesn't have const keyword
		VariableTypes: []string{
			"assignment", // Top-level assignments (module-level variables)
		},
		NameField: "name",
	}
	r.registerLanguage(config, python.GetLanguage())
}

func (r *LanguageRegistry) registerRust() {
	config := &LanguageConfig{
		Name:       "rust",
		Extensions: []string{".rs"},
		FunctionTypes: []string{
			"function_item",
		},
		MethodTypes: []string{}, // methods live inside impl_item, walked as function_item
		ClassTypes: []string{
			"struct_item",
		},
		InterfaceTypes: []string{
			"trait_item",
		},
		TypeDefTypes: []string{
			"type_item",
			"enum_item",
		},
		ConstantTypes: []string{
			"const_item",
			"static_item",
		},
		VariableTypes: []string{},
		NameField:      "name",
	}
	r.registerLanguage(config, rust.GetLanguage())
}

func (r *LanguageRegistry) registerC() {
	config := &LanguageConfig{
		Name:       "c",
		Extensions: []string{".c", ".h"},
		FunctionTypes: []string{
			"function_definition",
		},
		MethodTypes: []string{},
		ClassTypes: []string{
			"struct_specifier",
			"union_specifier",
		},
		InterfaceTypes: []string{},
		TypeDefTypes: []string{
			"type_definition",
			"enum_specifier",
		},
		ConstantTypes: []string{},
		VariableTypes: []string{
			"declaration",
		},
		NameField: "declarator",
	}
	r.registerLanguage(config, c.GetLanguage())
}

func (r *LanguageRegistry) registerCpp() {
	config := &LanguageConfig{
		Name:       "cpp",
		Extensions: []string{".cpp", ".cc", ".cxx", ".hpp", ".hh"},
		FunctionTypes: []string{
			"function_definition",
		},
		MethodTypes: []string{},
		ClassTypes: []string{
			"class_specifier",
			"struct_specifier",
		},
		InterfaceTypes: []string{},
		TypeDefTypes: []string{
			"type_definition",
			"enum_specifier",
			"alias_declaration",
		},
		ConstantTypes: []string{},
		VariableTypes: []string{
			"declaration",
		},
		NameField: "declarator",
	}
	r.registerLanguage(config, cpp.GetLanguage())
}

func (r *LanguageRegistry) registerJava() {
	config := &LanguageConfig{
		Name:       "java",
		Extensions: []string{".java"},
		FunctionTypes: []string{},
		MethodTypes: []string{
			"method_declaration",
			"constructor_declaration",
		},
		ClassTypes: []string{
			"class_declaration",
			"enum_declaration",
		},
		InterfaceTypes: []string{
			"interface_declaration",
		},
		TypeDefTypes: []string{},
		ConstantTypes: []string{},
		VariableTypes: []string{
			"field_declaration",
		},
		NameField: "name",
	}
	r.registerLanguage(config, java.GetLanguage())
}

func (r *LanguageRegistry) registerCSharp() {
	config := &LanguageConfig{
		Name:       "csharp",
		Extensions: []string{".cs"},
		FunctionTypes: []string{},
		MethodTypes: []string{
			"method_declaration",
			"constructor_declaration",
		},
		ClassTypes: []string{
			"class_declaration",
			"struct_declaration",
			"enum_declaration",
		},
		InterfaceTypes: []string{
			"interface_declaration",
		},
		TypeDefTypes: []string{},
		ConstantTypes: []string{},
		VariableTypes: []string{
			"field_declaration",
			"property_declaration",
		},
		NameField: "name",
	}
	r.registerLanguage(config, csharp.GetLanguage())
}

func (r *LanguageRegistry) registerPHP() {
	config := &LanguageConfig{
		Name:       "php",
		Extensions: []string{".php"},
		FunctionTypes: []string{
			"function_definition",
		},
		MethodTypes: []string{
			"method_declaration",
		},
		ClassTypes: []string{
			"class_declaration",
		},
		InterfaceTypes: []string{
			"interface_declaration",
		},
		TypeDefTypes: []string{},
		ConstantTypes: []string{
			"const_declaration",
		},
		VariableTypes: []string{},
		NameField:      "name",
	}
	r.registerLanguage(config, php.GetLanguage())
}

func (r *LanguageRegistry) registerRuby() {
	config := &LanguageConfig{
		Name:       "ruby",
		Extensions: []string{".rb"},
		FunctionTypes: []string{
			"method",
		},
		MethodTypes: []string{
			"singleton_method",
		},
		ClassTypes: []string{
			"class",
		},
		InterfaceTypes: []string{
			"module",
		},
		TypeDefTypes: []string{},
		ConstantTypes: []string{
			"assignment", // constants are capitalized assignments; refined generically
		},
		VariableTypes: []string{},
		NameField:      "name",
	}
	r.registerLanguage(config, ruby.GetLanguage())
}

func (r *LanguageRegistry) registerBash() {
	config := &LanguageConfig{
		Name:       "bash",
		Extensions: []string{".sh", ".bash"},
		FunctionTypes: []string{
			"function_definition",
		},
		MethodTypes:    []string{},
		ClassTypes:     []string{},
		InterfaceTypes: []string{},
		TypeDefTypes:   []string{},
		ConstantTypes:  []string{},
		VariableTypes: []string{
			"variable_assignment",
		},
		NameField: "name",
	}
	r.registerLanguage(config, bash.GetLanguage())
}

func (r *LanguageRegistry) registerHTML() {
	config := &LanguageConfig{
		Name:           "html",
		Extensions:     []string{".html", ".htm"},
		FunctionTypes:  []string{},
		MethodTypes:    []string{},
		ClassTypes:     []string{},
		InterfaceTypes: []string{},
		TypeDefTypes:   []string{},
		ConstantTypes:  []string{},
		VariableTypes:  []string{},
		NameField:      "",
	}
	r.registerLanguage(config, html.GetLanguage())
}

func (r *LanguageRegistry) registerCSS() {
	config := &LanguageConfig{
		Name:       "css",
		Extensions: []string{".css", ".scss"},
		FunctionTypes: []string{},
		MethodTypes:    []string{},
		ClassTypes: []string{
			"rule_set",
		},
		InterfaceTypes: []string{},
		TypeDefTypes:   []string{},
		ConstantTypes:  []string{},
		VariableTypes:  []string{},
		NameField:      "",
	}
	r.registerLanguage(config, css.GetLanguage())
}

func (r *LanguageRegistry) registerSQL() {
	config := &LanguageConfig{
		Name:       "sql",
		Extensions: []string{".sql"},
		FunctionTypes: []string{
			"create_function_statement",
		},
		MethodTypes:    []string{},
		ClassTypes: []string{
			"create_table_statement",
		},
		InterfaceTypes: []string{},
		TypeDefTypes: []string{
			"create_type_statement",
		},
		ConstantTypes: []string{},
		VariableTypes: []string{},
		NameField:     "name",
	}
	r.registerLanguage(config, sql.GetLanguage())
}

func (r *LanguageRegistry) registerTOML() {
	config := &LanguageConfig{
		Name:           "toml",
		Extensions:     []string{".toml"},
		FunctionTypes:  []string{},
		MethodTypes:    []string{},
		ClassTypes: []string{
			"table",
			"table_array_element",
		},
		InterfaceTypes: []string{},
		TypeDefTypes:   []string{},
		ConstantTypes:  []string{},
		VariableTypes: []string{
			"pair",
		},
		NameField: "",
	}
	r.registerLanguage(config, toml.GetLanguage())
}

func (r *LanguageRegistry) registerKotlin() {
	config := &LanguageConfig{
		Name:       "kotlin",
		Extensions: []string{".kt", ".kts"},
		FunctionTypes: []string{
			"function_declaration",
		},
		MethodTypes: []string{},
		ClassTypes: []string{
			"class_declaration",
		},
		InterfaceTypes: []string{
			"interface_declaration",
		},
		TypeDefTypes:  []string{},
		ConstantTypes: []string{},
		VariableTypes: []string{
			"property_declaration",
		},
		NameField: "name",
	}
	r.registerLanguage(config, kotlin.GetLanguage())
}

func (r *LanguageRegistry) registerLua() {
	config := &LanguageConfig{
		Name:       "lua",
		Extensions: []string{".lua"},
		FunctionTypes: []string{
			"function_declaration",
			"function_definition",
			"local_function",
		},
		MethodTypes:    []string{},
		ClassTypes:     []string{},
		InterfaceTypes: []string{},
		TypeDefTypes:   []string{},
		ConstantTypes:  []string{},
		VariableTypes: []string{
			"variable_declaration",
		},
		NameField: "name",
	}
	r.registerLanguage(config, lua.GetLanguage())
}

// defaultRegistry is the global language registry
var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the global language registry
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
