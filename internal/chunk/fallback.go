package chunk

import (
	"regexp"
	"strings"
)

// FallbackExtractor recovers declarations by text scanning. It covers two
// cases: languages with no registered tree-sitter grammar (swift, dart,
// gdscript, vue, razor, zig, powershell), and files whose parse tree is
// partial (ERROR nodes from broken editor state), where its recoveries are
// merged with whatever the AST extractor found. Line-anchored declaration patterns keep precision high at
// the cost of missing exotic forms; a partial index beats an empty one.
type FallbackExtractor struct{}

// NewFallbackExtractor creates a text-scanning extractor.
func NewFallbackExtractor() *FallbackExtractor {
	return &FallbackExtractor{}
}

// declPattern pairs a regex (name in capture group 1) with the symbol type
// it declares.
type declPattern struct {
	re   *regexp.Regexp
	kind SymbolType
}

var genericDeclPatterns = []declPattern{
	{regexp.MustCompile(`^\s*(?:pub\s+|export\s+|public\s+|private\s+|internal\s+|static\s+|final\s+|override\s+|async\s+)*(?:func|fn|def|function)\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeFunction},
	{regexp.MustCompile(`^\s*(?:pub\s+|export\s+|public\s+|abstract\s+|final\s+|open\s+|sealed\s+)*class\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeClass},
	{regexp.MustCompile(`^\s*(?:pub\s+|export\s+)*struct\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeStruct},
	{regexp.MustCompile(`^\s*(?:pub\s+|export\s+|public\s+)*(?:interface|protocol|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeInterface},
	{regexp.MustCompile(`^\s*(?:pub\s+|export\s+|public\s+)*enum\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeEnum},
	{regexp.MustCompile(`^\s*(?:pub\s+|export\s+)*(?:const|let)\s+([A-Z_][A-Z0-9_]+)\s*[:=]`), SymbolTypeConstant},
	{regexp.MustCompile(`^\s*extension\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeClass},
	{regexp.MustCompile(`^\s*module\s+([A-Za-z_][A-Za-z0-9_:.]*)`), SymbolTypeModule},
}

// languageDeclPatterns adds forms the generic set misses.
var languageDeclPatterns = map[string][]declPattern{
	"powershell": {
		{regexp.MustCompile(`(?i)^\s*function\s+([A-Za-z_][A-Za-z0-9_-]*)`), SymbolTypeFunction},
		{regexp.MustCompile(`(?i)^\s*filter\s+([A-Za-z_][A-Za-z0-9_-]*)`), SymbolTypeFunction},
		{regexp.MustCompile(`(?i)^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeClass},
	},
	"zig": {
		{regexp.MustCompile(`^\s*(?:pub\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeFunction},
		{regexp.MustCompile(`^\s*(?:pub\s+)?const\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(?:struct|enum|union)`), SymbolTypeStruct},
	},
	"gdscript": {
		{regexp.MustCompile(`^\s*(?:static\s+)?func\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeFunction},
		{regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeClass},
		{regexp.MustCompile(`^\s*class_name\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeClass},
		{regexp.MustCompile(`^\s*signal\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeOther},
	},
	"vue": {
		// Script-section declarations; template markup carries no symbols.
		{regexp.MustCompile(`^\s*(?:export\s+default\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)`), SymbolTypeFunction},
		{regexp.MustCompile(`^\s*const\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:\(|async|function)`), SymbolTypeFunction},
	},
	"razor": {
		{regexp.MustCompile(`^\s*(?:public|private|protected|internal)?\s*(?:static\s+|async\s+)*[A-Za-z_<>\[\],\s]+\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`), SymbolTypeFunction},
	},
	"dart": {
		{regexp.MustCompile(`^\s*(?:abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`), SymbolTypeClass},
		{regexp.MustCompile(`^\s*mixin\s+([A-Za-z_$][A-Za-z0-9_$]*)`), SymbolTypeClass},
		{regexp.MustCompile(`^\s*(?:[A-Za-z_$][A-Za-z0-9_$<>,\s]*\s+)?([A-Za-z_$][A-Za-z0-9_$]*)\s*\([^;]*\)\s*(?:async\s*)?\{`), SymbolTypeFunction},
	},
	"swift": {
		{regexp.MustCompile(`^\s*(?:public\s+|private\s+|internal\s+|open\s+|static\s+|final\s+)*func\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeFunction},
		{regexp.MustCompile(`^\s*(?:public\s+|open\s+|final\s+)*(?:class|actor)\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeClass},
		{regexp.MustCompile(`^\s*(?:public\s+)*struct\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeStruct},
		{regexp.MustCompile(`^\s*(?:public\s+)*protocol\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeInterface},
		{regexp.MustCompile(`^\s*(?:public\s+)*enum\s+([A-Za-z_][A-Za-z0-9_]*)`), SymbolTypeEnum},
	},
}

// Extract scans source line by line for declarations. Results carry line
// spans but no byte-accurate columns; EndLine is a best-effort guess at
// the end of the declaration's indentation block.
func (f *FallbackExtractor) Extract(source []byte, language string) []*Symbol {
	patterns := append([]declPattern{}, languageDeclPatterns[language]...)
	patterns = append(patterns, genericDeclPatterns...)

	lines := strings.Split(string(source), "\n")
	var symbols []*Symbol
	seen := make(map[string]bool)

	for i, line := range lines {
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := m[1]
			key := name + "\x00" + string(p.kind) + "\x00" + itoaLine(i+1)
			if seen[key] {
				continue
			}
			seen[key] = true

			symbols = append(symbols, &Symbol{
				Name:          name,
				QualifiedName: name,
				Type:          p.kind,
				StartLine:     i + 1,
				EndLine:       blockEnd(lines, i),
				Signature:     strings.TrimSpace(line),
				DocComment:    precedingDocComment(lines, i),
			})
			break
		}
	}
	return symbols
}

// blockEnd walks forward to the last line of the declaration's block,
// judged by indentation returning to at or below the declaration's level.
func blockEnd(lines []string, declIdx int) int {
	declIndent := indentOf(lines[declIdx])
	end := declIdx
	for j := declIdx + 1; j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" {
			continue
		}
		if indentOf(lines[j]) <= declIndent && !strings.HasPrefix(trimmed, "}") && !strings.HasPrefix(trimmed, "end") {
			break
		}
		end = j
	}
	return end + 1
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// precedingDocComment collects a comment block immediately above the
// declaration, tolerating blank lines between block and declaration.
func precedingDocComment(lines []string, declIdx int) string {
	j := declIdx - 1
	for j >= 0 && strings.TrimSpace(lines[j]) == "" {
		j--
	}
	var doc []string
	for j >= 0 {
		trimmed := strings.TrimSpace(lines[j])
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/*") {
			doc = append([]string{strings.TrimLeft(trimmed, "/#* ")}, doc...)
			j--
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(doc, "\n"))
}

func itoaLine(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
