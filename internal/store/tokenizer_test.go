package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeCode_SubtermsAndCompound(t *testing.T) {
	tokens := TokenizeCode("getUserById")

	// The whole identifier survives for exact matches...
	assert.Contains(t, tokens, "getuserbyid")
	// ...and the sub-terms make it reachable by vocabulary.
	assert.Contains(t, tokens, "get")
	assert.Contains(t, tokens, "user")
	assert.Contains(t, tokens, "by")
	assert.Contains(t, tokens, "id")
}

func TestTokenizeCode_SnakeCase(t *testing.T) {
	tokens := TokenizeCode("parse_structured_input")
	assert.Contains(t, tokens, "parse_structured_input")
	assert.Contains(t, tokens, "parse")
	assert.Contains(t, tokens, "structured")
	assert.Contains(t, tokens, "input")
}

func TestTokenizeCode_MixedSource(t *testing.T) {
	tokens := TokenizeCode("func (s *SQLiteStore) FindSymbolsByName(ctx context.Context)")

	assert.Contains(t, tokens, "sqlite")
	assert.Contains(t, tokens, "store")
	assert.Contains(t, tokens, "find")
	assert.Contains(t, tokens, "symbols")
	assert.Contains(t, tokens, "name")
	assert.Contains(t, tokens, "ctx")
	assert.Contains(t, tokens, "context")
}

func TestTokenizeCode_DropsShortFragments(t *testing.T) {
	tokens := TokenizeCode("x = a + 1")
	assert.Empty(t, tokens, "single-character fragments are noise")
}

func TestTokenizeCode_Empty(t *testing.T) {
	assert.Empty(t, TokenizeCode(""))
	assert.Empty(t, TokenizeCode("   \n\t  "))
	assert.Empty(t, TokenizeCode("+-*/(){}"))
}

func TestCodeTokenizer_StopWords(t *testing.T) {
	tok := NewCodeTokenizer()
	tok.StopWords = BuildStopWordMap([]string{"func", "return"})

	tokens := tok.Tokenize("func ReturnUser() { return user }")
	assert.NotContains(t, tokens, "func")
	assert.NotContains(t, tokens, "return")
	assert.Contains(t, tokens, "user")
}

func TestCodeTokenizer_CompoundDisabled(t *testing.T) {
	tok := NewCodeTokenizer()
	tok.KeepCompound = false

	tokens := tok.Tokenize("getUserData")
	assert.NotContains(t, tokens, "getuserdata")
	assert.Contains(t, tokens, "user")
}

func TestCodeTokenizer_MinTokenLength(t *testing.T) {
	tok := NewCodeTokenizer()
	tok.MinTokenLength = 4

	tokens := tok.Tokenize("getUserById")
	assert.Contains(t, tokens, "user")
	assert.NotContains(t, tokens, "get")
	assert.NotContains(t, tokens, "id")
}

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"HTTPHandler", []string{"HTTP", "Handler"}},
		{"parseHTTPRequest", []string{"parse", "HTTP", "Request"}},
		{"simple", []string{"simple"}},
		{"PascalCase", []string{"Pascal", "Case"}},
		{"utf8Decode", []string{"utf", "8", "Decode"}},
		{"v2", []string{"v", "2"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitCamelCase(tt.input))
		})
	}
}

func TestSplitCodeToken(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"snake_case_name", []string{"snake", "case", "name"}},
		{"mixed_camelCase", []string{"mixed", "camel", "Case"}},
		{"__dunder__", []string{"dunder"}},
		{"plain", []string{"plain"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitCodeToken(tt.input))
		})
	}
}

func TestFilterStopWords(t *testing.T) {
	stops := BuildStopWordMap([]string{"the", "Func"})

	filtered := FilterStopWords([]string{"the", "parser", "FUNC", "symbol"}, stops)
	assert.Equal(t, []string{"parser", "symbol"}, filtered)

	// Empty input stays empty, not nil-panicky.
	assert.Empty(t, FilterStopWords(nil, stops))
}

func TestBuildStopWordMap(t *testing.T) {
	m := BuildStopWordMap([]string{"VAR", "let"})
	_, hasVar := m["var"]
	_, hasLet := m["let"]
	assert.True(t, hasVar)
	assert.True(t, hasLet)
	assert.Len(t, m, 2)
}
