package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFor(t *testing.T, language, src string) *Tree {
	t.Helper()
	pool := NewParserPool()
	t.Cleanup(pool.Close)
	tree, err := pool.Parse(context.Background(), []byte(src), language)
	require.NoError(t, err)
	return tree
}

func TestFileContextGo(t *testing.T) {
	src := `package server

import (
	"context"
	"net/http"
)

func Serve(ctx context.Context) error { return nil }
`
	tree := parseFor(t, "go", src)
	out := NewFileContextExtractor().Extract(tree, []byte(src), "go")

	assert.Contains(t, out, "package server")
	assert.Contains(t, out, `"net/http"`)
	assert.NotContains(t, out, "func Serve")
}

func TestFileContextPython(t *testing.T) {
	src := `import os
from pathlib import Path

def walk(root):
    pass
`
	tree := parseFor(t, "python", src)
	out := NewFileContextExtractor().Extract(tree, []byte(src), "python")

	assert.Contains(t, out, "import os")
	assert.Contains(t, out, "from pathlib import Path")
	assert.NotContains(t, out, "def walk")
}

func TestFileContextRust(t *testing.T) {
	src := `use std::collections::HashMap;

fn main() {}
`
	tree := parseFor(t, "rust", src)
	out := NewFileContextExtractor().Extract(tree, []byte(src), "rust")

	assert.Contains(t, out, "use std::collections::HashMap;")
}

func TestFileContextUnknownLanguage(t *testing.T) {
	src := "SELECT 1;"
	tree := parseFor(t, "sql", src)
	out := NewFileContextExtractor().Extract(tree, []byte(src), "sql")
	assert.Empty(t, out)

	assert.Empty(t, NewFileContextExtractor().Extract(nil, nil, "go"))
}

func TestCombineContextAndContent(t *testing.T) {
	assert.Equal(t, "a\n\nb", combineContextAndContent("a", "b"))
	assert.Equal(t, "b", combineContextAndContent("", "b"))
	assert.Equal(t, "a", combineContextAndContent("a", ""))
}
