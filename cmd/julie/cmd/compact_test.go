package cmd

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactCmd_NoIndex(t *testing.T) {
	tmpDir := t.TempDir()

	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()
	_ = os.Chdir(tmpDir)

	err := runCompact(context.Background(), tmpDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}

func TestCompactCmd_NoVectorIndex(t *testing.T) {
	tmpDir := t.TempDir()
	seedWorkspaceIndex(t, tmpDir)

	err := runCompact(context.Background(), tmpDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vector index found")
}

func TestCompactCmd_InvalidPath(t *testing.T) {
	err := runCompact(context.Background(), "/nonexistent/path/nowhere")
	require.Error(t, err)
}
