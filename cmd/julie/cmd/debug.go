package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/juliecode/julie/internal/config"
	"github.com/juliecode/julie/internal/store"
	"github.com/juliecode/julie/internal/workspace"
)

// debugInfo is the machine-readable output of 'julie debug'.
type debugInfo struct {
	WorkspaceID   string `json:"workspace_id"`
	Root          string `json:"root"`
	IndexDir      string `json:"index_dir"`
	DatabasePath  string `json:"database_path"`
	FileCount     int    `json:"file_count"`
	SymbolCount   int    `json:"symbol_count"`
	DatabaseBytes int64  `json:"database_bytes"`
	VectorBytes   int64  `json:"vector_bytes"`
	IndexModel    string `json:"index_model,omitempty"`
	IndexDims     string `json:"index_dimensions,omitempty"`
	Integrity     string `json:"integrity"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:    "debug",
		Short:  "Dump index internals for troubleshooting",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebug(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDebug(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	ws, err := workspace.Open(root)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	if !fileExists(ws.DatabasePath()) {
		return fmt.Errorf("no index found in %s\nRun 'julie index' to create one", root)
	}

	metadata, err := store.NewSQLiteStore(ws.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open symbol database: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	info := debugInfo{
		WorkspaceID:  ws.ID,
		Root:         ws.Root,
		IndexDir:     ws.IndexDir(),
		DatabasePath: ws.DatabasePath(),
		Integrity:    "ok",
	}

	if paths, perr := metadata.ListFilePaths(ctx); perr == nil {
		info.FileCount = len(paths)
	}
	if symbols, serr := metadata.CountSymbols(ctx); serr == nil {
		info.SymbolCount = symbols
	}
	info.DatabaseBytes = getFileSize(ws.DatabasePath())
	info.VectorBytes = getDirSize(ws.VectorsDir())
	info.IndexModel, _ = metadata.GetState(ctx, store.StateKeyIndexModel)
	info.IndexDims, _ = metadata.GetState(ctx, store.StateKeyIndexDimension)
	if ierr := metadata.IntegrityCheck(ctx); ierr != nil {
		info.Integrity = ierr.Error()
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintln(out, "Debug Information")
	fmt.Fprintln(out, "=================")
	fmt.Fprintf(out, "Workspace ID: %s\n", info.WorkspaceID)
	fmt.Fprintf(out, "Root:         %s\n", info.Root)
	fmt.Fprintf(out, "Index Dir:    %s\n", info.IndexDir)
	fmt.Fprintf(out, "Files:        %d\n", info.FileCount)
	fmt.Fprintf(out, "Symbols:      %d\n", info.SymbolCount)
	fmt.Fprintf(out, "Database:     %s\n", store.FormatBytes(info.DatabaseBytes))
	fmt.Fprintf(out, "Vectors:      %s\n", store.FormatBytes(info.VectorBytes))
	if info.IndexModel != "" {
		fmt.Fprintf(out, "Model:        %s (%s dims)\n", info.IndexModel, info.IndexDims)
	}
	fmt.Fprintf(out, "Integrity:    %s\n", info.Integrity)
	return nil
}
