package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ckbscip/internal/etl"
)

var (
	buildOutput  string
	buildDryRun  bool
	buildArchive bool
)

var buildCmd = &cobra.Command{
	Use:   "build <index.scip>",
	Short: "Build a relational SQLite store from a SCIP protobuf index",
	Long: `build reads a SCIP protobuf index, flattens its symbols, documents, and
occurrences, and writes a fresh .scip.db SQLite store with the derived
symbol_references and call_graph edge tables.

Examples:
  ckbscip build index.scip
  ckbscip build index.scip --output index.scip.db
  ckbscip build index.scip --dry-run`,
	Args: cobra.ExactArgs(1),
	Run:  runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildOutput, "output", "", "output database path (default: <input>.db)")
	buildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "show what would be built without executing")
	buildCmd.Flags().BoolVar(&buildArchive, "archive-source", false, "zstd-compress the source .scip file after a successful build instead of leaving it in place")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) {
	scipPath := args[0]
	if _, err := os.Stat(scipPath); err != nil {
		fmt.Fprintf(os.Stderr, "SCIP index not found: %s\n", scipPath)
		os.Exit(1)
	}

	dbPath := buildOutput
	if dbPath == "" {
		dbPath = scipPath + ".db"
	}

	if buildDryRun {
		fmt.Printf("would build %s -> %s\n", scipPath, dbPath)
		return
	}

	if _, err := os.Stat(dbPath); err == nil {
		if err := os.Remove(dbPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove existing database %s: %v\n", dbPath, err)
			os.Exit(1)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	report, err := etl.Build(scipPath, dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("build %s complete\n", report.BuildID)
	if report.ProjectRoot != "" {
		fmt.Printf("  project root:      %s\n", report.ProjectRoot)
	}
	if report.IndexerTool != "" {
		fmt.Printf("  indexer:           %s\n", report.IndexerTool)
	}
	fmt.Printf("  symbols:           %d\n", report.SymbolCount)
	fmt.Printf("  documents:         %d\n", report.DocumentCount)
	fmt.Printf("  occurrences:       %d\n", report.OccurrenceCount)
	fmt.Printf("  symbol_references: %d\n", report.SymbolReferenceCount)
	fmt.Printf("  call_graph edges:  %d\n", report.CallGraphCount)

	if buildArchive {
		if err := archiveSource(scipPath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to archive source file: %v\n", err)
		}
	}
}
