package main

import (
	"ckbscip/internal/config"
	"ckbscip/internal/logging"
	"ckbscip/internal/version"

	"github.com/spf13/cobra"
)

// cfg and logger are populated by main() before rootCmd.Execute runs, so
// every subcommand can rely on them being ready.
var (
	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ckbscip",
	Short: "ckbscip - SCIP code-intelligence index engine",
	Long: `ckbscip ingests a SCIP protobuf index, builds a relational SQLite store with
derived call-graph and reference-graph edge tables, and serves definition,
reference, dependency, impact, and call-chain queries against it.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("ckbscip version {{.Version}}\n")
}
