package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ckbscip/internal/verify"
)

var (
	verifyFormat       string
	verifyDeleteOnPass bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify <index.scip> <index.scip.db>",
	Short: "Confirm a relational store faithfully represents its SCIP protobuf index",
	Long: `verify re-reads the SCIP protobuf index and cross-checks it against the
built store: row counts, a bounded random sample of each table, document-set
equality, and call_graph referential integrity.

A fully passing verification authorizes deletion of the source .scip file;
pass --delete-on-pass to do so automatically.`,
	Args: cobra.ExactArgs(2),
	Run:  runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "human", "report format: human, json, or yaml")
	verifyCmd.Flags().BoolVar(&verifyDeleteOnPass, "delete-on-pass", false, "delete the source .scip file if verification passes")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	scipPath, dbPath := args[0], args[1]

	report, err := verify.Verify(scipPath, dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
		os.Exit(1)
	}

	if err := printVerifyReport(report, verifyFormat); err != nil {
		fmt.Fprintf(os.Stderr, "failed to format report: %v\n", err)
		os.Exit(1)
	}

	if !report.Passed {
		os.Exit(1)
	}

	if verifyDeleteOnPass {
		if err := os.Remove(scipPath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: verification passed but failed to delete %s: %v\n", scipPath, err)
		}
	}
}

func printVerifyReport(report *verify.Report, format string) error {
	switch format {
	case "json":
		data, err := jsonMarshalIndent(report)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		fmt.Printf("passed: %v\n", report.Passed)
		fmt.Printf("  symbol count match:      %v\n", report.SymbolCountMatch)
		fmt.Printf("  occurrence count match:  %v\n", report.OccurrenceCountMatch)
		fmt.Printf("  documents verified:      %v\n", report.DocumentsVerified)
		fmt.Printf("  call graph fk valid:     %v\n", report.CallGraphFKValid)
		fmt.Printf("  symbols sampled:         %d\n", report.SymbolsSampled)
		fmt.Printf("  occurrences sampled:     %d\n", report.OccurrencesSampled)
		fmt.Printf("  call graph edges sampled:%d\n", report.CallGraphEdgesSampled)
		fmt.Printf("  fingerprint:             %s\n", report.Fingerprint)
		if report.TotalErrors > 0 {
			fmt.Printf("  errors (%d):\n", report.TotalErrors)
			for _, e := range report.Errors {
				fmt.Printf("    - %s\n", e)
			}
		}
	}
	return nil
}
