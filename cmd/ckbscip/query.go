package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ckbscip/internal/facade"
	"ckbscip/internal/store"
)

var (
	queryDB      string
	queryProject string
	queryExact   bool
	queryLimit   int
	queryDepth   int
	queryFormat  string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a built relational store",
}

func init() {
	queryCmd.PersistentFlags().StringVar(&queryDB, "db", "", "path to the .scip.db store (required)")
	queryCmd.PersistentFlags().StringVar(&queryProject, "project", "", "project label stamped into results")
	queryCmd.PersistentFlags().BoolVar(&queryExact, "exact", false, "require an exact/anchored name match instead of a substring search")
	queryCmd.PersistentFlags().IntVar(&queryLimit, "limit", 0, "maximum results (0 = unlimited)")
	queryCmd.PersistentFlags().IntVar(&queryDepth, "depth", 1, "traversal depth, 1-10")
	queryCmd.PersistentFlags().StringVar(&queryFormat, "format", "human", "report format: human, json, or yaml")

	queryCmd.AddCommand(queryDefinitionCmd)
	queryCmd.AddCommand(queryReferencesCmd)
	queryCmd.AddCommand(queryDependenciesCmd)
	queryCmd.AddCommand(queryDependentsCmd)
	queryCmd.AddCommand(queryImpactCmd)
	queryCmd.AddCommand(queryTraceCmd)

	rootCmd.AddCommand(queryCmd)
}

func openFacade() (*store.DB, *facade.Facade) {
	if queryDB == "" {
		fmt.Fprintln(os.Stderr, "--db is required")
		os.Exit(1)
	}
	db, err := store.Open(queryDB, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	return db, facade.New(db, queryProject)
}

func printResult(v interface{}, humanPrinter func()) {
	switch queryFormat {
	case "json":
		data, err := jsonMarshalIndent(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to marshal result: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to marshal result: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
	default:
		humanPrinter()
	}
}

var queryDefinitionCmd = &cobra.Command{
	Use:   "definition <name>",
	Short: "Find the definition of a symbol",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, f := openFacade()
		defer db.Close()

		locs, err := f.FindDefinition(context.Background(), args[0], queryExact)
		exitOnErr(err)
		printResult(locs, func() {
			for _, l := range locs {
				fmt.Printf("%s  %s:%d:%d  (%s)\n", l.Symbol, l.FilePath, l.Line, l.Column, l.Kind)
			}
		})
	},
}

var queryReferencesCmd = &cobra.Command{
	Use:   "references <name>",
	Short: "Find references to a symbol",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, f := openFacade()
		defer db.Close()

		locs, err := f.FindReferences(context.Background(), args[0], queryLimit, queryExact)
		exitOnErr(err)
		printResult(locs, func() {
			for _, l := range locs {
				fmt.Printf("%s  %s:%d:%d\n", l.Symbol, l.FilePath, l.Line, l.Column)
			}
		})
	},
}

var queryDependenciesCmd = &cobra.Command{
	Use:   "dependencies <name>",
	Short: "List everything a symbol transitively depends on",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, f := openFacade()
		defer db.Close()

		deps, err := f.GetDependencies(context.Background(), args[0], queryDepth, queryExact)
		exitOnErr(err)
		printResult(deps, func() {
			for _, d := range deps {
				fmt.Printf("[depth %d] %s  %s:%d  (%s)\n", d.Depth, d.Symbol, d.FilePath, d.Line, d.Relationship)
			}
		})
	},
}

var queryDependentsCmd = &cobra.Command{
	Use:   "dependents <name>",
	Short: "List everything that transitively depends on a symbol",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, f := openFacade()
		defer db.Close()

		deps, err := f.GetDependents(context.Background(), args[0], queryDepth, queryExact)
		exitOnErr(err)
		printResult(deps, func() {
			for _, d := range deps {
				fmt.Printf("[depth %d] %s  %s:%d  (%s)\n", d.Depth, d.Symbol, d.FilePath, d.Line, d.Relationship)
			}
		})
	},
}

var queryImpactCmd = &cobra.Command{
	Use:   "impact <name>",
	Short: "Group a symbol's transitive dependents by file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, f := openFacade()
		defer db.Close()

		entries, err := f.AnalyzeImpact(context.Background(), args[0], queryDepth)
		exitOnErr(err)
		printResult(entries, func() {
			for _, e := range entries {
				fmt.Printf("%s  (%d symbols)\n", e.FilePath, e.SymbolCount)
				for _, s := range e.Symbols {
					fmt.Printf("  - %s\n", s)
				}
			}
		})
	},
}

var (
	traceMaxDepth   int
	traceTimeoutSec int
)

var queryTraceCmd = &cobra.Command{
	Use:   "trace <from> <to>",
	Short: "Trace execution paths between two symbols",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		db, f := openFacade()
		defer db.Close()

		ctx := context.Background()
		var cancel context.CancelFunc
		if traceTimeoutSec > 0 {
			ctx, cancel = context.WithTimeout(ctx, time.Duration(traceTimeoutSec)*time.Second)
			defer cancel()
		}

		hops, err := f.TraceCallChain(ctx, args[0], args[1], traceMaxDepth, queryLimit)
		exitOnErr(err)
		printResult(hops, func() {
			for _, h := range hops {
				cycle := ""
				if h.HasCycle {
					cycle = " (cycle)"
				}
				fmt.Printf("[length %d]%s %s\n", h.Length, cycle, formatPath(h.Path))
			}
		})
	},
}

func init() {
	queryTraceCmd.Flags().IntVar(&traceMaxDepth, "max-depth", 3, "maximum search depth (hard-capped at 3 internally)")
	queryTraceCmd.Flags().IntVar(&traceTimeoutSec, "timeout-sec", 10, "wall-clock budget in seconds, 0 = no timeout")
}

func formatPath(path []string) string {
	if len(path) == 0 {
		return ""
	}
	out := path[0]
	for _, p := range path[1:] {
		out += " -> " + p
	}
	return out
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}
}
