package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ckbscip/internal/config"
)

var configDumpFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect ckbscip configuration",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		var data []byte
		var err error
		switch configDumpFormat {
		case "toml":
			data, err = config.DumpTOML(cfg)
		default:
			data, err = config.DumpJSON(cfg)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to render config: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
	},
}

func init() {
	configDumpCmd.Flags().StringVar(&configDumpFormat, "format", "json", "output format: json or toml")
	configCmd.AddCommand(configDumpCmd)
	rootCmd.AddCommand(configCmd)
}
