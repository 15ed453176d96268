package main

import (
	"os"

	"ckbscip/internal/config"
	"ckbscip/internal/logging"
)

func main() {
	repoRoot, err := os.Getwd()
	if err != nil {
		os.Stderr.WriteString("failed to determine working directory: " + err.Error() + "\n")
		os.Exit(1)
	}

	loaded, err := config.Load(repoRoot)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	cfg = loaded.Config

	logger = logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.LogLevel(cfg.Logging.Level),
	})

	if err := rootCmd.Execute(); err != nil {
		logger.Err("command execution failed", err, nil)
		os.Exit(1)
	}
}
