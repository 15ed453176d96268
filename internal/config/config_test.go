package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Build.BatchSize != 1000 {
		t.Errorf("Build.BatchSize = %d, want 1000", cfg.Build.BatchSize)
	}
	if cfg.Query.MaxDepth != 10 {
		t.Errorf("Query.MaxDepth = %d, want 10", cfg.Query.MaxDepth)
	}
	if cfg.Query.TraceMaxDepthCap != 3 {
		t.Errorf("Query.TraceMaxDepthCap = %d, want 3", cfg.Query.TraceMaxDepthCap)
	}
	if cfg.Logging.Format != "human" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "human")
	}
}

func TestLoad_Default(t *testing.T) {
	tmpDir := t.TempDir()

	result, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !result.UsedDefaults {
		t.Error("UsedDefaults should be true when no config file exists")
	}
	if result.Config.Build.BatchSize != 1000 {
		t.Errorf("Build.BatchSize = %d, want 1000 (default)", result.Config.Build.BatchSize)
	}
}

func TestLoad_FromJSON(t *testing.T) {
	tmpDir := t.TempDir()
	ckbDir := filepath.Join(tmpDir, ".ckbscip")
	if err := os.MkdirAll(ckbDir, 0755); err != nil {
		t.Fatalf("failed to create .ckbscip dir: %v", err)
	}

	configContent := `{
		"build": {"batchSize": 500},
		"query": {"maxDepth": 5}
	}`
	if err := os.WriteFile(filepath.Join(ckbDir, "config.json"), []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	result, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.Config.Build.BatchSize != 500 {
		t.Errorf("Build.BatchSize = %d, want 500", result.Config.Build.BatchSize)
	}
	if result.Config.Query.MaxDepth != 5 {
		t.Errorf("Query.MaxDepth = %d, want 5", result.Config.Query.MaxDepth)
	}
}

func TestLoad_FromTOML(t *testing.T) {
	tmpDir := t.TempDir()
	ckbDir := filepath.Join(tmpDir, ".ckbscip")
	if err := os.MkdirAll(ckbDir, 0755); err != nil {
		t.Fatalf("failed to create .ckbscip dir: %v", err)
	}

	configContent := "[build]\nbatchSize = 250\n\n[query]\nmaxDepth = 4\n"
	if err := os.WriteFile(filepath.Join(ckbDir, "config.toml"), []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	result, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.Config.Build.BatchSize != 250 {
		t.Errorf("Build.BatchSize = %d, want 250", result.Config.Build.BatchSize)
	}
	if result.Config.Query.MaxDepth != 4 {
		t.Errorf("Query.MaxDepth = %d, want 4", result.Config.Query.MaxDepth)
	}
}

func TestLoad_EnvConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-config.json")
	configContent := `{"build": {"batchSize": 42}}`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	os.Setenv("CKBSCIP_CONFIG_PATH", configPath)
	defer os.Unsetenv("CKBSCIP_CONFIG_PATH")

	result, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if result.ConfigPath != configPath {
		t.Errorf("ConfigPath = %q, want %q", result.ConfigPath, configPath)
	}
	if result.Config.Build.BatchSize != 42 {
		t.Errorf("Build.BatchSize = %d, want 42", result.Config.Build.BatchSize)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config, applied []string)
	}{
		{
			name:    "log level override",
			envVars: map[string]string{"CKBSCIP_LOG_LEVEL": "debug"},
			validate: func(t *testing.T, cfg *Config, applied []string) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
				}
				if len(applied) != 1 {
					t.Errorf("len(applied) = %d, want 1", len(applied))
				}
			},
		},
		{
			name:    "batch size override",
			envVars: map[string]string{"CKBSCIP_BUILD_BATCH_SIZE": "2000"},
			validate: func(t *testing.T, cfg *Config, applied []string) {
				if cfg.Build.BatchSize != 2000 {
					t.Errorf("Build.BatchSize = %d, want 2000", cfg.Build.BatchSize)
				}
			},
		},
		{
			name:    "invalid int ignored",
			envVars: map[string]string{"CKBSCIP_QUERY_MAX_DEPTH": "not-a-number"},
			validate: func(t *testing.T, cfg *Config, applied []string) {
				if cfg.Query.MaxDepth != 10 {
					t.Errorf("Query.MaxDepth = %d, want 10 (default)", cfg.Query.MaxDepth)
				}
				if len(applied) != 0 {
					t.Errorf("len(applied) = %d, want 0", len(applied))
				}
			},
		},
		{
			name: "multiple overrides",
			envVars: map[string]string{
				"CKBSCIP_LOG_FORMAT":        "json",
				"CKBSCIP_QUERY_TIMEOUT_SEC": "30",
			},
			validate: func(t *testing.T, cfg *Config, applied []string) {
				if cfg.Logging.Format != "json" {
					t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
				}
				if cfg.Query.DefaultTimeoutSec != 30 {
					t.Errorf("Query.DefaultTimeoutSec = %d, want 30", cfg.Query.DefaultTimeoutSec)
				}
				if len(applied) != 2 {
					t.Errorf("len(applied) = %d, want 2", len(applied))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for envVar := range envVarMappings {
				os.Unsetenv(envVar)
			}
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer func() {
				for k := range tt.envVars {
					os.Unsetenv(k)
				}
			}()

			cfg := DefaultConfig()
			applied := applyEnvOverrides(cfg)
			tt.validate(t, cfg, applied)
		})
	}
}

func TestDumpJSONAndTOML(t *testing.T) {
	cfg := DefaultConfig()

	jsonData, err := DumpJSON(cfg)
	if err != nil {
		t.Fatalf("DumpJSON() error = %v", err)
	}
	if len(jsonData) == 0 {
		t.Error("DumpJSON() returned empty output")
	}

	tomlData, err := DumpTOML(cfg)
	if err != nil {
		t.Fatalf("DumpTOML() error = %v", err)
	}
	if len(tomlData) == 0 {
		t.Error("DumpTOML() returned empty output")
	}
}
