// Package config loads ckbscip's configuration from .ckbscip/config.{json,toml}
// with environment-variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	tomlv2 "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// BuildConfig holds ETL build defaults.
type BuildConfig struct {
	BatchSize      int  `json:"batchSize" mapstructure:"batchSize"`
	ArchiveSource  bool `json:"archiveSource" mapstructure:"archiveSource"`
	DeleteOnVerify bool `json:"deleteOnVerify" mapstructure:"deleteOnVerify"`
}

// QueryConfig holds query-engine defaults.
type QueryConfig struct {
	DefaultDepth      int `json:"defaultDepth" mapstructure:"defaultDepth"`
	MaxDepth          int `json:"maxDepth" mapstructure:"maxDepth"`
	TraceMaxDepthCap  int `json:"traceMaxDepthCap" mapstructure:"traceMaxDepthCap"`
	DefaultTimeoutSec int `json:"defaultTimeoutSec" mapstructure:"defaultTimeoutSec"`
	DefaultLimit      int `json:"defaultLimit" mapstructure:"defaultLimit"`
}

// LoggingConfig mirrors the shape the logging package expects.
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// Config is the complete ckbscip configuration.
type Config struct {
	RepoRoot string        `json:"repoRoot" mapstructure:"repoRoot"`
	Build    BuildConfig   `json:"build" mapstructure:"build"`
	Query    QueryConfig   `json:"query" mapstructure:"query"`
	Logging  LoggingConfig `json:"logging" mapstructure:"logging"`
}

// DefaultConfig returns ckbscip's built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		RepoRoot: ".",
		Build: BuildConfig{
			BatchSize:      1000,
			ArchiveSource:  false,
			DeleteOnVerify: false,
		},
		Query: QueryConfig{
			DefaultDepth:      1,
			MaxDepth:          10,
			TraceMaxDepthCap:  3,
			DefaultTimeoutSec: 10,
			DefaultLimit:      100,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadResult carries a loaded config plus how it was obtained.
type LoadResult struct {
	Config       *Config
	ConfigPath   string
	EnvOverrides []string
	UsedDefaults bool
}

// Load loads configuration for repoRoot, preferring .ckbscip/config.toml,
// then .ckbscip/config.json, then built-in defaults. CKBSCIP_CONFIG_PATH
// overrides the search entirely.
func Load(repoRoot string) (*LoadResult, error) {
	result := &LoadResult{}

	if p := os.Getenv("CKBSCIP_CONFIG_PATH"); p != "" {
		cfg, err := loadFromPath(p)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from CKBSCIP_CONFIG_PATH=%s: %w", p, err)
		}
		result.Config = cfg
		result.ConfigPath = p
		result.EnvOverrides = applyEnvOverrides(result.Config)
		return result, nil
	}

	ckbDir := filepath.Join(repoRoot, ".ckbscip")

	if tomlPath := filepath.Join(ckbDir, "config.toml"); fileExists(tomlPath) {
		cfg := DefaultConfig()
		if _, err := toml.DecodeFile(tomlPath, cfg); err != nil {
			return nil, fmt.Errorf("invalid TOML in %s: %w", tomlPath, err)
		}
		result.Config = cfg
		result.ConfigPath = tomlPath
		result.EnvOverrides = applyEnvOverrides(result.Config)
		return result, nil
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(ckbDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			result.Config = DefaultConfig()
			result.Config.RepoRoot = repoRoot
			result.UsedDefaults = true
			result.EnvOverrides = applyEnvOverrides(result.Config)
			return result, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	result.Config = cfg
	result.ConfigPath = v.ConfigFileUsed()
	result.EnvOverrides = applyEnvOverrides(result.Config)
	return result, nil
}

func loadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.HasSuffix(path, ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("invalid TOML in config file: %w", err)
		}
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON in config file: %w", err)
	}
	return cfg, nil
}

var envVarMappings = map[string]string{
	"CKBSCIP_LOG_LEVEL":         "logging.level",
	"CKBSCIP_LOG_FORMAT":        "logging.format",
	"CKBSCIP_BUILD_BATCH_SIZE":  "build.batchSize",
	"CKBSCIP_QUERY_MAX_DEPTH":   "query.maxDepth",
	"CKBSCIP_QUERY_TIMEOUT_SEC": "query.defaultTimeoutSec",
}

func applyEnvOverrides(cfg *Config) []string {
	var applied []string
	for envVar, path := range envVarMappings {
		val := os.Getenv(envVar)
		if val == "" {
			continue
		}
		if applyOverride(cfg, path, val) {
			applied = append(applied, envVar)
		}
	}
	return applied
}

func applyOverride(cfg *Config, path, value string) bool {
	switch path {
	case "logging.level":
		cfg.Logging.Level = value
		return true
	case "logging.format":
		cfg.Logging.Format = value
		return true
	case "build.batchSize":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.Build.BatchSize = n
			return true
		}
	case "query.maxDepth":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.Query.MaxDepth = n
			return true
		}
	case "query.defaultTimeoutSec":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.Query.DefaultTimeoutSec = n
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DumpTOML renders the config as TOML, for the `config dump --format=toml`
// diagnostic command.
func DumpTOML(cfg *Config) ([]byte, error) {
	return tomlv2.Marshal(cfg)
}

// DumpJSON renders the config as indented JSON.
func DumpJSON(cfg *Config) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}
