// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/catalogus/config.yaml",
	"/etc/catalogus/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Precedence is ENV > File > Defaults. Environment variable names are
// mapped to koanf paths through an explicit table so stray variables
// never pollute the configuration.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// OPENAI_KEY and OPENAI_BASE_URL fan out to both the planner and the
	// embedder unless an endpoint-specific variable was set.
	if err := applySharedOpenAI(k); err != nil {
		return nil, err
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applySharedOpenAI distributes the shared OPENAI_KEY and OPENAI_BASE_URL
// values to the planner and embedding sections. An endpoint-specific
// environment variable always wins over the shared one.
func applySharedOpenAI(k *koanf.Koanf) error {
	type fanout struct {
		shared   string
		specific string // env var that overrides the shared value
		target   string
	}
	fanouts := []fanout{
		{"shared.openai_key", "PLANNER_API_KEY", "planner.api_key"},
		{"shared.openai_key", "EMBEDDING_API_KEY", "embedding.api_key"},
		{"shared.openai_base_url", "PLANNER_BASE_URL", "planner.base_url"},
		{"shared.openai_base_url", "EMBEDDING_BASE_URL", "embedding.base_url"},
	}
	for _, f := range fanouts {
		val := k.String(f.shared)
		if val == "" || os.Getenv(f.specific) != "" {
			continue
		}
		if err := k.Set(f.target, val); err != nil {
			return fmt.Errorf("failed to set %s: %w", f.target, err)
		}
	}
	return nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc transforms environment variable names to koanf config
// paths. Only explicitly mapped variables are honored.
//
// Examples:
//   - TMDB_V4_API_KEY -> tmdb.v4_token
//   - DUCKDB_PATH -> database.path
//   - TARGET_TOTAL_ITEMS -> ingest.target_total_items
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Provider mappings
		"tmdb_base_url":         "tmdb.base_url",
		"tmdb_v4_api_key":       "tmdb.v4_token",
		"tmdb_v3_api_key":       "tmdb.v3_key",
		"tmdb_max_retries":      "tmdb.max_retries",
		"tmdb_retry_base_delay": "tmdb.retry_base_delay",

		// Planner mappings
		"openai_key":       "shared.openai_key",      // shared by planner and embedder
		"openai_base_url":  "shared.openai_base_url", // shared by planner and embedder
		"planner_base_url": "planner.base_url",
		"planner_api_key":  "planner.api_key",
		"planner_model":    "planner.model",
		"planner_mode":     "planner.mode",
		"strategy_delay":   "planner.strategy_delay",
		"plan_cap":         "planner.plan_cap",

		// Embedding mappings
		"embedding_base_url":   "embedding.base_url",
		"embedding_api_key":    "embedding.api_key",
		"embedding_model":      "embedding.model",
		"embedding_batch_size": "embedding.batch_size",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Ingest mappings
		"target_total_items": "ingest.target_total_items",
		"seed_concurrency":   "ingest.concurrency",
		"request_delay":      "ingest.request_delay",
		"store_page_size":    "ingest.page_size",

		// Refresh mappings
		"chunk_size":          "refresh.chunk_size",
		"refresh_concurrency": "refresh.concurrency",
		"max_rows":            "refresh.max_rows",
		"dry_run":             "refresh.dry_run",

		// Ops mappings
		"ops_host": "ops.host",
		"ops_port": "ops.port",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so random environment variables never
	// leak into configuration.
	return ""
}
