// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package config loads and validates pipeline configuration.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, optional YAML config file,
// built-in defaults. Missing required credentials are the only class of
// error that aborts a driver at startup; everything downstream degrades
// to per-unit skips.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration shared by all drivers.
type Config struct {
	TMDB      TMDBConfig      `koanf:"tmdb"`
	Planner   PlannerConfig   `koanf:"planner"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Database  DatabaseConfig  `koanf:"database"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Refresh   RefreshConfig   `koanf:"refresh"`
	Ops       OpsConfig       `koanf:"ops"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// TMDBConfig configures the upstream content provider client.
type TMDBConfig struct {
	BaseURL string `koanf:"base_url" validate:"required,url"`
	// V4Token is the preferred bearer credential; V3Key is the legacy
	// api_key query parameter. At least one must be set.
	V4Token        string        `koanf:"v4_token"`
	V3Key          string        `koanf:"v3_key"`
	MaxRetries     int           `koanf:"max_retries" validate:"min=1,max=10"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"min=0"`
}

// HasCredentials reports whether at least one TMDB credential is configured.
func (c *TMDBConfig) HasCredentials() bool {
	return c.V4Token != "" || c.V3Key != ""
}

// PlannerConfig configures the strategy planner collaborator
// (an OpenAI-compatible chat-completions endpoint).
type PlannerConfig struct {
	BaseURL string `koanf:"base_url" validate:"required,url"`
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model" validate:"required"`
	// Mode selects the prompt family: niche, balance, or curate.
	Mode           string        `koanf:"mode" validate:"oneof=niche balance curate"`
	MaxRetries     int           `koanf:"max_retries" validate:"min=1,max=10"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"min=0"`
	// StrategyDelay is the pause between planning cycles; an empty or
	// invalid plan waits 3x this before re-planning.
	StrategyDelay time.Duration `koanf:"strategy_delay" validate:"min=0"`
	// PlanCap bounds how many plan entries are accepted per cycle.
	PlanCap int `koanf:"plan_cap" validate:"min=1,max=10"`
}

// EmbeddingConfig configures the embedding backfill driver.
type EmbeddingConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	APIKey         string        `koanf:"api_key"`
	Model          string        `koanf:"model" validate:"required"`
	BatchSize      int           `koanf:"batch_size" validate:"min=1,max=500"`
	MaxRetries     int           `koanf:"max_retries" validate:"min=1,max=10"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"min=0"`
}

// DatabaseConfig configures the DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"min=0"` // 0 = use runtime.NumCPU()
}

// IngestConfig tunes the discovery pipeline.
type IngestConfig struct {
	// TargetTotalItems is the catalog size the convergence loop drives
	// toward.
	TargetTotalItems int64 `koanf:"target_total_items" validate:"min=1"`
	// Concurrency is the worker pool degree for discovery.
	Concurrency int `koanf:"concurrency" validate:"min=1,max=32"`
	// RequestDelay is the steady-state pause between units per run,
	// applied regardless of success/failure and independent of retry
	// backoff.
	RequestDelay time.Duration `koanf:"request_delay" validate:"min=0"`
	// PageSize is the store paging unit for cache warming and cursors.
	PageSize int `koanf:"page_size" validate:"min=1,max=10000"`
}

// RefreshConfig tunes the exhaustive refresh driver.
type RefreshConfig struct {
	// ChunkSize is how many units are handed to the pool at a time.
	ChunkSize int `koanf:"chunk_size" validate:"min=1,max=5000"`
	// Concurrency is the worker pool degree for refresh.
	Concurrency int `koanf:"concurrency" validate:"min=1,max=32"`
	// MaxRows caps how many rows are refreshed (0 = no cap); useful for
	// testing a refresh against a slice of the catalog.
	MaxRows int64 `koanf:"max_rows" validate:"min=0"`
	// DryRun walks the catalog without fetching or writing.
	DryRun bool `koanf:"dry_run"`
}

// OpsConfig configures the per-driver ops HTTP listener
// (/healthz, /metrics). Port 0 disables it.
type OpsConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=0,max=65535"`
}

// LoggingConfig configures the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. These mirror
// the pipeline's empirically tuned values: 250ms steady-state request
// delay, 5 fetch retries from a 1s seed, 1000-row store pages, 200-item
// refresh chunks.
func defaultConfig() *Config {
	return &Config{
		TMDB: TMDBConfig{
			BaseURL:        "https://api.themoviedb.org/3",
			MaxRetries:     5,
			RetryBaseDelay: 1 * time.Second,
		},
		Planner: PlannerConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			Mode:           "niche",
			MaxRetries:     5,
			RetryBaseDelay: 2 * time.Second,
			StrategyDelay:  5 * time.Second,
			PlanCap:        10,
		},
		Embedding: EmbeddingConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "text-embedding-3-small",
			BatchSize:      50,
			MaxRetries:     5,
			RetryBaseDelay: 2 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/catalogus.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		Ingest: IngestConfig{
			TargetTotalItems: 100_000,
			Concurrency:      4,
			RequestDelay:     250 * time.Millisecond,
			PageSize:         1000,
		},
		Refresh: RefreshConfig{
			ChunkSize:   200,
			Concurrency: 6,
			MaxRows:     0,
			DryRun:      false,
		},
		Ops: OpsConfig{
			Host: "0.0.0.0",
			Port: 9464,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks structural invariants common to all drivers.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// ValidateIngest checks the credentials the discovery and refresh drivers
// require. Called at driver startup; failure is fatal before any work
// begins.
func (c *Config) ValidateIngest() error {
	if !c.TMDB.HasCredentials() {
		return fmt.Errorf("missing TMDB credential: set TMDB_V4_API_KEY or TMDB_V3_API_KEY")
	}
	return nil
}

// ValidatePlanner checks the planner credential the discovery driver
// requires.
func (c *Config) ValidatePlanner() error {
	if c.Planner.APIKey == "" {
		return fmt.Errorf("missing planner credential: set OPENAI_KEY")
	}
	return nil
}

// ValidateEmbedding checks the credential the embedding driver requires.
func (c *Config) ValidateEmbedding() error {
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("missing embedding credential: set OPENAI_KEY")
	}
	return nil
}
