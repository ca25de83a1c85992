// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package main is the discovery driver.
//
// The driver grows the catalog toward a target size by alternating
// planning and execution cycles:
//
//  1. Configuration: Koanf v2 layered sources (env > file > defaults)
//  2. Store: DuckDB catalog opened read-write
//  3. Provider: TMDB client with retry, rate limiting, and a circuit
//     breaker on detail resolution
//  4. Planner: chat-completions strategy planner proposes discovery
//     queries from current catalog statistics
//  5. Convergence loop: execute each planned query page by page,
//     normalize, and batch-upsert with the ignore policy until the
//     target count is reached
//
// Required environment: TMDB_V4_API_KEY or TMDB_V3_API_KEY, and
// OPENAI_KEY for the planner. The run is resumable: already-cataloged
// ids are skipped through the identity cache, and interrupting the
// driver loses at most one in-flight batch.
//
// Example:
//
//	export TMDB_V4_API_KEY=eyJ...
//	export OPENAI_KEY=sk-...
//	export DUCKDB_PATH=./catalog.duckdb
//	./discover -target 100000 -mode balance
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/catalogus/internal/config"
	"github.com/tomtom215/catalogus/internal/ingest"
	"github.com/tomtom215/catalogus/internal/logging"
	"github.com/tomtom215/catalogus/internal/ops"
	"github.com/tomtom215/catalogus/internal/planner"
	"github.com/tomtom215/catalogus/internal/provider"
	"github.com/tomtom215/catalogus/internal/store"
)

func main() {
	target := flag.Int64("target", 0, "override the catalog target size")
	concurrency := flag.Int("concurrency", 0, "override the ingest worker count")
	mode := flag.String("mode", "", "planner mode: niche, balance, or curate")
	flag.Parse()

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *target > 0 {
		cfg.Ingest.TargetTotalItems = *target
	}
	if *concurrency > 0 {
		cfg.Ingest.Concurrency = *concurrency
	}
	if *mode != "" {
		cfg.Planner.Mode = *mode
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.ValidateIngest(); err != nil {
		logging.Fatal().Err(err).Msg("Missing provider credentials")
	}
	if err := cfg.ValidatePlanner(); err != nil {
		logging.Fatal().Err(err).Msg("Missing planner credentials")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int64("target", cfg.Ingest.TargetTotalItems).
		Int("concurrency", cfg.Ingest.Concurrency).
		Str("mode", cfg.Planner.Mode).
		Str("db_path", cfg.Database.Path).
		Msg("Starting discovery driver")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open catalog store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing catalog store")
		}
	}()

	opsServer := ops.NewServer(&cfg.Ops, st)
	if opsServer.Enabled() {
		opsServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Error shutting down ops server")
			}
		}()
	}

	client := provider.NewClient(&cfg.TMDB)
	providerCfg, err := client.Configuration(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to fetch provider configuration")
	}
	imageBase := providerCfg.Images.SecureBaseURL
	logging.Info().Str("image_base", imageBase).Msg("Provider configuration loaded")

	resolver := provider.NewBreakerClient(client)
	limiter := rate.NewLimiter(rate.Every(cfg.Ingest.RequestDelay), 1)
	pool := ingest.NewPool(resolver, limiter, cfg.Ingest.Concurrency, imageBase, "discover")
	plan := planner.NewChatPlanner(&cfg.Planner)

	discoverer := ingest.NewDiscoverer(cfg, client, st, plan, pool)
	summary, err := discoverer.Run(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Discovery run ended with error")
	}
	if summary != nil {
		logging.Info().
			Int64("imported", summary.Imported).
			Int64("processed", summary.Processed).
			Int64("skipped", summary.Skipped).
			Int64("failed", summary.Failed).
			Int("cycles", summary.Cycles).
			Dur("elapsed", summary.Elapsed).
			Msg("Discovery run finished")
	}
}
