// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package main is the refresh driver.
//
// Refresh walks the entire stored catalog in id order, re-fetches each
// title's detail record from the provider, re-normalizes it, and
// batch-upserts with the overwrite policy. Titles the provider no
// longer knows are left untouched. The walk is cursor-based and ends on
// the first short page, so new items added mid-run are not required for
// termination.
//
// Required environment: TMDB_V4_API_KEY or TMDB_V3_API_KEY. A dry run
// (-dry-run) counts the rows that would be refreshed without touching
// the provider or the store.
//
// Example:
//
//	export TMDB_V4_API_KEY=eyJ...
//	export DUCKDB_PATH=./catalog.duckdb
//	./refresh -concurrency 6 -max-rows 5000
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
	"github.com/tomtom215/catalogus/internal/provider"
	"github.com/tomtom215/catalogus/internal/store"
)

func main() {
	concurrency := flag.Int("concurrency", 0, "override the refresh worker count")
	maxRows := flag.Int64("max-rows", -1, "cap the number of rows refreshed (0 or negative = no cap)")
	dryRun := flag.Bool("dry-run", false, "count rows without fetching or writing")
	flag.Parse()

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *concurrency > 0 {
		cfg.Refresh.Concurrency = *concurrency
	}
	if *maxRows >= 0 {
		cfg.Refresh.MaxRows = *maxRows
	}
	if *dryRun {
		cfg.Refresh.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration")
	}
	if !cfg.Refresh.DryRun {
		if err := cfg.ValidateIngest(); err != nil {
			logging.Fatal().Err(err).Msg("Missing provider credentials")
		}
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("concurrency", cfg.Refresh.Concurrency).
		Int("chunk_size", cfg.Refresh.ChunkSize).
		Int64("max_rows", cfg.Refresh.MaxRows).
		Bool("dry_run", cfg.Refresh.DryRun).
		Str("db_path", cfg.Database.Path).
		Msg("Starting refresh driver")

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

	var pool *ingest.Pool
	if !cfg.Refresh.DryRun {
		client := provider.NewClient(&cfg.TMDB)
		providerCfg, err := client.Configuration(ctx)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to fetch provider configuration")
		}
		imageBase := providerCfg.Images.SecureBaseURL
		logging.Info().Str("image_base", imageBase).Msg("Provider configuration loaded")

		resolver := provider.NewBreakerClient(client)
		limiter := rate.NewLimiter(rate.Every(cfg.Ingest.RequestDelay), 1)
		pool = ingest.NewPool(resolver, limiter, cfg.Refresh.Concurrency, imageBase, "refresh")
	}

	refresher := ingest.NewRefresher(cfg, st, pool)
	summary, err := refresher.Run(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Refresh run ended with error")
	}
	if summary != nil {
		logging.Info().
			Int64("processed", summary.Processed).
			Int64("imported", summary.Imported).
			Int64("skipped", summary.Skipped).
			Int64("failed", summary.Failed).
			Dur("elapsed", summary.Elapsed).
			Msg("Refresh run finished")
	}
}
