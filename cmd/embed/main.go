// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package main is the embedding backfill driver.
//
// The driver selects batches of cataloged titles without an embedding
// vector, composes a text rendition of each (title, director, cast,
// languages, synopsis, genres), embeds the batch through an
// OpenAI-compatible endpoint, and writes the vectors back. It stops
// when every row has a vector, so it is safe to run after every
// discovery or refresh cycle.
//
// Required environment: OPENAI_KEY (or EMBEDDING_API_KEY).
//
// Example:
//
//	export OPENAI_KEY=sk-...
//	export DUCKDB_PATH=./catalog.duckdb
//	./embed -batch-size 50
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/catalogus/internal/config"
	"github.com/tomtom215/catalogus/internal/embed"
	"github.com/tomtom215/catalogus/internal/logging"
	"github.com/tomtom215/catalogus/internal/ops"
	"github.com/tomtom215/catalogus/internal/store"
)

func main() {
	batchSize := flag.Int("batch-size", 0, "override the embedding batch size")
	flag.Parse()

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *batchSize > 0 {
		cfg.Embedding.BatchSize = *batchSize
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.ValidateEmbedding(); err != nil {
		logging.Fatal().Err(err).Msg("Missing embedding credentials")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("model", cfg.Embedding.Model).
		Int("batch_size", cfg.Embedding.BatchSize).
		Str("db_path", cfg.Database.Path).
		Msg("Starting embedding backfill driver")

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

	embedder := embed.NewEmbedder(&cfg.Embedding, st)
	summary, err := embedder.Run(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Embedding backfill ended with error")
	}
	if summary != nil {
		logging.Info().
			Int64("embedded", summary.Embedded).
			Int("batches", summary.Batches).
			Dur("elapsed", summary.Elapsed).
			Msg("Embedding backfill finished")
	}
}
