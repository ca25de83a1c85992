// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package store provides the DuckDB-backed catalog store.
//
// One table, media, keyed by a surrogate UUID with a UNIQUE(tmdb_id,
// media_type) natural key. All writes go through UpsertBatch so the
// conflict policy (ignore vs overwrite) is decided per call site, not per
// table. Embeddings live in a fixed-size FLOAT array column so similarity
// ranking can run store-side via array_cosine_similarity.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/catalogus/internal/config"
	"github.com/tomtom215/catalogus/internal/logging"
)

// EmbeddingDim is the dimensionality of the embedding column. It matches
// text-embedding-3-small; changing it requires a schema migration.
const EmbeddingDim = 1536

// queryTimeout bounds any single statement against the store.
const queryTimeout = 30 * time.Second

// Store wraps the DuckDB connection and provides catalog data access.
type Store struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens (or creates) the DuckDB database at cfg.Path and initializes
// the schema. Pass ":memory:" as the path for an ephemeral store.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure parent directory exists for the database file.
	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is an in-process engine; a single connection avoids write
	// contention between pooled handles.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, cfg: cfg}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Str("max_memory", maxMemory).
		Msg("Catalog store opened")

	return s, nil
}

// initSchema creates the media table and supporting indexes if absent.
func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS media (
		id UUID PRIMARY KEY,
		tmdb_id BIGINT NOT NULL,
		media_type VARCHAR NOT NULL,
		title VARCHAR NOT NULL,
		original_title VARCHAR,
		original_language VARCHAR,
		synopsis VARCHAR NOT NULL,
		tagline VARCHAR,
		genres VARCHAR[] NOT NULL,
		release_date VARCHAR,
		runtime INTEGER,
		popularity DOUBLE,
		vote_average DOUBLE,
		vote_count BIGINT,
		director VARCHAR,
		trailer_key VARCHAR,
		top_cast JSON,
		poster_path VARCHAR NOT NULL,
		backdrop_path VARCHAR,
		logo_path VARCHAR,
		watch_providers JSON,
		spoken_languages VARCHAR[],
		cert_country VARCHAR,
		cert_rating VARCHAR,
		cert_source VARCHAR,
		adult BOOLEAN NOT NULL DEFAULT false,
		nsfw_flag BOOLEAN NOT NULL DEFAULT false,
		nsfw_level VARCHAR NOT NULL DEFAULT 'none',
		embedding FLOAT[%d],
		moderation_score DOUBLE,
		moderation_flag BOOLEAN,
		moderation_reason VARCHAR,
		moderated_at TIMESTAMP,
		ingested_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		UNIQUE (tmdb_id, media_type)
	)`, EmbeddingDim)

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create media table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_media_type ON media(media_type)`,
		`CREATE INDEX IF NOT EXISTS idx_media_release ON media(release_date)`,
	}
	for _, idx := range indexes {
		if _, err := s.conn.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// ensureContext attaches the default statement timeout when the caller's
// context carries no deadline of its own.
func (s *Store) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()
	return s.conn.PingContext(ctx)
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
