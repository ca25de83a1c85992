// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/catalogus/internal/logging"
	"github.com/tomtom215/catalogus/internal/metrics"
	"github.com/tomtom215/catalogus/internal/models"
)

// ConflictPolicy selects what an upsert does when the natural key
// (tmdb_id, media_type) already exists.
type ConflictPolicy int

const (
	// PolicyIgnore keeps the existing row untouched. Discovery uses this:
	// a title seen twice across discovery queries is written once.
	PolicyIgnore ConflictPolicy = iota
	// PolicyOverwrite replaces the stored metadata with the fresh payload
	// while preserving row identity, ingestion time, embedding, and
	// moderation state. Refresh uses this.
	PolicyOverwrite
)

// String returns the policy's metrics label.
func (p ConflictPolicy) String() string {
	if p == PolicyOverwrite {
		return "overwrite"
	}
	return "ignore"
}

// upsertColumns lists the insert columns in statement order. Embedding and
// moderation fields are intentionally absent: they are written only by
// their dedicated operations.
var upsertColumns = []string{
	"id", "tmdb_id", "media_type",
	"title", "original_title", "original_language", "synopsis", "tagline",
	"genres", "release_date", "runtime",
	"popularity", "vote_average", "vote_count",
	"director", "trailer_key", "top_cast",
	"poster_path", "backdrop_path", "logo_path",
	"watch_providers", "spoken_languages",
	"cert_country", "cert_rating", "cert_source",
	"adult", "nsfw_flag", "nsfw_level",
	"ingested_at", "updated_at",
}

// rowPlaceholders is the per-row VALUES tuple. The two list columns are
// bound as JSON text and cast store-side.
const rowPlaceholders = "(?, ?, ?, ?, ?, ?, ?, ?, CAST(? AS VARCHAR[]), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CAST(? AS VARCHAR[]), ?, ?, ?, ?, ?, ?, ?, ?)"

// overwriteSet is the DO UPDATE clause for PolicyOverwrite.
var overwriteSet = func() string {
	// Everything except id, natural key, ingested_at.
	skip := map[string]bool{"id": true, "tmdb_id": true, "media_type": true, "ingested_at": true}
	parts := make([]string, 0, len(upsertColumns))
	for _, col := range upsertColumns {
		if skip[col] {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	return strings.Join(parts, ", ")
}()

// UpsertBatch writes a batch of items in one multi-row INSERT with the
// given conflict policy and returns the number of rows written. Items
// duplicated within the batch (same natural key) collapse to the first
// occurrence; DuckDB rejects statements that touch the same conflict
// target twice.
func (s *Store) UpsertBatch(ctx context.Context, items []models.CatalogItem, policy ConflictPolicy) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	type key struct {
		id int64
		mt models.MediaType
	}
	seen := make(map[key]bool, len(items))
	now := time.Now().UTC()

	var (
		tuples []string
		args   []interface{}
	)
	for i := range items {
		item := &items[i]
		k := key{item.TMDBID, item.MediaType}
		if seen[k] {
			continue
		}
		seen[k] = true

		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		if item.IngestedAt.IsZero() {
			item.IngestedAt = now
		}
		item.UpdatedAt = now

		rowArgs, err := upsertArgs(item)
		if err != nil {
			return 0, storeErr("upsert_batch", err)
		}
		tuples = append(tuples, rowPlaceholders)
		args = append(args, rowArgs...)
	}

	query := fmt.Sprintf("INSERT INTO media (%s) VALUES %s",
		strings.Join(upsertColumns, ", "), strings.Join(tuples, ", "))
	switch policy {
	case PolicyOverwrite:
		query += " ON CONFLICT (tmdb_id, media_type) DO UPDATE SET " + overwriteSet
	default:
		query += " ON CONFLICT (tmdb_id, media_type) DO NOTHING"
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		metrics.BatchUpsertsTotal.WithLabelValues(policy.String(), "error").Inc()
		return 0, storeErr("upsert_batch", err)
	}

	written, err := res.RowsAffected()
	if err != nil {
		// Driver could not report the count; the write itself succeeded.
		written = 0
	}
	metrics.BatchUpsertsTotal.WithLabelValues(policy.String(), "ok").Inc()
	metrics.BatchUpsertRows.Observe(float64(written))

	logging.Debug().
		Int("batch", len(tuples)).
		Int64("written", written).
		Str("policy", policy.String()).
		Msg("Batch upsert complete")

	return written, nil
}

// upsertArgs flattens one item into the statement argument order.
func upsertArgs(item *models.CatalogItem) ([]interface{}, error) {
	genresJSON, err := json.Marshal(item.Genres)
	if err != nil {
		return nil, fmt.Errorf("marshal genres: %w", err)
	}
	langsJSON, err := json.Marshal(item.SpokenLanguages)
	if err != nil {
		return nil, fmt.Errorf("marshal spoken_languages: %w", err)
	}
	castJSON, err := json.Marshal(item.TopCast)
	if err != nil {
		return nil, fmt.Errorf("marshal top_cast: %w", err)
	}

	var providers interface{}
	if len(item.WatchProviders) > 0 {
		providers = string(item.WatchProviders)
	}

	return []interface{}{
		item.ID, item.TMDBID, string(item.MediaType),
		item.Title, item.OriginalTitle, item.OriginalLanguage, item.Synopsis, item.Tagline,
		string(genresJSON), item.ReleaseDate, item.Runtime,
		item.Popularity, item.VoteAverage, item.VoteCount,
		item.Director, item.TrailerKey, string(castJSON),
		item.PosterPath, item.BackdropPath, item.LogoPath,
		providers, string(langsJSON),
		item.CertCountry, item.CertRating, item.CertSource,
		item.Adult, item.NSFWFlag, string(item.NSFWLevel),
		item.IngestedAt, item.UpdatedAt,
	}, nil
}

// CountItems returns the catalog size.
func (s *Store) CountItems(ctx context.Context) (int64, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	var n int64
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM media`).Scan(&n); err != nil {
		return 0, storeErr("count_items", err)
	}
	return n, nil
}

// ListUnits pages through the catalog's natural keys in stable order.
// A short (or empty) page signals the end of the catalog.
func (s *Store) ListUnits(ctx context.Context, offset, limit int) ([]models.IngestionUnit, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT tmdb_id, media_type FROM media ORDER BY tmdb_id, media_type LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, storeErr("list_units", err)
	}
	defer func() { _ = rows.Close() }()

	units := make([]models.IngestionUnit, 0, limit)
	for rows.Next() {
		var (
			u  models.IngestionUnit
			mt string
		)
		if err := rows.Scan(&u.TMDBID, &mt); err != nil {
			return nil, storeErr("list_units", err)
		}
		u.MediaType = models.MediaType(mt)
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list_units", err)
	}
	return units, nil
}

// Statistics computes the planner's view of the catalog: total size plus
// per-genre and per-decade distributions. Computed fresh on every call.
func (s *Store) Statistics(ctx context.Context) (*models.CatalogStatistics, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	stats := &models.CatalogStatistics{
		ByGenre:  make(map[string]int64),
		ByDecade: make(map[string]int64),
	}

	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM media`).Scan(&stats.Total); err != nil {
		return nil, storeErr("statistics", err)
	}

	genreRows, err := s.conn.QueryContext(ctx,
		`SELECT g.genre, COUNT(*) FROM (SELECT unnest(genres) AS genre FROM media) g GROUP BY g.genre`)
	if err != nil {
		return nil, storeErr("statistics", err)
	}
	defer func() { _ = genreRows.Close() }()
	for genreRows.Next() {
		var (
			genre string
			n     int64
		)
		if err := genreRows.Scan(&genre, &n); err != nil {
			return nil, storeErr("statistics", err)
		}
		stats.ByGenre[genre] = n
	}
	if err := genreRows.Err(); err != nil {
		return nil, storeErr("statistics", err)
	}

	decadeRows, err := s.conn.QueryContext(ctx,
		`SELECT substr(release_date, 1, 3) || '0s' AS decade, COUNT(*)
		 FROM media
		 WHERE release_date IS NOT NULL AND length(release_date) >= 4
		 GROUP BY decade`)
	if err != nil {
		return nil, storeErr("statistics", err)
	}
	defer func() { _ = decadeRows.Close() }()
	for decadeRows.Next() {
		var (
			decade string
			n      int64
		)
		if err := decadeRows.Scan(&decade, &n); err != nil {
			return nil, storeErr("statistics", err)
		}
		stats.ByDecade[decade] = n
	}
	if err := decadeRows.Err(); err != nil {
		return nil, storeErr("statistics", err)
	}

	return stats, nil
}

// itemSelectColumns reads a full item back. List and JSON columns come out
// as JSON text and are decoded client-side.
const itemSelectColumns = `id, tmdb_id, media_type,
	title, original_title, original_language, synopsis, tagline,
	to_json(genres), release_date, runtime,
	popularity, vote_average, vote_count,
	director, trailer_key, CAST(top_cast AS VARCHAR),
	poster_path, backdrop_path, logo_path,
	CAST(watch_providers AS VARCHAR), to_json(spoken_languages),
	cert_country, cert_rating, cert_source,
	adult, nsfw_flag, nsfw_level,
	to_json(embedding),
	moderation_score, moderation_flag, moderation_reason, moderated_at,
	ingested_at, updated_at`

// GetItem fetches one item by natural key. Returns ErrNotFound when absent.
func (s *Store) GetItem(ctx context.Context, tmdbID int64, mediaType models.MediaType) (*models.CatalogItem, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	row := s.conn.QueryRowContext(ctx,
		`SELECT `+itemSelectColumns+` FROM media WHERE tmdb_id = ? AND media_type = ?`,
		tmdbID, string(mediaType))
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get_item", err)
	}
	return item, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.CatalogItem, error) {
	var (
		item       models.CatalogItem
		mediaType  string
		nsfwLevel  string
		genresJSON string
		castJSON   sql.NullString
		provJSON   sql.NullString
		langsJSON  sql.NullString
		embedJSON  sql.NullString
	)

	err := row.Scan(
		&item.ID, &item.TMDBID, &mediaType,
		&item.Title, &item.OriginalTitle, &item.OriginalLanguage, &item.Synopsis, &item.Tagline,
		&genresJSON, &item.ReleaseDate, &item.Runtime,
		&item.Popularity, &item.VoteAverage, &item.VoteCount,
		&item.Director, &item.TrailerKey, &castJSON,
		&item.PosterPath, &item.BackdropPath, &item.LogoPath,
		&provJSON, &langsJSON,
		&item.CertCountry, &item.CertRating, &item.CertSource,
		&item.Adult, &item.NSFWFlag, &nsfwLevel,
		&embedJSON,
		&item.ModerationScore, &item.ModerationFlag, &item.ModerationReason, &item.ModeratedAt,
		&item.IngestedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.MediaType = models.MediaType(mediaType)
	item.NSFWLevel = models.NSFWLevel(nsfwLevel)

	if err := json.Unmarshal([]byte(genresJSON), &item.Genres); err != nil {
		return nil, fmt.Errorf("decode genres: %w", err)
	}
	if castJSON.Valid && castJSON.String != "" {
		if err := json.Unmarshal([]byte(castJSON.String), &item.TopCast); err != nil {
			return nil, fmt.Errorf("decode top_cast: %w", err)
		}
	}
	if langsJSON.Valid && langsJSON.String != "" {
		if err := json.Unmarshal([]byte(langsJSON.String), &item.SpokenLanguages); err != nil {
			return nil, fmt.Errorf("decode spoken_languages: %w", err)
		}
	}
	if provJSON.Valid && provJSON.String != "" {
		item.WatchProviders = json.RawMessage(provJSON.String)
	}
	if embedJSON.Valid && embedJSON.String != "" && embedJSON.String != "null" {
		if err := json.Unmarshal([]byte(embedJSON.String), &item.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}

	return &item, nil
}

// ItemsMissingEmbedding returns up to limit items whose embedding has not
// been computed, oldest first.
func (s *Store) ItemsMissingEmbedding(ctx context.Context, limit int) ([]models.CatalogItem, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+itemSelectColumns+` FROM media WHERE embedding IS NULL ORDER BY ingested_at, tmdb_id LIMIT ?`,
		limit)
	if err != nil {
		return nil, storeErr("items_missing_embedding", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]models.CatalogItem, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storeErr("items_missing_embedding", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("items_missing_embedding", err)
	}
	return items, nil
}

// EmbeddingUpdate binds a computed vector to its row.
type EmbeddingUpdate struct {
	ID     uuid.UUID
	Vector []float32
}

// UpdateEmbeddings writes computed vectors back in a single transaction.
// Every vector must be exactly EmbeddingDim wide.
func (s *Store) UpdateEmbeddings(ctx context.Context, updates []EmbeddingUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("update_embeddings", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(
		`UPDATE media SET embedding = CAST(? AS FLOAT[%d]), updated_at = current_timestamp WHERE id = ?`,
		EmbeddingDim)
	for _, u := range updates {
		if len(u.Vector) != EmbeddingDim {
			return storeErr("update_embeddings",
				fmt.Errorf("vector for %s has %d dimensions, want %d", u.ID, len(u.Vector), EmbeddingDim))
		}
		if _, err := tx.ExecContext(ctx, query, formatVector(u.Vector), u.ID); err != nil {
			return storeErr("update_embeddings", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("update_embeddings", err)
	}
	return nil
}

// formatVector renders a vector as a DuckDB array literal.
func formatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 12)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// SimilarItem is one row of a similarity ranking.
type SimilarItem struct {
	ID        uuid.UUID        `json:"id"`
	TMDBID    int64            `json:"tmdb_id"`
	MediaType models.MediaType `json:"media_type"`
	Title     string           `json:"title"`
	Score     float64          `json:"score"`
}

// SimilarToItem ranks embedded items by cosine similarity to the given
// row's embedding, most similar first. The target row must already be
// embedded; otherwise ErrNotFound.
func (s *Store) SimilarToItem(ctx context.Context, id uuid.UUID, limit int) ([]SimilarItem, error) {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT m.id, m.tmdb_id, m.media_type, m.title,
		        array_cosine_similarity(m.embedding, t.embedding) AS score
		 FROM media m
		 JOIN (SELECT embedding FROM media WHERE id = ? AND embedding IS NOT NULL) t ON true
		 WHERE m.embedding IS NOT NULL AND m.id != ?
		 ORDER BY score DESC
		 LIMIT ?`,
		id, id, limit)
	if err != nil {
		return nil, storeErr("similar_to_item", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]SimilarItem, 0, limit)
	for rows.Next() {
		var (
			r  SimilarItem
			mt string
		)
		if err := rows.Scan(&r.ID, &r.TMDBID, &mt, &r.Title, &r.Score); err != nil {
			return nil, storeErr("similar_to_item", err)
		}
		r.MediaType = models.MediaType(mt)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("similar_to_item", err)
	}
	return results, nil
}

// SetModeration records a moderation verdict for one row without touching
// any ingested metadata. Returns ErrNotFound when the row is absent.
func (s *Store) SetModeration(ctx context.Context, id uuid.UUID, score float64, flagged bool, reason string) error {
	ctx, cancel := s.ensureContext(ctx)
	defer cancel()

	res, err := s.conn.ExecContext(ctx,
		`UPDATE media
		 SET moderation_score = ?, moderation_flag = ?, moderation_reason = ?,
		     moderated_at = current_timestamp, updated_at = current_timestamp
		 WHERE id = ?`,
		score, flagged, reason, id)
	if err != nil {
		return storeErr("set_moderation", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}
