// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package models defines the canonical data types shared across the pipeline.
package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// MediaType discriminates movies from series. It is half of the catalog's
// natural key: (TMDBID, MediaType) is globally unique.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// NSFWLevel grades the deterministic NSFW signal derived during normalization.
type NSFWLevel string

const (
	NSFWLevelNone NSFWLevel = "none"
	NSFWLevelSoft NSFWLevel = "soft"
	NSFWLevelHard NSFWLevel = "hard"
)

// CastMember is one entry of the bounded top-cast list, in billing order.
type CastMember struct {
	Name        string  `json:"name"`
	Character   string  `json:"character"`
	ProfilePath *string `json:"profile_path"`
}

// CatalogItem is the canonical stored record for one title.
//
// A CatalogItem is created by the first successful normalize+upsert and only
// mutated by later upsert cycles (refresh, or targeted moderation/embedding
// updates). The pipeline never deletes items.
//
// Well-formedness invariant: Synopsis is non-empty, Genres has at least one
// entry, and PosterPath is non-empty. Payloads that cannot satisfy this are
// rejected by the normalizer before reaching storage.
type CatalogItem struct {
	ID        uuid.UUID `json:"id"`
	TMDBID    int64     `json:"tmdb_id"`
	MediaType MediaType `json:"media_type"`

	Title            string  `json:"title"`
	OriginalTitle    *string `json:"original_title"`
	OriginalLanguage *string `json:"original_language"`
	Synopsis         string  `json:"synopsis"`
	Tagline          *string `json:"tagline"`

	Genres      []string `json:"genres"`
	ReleaseDate *string  `json:"release_date"` // YYYY-MM-DD
	Runtime     *int     `json:"runtime"`      // minutes

	Popularity  *float64 `json:"popularity"`
	VoteAverage *float64 `json:"vote_average"`
	VoteCount   *int64   `json:"vote_count"`

	Director   *string      `json:"director"`
	TrailerKey *string      `json:"trailer_key"`
	TopCast    []CastMember `json:"top_cast"`

	PosterPath   string  `json:"poster_path"`
	BackdropPath *string `json:"backdrop_path"`
	LogoPath     *string `json:"logo_path"`

	// WatchProviders holds the provider availability payload keyed by region,
	// stored verbatim as JSON. The recommendation surface consumes it; the
	// pipeline only carries it through.
	WatchProviders  json.RawMessage `json:"watch_providers"`
	SpokenLanguages []string        `json:"spoken_languages"`

	CertCountry *string `json:"cert_country"`
	CertRating  *string `json:"cert_rating"`
	CertSource  *string `json:"cert_source"`

	Adult     bool      `json:"adult"`
	NSFWFlag  bool      `json:"nsfw_flag"`
	NSFWLevel NSFWLevel `json:"nsfw_level"`

	// Embedding is nil until the backfill driver computes it.
	Embedding []float32 `json:"embedding"`

	ModerationScore  *float64   `json:"moderation_score"`
	ModerationFlag   *bool      `json:"moderation_flag"`
	ModerationReason *string    `json:"moderation_reason"`
	ModeratedAt      *time.Time `json:"moderated_at"`

	IngestedAt time.Time `json:"ingested_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IngestionUnit is the minimal addressable unit of work for the worker pool.
// Immutable once enqueued.
type IngestionUnit struct {
	TMDBID    int64     `json:"tmdb_id"`
	MediaType MediaType `json:"media_type"`
}

// CatalogStatistics is a read-only view over the store, computed on demand.
// It is never cached beyond a single planning cycle so it reflects writes
// from the prior cycle.
type CatalogStatistics struct {
	Total    int64            `json:"total"`
	ByGenre  map[string]int64 `json:"genres"`
	ByDecade map[string]int64 `json:"decades"`
}
