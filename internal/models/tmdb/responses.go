// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package tmdb defines the wire types for TMDB API responses.
//
// Every optional field is a pointer or a slice so that absence is explicit
// at the resolver→normalizer boundary. The normalizer, not the decoder,
// decides what absence means.
package tmdb

import "github.com/goccy/go-json"

// Configuration is the /configuration response. Only the image base URL is
// consumed; asset sizes are fixed constants in the normalizer.
type Configuration struct {
	Images *ImageConfig `json:"images"`
}

// ImageConfig carries the CDN base for composing asset URLs.
type ImageConfig struct {
	SecureBaseURL string `json:"secure_base_url"`
}

// ListingPage is one page of a paginated listing endpoint
// (/discover/*, /movie/popular, /tv/popular, ...).
type ListingPage struct {
	Page         int            `json:"page"`
	Results      []ListingEntry `json:"results"`
	TotalPages   int            `json:"total_pages"`
	TotalResults int            `json:"total_results"`
}

// ListingEntry is a minimal listing row. The media kind is discriminated by
// which title field the provider populated: movies carry "title", series
// carry "name".
type ListingEntry struct {
	ID    int64   `json:"id"`
	Title *string `json:"title"`
	Name  *string `json:"name"`
}

// IsMovie reports whether the entry is a movie per the title discriminator.
func (e ListingEntry) IsMovie() bool {
	return e.Title != nil
}

// Detail is the expanded per-id payload, requested with
// append_to_response=videos,credits,images,release_dates,content_ratings,watch/providers
// so one round trip carries everything normalization needs.
type Detail struct {
	ID int64 `json:"id"`

	Title            *string `json:"title"`
	Name             *string `json:"name"`
	OriginalTitle    *string `json:"original_title"`
	OriginalName     *string `json:"original_name"`
	OriginalLanguage *string `json:"original_language"`

	Overview *string `json:"overview"`
	Tagline  *string `json:"tagline"`

	Genres []Genre `json:"genres"`

	ReleaseDate  *string `json:"release_date"`
	FirstAirDate *string `json:"first_air_date"`

	Runtime        *int  `json:"runtime"`
	EpisodeRunTime []int `json:"episode_run_time"`

	Popularity  *float64 `json:"popularity"`
	VoteAverage *float64 `json:"vote_average"`
	VoteCount   *int64   `json:"vote_count"`

	PosterPath   *string `json:"poster_path"`
	BackdropPath *string `json:"backdrop_path"`

	Adult *bool `json:"adult"`

	SpokenLanguages []SpokenLanguage `json:"spoken_languages"`

	Videos         *VideoList       `json:"videos"`
	Credits        *Credits         `json:"credits"`
	Images         *ImageList       `json:"images"`
	ReleaseDates   *ReleaseDates    `json:"release_dates"`
	ContentRatings *ContentRatings  `json:"content_ratings"`
	WatchProviders *ProviderResults `json:"watch/providers"`
}

// Genre is a provider genre tag.
type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SpokenLanguage is one spoken-language entry.
type SpokenLanguage struct {
	EnglishName *string `json:"english_name"`
	Name        *string `json:"name"`
	ISO639      *string `json:"iso_639_1"`
}

// VideoList wraps the appended videos sub-resource.
type VideoList struct {
	Results []Video `json:"results"`
}

// Video is one trailer/teaser/clip entry.
type Video struct {
	Key      string `json:"key"`
	Site     string `json:"site"`
	Type     string `json:"type"`
	Official bool   `json:"official"`
}

// Credits wraps the appended credits sub-resource.
type Credits struct {
	Cast []CastCredit `json:"cast"`
	Crew []CrewCredit `json:"crew"`
}

// CastCredit is one cast entry in provider billing order.
type CastCredit struct {
	Name        string  `json:"name"`
	Character   string  `json:"character"`
	ProfilePath *string `json:"profile_path"`
	Order       int     `json:"order"`
}

// CrewCredit is one crew entry.
type CrewCredit struct {
	Name string `json:"name"`
	Job  string `json:"job"`
}

// ImageList wraps the appended images sub-resource. Only logos are consumed.
type ImageList struct {
	Logos []Image `json:"logos"`
}

// Image is one image asset reference.
type Image struct {
	FilePath string  `json:"file_path"`
	ISO639   *string `json:"iso_639_1"`
}

// ReleaseDates wraps the appended release_dates sub-resource (movies).
type ReleaseDates struct {
	Results []CountryReleases `json:"results"`
}

// CountryReleases groups a country's release entries.
type CountryReleases struct {
	CountryCode  string         `json:"iso_3166_1"`
	ReleaseDates []ReleaseEntry `json:"release_dates"`
}

// ReleaseEntry is one dated release with an optional certification.
// Type follows TMDB's release type enum: 1=premiere, 2=limited theatrical,
// 3=theatrical, 4=digital, 5=physical, 6=TV, 7=other.
type ReleaseEntry struct {
	Certification string `json:"certification"`
	Type          int    `json:"type"`
}

// ContentRatings wraps the appended content_ratings sub-resource (TV).
type ContentRatings struct {
	Results []CountryRating `json:"results"`
}

// CountryRating is one country's TV rating.
type CountryRating struct {
	CountryCode string `json:"iso_3166_1"`
	Rating      string `json:"rating"`
}

// ProviderResults carries per-region watch-provider payloads verbatim.
// The pipeline stores these as opaque JSON; only region keys are inspected.
type ProviderResults struct {
	Results map[string]json.RawMessage `json:"results"`
}
