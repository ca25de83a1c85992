// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package ingest implements the ingestion pipeline core: payload
// normalization, the identity cache, the worker pool, and the discovery
// and refresh drivers.
package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/catalogus/internal/models"
	"github.com/tomtom215/catalogus/internal/models/tmdb"
)

// Image size buckets. Fixed rather than negotiated from /configuration:
// the catalog stores one canonical rendition per asset class.
const (
	posterSize   = "w500"
	backdropSize = "w1280"
	logoSize     = "w300"
	profileSize  = "w185"
)

// castLimit bounds the stored cast list, taken in billing order.
const castLimit = 10

// countryPriority orders certification lookup. First country with a usable
// rating wins.
var countryPriority = []string{"US", "GB", "CA", "AU"}

// releaseTypePriority orders movie release types when one country carries
// several certified releases: theatrical > digital > physical > premiere >
// limited theatrical > TV > other.
var releaseTypePriority = []int{3, 4, 5, 1, 2, 6, 7}

// RejectReason classifies why a payload failed the quality gate.
type RejectReason string

const (
	RejectMissingSynopsis RejectReason = "missing_synopsis"
	RejectMissingPoster   RejectReason = "missing_poster"
	RejectNoGenres        RejectReason = "no_genres"
)

// RejectionError reports a payload that failed normalization. Rejections
// are expected, per-unit outcomes; callers count them and move on.
type RejectionError struct {
	TMDBID int64
	Reason RejectReason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("payload %d rejected: %s", e.TMDBID, e.Reason)
}

// certification is a picked certification with its provenance.
type certification struct {
	Country string
	Rating  string
	Source  string
}

// Normalize converts a raw detail payload into a storable item. Pure: no
// I/O, deterministic for a given payload. Returns *RejectionError when the
// payload fails the quality gate (synopsis, poster, and at least one
// genre are mandatory).
func Normalize(d *tmdb.Detail, mediaType models.MediaType, imageBase string) (*models.CatalogItem, error) {
	if d.Overview == nil || strings.TrimSpace(*d.Overview) == "" {
		return nil, &RejectionError{TMDBID: d.ID, Reason: RejectMissingSynopsis}
	}
	if d.PosterPath == nil || *d.PosterPath == "" {
		return nil, &RejectionError{TMDBID: d.ID, Reason: RejectMissingPoster}
	}

	genres := make([]string, 0, len(d.Genres))
	for _, g := range d.Genres {
		if g.Name != "" {
			genres = append(genres, g.Name)
		}
	}
	if len(genres) == 0 {
		return nil, &RejectionError{TMDBID: d.ID, Reason: RejectNoGenres}
	}

	item := &models.CatalogItem{
		TMDBID:    d.ID,
		MediaType: mediaType,
		Synopsis:  *d.Overview,
		Genres:    genres,
	}

	// Canonical title: movies carry title, series carry name.
	switch {
	case d.Title != nil:
		item.Title = *d.Title
		item.OriginalTitle = d.OriginalTitle
	case d.Name != nil:
		item.Title = *d.Name
		item.OriginalTitle = d.OriginalName
	}
	item.OriginalLanguage = d.OriginalLanguage

	if d.Tagline != nil && *d.Tagline != "" {
		item.Tagline = d.Tagline
	}

	if d.ReleaseDate != nil && *d.ReleaseDate != "" {
		item.ReleaseDate = d.ReleaseDate
	} else if d.FirstAirDate != nil && *d.FirstAirDate != "" {
		item.ReleaseDate = d.FirstAirDate
	}

	if d.Runtime != nil {
		item.Runtime = d.Runtime
	} else if len(d.EpisodeRunTime) > 0 {
		rt := d.EpisodeRunTime[0]
		item.Runtime = &rt
	}

	item.Popularity = d.Popularity
	item.VoteAverage = d.VoteAverage
	item.VoteCount = d.VoteCount

	item.Director = pickDirector(d.Credits)
	item.TrailerKey = pickTrailer(d.Videos)
	item.TopCast = mapTopCast(d.Credits, imageBase)

	item.PosterPath = assetURL(imageBase, posterSize, *d.PosterPath)
	if d.BackdropPath != nil && *d.BackdropPath != "" {
		u := assetURL(imageBase, backdropSize, *d.BackdropPath)
		item.BackdropPath = &u
	}
	if logo := pickLogo(d.Images); logo != "" {
		u := assetURL(imageBase, logoSize, logo)
		item.LogoPath = &u
	}

	if d.WatchProviders != nil && len(d.WatchProviders.Results) > 0 {
		if raw, err := json.Marshal(d.WatchProviders.Results); err == nil {
			item.WatchProviders = raw
		}
	}

	for _, l := range d.SpokenLanguages {
		switch {
		case l.EnglishName != nil && *l.EnglishName != "":
			item.SpokenLanguages = append(item.SpokenLanguages, *l.EnglishName)
		case l.Name != nil && *l.Name != "":
			item.SpokenLanguages = append(item.SpokenLanguages, *l.Name)
		}
	}

	var cert *certification
	if mediaType == models.MediaTypeMovie {
		cert = pickMovieCertification(d.ReleaseDates)
	} else {
		cert = pickTVRating(d.ContentRatings)
	}
	if cert != nil {
		item.CertCountry = &cert.Country
		item.CertRating = &cert.Rating
		item.CertSource = &cert.Source
	}

	item.Adult = d.Adult != nil && *d.Adult
	item.NSFWFlag, item.NSFWLevel = deriveNSFW(mediaType, item.Adult, cert)

	return item, nil
}

// assetURL composes an absolute CDN URL for one asset path.
func assetURL(base, size, path string) string {
	return base + size + path
}

// pickDirector finds the first crew member with the Director job.
func pickDirector(credits *tmdb.Credits) *string {
	if credits == nil {
		return nil
	}
	for _, c := range credits.Crew {
		if c.Job == "Director" {
			name := c.Name
			return &name
		}
	}
	return nil
}

// pickTrailer finds the first official YouTube trailer.
func pickTrailer(videos *tmdb.VideoList) *string {
	if videos == nil {
		return nil
	}
	for _, v := range videos.Results {
		if v.Site == "YouTube" && v.Type == "Trailer" && v.Official {
			key := v.Key
			return &key
		}
	}
	return nil
}

// pickLogo prefers an English logo, falling back to the first available.
func pickLogo(images *tmdb.ImageList) string {
	if images == nil || len(images.Logos) == 0 {
		return ""
	}
	for _, l := range images.Logos {
		if l.ISO639 != nil && *l.ISO639 == "en" {
			return l.FilePath
		}
	}
	return images.Logos[0].FilePath
}

// mapTopCast takes the first castLimit cast entries in billing order and
// absolutizes their profile paths.
func mapTopCast(credits *tmdb.Credits, imageBase string) []models.CastMember {
	if credits == nil || len(credits.Cast) == 0 {
		return nil
	}
	n := len(credits.Cast)
	if n > castLimit {
		n = castLimit
	}
	cast := make([]models.CastMember, 0, n)
	for _, c := range credits.Cast[:n] {
		m := models.CastMember{Name: c.Name, Character: c.Character}
		if c.ProfilePath != nil && *c.ProfilePath != "" {
			u := assetURL(imageBase, profileSize, *c.ProfilePath)
			m.ProfilePath = &u
		}
		cast = append(cast, m)
	}
	return cast
}

// releaseTypeRank maps a release type to its priority index; unknown types
// sort last.
func releaseTypeRank(t int) int {
	for i, p := range releaseTypePriority {
		if p == t {
			return i
		}
	}
	return len(releaseTypePriority)
}

// pickMovieCertification walks countries in priority order and, within the
// first country holding any certified release, picks the release whose
// type ranks highest. The sort is stable so equal-ranked entries keep
// payload order.
func pickMovieCertification(rd *tmdb.ReleaseDates) *certification {
	if rd == nil {
		return nil
	}
	for _, country := range countryPriority {
		var block *tmdb.CountryReleases
		for i := range rd.Results {
			if rd.Results[i].CountryCode == country {
				block = &rd.Results[i]
				break
			}
		}
		if block == nil {
			continue
		}

		certified := make([]tmdb.ReleaseEntry, 0, len(block.ReleaseDates))
		for _, r := range block.ReleaseDates {
			if strings.TrimSpace(r.Certification) != "" {
				certified = append(certified, r)
			}
		}
		if len(certified) == 0 {
			continue
		}
		sort.SliceStable(certified, func(i, j int) bool {
			return releaseTypeRank(certified[i].Type) < releaseTypeRank(certified[j].Type)
		})
		return &certification{
			Country: country,
			Rating:  certified[0].Certification,
			Source:  "movie:release_dates",
		}
	}
	return nil
}

// pickTVRating walks countries in priority order and returns the first
// non-empty content rating.
func pickTVRating(cr *tmdb.ContentRatings) *certification {
	if cr == nil {
		return nil
	}
	for _, country := range countryPriority {
		for _, b := range cr.Results {
			if b.CountryCode == country && strings.TrimSpace(b.Rating) != "" {
				return &certification{
					Country: country,
					Rating:  b.Rating,
					Source:  "tv:content_ratings",
				}
			}
		}
	}
	return nil
}

// hard movie certifications and soft TV ratings for NSFW derivation.
var (
	hardMovieCerts = map[string]bool{"NC-17": true, "X": true}
	softTVRatings  = map[string]bool{"TV-MA": true}
)

// deriveNSFW grades the item deterministically from the adult flag and the
// picked US certification. No free-text heuristics.
func deriveNSFW(mediaType models.MediaType, adult bool, cert *certification) (bool, models.NSFWLevel) {
	if mediaType == models.MediaTypeMovie {
		if adult {
			return true, models.NSFWLevelHard
		}
		if cert != nil && cert.Country == "US" && hardMovieCerts[cert.Rating] {
			return true, models.NSFWLevelHard
		}
		return false, models.NSFWLevelNone
	}
	if cert != nil && cert.Country == "US" && softTVRatings[cert.Rating] {
		return true, models.NSFWLevelSoft
	}
	return false, models.NSFWLevelNone
}
