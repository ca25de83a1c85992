// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

package ingest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/catalogus/internal/models"
	"github.com/tomtom215/catalogus/internal/models/tmdb"
)

const imageBase = "https://image.example/t/p/"

func sp(s string) *string { return &s }
func bp(b bool) *bool     { return &b }

// movieDetail builds a minimal payload that passes the quality gate.
func movieDetail(id int64) *tmdb.Detail {
	return &tmdb.Detail{
		ID:         id,
		Title:      sp("Test Movie"),
		Overview:   sp("A movie that exists for testing."),
		PosterPath: sp("/poster.jpg"),
		Genres:     []tmdb.Genre{{ID: 18, Name: "Drama"}},
	}
}

func tvDetail(id int64) *tmdb.Detail {
	return &tmdb.Detail{
		ID:         id,
		Name:       sp("Test Show"),
		Overview:   sp("A show that exists for testing."),
		PosterPath: sp("/poster.jpg"),
		Genres:     []tmdb.Genre{{ID: 18, Name: "Drama"}},
	}
}

func TestNormalizeQualityGate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*tmdb.Detail)
		reason RejectReason
	}{
		{"missing synopsis", func(d *tmdb.Detail) { d.Overview = nil }, RejectMissingSynopsis},
		{"blank synopsis", func(d *tmdb.Detail) { d.Overview = sp("   ") }, RejectMissingSynopsis},
		{"missing poster", func(d *tmdb.Detail) { d.PosterPath = nil }, RejectMissingPoster},
		{"no genres", func(d *tmdb.Detail) { d.Genres = nil }, RejectNoGenres},
		{"only empty genre names", func(d *tmdb.Detail) { d.Genres = []tmdb.Genre{{ID: 1}} }, RejectNoGenres},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := movieDetail(42)
			tt.mutate(d)
			_, err := Normalize(d, models.MediaTypeMovie, imageBase)
			var re *RejectionError
			if !errors.As(err, &re) {
				t.Fatalf("error = %v, want *RejectionError", err)
			}
			if re.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", re.Reason, tt.reason)
			}
			if re.TMDBID != 42 {
				t.Errorf("TMDBID = %d, want 42", re.TMDBID)
			}
		})
	}
}

func TestNormalizeCanonicalTitle(t *testing.T) {
	m := movieDetail(1)
	m.OriginalTitle = sp("Originaltitel")
	item, err := Normalize(m, models.MediaTypeMovie, imageBase)
	if err != nil {
		t.Fatalf("Normalize(movie) error = %v", err)
	}
	if item.Title != "Test Movie" {
		t.Errorf("movie Title = %q", item.Title)
	}
	if item.OriginalTitle == nil || *item.OriginalTitle != "Originaltitel" {
		t.Errorf("movie OriginalTitle = %v", item.OriginalTitle)
	}

	tv := tvDetail(2)
	tv.OriginalName = sp("Origineller Name")
	item, err = Normalize(tv, models.MediaTypeTV, imageBase)
	if err != nil {
		t.Fatalf("Normalize(tv) error = %v", err)
	}
	if item.Title != "Test Show" {
		t.Errorf("tv Title = %q", item.Title)
	}
	if item.OriginalTitle == nil || *item.OriginalTitle != "Origineller Name" {
		t.Errorf("tv OriginalTitle = %v", item.OriginalTitle)
	}
}

func TestNormalizeReleaseDateAndRuntimeFallbacks(t *testing.T) {
	tv := tvDetail(3)
	tv.FirstAirDate = sp("2005-03-24")
	tv.EpisodeRunTime = []int{22, 30}
	item, err := Normalize(tv, models.MediaTypeTV, imageBase)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if item.ReleaseDate == nil || *item.ReleaseDate != "2005-03-24" {
		t.Errorf("ReleaseDate = %v, want first_air_date fallback", item.ReleaseDate)
	}
	if item.Runtime == nil || *item.Runtime != 22 {
		t.Errorf("Runtime = %v, want first episode_run_time entry", item.Runtime)
	}
}

func TestNormalizeAssetURLs(t *testing.T) {
	m := movieDetail(4)
	m.BackdropPath = sp("/backdrop.jpg")
	m.Images = &tmdb.ImageList{Logos: []tmdb.Image{
		{FilePath: "/logo-de.png", ISO639: sp("de")},
		{FilePath: "/logo-en.png", ISO639: sp("en")},
	}}
	item, err := Normalize(m, models.MediaTypeMovie, imageBase)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if item.PosterPath != imageBase+"w500/poster.jpg" {
		t.Errorf("PosterPath = %q", item.PosterPath)
	}
	if item.BackdropPath == nil || *item.BackdropPath != imageBase+"w1280/backdrop.jpg" {
		t.Errorf("BackdropPath = %v", item.BackdropPath)
	}
	// English logo preferred over payload order.
	if item.LogoPath == nil || *item.LogoPath != imageBase+"w300/logo-en.png" {
		t.Errorf("LogoPath = %v", item.LogoPath)
	}
}

func TestNormalizeLogoFallsBackToFirst(t *testing.T) {
	m := movieDetail(5)
	m.Images = &tmdb.ImageList{Logos: []tmdb.Image{
		{FilePath: "/logo-ja.png", ISO639: sp("ja")},
		{FilePath: "/logo-fr.png", ISO639: sp("fr")},
	}}
	item, err := Normalize(m, models.MediaTypeMovie, imageBase)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if item.LogoPath == nil || *item.LogoPath != imageBase+"w300/logo-ja.png" {
		t.Errorf("LogoPath = %v, want first logo", item.LogoPath)
	}
}

func TestNormalizeTopCastCapAndOrder(t *testing.T) {
	m := movieDetail(6)
	cast := make([]tmdb.CastCredit, 0, 14)
	for i := 0; i < 14; i++ {
		cast = append(cast, tmdb.CastCredit{
			Name:        fmt.Sprintf("Actor %d", i),
			Character:   fmt.Sprintf("Role %d", i),
			ProfilePath: sp(fmt.Sprintf("/p%d.jpg", i)),
			Order:       i,
		})
	}
	cast[1].ProfilePath = nil
	m.Credits = &tmdb.Credits{
		Cast: cast,
		Crew: []tmdb.CrewCredit{
			{Name: "E. Editor", Job: "Editor"},
			{Name: "D. Director", Job: "Director"},
		},
	}

	item, err := Normalize(m, models.MediaTypeMovie, imageBase)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(item.TopCast) != 10 {
		t.Fatalf("TopCast length = %d, want 10", len(item.TopCast))
	}
	if item.TopCast[0].Name != "Actor 0" || item.TopCast[9].Name != "Actor 9" {
		t.Errorf("billing order broken: first %q last %q", item.TopCast[0].Name, item.TopCast[9].Name)
	}
	if item.TopCast[0].ProfilePath == nil || *item.TopCast[0].ProfilePath != imageBase+"w185/p0.jpg" {
		t.Errorf("profile path = %v", item.TopCast[0].ProfilePath)
	}
	if item.TopCast[1].ProfilePath != nil {
		t.Errorf("missing profile should stay nil, got %v", item.TopCast[1].ProfilePath)
	}
	if item.Director == nil || *item.Director != "D. Director" {
		t.Errorf("Director = %v", item.Director)
	}
}

func TestNormalizeTrailerSelection(t *testing.T) {
	m := movieDetail(7)
	m.Videos = &tmdb.VideoList{Results: []tmdb.Video{
		{Key: "clip1", Site: "YouTube", Type: "Clip", Official: true},
		{Key: "vimeo1", Site: "Vimeo", Type: "Trailer", Official: true},
		{Key: "fan1", Site: "YouTube", Type: "Trailer", Official: false},
		{Key: "official1", Site: "YouTube", Type: "Trailer", Official: true},
	}}
	item, err := Normalize(m, models.MediaTypeMovie, imageBase)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if item.TrailerKey == nil || *item.TrailerKey != "official1" {
		t.Errorf("TrailerKey = %v, want official1", item.TrailerKey)
	}
}

func TestPickMovieCertificationCountryPriority(t *testing.T) {
	rd := &tmdb.ReleaseDates{Results: []tmdb.CountryReleases{
		{CountryCode: "GB", ReleaseDates: []tmdb.ReleaseEntry{{Certification: "15", Type: 3}}},
		{CountryCode: "US", ReleaseDates: []tmdb.ReleaseEntry{{Certification: "R", Type: 3}}},
	}}
	cert := pickMovieCertification(rd)
	if cert == nil {
		t.Fatal("cert = nil")
	}
	// US outranks GB regardless of payload order.
	if cert.Country != "US" || cert.Rating != "R" {
		t.Errorf("cert = %+v, want US R", cert)
	}
	if cert.Source != "movie:release_dates" {
		t.Errorf("Source = %q", cert.Source)
	}
}

func TestPickMovieCertificationTypePriority(t *testing.T) {
	rd := &tmdb.ReleaseDates{Results: []tmdb.CountryReleases{
		{CountryCode: "US", ReleaseDates: []tmdb.ReleaseEntry{
			{Certification: "PG-13", Type: 1}, // premiere
			{Certification: "", Type: 3},      // theatrical but uncertified
			{Certification: "R", Type: 4},     // digital
		}},
	}}
	cert := pickMovieCertification(rd)
	if cert == nil {
		t.Fatal("cert = nil")
	}
	// Digital (4) outranks premiere (1); the uncertified theatrical entry
	// is filtered before sorting.
	if cert.Rating != "R" {
		t.Errorf("Rating = %q, want R (digital beats premiere)", cert.Rating)
	}
}

func TestPickMovieCertificationFallsThroughEmptyCountry(t *testing.T) {
	// US block exists but has no certified releases; GB supplies the pick.
	rd := &tmdb.ReleaseDates{Results: []tmdb.CountryReleases{
		{CountryCode: "US", ReleaseDates: []tmdb.ReleaseEntry{{Certification: "", Type: 3}}},
		{CountryCode: "GB", ReleaseDates: []tmdb.ReleaseEntry{{Certification: "18", Type: 3}}},
	}}
	cert := pickMovieCertification(rd)
	if cert == nil || cert.Country != "GB" || cert.Rating != "18" {
		t.Errorf("cert = %+v, want GB 18", cert)
	}
}

func TestPickTVRating(t *testing.T) {
	cr := &tmdb.ContentRatings{Results: []tmdb.CountryRating{
		{CountryCode: "DE", Rating: "16"},
		{CountryCode: "GB", Rating: "15"},
		{CountryCode: "US", Rating: "TV-MA"},
	}}
	cert := pickTVRating(cr)
	if cert == nil || cert.Country != "US" || cert.Rating != "TV-MA" {
		t.Errorf("cert = %+v, want US TV-MA", cert)
	}
	if cert.Source != "tv:content_ratings" {
		t.Errorf("Source = %q", cert.Source)
	}

	if got := pickTVRating(&tmdb.ContentRatings{}); got != nil {
		t.Errorf("empty payload cert = %+v, want nil", got)
	}
}

func TestDeriveNSFW(t *testing.T) {
	tests := []struct {
		name      string
		mediaType models.MediaType
		adult     bool
		cert      *certification
		wantFlag  bool
		wantLevel models.NSFWLevel
	}{
		{"movie adult flag", models.MediaTypeMovie, true, nil, true, models.NSFWLevelHard},
		{"movie US NC-17", models.MediaTypeMovie, false, &certification{Country: "US", Rating: "NC-17"}, true, models.NSFWLevelHard},
		{"movie US X", models.MediaTypeMovie, false, &certification{Country: "US", Rating: "X"}, true, models.NSFWLevelHard},
		{"movie US R", models.MediaTypeMovie, false, &certification{Country: "US", Rating: "R"}, false, models.NSFWLevelNone},
		{"movie GB 18 only", models.MediaTypeMovie, false, &certification{Country: "GB", Rating: "18"}, false, models.NSFWLevelNone},
		{"tv US TV-MA", models.MediaTypeTV, false, &certification{Country: "US", Rating: "TV-MA"}, true, models.NSFWLevelSoft},
		{"tv GB rating", models.MediaTypeTV, false, &certification{Country: "GB", Rating: "18"}, false, models.NSFWLevelNone},
		{"tv no cert", models.MediaTypeTV, false, nil, false, models.NSFWLevelNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag, level := deriveNSFW(tt.mediaType, tt.adult, tt.cert)
			if flag != tt.wantFlag || level != tt.wantLevel {
				t.Errorf("deriveNSFW() = (%v, %s), want (%v, %s)", flag, level, tt.wantFlag, tt.wantLevel)
			}
		})
	}
}

func TestNormalizeSpokenLanguages(t *testing.T) {
	m := movieDetail(8)
	m.SpokenLanguages = []tmdb.SpokenLanguage{
		{EnglishName: sp("French"), Name: sp("Français")},
		{Name: sp("日本語")},
		{},
	}
	item, err := Normalize(m, models.MediaTypeMovie, imageBase)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(item.SpokenLanguages) != 2 {
		t.Fatalf("SpokenLanguages = %v", item.SpokenLanguages)
	}
	if item.SpokenLanguages[0] != "French" || item.SpokenLanguages[1] != "日本語" {
		t.Errorf("SpokenLanguages = %v, want english_name preference then name fallback", item.SpokenLanguages)
	}
}

func TestNormalizeWatchProviders(t *testing.T) {
	m := movieDetail(9)
	m.WatchProviders = &tmdb.ProviderResults{Results: map[string]json.RawMessage{
		"US": json.RawMessage(`{"flatrate":[{"provider_name":"StreamCo"}]}`),
	}}
	item, err := Normalize(m, models.MediaTypeMovie, imageBase)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(item.WatchProviders) == 0 {
		t.Error("WatchProviders should carry the payload through")
	}
}

func TestNormalizeMovieAdultFlowsToItem(t *testing.T) {
	m := movieDetail(10)
	m.Adult = bp(true)
	item, err := Normalize(m, models.MediaTypeMovie, imageBase)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !item.Adult || !item.NSFWFlag || item.NSFWLevel != models.NSFWLevelHard {
		t.Errorf("adult movie: Adult=%v NSFWFlag=%v NSFWLevel=%s", item.Adult, item.NSFWFlag, item.NSFWLevel)
	}
}
