// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/catalogus/internal/models"
)

func testClient(baseURL string, maxRetries int) *Client {
	return &Client{
		baseURL:        baseURL,
		v4Token:        "v4-test-token",
		client:         &http.Client{Timeout: 5 * time.Second},
		maxRetries:     maxRetries,
		retryBaseDelay: time.Millisecond,
	}
}

func TestDetailSuccess(t *testing.T) {
	var gotAuth, gotPath, gotAppend string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotAppend = r.URL.Query().Get("append_to_response")
		_, _ = w.Write([]byte(`{"id": 603, "title": "The Matrix", "overview": "A hacker learns the truth."}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	detail, err := c.Detail(context.Background(), models.MediaTypeMovie, 603)
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if detail == nil || detail.ID != 603 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if gotAuth != "Bearer v4-test-token" {
		t.Errorf("unexpected Authorization header %q", gotAuth)
	}
	if gotPath != "/movie/603" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if !strings.Contains(gotAppend, "release_dates") || !strings.Contains(gotAppend, "watch/providers") {
		t.Errorf("append_to_response missing sub-resources: %q", gotAppend)
	}
}

func TestDetailNotFoundReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	detail, err := c.Detail(context.Background(), models.MediaTypeTV, 99999)
	if err != nil {
		t.Fatalf("expected nil error for 404, got %v", err)
	}
	if detail != nil {
		t.Fatalf("expected nil detail for 404, got %+v", detail)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id": 1, "title": "Recovered"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5)
	detail, err := c.Detail(context.Background(), models.MediaTypeMovie, 1)
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if detail == nil || detail.Title == nil || *detail.Title != "Recovered" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRateLimitExhaustsRetryBudget(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	_, err := c.Detail(context.Background(), models.MediaTypeMovie, 1)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls for maxRetries=2, got %d", calls)
	}
}

func TestRetryOnServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	detail, err := c.Detail(context.Background(), models.MediaTypeMovie, 7)
	if err != nil {
		t.Fatalf("Detail failed: %v", err)
	}
	if detail == nil || detail.ID != 7 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status_message": "Invalid API key"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5)
	_, err := c.Detail(context.Background(), models.MediaTypeMovie, 1)
	if err == nil {
		t.Fatal("expected error on 401")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if statusErr.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", statusErr.Status)
	}
	if calls != 1 {
		t.Errorf("expected 1 call without retries, got %d", calls)
	}
}

func TestContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := testClient(srv.URL, 5)
	start := time.Now()
	_, err := c.Detail(ctx, models.MediaTypeMovie, 1)
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancel did not interrupt backoff, took %v", elapsed)
	}
}

func TestV3KeyFallback(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("api_key")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"page": 1, "results": [], "total_pages": 0}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	c.v4Token = ""
	c.v3Key = "v3-test-key"

	if _, err := c.ListPage(context.Background(), "/movie/popular", nil, 1); err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if gotKey != "v3-test-key" {
		t.Errorf("expected api_key fallback, got %q", gotKey)
	}
	if gotAuth != "" {
		t.Errorf("expected no Authorization header, got %q", gotAuth)
	}
}

func TestListPagePassesParamsAndPage(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"page": 3, "results": [{"id": 42, "title": "X"}], "total_pages": 10}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 1)
	page, err := c.ListPage(context.Background(), "/discover/movie", map[string]string{
		"with_genres": "18",
		"sort_by":     "popularity.desc",
	}, 3)
	if err != nil {
		t.Fatalf("ListPage failed: %v", err)
	}
	if page.Page != 3 || len(page.Results) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if got := gotQuery["page"]; len(got) != 1 || got[0] != "3" {
		t.Errorf("expected page=3, got %v", got)
	}
	if got := gotQuery["with_genres"]; len(got) != 1 || got[0] != "18" {
		t.Errorf("expected with_genres=18, got %v", got)
	}
}

func TestConfigurationRequiresImageBase(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"images": {"secure_base_url": "https://image.tmdb.org/t/p/"}}`, false},
		{"missing images", `{}`, true},
		{"empty base url", `{"images": {"secure_base_url": ""}}`, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := testClient(srv.URL, 1)
			cfg, err := c.Configuration(context.Background())
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Configuration failed: %v", err)
			}
			if cfg.Images.SecureBaseURL != "https://image.tmdb.org/t/p/" {
				t.Errorf("unexpected base URL %q", cfg.Images.SecureBaseURL)
			}
		})
	}
}
