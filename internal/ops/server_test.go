// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

package ops

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/catalogus/internal/config"
	"github.com/tomtom215/catalogus/internal/models"
)

type fakeStatusStore struct {
	pingErr  error
	statsErr error
	stats    models.CatalogStatistics
}

func (f *fakeStatusStore) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeStatusStore) CountItems(_ context.Context) (int64, error) {
	return f.stats.Total, nil
}

func (f *fakeStatusStore) Statistics(_ context.Context) (*models.CatalogStatistics, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	stats := f.stats
	return &stats, nil
}

func newTestServer(st StatusStore) *Server {
	return NewServer(&config.OpsConfig{Host: "127.0.0.1", Port: 0}, st)
}

func TestHealthzAlwaysAlive(t *testing.T) {
	srv := newTestServer(&fakeStatusStore{pingErr: fmt.Errorf("db down")})

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyzReflectsStore(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		wantCode int
	}{
		{"store reachable", nil, http.StatusOK},
		{"store unreachable", fmt.Errorf("db down"), http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&fakeStatusStore{pingErr: tc.pingErr})

			rec := httptest.NewRecorder()
			srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tc.wantCode {
				t.Errorf("expected %d, got %d", tc.wantCode, rec.Code)
			}
		})
	}
}

func TestStatuszReportsCatalog(t *testing.T) {
	srv := newTestServer(&fakeStatusStore{stats: models.CatalogStatistics{
		Total:    42,
		ByGenre:  map[string]int64{"Drama": 30, "Comedy": 12},
		ByDecade: map[string]int64{"1990s": 42},
	}})

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.TotalItems != 42 {
		t.Errorf("expected 42 total items, got %d", got.TotalItems)
	}
	if got.ByGenre["Drama"] != 30 {
		t.Errorf("expected 30 Drama items, got %d", got.ByGenre["Drama"])
	}
}

func TestStatuszStoreError(t *testing.T) {
	srv := newTestServer(&fakeStatusStore{statsErr: fmt.Errorf("query failed")})

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statusz", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	srv := newTestServer(&fakeStatusStore{})

	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty metrics exposition")
	}
}

func TestEnabled(t *testing.T) {
	if NewServer(&config.OpsConfig{Port: 0}, &fakeStatusStore{}).Enabled() {
		t.Error("port 0 should disable the ops server")
	}
	if !NewServer(&config.OpsConfig{Port: 9090}, &fakeStatusStore{}).Enabled() {
		t.Error("port 9090 should enable the ops server")
	}
}
