// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/tomtom215/catalogus/internal/config"
	"github.com/tomtom215/catalogus/internal/models/tmdb"
	"github.com/tomtom215/catalogus/internal/store"
)

func refreshConfig(pageSize, chunkSize int) *config.Config {
	return &config.Config{
		Ingest:  config.IngestConfig{PageSize: pageSize},
		Refresh: config.RefreshConfig{ChunkSize: chunkSize, Concurrency: 2},
	}
}

// freshDetails builds updated payloads for every seeded id.
func freshDetails(ids ...int64) map[int64]*tmdb.Detail {
	details := make(map[int64]*tmdb.Detail, len(ids))
	for _, id := range ids {
		d := movieDetail(id)
		d.Title = sp(fmt.Sprintf("Refreshed %d", id))
		details[id] = d
	}
	return details
}

func seq(n int64) []int64 {
	ids := make([]int64, 0, n)
	for i := int64(1); i <= n; i++ {
		ids = append(ids, i)
	}
	return ids
}

func TestRefresherOverwritesWholeCatalog(t *testing.T) {
	ids := seq(7)
	st := newFakeCatalogStore(ids...)
	resolver := &fakeResolver{details: freshDetails(ids...)}

	cfg := refreshConfig(3, 2) // page 3, chunk 2: exercises both loops
	pool := NewPool(resolver, testLimiter(), 2, imageBase, "refresh")
	r := NewRefresher(cfg, st, pool)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Processed != 7 {
		t.Errorf("Processed = %d, want 7", sum.Processed)
	}
	if sum.Imported != 7 {
		t.Errorf("Imported = %d, want 7", sum.Imported)
	}

	for _, id := range ids {
		item, ok := st.get(id)
		if !ok {
			t.Fatalf("item %d missing after refresh", id)
		}
		if item.Title != fmt.Sprintf("Refreshed %d", id) {
			t.Errorf("item %d Title = %q, want refreshed metadata", id, item.Title)
		}
	}
	for _, p := range st.policies {
		if p != store.PolicyOverwrite {
			t.Errorf("refresh used policy %v, want PolicyOverwrite", p)
		}
	}
}

func TestRefresherTerminatesOnShortPage(t *testing.T) {
	ids := seq(5)
	st := newFakeCatalogStore(ids...)
	resolver := &fakeResolver{details: freshDetails(ids...)}

	// Page size 5 exactly: the empty follow-up page ends the walk.
	cfg := refreshConfig(5, 5)
	pool := NewPool(resolver, testLimiter(), 2, imageBase, "refresh")
	r := NewRefresher(cfg, st, pool)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Processed != 5 {
		t.Errorf("Processed = %d, want 5 (no double-processing past the end)", sum.Processed)
	}
	if resolver.callCount() != 5 {
		t.Errorf("resolver calls = %d, want 5", resolver.callCount())
	}
}

func TestRefresherMaxRowsCap(t *testing.T) {
	ids := seq(10)
	st := newFakeCatalogStore(ids...)
	resolver := &fakeResolver{details: freshDetails(ids...)}

	cfg := refreshConfig(4, 2)
	cfg.Refresh.MaxRows = 5
	pool := NewPool(resolver, testLimiter(), 2, imageBase, "refresh")
	r := NewRefresher(cfg, st, pool)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Processed != 5 {
		t.Errorf("Processed = %d, want 5 (capped)", sum.Processed)
	}
	if resolver.callCount() != 5 {
		t.Errorf("resolver calls = %d, want 5", resolver.callCount())
	}
	// Rows past the cap keep their original metadata.
	if item, _ := st.get(10); item.Title != "Seed 10" {
		t.Errorf("item 10 Title = %q, row past cap must be untouched", item.Title)
	}
}

func TestRefresherDryRun(t *testing.T) {
	ids := seq(6)
	st := newFakeCatalogStore(ids...)
	resolver := &fakeResolver{details: freshDetails(ids...)}

	cfg := refreshConfig(4, 2)
	cfg.Refresh.DryRun = true
	pool := NewPool(resolver, testLimiter(), 2, imageBase, "refresh")
	r := NewRefresher(cfg, st, pool)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Processed != 6 {
		t.Errorf("Processed = %d, want 6 (dry run still walks)", sum.Processed)
	}
	if resolver.callCount() != 0 {
		t.Errorf("resolver calls = %d, want 0 in dry run", resolver.callCount())
	}
	if item, _ := st.get(1); item.Title != "Seed 1" {
		t.Errorf("dry run mutated the store: %q", item.Title)
	}
}

func TestRefresherSkipsGoneTitles(t *testing.T) {
	ids := seq(3)
	st := newFakeCatalogStore(ids...)
	details := freshDetails(ids...)
	details[2] = nil // gone upstream; the row stays as-is

	resolver := &fakeResolver{details: details}
	cfg := refreshConfig(10, 10)
	pool := NewPool(resolver, testLimiter(), 2, imageBase, "refresh")
	r := NewRefresher(cfg, st, pool)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", sum.Skipped)
	}
	if sum.Imported != 2 {
		t.Errorf("Imported = %d, want 2", sum.Imported)
	}
	// The pipeline never deletes: the gone title's row survives.
	if item, ok := st.get(2); !ok || item.Title != "Seed 2" {
		t.Errorf("item 2 = %+v, want untouched original row", item)
	}
}

func TestRefresherEmptyCatalog(t *testing.T) {
	st := newFakeCatalogStore()
	cfg := refreshConfig(10, 10)
	pool := NewPool(&fakeResolver{}, testLimiter(), 1, imageBase, "refresh")
	r := NewRefresher(cfg, st, pool)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Processed != 0 || sum.Imported != 0 {
		t.Errorf("sum = %+v, want all zero", sum)
	}
}
