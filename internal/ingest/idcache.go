// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

package ingest

import (
	"context"
	"sync"

	"github.com/tomtom215/catalogus/internal/logging"
	"github.com/tomtom215/catalogus/internal/models"
)

// UnitLister pages through the catalog's natural keys. Satisfied by
// *store.Store.
type UnitLister interface {
	ListUnits(ctx context.Context, offset, limit int) ([]models.IngestionUnit, error)
}

// IdentityCache is the in-memory set of provider ids already in the
// catalog. Listing entries found here are skipped before any detail fetch;
// it is the pipeline's primary cost control. Safe for concurrent use.
type IdentityCache struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

// NewIdentityCache returns an empty cache.
func NewIdentityCache() *IdentityCache {
	return &IdentityCache{ids: make(map[int64]struct{})}
}

// Warm fills the cache from the store, paging until a short page signals
// the end of the catalog.
func (c *IdentityCache) Warm(ctx context.Context, lister UnitLister, pageSize int) error {
	offset := 0
	for {
		units, err := lister.ListUnits(ctx, offset, pageSize)
		if err != nil {
			return err
		}
		c.mu.Lock()
		for _, u := range units {
			c.ids[u.TMDBID] = struct{}{}
		}
		c.mu.Unlock()

		offset += len(units)
		if len(units) < pageSize {
			break
		}
	}

	logging.Info().Int("ids", c.Len()).Msg("Identity cache warmed")
	return nil
}

// Has reports whether the id is already cataloged.
func (c *IdentityCache) Has(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

// Add records ids after a successful discovery upsert.
func (c *IdentityCache) Add(ids ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.ids[id] = struct{}{}
	}
}

// Len returns the cache size, which tracks the discovered catalog size.
func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}
