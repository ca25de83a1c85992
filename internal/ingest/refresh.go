// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

package ingest

import (
	"context"
	"time"

	"github.com/tomtom215/catalogus/internal/config"
	"github.com/tomtom215/catalogus/internal/logging"
	"github.com/tomtom215/catalogus/internal/store"
)

// Refresher re-fetches every cataloged title and overwrites its stored
// metadata. It walks the store with an offset cursor, never the provider:
// refresh is exhaustive over what we have, not over what exists upstream.
type Refresher struct {
	cfg   *config.Config
	store CatalogStore
	pool  *Pool
}

// NewRefresher wires a refresh driver.
func NewRefresher(cfg *config.Config, st CatalogStore, pool *Pool) *Refresher {
	return &Refresher{cfg: cfg, store: st, pool: pool}
}

// Run refreshes the whole catalog (or the first MaxRows rows). Terminates
// on the first short page. With DryRun set it only walks and counts.
func (r *Refresher) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{}

	pageSize := r.cfg.Ingest.PageSize
	chunkSize := r.cfg.Refresh.ChunkSize
	maxRows := r.cfg.Refresh.MaxRows
	dryRun := r.cfg.Refresh.DryRun

	var (
		offset int
		seen   int64
	)

	for {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}

		units, err := r.store.ListUnits(ctx, offset, pageSize)
		if err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}
		if len(units) == 0 {
			break
		}

		if maxRows > 0 && seen+int64(len(units)) > maxRows {
			units = units[:int(maxRows-seen)]
		}

		for chunkStart := 0; chunkStart < len(units); chunkStart += chunkSize {
			end := chunkStart + chunkSize
			if end > len(units) {
				end = len(units)
			}
			chunk := units[chunkStart:end]

			if dryRun {
				sum.Processed += int64(len(chunk))
				logging.Info().
					Int("chunk", len(chunk)).
					Int64("cursor", seen+int64(end)).
					Msg("Dry run: would refresh chunk")
				continue
			}

			items, res := r.pool.Process(ctx, chunk)
			sum.BatchResult.Add(res)

			if len(items) > 0 {
				written, err := r.store.UpsertBatch(ctx, items, store.PolicyOverwrite)
				if err != nil {
					logging.Error().Err(err).Int("items", len(items)).
						Msg("Refresh upsert failed, continuing with next chunk")
					continue
				}
				sum.Imported += written
			}
		}

		seen += int64(len(units))
		if maxRows > 0 && seen >= maxRows {
			logging.Info().Int64("max_rows", maxRows).Msg("Row cap reached, stopping refresh")
			break
		}
		offset += len(units)
		if len(units) < pageSize {
			// Short page: end of the catalog.
			break
		}
	}

	sum.Elapsed = time.Since(start)
	logging.Info().
		Int64("processed", sum.Processed).
		Int64("refreshed", sum.Imported).
		Int64("skipped", sum.Skipped).
		Int64("failed", sum.Failed).
		Dur("elapsed", sum.Elapsed).
		Msg("Refresh complete")
	return sum, nil
}
