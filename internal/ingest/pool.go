// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/tomtom215/catalogus/internal/logging"
	"github.com/tomtom215/catalogus/internal/metrics"
	"github.com/tomtom215/catalogus/internal/models"
	"github.com/tomtom215/catalogus/internal/provider"
)

// Pool resolves and normalizes ingestion units with bounded concurrency.
// All workers share one rate limiter so the aggregate request rate stays
// constant regardless of pool size. A Pool is stateless across batches and
// safe for reuse.
type Pool struct {
	resolver  provider.Resolver
	limiter   *rate.Limiter
	workers   int
	imageBase string
	driver    string // metrics label: "discover" or "refresh"
}

// NewPool builds a pool. imageBase is the CDN prefix for asset URLs.
func NewPool(resolver provider.Resolver, limiter *rate.Limiter, workers int, imageBase, driver string) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		resolver:  resolver,
		limiter:   limiter,
		workers:   workers,
		imageBase: imageBase,
		driver:    driver,
	}
}

// BatchResult counts per-unit outcomes for one Process call. Skipped means
// the unit produced no item for an expected reason (gone upstream, failed
// the quality gate); Failed means an error after retries.
type BatchResult struct {
	Processed int64
	Skipped   int64
	Failed    int64
}

// Add accumulates another batch's counts.
func (r *BatchResult) Add(o BatchResult) {
	r.Processed += o.Processed
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Process fans the units out to the workers and collects the normalized
// items. Per-unit failures are counted and logged, never fatal: one bad
// payload must not cost the batch. Item order is not preserved. On context
// cancellation the workers drain promptly and Process returns what was
// completed.
func (p *Pool) Process(ctx context.Context, units []models.IngestionUnit) ([]models.CatalogItem, BatchResult) {
	if len(units) == 0 {
		return nil, BatchResult{}
	}

	unitCh := make(chan models.IngestionUnit)
	var (
		mu      sync.Mutex
		items   []models.CatalogItem
		skipped atomic.Int64
		failed  atomic.Int64
	)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.WorkersActive.Inc()
			defer metrics.WorkersActive.Dec()

			for unit := range unitCh {
				item, err := p.processUnit(ctx, unit)
				switch {
				case err == nil && item != nil:
					mu.Lock()
					items = append(items, *item)
					mu.Unlock()
					metrics.UnitsProcessedTotal.WithLabelValues(p.driver, "imported").Inc()

				case err == nil:
					// Gone upstream: a listing can reference a deleted title.
					skipped.Add(1)
					metrics.UnitsProcessedTotal.WithLabelValues(p.driver, "skipped").Inc()

				case isRejection(err):
					skipped.Add(1)
					metrics.UnitsProcessedTotal.WithLabelValues(p.driver, "skipped").Inc()
					logging.Debug().
						Int64("tmdb_id", unit.TMDBID).
						Str("media_type", string(unit.MediaType)).
						Err(err).
						Msg("Unit rejected by quality gate")

				case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
					// Shutdown in progress; count nothing, drain the channel.

				default:
					failed.Add(1)
					metrics.UnitsProcessedTotal.WithLabelValues(p.driver, "failed").Inc()
					logging.Warn().
						Int64("tmdb_id", unit.TMDBID).
						Str("media_type", string(unit.MediaType)).
						Err(err).
						Msg("Unit failed after retries")
				}
			}
		}()
	}

	var fed int64
feed:
	for _, unit := range units {
		select {
		case unitCh <- unit:
			fed++
		case <-ctx.Done():
			break feed
		}
	}
	close(unitCh)
	wg.Wait()

	res := BatchResult{
		Processed: fed,
		Skipped:   skipped.Load(),
		Failed:    failed.Load(),
	}
	return items, res
}

// processUnit handles one unit end to end: pace, resolve, normalize.
// (nil, nil) means the title no longer exists upstream.
func (p *Pool) processUnit(ctx context.Context, unit models.IngestionUnit) (*models.CatalogItem, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	detail, err := p.resolver.Detail(ctx, unit.MediaType, unit.TMDBID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, nil
	}

	return Normalize(detail, unit.MediaType, p.imageBase)
}

func isRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
