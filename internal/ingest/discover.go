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
	"github.com/tomtom215/catalogus/internal/metrics"
	"github.com/tomtom215/catalogus/internal/models"
	"github.com/tomtom215/catalogus/internal/models/tmdb"
	"github.com/tomtom215/catalogus/internal/planner"
	"github.com/tomtom215/catalogus/internal/store"
)

// ListingSource fetches listing pages from the provider. Satisfied by
// *provider.Client.
type ListingSource interface {
	ListPage(ctx context.Context, endpoint string, params map[string]string, page int) (*tmdb.ListingPage, error)
}

// CatalogStore is the store surface the drivers need.
type CatalogStore interface {
	UnitLister
	CountItems(ctx context.Context) (int64, error)
	Statistics(ctx context.Context) (*models.CatalogStatistics, error)
	UpsertBatch(ctx context.Context, items []models.CatalogItem, policy store.ConflictPolicy) (int64, error)
}

// Summary is a driver run report.
type Summary struct {
	BatchResult
	Imported int64
	Cycles   int
	Elapsed  time.Duration
}

// Discoverer runs the convergence loop: measure the catalog, ask the
// planner for discovery queries, execute them through the pool, repeat
// until the catalog reaches the target size.
type Discoverer struct {
	cfg    *config.Config
	source ListingSource
	store  CatalogStore
	plan   planner.Planner
	pool   *Pool
	cache  *IdentityCache
}

// NewDiscoverer wires a discovery driver.
func NewDiscoverer(cfg *config.Config, source ListingSource, st CatalogStore, pl planner.Planner, pool *Pool) *Discoverer {
	return &Discoverer{
		cfg:    cfg,
		source: source,
		store:  st,
		plan:   pl,
		pool:   pool,
		cache:  NewIdentityCache(),
	}
}

// Run drives the loop to convergence. Only store and context failures end
// the run early; planner and provider trouble is waited out. An endlessly
// failing planner stalls the loop rather than crashing it, which keeps the
// stall visible to the operator instead of burning provider quota.
func (d *Discoverer) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{}
	target := d.cfg.Ingest.TargetTotalItems

	if err := d.cache.Warm(ctx, d.store, d.cfg.Ingest.PageSize); err != nil {
		return sum, err
	}

	for {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}

		count, err := d.store.CountItems(ctx)
		if err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}
		metrics.CatalogTotal.Set(float64(count))
		if count >= target {
			break
		}

		stats, err := d.store.Statistics(ctx)
		if err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}

		logging.Info().
			Int64("count", count).
			Int64("target", target).
			Msg("Generating new curation plan")

		plan, err := d.plan.Plan(ctx, stats, target)
		if err != nil || len(plan) == 0 {
			// Empty or failed plan: wait, then re-plan. Unbounded by
			// design so a wedged planner shows up as a stall, not a
			// crash.
			logging.Warn().
				Err(err).
				Msg("No usable plan, waiting before re-planning")
			if werr := sleepCtx(ctx, 3*d.cfg.Planner.StrategyDelay); werr != nil {
				sum.Elapsed = time.Since(start)
				return sum, werr
			}
			continue
		}

		sum.Cycles++
		logging.Info().Int("jobs", len(plan)).Msg("Curation plan received, executing")

		for _, q := range plan {
			if int64(d.cache.Len()) >= target {
				break
			}
			d.executeQuery(ctx, q, target, sum)
			if ctx.Err() != nil {
				sum.Elapsed = time.Since(start)
				return sum, ctx.Err()
			}
		}

		if err := sleepCtx(ctx, d.cfg.Planner.StrategyDelay); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}
	}

	sum.Elapsed = time.Since(start)
	logging.Info().
		Int64("imported", sum.Imported).
		Int("cycles", sum.Cycles).
		Dur("elapsed", sum.Elapsed).
		Msg("Discovery converged on target")
	return sum, nil
}

// executeQuery walks one planned query's pages. The target is re-checked
// per page so the loop can exit mid-plan. Provider trouble on a page moves
// to the next job; it never ends the run.
func (d *Discoverer) executeQuery(ctx context.Context, q models.DiscoveryQuery, target int64, sum *Summary) {
	logging.Info().
		Str("description", q.Description).
		Str("endpoint", q.Endpoint).
		Int("pages", q.PageBudget).
		Msg("Executing job")

	for page := 1; page <= q.PageBudget; page++ {
		if int64(d.cache.Len()) >= target {
			logging.Info().Msg("Target reached, stopping job early")
			return
		}
		if ctx.Err() != nil {
			return
		}

		listing, err := d.source.ListPage(ctx, q.Endpoint, q.Params, page)
		if err != nil {
			logging.Warn().Err(err).Str("endpoint", q.Endpoint).Int("page", page).
				Msg("Listing page failed, moving to next job")
			return
		}
		if len(listing.Results) == 0 {
			return
		}

		units := d.newUnits(listing.Results)
		if len(units) == 0 {
			continue
		}

		items, res := d.pool.Process(ctx, units)
		sum.BatchResult.Add(res)

		if len(items) > 0 {
			written, err := d.store.UpsertBatch(ctx, items, store.PolicyIgnore)
			if err != nil {
				logging.Error().Err(err).Int("items", len(items)).
					Msg("Batch upsert failed, continuing with next page")
			} else {
				sum.Imported += written
				ids := make([]int64, 0, len(items))
				for i := range items {
					ids = append(ids, items[i].TMDBID)
				}
				d.cache.Add(ids...)
			}
		}

		if err := sleepCtx(ctx, d.cfg.Ingest.RequestDelay); err != nil {
			return
		}
	}
}

// newUnits filters listing entries through the identity cache, turning the
// unseen ones into units. The media kind comes from the entry's title
// discriminator.
func (d *Discoverer) newUnits(entries []tmdb.ListingEntry) []models.IngestionUnit {
	units := make([]models.IngestionUnit, 0, len(entries))
	for _, e := range entries {
		if d.cache.Has(e.ID) {
			continue
		}
		mt := models.MediaTypeTV
		if e.IsMovie() {
			mt = models.MediaTypeMovie
		}
		units = append(units, models.IngestionUnit{TMDBID: e.ID, MediaType: mt})
	}
	return units
}

// sleepCtx pauses for d or until the context ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
