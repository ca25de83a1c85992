// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package metrics exposes Prometheus collectors for the ingestion pipeline.
//
// Instrumented areas:
//   - TMDB fetches (attempts, retries, rate-limit hits, latency)
//   - Unit processing outcomes (imported, skipped, failed) per driver
//   - Store batch upserts and per-batch row counts
//   - Planning cycles and rejected plan entries
//   - Circuit breaker state for the detail resolver
//   - Embedding backfill batches
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TMDB client metrics
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmdb_fetch_requests_total",
			Help: "Total number of TMDB HTTP requests by endpoint class and outcome",
		},
		[]string{"endpoint", "outcome"}, // outcome: "ok", "not_found", "error"
	)

	FetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tmdb_fetch_retries_total",
			Help: "Total number of retried TMDB requests (backoff waits)",
		},
	)

	FetchRateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tmdb_rate_limit_hits_total",
			Help: "Total number of HTTP 429 responses from TMDB",
		},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tmdb_fetch_duration_seconds",
			Help:    "Duration of TMDB requests in seconds (including retries)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Worker pool metrics
	UnitsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_units_processed_total",
			Help: "Total ingestion units processed by driver and outcome",
		},
		[]string{"driver", "outcome"}, // outcome: "imported", "skipped", "failed"
	)

	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_workers_active",
			Help: "Current number of active pool workers",
		},
	)

	// Store metrics
	BatchUpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_batch_upserts_total",
			Help: "Total batch upsert operations by conflict policy and outcome",
		},
		[]string{"policy", "outcome"}, // policy: "ignore", "overwrite"
	)

	BatchUpsertRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "store_batch_upsert_rows",
			Help:    "Rows written per batch upsert",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 500, 1000},
		},
	)

	CatalogTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_items_total",
			Help: "Total items in the catalog as of the last Measuring phase",
		},
	)

	// Planner metrics
	PlanCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_cycles_total",
			Help: "Total planning cycles by outcome",
		},
		[]string{"outcome"}, // "ok", "empty", "error"
	)

	PlanEntriesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_entries_rejected_total",
			Help: "Plan entries dropped by schema validation",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Embedding backfill metrics
	EmbeddingBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_batches_total",
			Help: "Total embedding backfill batches by outcome",
		},
		[]string{"outcome"},
	)
)

// ObserveFetch records a completed TMDB request.
func ObserveFetch(endpoint, outcome string, start time.Time) {
	FetchRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	FetchDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
