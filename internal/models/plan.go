// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

package models

// DiscoveryQuery is one planned provider query, produced by the Strategy
// Planner and consumed by the worker pool. It is never persisted and always
// revalidated at the planner boundary before execution: entries that fail
// the validate tags below are dropped, never executed.
type DiscoveryQuery struct {
	// Endpoint is a listing path on the provider API. Restricted to the
	// known listing endpoints so a garbled plan cannot steer requests at
	// arbitrary paths.
	Endpoint string `json:"endpoint" validate:"required,oneof=/discover/movie /discover/tv /movie/popular /tv/popular /movie/top_rated /tv/top_rated"`

	// Params are extra query parameters for the listing call.
	Params map[string]string `json:"params"`

	// Description is the planner's human-readable rationale, used only
	// for logging.
	Description string `json:"description"`

	// PageBudget bounds how many listing pages this query may consume.
	PageBudget int `json:"pages_to_fetch" validate:"required,min=1,max=50"`
}
