// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

/*
client.go - Rate-aware TMDB API client

This file provides the core Client struct and HTTP communication layer for
the upstream content provider (TMDB v3 API).

Client Features:
  - v4 bearer token authentication with v3 api_key fallback
  - Automatic HTTP 429 rate limit handling with Retry-After support
  - Exponential backoff for transient/server-side failures
  - No retries for client-side error classes (4xx other than 429)
  - JSON response parsing with typed response structs
  - Context support for cancellation during backoff waits

Resilience policy (per logical request):
  - Rate limiting: Retry-After hint when present, else 1s, 2s, 4s, 8s, 16s
  - Retries: max 5 attempts, then the request is reported as failed and the
    caller downgrades it to a per-unit skip
  - 404 is ErrNotFound; other 4xx are StatusError; neither is retried

Related Files:
  - breaker.go: circuit breaker wrapper for detail resolution
*/
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/catalogus/internal/config"
	"github.com/tomtom215/catalogus/internal/metrics"
	"github.com/tomtom215/catalogus/internal/models"
	"github.com/tomtom215/catalogus/internal/models/tmdb"
)

// detailAppend composes every sub-resource normalization needs into a single
// round trip, which is the main lever for staying under the per-key rate limit.
const detailAppend = "videos,credits,images,release_dates,content_ratings,watch/providers"

// maxErrorBodySize limits the response body read for error reporting.
// Prevents unbounded memory allocation on large error responses.
const maxErrorBodySize = 64 * 1024 // 64KB

// ErrNotFound indicates the provider has no record for the requested id.
// Never retried; callers treat it as "skip this unit".
var ErrNotFound = errors.New("provider: not found")

// StatusError is a non-retryable client-side failure (4xx other than 429/404).
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: request rejected with status %d: %s", e.Status, e.Body)
}

// Resolver resolves the full detail record for one catalog unit.
// Implemented by Client and by BreakerClient; the worker pool depends on
// this interface so tests can substitute stubs.
type Resolver interface {
	Detail(ctx context.Context, kind models.MediaType, id int64) (*tmdb.Detail, error)
}

// Client handles communication with the TMDB HTTP API.
//
// Thread Safety: safe for concurrent use. Each request creates its own
// HTTP request; retry state is local to one logical call.
type Client struct {
	baseURL        string
	v4Token        string
	v3Key          string
	client         *http.Client
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient creates a TMDB API client from configuration.
//
// The client prefers the v4 bearer token and falls back to the v3 api_key
// query parameter, matching the provider's two auth schemes.
func NewClient(cfg *config.TMDBConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		v4Token: cfg.V4Token,
		v3Key:   cfg.V3Key,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// readBodyForError reads the response body for error reporting (max 64KB).
// Uses io.LimitReader to prevent unbounded memory allocation.
func readBodyForError(r io.Reader) []byte {
	limitedReader := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// doRequestWithRetry performs a GET with the client's retry policy.
//
//   - HTTP 429: wait out the Retry-After hint when present, else exponential
//     backoff (base << attempt), then retry up to maxRetries times
//   - 5xx and transport errors: exponential backoff, same attempt budget
//   - 404: ErrNotFound, no retry
//   - other 4xx: StatusError, no retry
//
// The context cancels both the request and any backoff wait.
func (c *Client) doRequestWithRetry(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if c.v4Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.v4Token)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport failure - transient, retry with backoff
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			if attempt == c.maxRetries {
				break
			}
			if err := c.waitBackoff(ctx, c.backoffDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			metrics.FetchRateLimitHits.Inc()
			delay := c.backoffDelay(attempt)
			// Provider-supplied hint wins over the computed backoff (RFC 6585)
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
					delay = time.Duration(seconds) * time.Second
				}
			}
			_ = resp.Body.Close() // Explicitly ignore error - will retry anyway
			if attempt == c.maxRetries {
				lastErr = fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
				break
			}
			if err := c.waitBackoff(ctx, delay); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusNotFound:
			_ = resp.Body.Close()
			return nil, ErrNotFound

		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			// Client-side error class: retrying cannot succeed
			body := readBodyForError(resp.Body)
			_ = resp.Body.Close()
			return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}

		case resp.StatusCode >= 500:
			body := readBodyForError(resp.Body)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
			if attempt == c.maxRetries {
				break
			}
			if err := c.waitBackoff(ctx, c.backoffDelay(attempt)); err != nil {
				return nil, err
			}
			continue

		default:
			return resp, nil
		}

		// Reached only via the attempt-exhausted breaks above
		break
	}

	return nil, lastErr
}

// backoffDelay computes the exponential delay for the given attempt:
// base, 2*base, 4*base, ...
func (c *Client) backoffDelay(attempt int) time.Duration {
	return c.retryBaseDelay * time.Duration(1<<uint(attempt))
}

// waitBackoff blocks for the delay or until the context is canceled.
func (c *Client) waitBackoff(ctx context.Context, delay time.Duration) error {
	metrics.FetchRetriesTotal.Inc()
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// get performs a request and decodes the JSON response into result.
func (c *Client) get(ctx context.Context, endpoint string, reqURL string, result interface{}) error {
	start := time.Now()

	resp, err := c.doRequestWithRetry(ctx, reqURL)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrNotFound) {
			outcome = "not_found"
		}
		metrics.ObserveFetch(endpoint, outcome, start)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		metrics.ObserveFetch(endpoint, "error", start)
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	metrics.ObserveFetch(endpoint, "ok", start)
	return nil
}

// buildURL composes a provider URL with auth and extra parameters.
func (c *Client) buildURL(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if c.v4Token == "" && c.v3Key != "" {
		params.Set("api_key", c.v3Key)
	}
	if encoded := params.Encode(); encoded != "" {
		return fmt.Sprintf("%s%s?%s", c.baseURL, path, encoded)
	}
	return c.baseURL + path
}

// Configuration fetches the provider's image CDN configuration.
// Called once per run; the pipeline aborts startup if it is unavailable.
func (c *Client) Configuration(ctx context.Context) (*tmdb.Configuration, error) {
	var cfg tmdb.Configuration
	if err := c.get(ctx, "configuration", c.buildURL("/configuration", nil), &cfg); err != nil {
		return nil, fmt.Errorf("failed to fetch configuration: %w", err)
	}
	if cfg.Images == nil || cfg.Images.SecureBaseURL == "" {
		return nil, fmt.Errorf("configuration response missing image base URL")
	}
	return &cfg, nil
}

// ListPage fetches one page of a listing endpoint. Listing fetches are the
// cheap side of the pipeline; per-id detail fetches are the expensive one.
func (c *Client) ListPage(ctx context.Context, endpoint string, params map[string]string, page int) (*tmdb.ListingPage, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("page", strconv.Itoa(page))

	var listing tmdb.ListingPage
	if err := c.get(ctx, "listing", c.buildURL(endpoint, values), &listing); err != nil {
		return nil, fmt.Errorf("failed to fetch %s page %d: %w", endpoint, page, err)
	}
	return &listing, nil
}

// Detail fetches the expanded record for one title in a single round trip.
//
// Returns (nil, nil) when the provider has no such item. Any other error is
// reported to the caller, which must treat it as a per-unit skip, never as
// a pipeline-fatal condition.
func (c *Client) Detail(ctx context.Context, kind models.MediaType, id int64) (*tmdb.Detail, error) {
	values := url.Values{}
	values.Set("append_to_response", detailAppend)
	values.Set("language", "en-US")

	path := fmt.Sprintf("/%s/%d", kind, id)

	var detail tmdb.Detail
	if err := c.get(ctx, "detail", c.buildURL(path, values), &detail); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch %s detail for %d: %w", kind, id, err)
	}
	return &detail, nil
}
