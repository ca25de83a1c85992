// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package planner produces discovery plans from catalog statistics.
//
// The production planner asks an LLM for a batch of discovery queries and
// treats the response as untrusted input: entries are schema-validated one
// by one and anything malformed degrades to an empty plan. An empty plan is
// a normal outcome the convergence loop knows how to wait out, never a
// crash.
package planner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/catalogus/internal/config"
	"github.com/tomtom215/catalogus/internal/logging"
	"github.com/tomtom215/catalogus/internal/metrics"
	"github.com/tomtom215/catalogus/internal/models"
)

// Planner yields the next batch of discovery queries for the current
// catalog state. Implementations must return an empty (possibly nil) plan
// rather than an error for malformed upstream output; errors are reserved
// for transport-level failures the caller may want to surface.
type Planner interface {
	Plan(ctx context.Context, stats *models.CatalogStatistics, target int64) ([]models.DiscoveryQuery, error)
}

// ChatPlanner asks an OpenAI-compatible chat-completions endpoint for a
// plan. Safe for concurrent use.
type ChatPlanner struct {
	cfg        *config.PlannerConfig
	httpClient *http.Client
	validate   *validator.Validate
}

// NewChatPlanner builds a planner from configuration.
func NewChatPlanner(cfg *config.PlannerConfig) *ChatPlanner {
	return &ChatPlanner{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// chat-completions wire types, request side.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

// Loose response envelope: only the fields we consume.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type planEnvelope struct {
	Plan []models.DiscoveryQuery `json:"plan"`
}

// Plan requests a plan for the catalog's current shape. Transport failures
// after retries return an error; a syntactically broken or schema-invalid
// response returns an empty plan and no error.
func (p *ChatPlanner) Plan(ctx context.Context, stats *models.CatalogStatistics, target int64) ([]models.DiscoveryQuery, error) {
	prompt := p.buildPrompt(stats, target)

	body := chatRequest{
		Model:       p.cfg.Model,
		Messages:    []chatMessage{{Role: "system", Content: prompt}},
		Temperature: 0.7,
	}
	body.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode planner request: %w", err)
	}

	raw, err := p.postWithRetry(ctx, p.cfg.BaseURL+"/chat/completions", payload)
	if err != nil {
		metrics.PlanCyclesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	plan := p.decodePlan(raw)
	if len(plan) == 0 {
		metrics.PlanCyclesTotal.WithLabelValues("empty").Inc()
	} else {
		metrics.PlanCyclesTotal.WithLabelValues("ok").Inc()
	}
	return plan, nil
}

// decodePlan extracts and validates the plan from a raw chat response.
// Never returns an error: anything unusable collapses to an empty plan.
func (p *ChatPlanner) decodePlan(raw []byte) []models.DiscoveryQuery {
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		logging.Warn().Err(err).Msg("Planner response is not valid JSON, degrading to empty plan")
		return nil
	}
	if len(resp.Choices) == 0 {
		logging.Warn().Msg("Planner response has no choices, degrading to empty plan")
		return nil
	}

	var env planEnvelope
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &env); err != nil {
		logging.Warn().Err(err).Msg("Planner content is not a JSON plan object, degrading to empty plan")
		return nil
	}
	if env.Plan == nil {
		logging.Warn().Msg("Planner content has no plan array, degrading to empty plan")
		return nil
	}

	accepted := make([]models.DiscoveryQuery, 0, len(env.Plan))
	for i := range env.Plan {
		entry := env.Plan[i]
		if err := p.validate.Struct(&entry); err != nil {
			metrics.PlanEntriesRejected.Inc()
			logging.Warn().
				Err(err).
				Str("endpoint", entry.Endpoint).
				Msg("Rejected plan entry failing schema validation")
			continue
		}
		accepted = append(accepted, entry)
		if len(accepted) >= p.cfg.PlanCap {
			break
		}
	}
	return accepted
}

// postWithRetry posts the payload with bounded exponential backoff,
// honoring Retry-After on 429. Client errors other than 429 do not retry.
func (p *ChatPlanner) postWithRetry(ctx context.Context, url string, payload []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to build planner request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if waitErr := p.waitBackoff(ctx, p.backoffDelay(attempt)); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			defer func() { _ = resp.Body.Close() }()
			return io.ReadAll(resp.Body)

		case resp.StatusCode == http.StatusTooManyRequests:
			delay := p.backoffDelay(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs > 0 {
					delay = time.Duration(secs) * time.Second
				}
			}
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("planner rate limited (429)")
			if waitErr := p.waitBackoff(ctx, delay); waitErr != nil {
				return nil, waitErr
			}

		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("planner server error (%d)", resp.StatusCode)
			if waitErr := p.waitBackoff(ctx, p.backoffDelay(attempt)); waitErr != nil {
				return nil, waitErr
			}

		default:
			// Non-retryable client error.
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("planner request failed (%d): %s", resp.StatusCode, string(snippet))
		}
	}

	return nil, fmt.Errorf("planner request failed after %d retries: %w", p.cfg.MaxRetries, lastErr)
}

func (p *ChatPlanner) backoffDelay(attempt int) time.Duration {
	return p.cfg.RetryBaseDelay << attempt
}

func (p *ChatPlanner) waitBackoff(ctx context.Context, delay time.Duration) error {
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildPrompt selects the prompt family for the configured mode.
func (p *ChatPlanner) buildPrompt(stats *models.CatalogStatistics, target int64) string {
	switch p.cfg.Mode {
	case "curate":
		return curatePrompt(stats, target)
	case "balance":
		return balancePrompt(stats)
	default:
		return nichePrompt(stats)
	}
}

func nichePrompt(stats *models.CatalogStatistics) string {
	return fmt.Sprintf(`You are a content strategist trying to discover niche and interesting movies. The database currently has %d items. Suggest 8 diverse and specific queries for content that is LIKELY NOT in the database. Focus on international cinema, older decades, and unique keyword combinations. You MUST return a JSON object: { "plan": [{ "description": "...", "endpoint": "...", "params": {...}, "pages_to_fetch": 3 }] }`,
		stats.Total)
}

func balancePrompt(stats *models.CatalogStatistics) string {
	genres, _ := json.Marshal(stats.ByGenre)
	decades, _ := json.Marshal(stats.ByDecade)
	return fmt.Sprintf(`You are a database curator trying to balance the content. The database has %d items. Current distribution - Genres: %s - Decades: %s. Suggest 8 queries that target the MOST UNDER-REPRESENTED genres and decades to improve balance. You MUST return a JSON object: { "plan": [{ "description": "...", "endpoint": "...", "params": {...}, "pages_to_fetch": 5 }] }`,
		stats.Total, genres, decades)
}

func curatePrompt(stats *models.CatalogStatistics, target int64) string {
	genres, _ := json.Marshal(stats.ByGenre)
	decades, _ := json.Marshal(stats.ByDecade)
	return fmt.Sprintf(`You are an automated database curator. Your goal is to aggressively fill the largest gaps in a media library of %d items (target %d). Analyze the following statistics which show the current count of items per category. - Genre Distribution: %s - Decade Distribution: %s Your task is to create a multi-step seeding plan to fix the worst imbalances. Identify the top 3-4 most under-represented genres or decades. For each, create a job to fetch a LARGE number of pages (between 20 and 50) of popular, high-quality content for that category. You MUST return a JSON object with a single key "plan". Each object in the plan must have a "pages_to_fetch" key. Example: { "plan": [ { "description": "Bulk-filling the severely under-represented 'Western' genre.", "endpoint": "/discover/movie", "params": { "with_genres": "37", "sort_by": "popularity.desc" }, "pages_to_fetch": 50 } ] }`,
		stats.Total, target, genres, decades)
}
