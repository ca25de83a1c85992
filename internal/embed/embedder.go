// Catalogus - Media Catalog Ingestion and Refresh Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/catalogus

// Package embed backfills embedding vectors for cataloged items.
//
// The backfill is idempotent and resumable: it repeatedly selects a batch
// of rows whose embedding is NULL, embeds a composed text rendition of
// each, writes the vectors back, and stops when no rows remain. Rows with
// vectors are never re-embedded.
package embed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/catalogus/internal/config"
	"github.com/tomtom215/catalogus/internal/logging"
	"github.com/tomtom215/catalogus/internal/metrics"
	"github.com/tomtom215/catalogus/internal/models"
	"github.com/tomtom215/catalogus/internal/store"
)

// BackfillStore is the store surface the backfill needs. Satisfied by
// *store.Store.
type BackfillStore interface {
	ItemsMissingEmbedding(ctx context.Context, limit int) ([]models.CatalogItem, error)
	UpdateEmbeddings(ctx context.Context, updates []store.EmbeddingUpdate) error
}

// Embedder drives the backfill loop against an OpenAI-compatible
// embeddings endpoint.
type Embedder struct {
	cfg        *config.EmbeddingConfig
	store      BackfillStore
	httpClient *http.Client
}

// NewEmbedder builds a backfill driver.
func NewEmbedder(cfg *config.EmbeddingConfig, st BackfillStore) *Embedder {
	return &Embedder{
		cfg:        cfg,
		store:      st,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Summary reports one backfill run.
type Summary struct {
	Batches  int
	Embedded int64
	Elapsed  time.Duration
}

// Run embeds until the store has no unembedded rows left.
func (e *Embedder) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{}

	for {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}

		items, err := e.store.ItemsMissingEmbedding(ctx, e.cfg.BatchSize)
		if err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}
		if len(items) == 0 {
			break
		}

		inputs := make([]string, 0, len(items))
		for i := range items {
			inputs = append(inputs, ComposeText(&items[i]))
		}

		vectors, err := e.embedBatch(ctx, inputs)
		if err != nil {
			metrics.EmbeddingBatchesTotal.WithLabelValues("error").Inc()
			sum.Elapsed = time.Since(start)
			return sum, err
		}
		if len(vectors) != len(items) {
			metrics.EmbeddingBatchesTotal.WithLabelValues("error").Inc()
			sum.Elapsed = time.Since(start)
			return sum, fmt.Errorf("embedding count mismatch: got %d vectors for %d items", len(vectors), len(items))
		}

		updates := make([]store.EmbeddingUpdate, 0, len(items))
		for i := range items {
			updates = append(updates, store.EmbeddingUpdate{ID: items[i].ID, Vector: vectors[i]})
		}
		if err := e.store.UpdateEmbeddings(ctx, updates); err != nil {
			metrics.EmbeddingBatchesTotal.WithLabelValues("error").Inc()
			sum.Elapsed = time.Since(start)
			return sum, err
		}

		metrics.EmbeddingBatchesTotal.WithLabelValues("ok").Inc()
		sum.Batches++
		sum.Embedded += int64(len(items))
		logging.Info().
			Int("batch", len(items)).
			Int64("total", sum.Embedded).
			Msg("Embedded batch written")
	}

	sum.Elapsed = time.Since(start)
	logging.Info().
		Int64("embedded", sum.Embedded).
		Int("batches", sum.Batches).
		Dur("elapsed", sum.Elapsed).
		Msg("Embedding backfill complete")
	return sum, nil
}

// ComposeText renders one item as the embedding input string. Field order
// is fixed so re-embedding an unchanged item yields the same input.
func ComposeText(item *models.CatalogItem) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(item.Title)
	b.WriteString(".")

	if item.Director != nil && *item.Director != "" {
		b.WriteString(" Director: ")
		b.WriteString(*item.Director)
		b.WriteString(".")
	}

	if len(item.TopCast) > 0 {
		names := make([]string, 0, len(item.TopCast))
		for _, c := range item.TopCast {
			if c.Name != "" {
				names = append(names, c.Name)
			}
		}
		if len(names) > 0 {
			b.WriteString(" Cast: ")
			b.WriteString(strings.Join(names, ", "))
			b.WriteString(".")
		}
	}

	if len(item.SpokenLanguages) > 0 {
		b.WriteString(" Languages: ")
		b.WriteString(strings.Join(item.SpokenLanguages, ", "))
		b.WriteString(".")
	}

	b.WriteString(" Synopsis: ")
	b.WriteString(item.Synopsis)
	b.WriteString(".")

	if len(item.Genres) > 0 {
		b.WriteString(" Genres: ")
		b.WriteString(strings.Join(item.Genres, ", "))
		b.WriteString(".")
	}

	return b.String()
}

// embeddings wire types.
type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// embedBatch posts one batch with bounded exponential retry, honoring
// Retry-After on 429. Vectors come back in item order.
func (e *Embedder) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	payload, err := json.Marshal(embeddingRequest{
		Model:          e.cfg.Model,
		Input:          inputs,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.cfg.BaseURL+"/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to build embedding request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if werr := e.waitBackoff(ctx, e.backoffDelay(attempt)); werr != nil {
				return nil, werr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read embedding response: %w", err)
			}
			return decodeVectors(body, len(inputs))

		case resp.StatusCode == http.StatusTooManyRequests:
			delay := e.backoffDelay(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs > 0 {
					delay = time.Duration(secs) * time.Second
				}
			}
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("embeddings rate limited (429)")
			if werr := e.waitBackoff(ctx, delay); werr != nil {
				return nil, werr
			}

		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("embeddings server error (%d)", resp.StatusCode)
			if werr := e.waitBackoff(ctx, e.backoffDelay(attempt)); werr != nil {
				return nil, werr
			}

		default:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("embedding request failed (%d): %s", resp.StatusCode, string(snippet))
		}
	}

	return nil, fmt.Errorf("embedding request failed after %d retries: %w", e.cfg.MaxRetries, lastErr)
}

// decodeVectors orders the response vectors by index.
func decodeVectors(body []byte, want int) ([][]float32, error) {
	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	vectors := make([][]float32, want)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding missing for input %d", i)
		}
	}
	return vectors, nil
}

func (e *Embedder) backoffDelay(attempt int) time.Duration {
	return e.cfg.RetryBaseDelay << attempt
}

func (e *Embedder) waitBackoff(ctx context.Context, delay time.Duration) error {
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
