// Package embedding is a thin client for the configured embeddings endpoint,
// used by internal/dedup (candidate embeddings), internal/tools
// (search/assessment embeddings) and internal/backfill (batch backfill).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"autosint/internal/config"
	"autosint/internal/retry"
)

// Client calls a single configured embeddings endpoint. Embeddings are a
// soft dependency (spec.md §4.9 names only graph, store, queue, and the
// chat API as hard dependencies), so Client carries a retry config but no
// circuit breaker.
type Client struct {
	cfg        config.EmbeddingsConfig
	httpClient *http.Client
	retryCfg   retry.Config
}

func New(cfg config.EmbeddingsConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// WithRetry configures the retry wrapper Embed runs its HTTP call through.
// A zero-value Config makes Do attempt exactly once.
func (c *Client) WithRetry(cfg retry.Config) *Client {
	c.retryCfg = cfg
	return c
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed calls the configured embedding endpoint and returns one vector per
// input string, in order, as a single batched API call (spec.md §4.10).
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("embedding: no inputs")
	}
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	return retry.Do(ctx, c.retryCfg, func(ctx context.Context) ([][]float32, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("embedding: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.AuthHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		} else if c.cfg.AuthHeader != "" {
			req.Header.Set(c.cfg.AuthHeader, c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &Error{Kind: ErrTransport, Message: "embedding: transport error", Cause: err}
		}
		defer resp.Body.Close()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &Error{Kind: ErrTransport, Message: "embedding: read response", Cause: err}
		}
		if resp.StatusCode/100 != 2 {
			return nil, classifyStatus(resp, string(bodyBytes))
		}

		var parsed embedResponse
		if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
			return nil, &Error{Kind: ErrAPI, Message: "embedding: parse response", Cause: err}
		}
		if len(parsed.Data) != len(inputs) {
			return nil, &Error{Kind: ErrDimensions, Message: fmt.Sprintf("embedding: got %d vectors for %d inputs", len(parsed.Data), len(inputs))}
		}

		out := make([][]float32, len(parsed.Data))
		for i := range parsed.Data {
			out[i] = parsed.Data[i].Embedding
		}
		return out, nil
	})
}

// EmbedOne is a convenience wrapper for the common single-input case.
func (c *Client) EmbedOne(ctx context.Context, input string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// BatchSize returns the configured backfill batch size, defaulting to 50.
func (c *Client) BatchSize() int {
	if c.cfg.BatchSize <= 0 {
		return 50
	}
	return c.cfg.BatchSize
}

// BackfillInterval returns the configured sweep interval, defaulting to 10m.
func (c *Client) BackfillInterval() time.Duration {
	if c.cfg.BackfillIntervalMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.cfg.BackfillIntervalMinutes) * time.Minute
}
