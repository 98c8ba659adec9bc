// Package fetcher is the AutOSINT HTTP client for the external fetcher
// service (spec.md §6): page fetch, web search, and source-catalog access.
// It is a soft dependency — failures surface as tool errors inside the
// Processor session rather than tripping the Orchestrator's hard-dependency
// breakers.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"autosint/internal/config"
)

// Client talks to a single configured fetcher service instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg config.FetcherConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: cfg.BaseURL, httpClient: httpClient}
}

// FetchOptions are the optional per-request overrides spec.md §6 allows.
type FetchOptions struct {
	TimeoutMS int               `json:"timeout_ms,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// FetchResult is POST /fetch's response body.
type FetchResult struct {
	Content  string `json:"content"`
	Metadata struct {
		StatusCode  int    `json:"status_code"`
		ContentType string `json:"content_type"`
		URL         string `json:"url"`
		Cached      bool   `json:"cached"`
	} `json:"metadata"`
}

// FetchURL fetches a single page through the fetcher service.
func (c *Client) FetchURL(ctx context.Context, url string, opts FetchOptions) (FetchResult, error) {
	var out FetchResult
	err := c.postJSON(ctx, "/fetch", map[string]any{"url": url, "options": opts}, &out)
	return out, err
}

// SearchResult is one POST /search hit.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchResponse is POST /search's response body.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// Search issues a web search through the fetcher service.
func (c *Client) Search(ctx context.Context, query string, numResults int) (SearchResponse, error) {
	var out SearchResponse
	body := map[string]any{"query": query}
	if numResults > 0 {
		body["num_results"] = numResults
	}
	err := c.postJSON(ctx, "/search", body, &out)
	return out, err
}

// Source describes one catalog entry from GET /sources.
type Source struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

// SourceCatalog lists every source the fetcher service knows about.
func (c *Client) SourceCatalog(ctx context.Context) ([]Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sources", nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: build request: %w", err)
	}
	var out []Source
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SourceQueryResult is POST /sources/{id}/query's response body.
type SourceQueryResult struct {
	Results  []map[string]any `json:"results"`
	Metadata struct {
		SourceID        string `json:"source_id"`
		TotalResults    int    `json:"total_results"`
		ReturnedResults int    `json:"returned_results"`
	} `json:"metadata"`
}

// SourceQuery runs a source-specific query against one catalog entry.
func (c *Client) SourceQuery(ctx context.Context, sourceID string, params map[string]any) (SourceQueryResult, error) {
	var out SourceQueryResult
	err := c.postJSON(ctx, fmt.Sprintf("/sources/%s/query", sourceID), params, &out)
	return out, err
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("fetcher: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("fetcher: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetcher: transport: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("fetcher: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("fetcher: %s returned %s: %s", req.URL.Path, resp.Status, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("fetcher: parse response: %w", err)
	}
	return nil
}
