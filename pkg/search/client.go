package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Query is one search request.
type Query struct {
	Text              string `json:"query"`
	MaxResults        int    `json:"max_results"`
	Topic             Topic  `json:"topic"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

// Client is the search provider. It returns the raw JSON payload, which may
// be an object with a results array or a bare array.
type Client interface {
	Search(ctx context.Context, q Query) ([]byte, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, q Query) ([]byte, error)

func (f ClientFunc) Search(ctx context.Context, q Query) ([]byte, error) {
	return f(ctx, q)
}

const maxResponseBytes = 4 << 20

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewTavilyClient creates a Tavily client. An empty baseURL uses the public API.
func NewTavilyClient(apiKey, baseURL string, timeout time.Duration) *TavilyClient {
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TavilyClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Search posts the query to {baseURL}/search.
func (c *TavilyClient) Search(ctx context.Context, q Query) ([]byte, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search provider returned %d: %s", resp.StatusCode, Truncate(strings.TrimSpace(string(data)), 200))
	}

	return data, nil
}
