package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"orbwatch/internal/config"
)

const userAgent = "orbwatch/1.0 (+currency dashboard)"

// Client fetches directly observed trading pairs from the poe2scout market
// API over HTTP.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	maxRetries int
}

// NewClient creates a Client from scout configuration.
func NewClient(logger *slog.Logger, cfg config.ScoutConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 3
	}
	return &Client{
		logger:     logger.With(slog.String("component", "scout_client")),
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		maxRetries: retries,
	}
}

func (c *Client) Name() string {
	return "poe2scout"
}

// pairsResponse is the JSON payload served by the market API.
type pairsResponse struct {
	Pairs []RawPair `json:"pairs"`
}

// Fetch retrieves the market's trading pairs and normalizes them into a
// Catalog. Transient HTTP failures are retried with linear backoff.
func (c *Client) Fetch(ctx context.Context, market string) (Catalog, error) {
	endpoint := fmt.Sprintf("%s/api/pairs?market=%s", c.baseURL, url.QueryEscape(market))

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.get(ctx, endpoint)
		if err == nil {
			c.logger.Info("fetched trading pairs",
				"market", market, "pairs", len(resp.Pairs), "attempt", attempt)
			return Normalize(resp.Pairs, c.logger)
		}
		lastErr = err
		c.logger.Warn("fetch attempt failed",
			"market", market, "attempt", attempt, "error", err)

		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return Catalog{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return Catalog{}, fmt.Errorf("fetch pairs for %q: %w", market, lastErr)
}

func (c *Client) get(ctx context.Context, endpoint string) (pairsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pairsResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pairsResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pairsResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload pairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return pairsResponse{}, fmt.Errorf("decode pairs response: %w", err)
	}
	return payload, nil
}
