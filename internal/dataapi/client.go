// Package dataapi talks to the SolanaTracker Data API for token prices
// and metadata. Price failures degrade to nil results so refresh flows
// never abort on a flaky upstream.
package dataapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://data.solanatracker.io"
	metadataTTL    = 5 * time.Minute
	requestTimeout = 10 * time.Second
)

// changeWindows are the price-change buckets surfaced on token rows.
var changeWindows = []string{"1m", "5m", "15m", "30m"}

// TokenMeta is the cached metadata for one mint.
type TokenMeta struct {
	Mint      string
	Symbol    string
	Name      string
	ImageURL  string
	Decimals  int
	PriceUsd  *float64
	ChangePct map[string]float64
	UpdatedAt time.Time
}

// Config carries the Data API endpoint and key. OnTiming, when set,
// receives the duration of every upstream call for health reporting.
type Config struct {
	BaseURL  string
	APIKey   string
	OnTiming func(time.Duration)
}

// Client is the Data API client with a per-mint metadata cache.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	onTiming   func(time.Duration)
	cache      sync.Map // mint -> *TokenMeta
}

func NewClient(cfg *Config, logger *zap.Logger) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		onTiming:   cfg.OnTiming,
		logger:     logger.Named("dataapi"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// priceMultiResponse mirrors the /price/multi result keyed by mint.
type priceMultiResponse map[string]struct {
	Price float64 `json:"price"`
}

// GetPrices fetches USD prices for a batch of mints. Any failure is
// logged and collapses to a nil map; callers treat missing prices as
// temporarily unknown.
func (c *Client) GetPrices(ctx context.Context, mints []string) map[string]float64 {
	if len(mints) == 0 {
		return map[string]float64{}
	}

	body, err := json.Marshal(map[string]interface{}{"tokens": mints})
	if err != nil {
		c.logger.Warn("Price request encode failed", zap.Error(err))
		return nil
	}

	var raw priceMultiResponse
	if err := c.do(ctx, http.MethodPost, "/price/multi", string(body), &raw); err != nil {
		c.logger.Warn("Price fetch failed",
			zap.Int("mints", len(mints)),
			zap.Error(err))
		return nil
	}

	prices := make(map[string]float64, len(raw))
	for mint, entry := range raw {
		prices[mint] = entry.Price
	}
	return prices
}

// tokenResponse mirrors the /tokens/{mint} result.
type tokenResponse struct {
	Token struct {
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Mint     string `json:"mint"`
		Decimals int    `json:"decimals"`
		Image    string `json:"image"`
	} `json:"token"`
	Pools []struct {
		Price struct {
			USD *float64 `json:"usd"`
		} `json:"price"`
	} `json:"pools"`
	Events map[string]struct {
		PriceChangePercentage float64 `json:"priceChangePercentage"`
	} `json:"events"`
}

// GetTokenMeta returns metadata for one mint, served from the cache
// while fresh.
func (c *Client) GetTokenMeta(ctx context.Context, mint string) (*TokenMeta, error) {
	if mint == "" {
		return nil, fmt.Errorf("mint is empty")
	}
	if meta, ok := c.fromCache(mint); ok {
		return meta, nil
	}

	var raw tokenResponse
	if err := c.do(ctx, http.MethodGet, "/tokens/"+mint, "", &raw); err != nil {
		return nil, err
	}

	meta := &TokenMeta{
		Mint:      mint,
		Symbol:    raw.Token.Symbol,
		Name:      raw.Token.Name,
		ImageURL:  raw.Token.Image,
		Decimals:  raw.Token.Decimals,
		UpdatedAt: time.Now(),
	}
	if len(raw.Pools) > 0 && raw.Pools[0].Price.USD != nil {
		v := *raw.Pools[0].Price.USD
		meta.PriceUsd = &v
	}
	for _, window := range changeWindows {
		if ev, ok := raw.Events[window]; ok {
			if meta.ChangePct == nil {
				meta.ChangePct = make(map[string]float64, len(changeWindows))
			}
			meta.ChangePct[window] = ev.PriceChangePercentage
		}
	}
	if meta.Symbol == "" || meta.Name == "" {
		enrichKnownToken(meta)
	}

	c.cache.Store(mint, meta)
	return meta, nil
}

func (c *Client) fromCache(mint string) (*TokenMeta, bool) {
	if value, ok := c.cache.Load(mint); ok {
		meta := value.(*TokenMeta)
		if time.Since(meta.UpdatedAt) < metadataTTL {
			return meta, true
		}
		c.cache.Delete(mint)
	}
	return nil, false
}

func (c *Client) do(ctx context.Context, method, path, body string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.onTiming != nil {
		c.onTiming(time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("data API returned status code: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// enrichKnownToken fills identity for mints every HUD shows regardless
// of upstream coverage.
func enrichKnownToken(meta *TokenMeta) {
	switch meta.Mint {
	case "So11111111111111111111111111111111111111112":
		meta.Symbol = "SOL"
		meta.Name = "Wrapped SOL"
	case "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v":
		meta.Symbol = "USDC"
		meta.Name = "USD Coin"
	case "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB":
		meta.Symbol = "USDT"
		meta.Name = "Tether USD"
	case "USD1ttGY1N17NEEHLmELoaybftRBUSErhqYiQzvEmuB":
		meta.Symbol = "USD1"
		meta.Name = "USD1"
	}
}
