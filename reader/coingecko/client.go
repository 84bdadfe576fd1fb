// Package coingecko fetches coin valuations from the CoinGecko simple price
// endpoint.
package coingecko

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"cryptomonitor/logger"
	"cryptomonitor/models"
)

const (
	DefaultBaseURL      = "https://api.coingecko.com/api/v3"
	DefaultAPIKeyHeader = "x-cg-demo-api-key"

	maxErrorBody = 512
)

// Config describes how to reach the API.
type Config struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
}

// Client issues one simple/price request per FetchQuotes call. It does not
// retry.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLimiter makes every request wait for a token from l.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewLimiter returns a limiter allowing maxRPM requests per minute, or nil
// when maxRPM is not positive.
func NewLimiter(maxRPM int) *rate.Limiter {
	if maxRPM <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(maxRPM)), 1)
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchQuotes returns price, market cap, 24h volume and 24h change for ids,
// denominated in currency.
func (c *Client) FetchQuotes(ctx context.Context, ids []string, currency string) (models.QuoteRecord, error) {
	log := c.log.WithComponent("coingecko").WithFields(logger.Fields{
		"coins":    len(ids),
		"currency": currency,
	})

	if len(ids) == 0 {
		return models.QuoteRecord{}, fmt.Errorf("no coin ids to fetch")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.QuoteRecord{}, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.priceURL(ids, currency), nil)
	if err != nil {
		return models.QuoteRecord{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return models.QuoteRecord{}, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.QuoteRecord{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.QuoteRecord{}, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	record, err := models.DecodeQuoteRecord(body, currency)
	if err != nil {
		return models.QuoteRecord{}, err
	}
	record.FetchedAt = time.Now()

	log.WithFields(logger.Fields{
		"quotes":      len(record.Quotes),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("fetched prices")
	if missing := len(ids) - len(record.Quotes); missing > 0 {
		log.WithFields(logger.Fields{"missing": missing}).Warn("some coins were not quoted")
	}
	return record, nil
}

func (c *Client) priceURL(ids []string, currency string) string {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", currency)
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_vol", "true")
	q.Set("include_24hr_change", "true")
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/simple/price?" + q.Encode()
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("coingecko returned status %d: %s", e.Code, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
