// Package keepa is a client for the Keepa product API.
package keepa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"niche-backend/internal/apiusage"
	"niche-backend/internal/clients/transport"
	"niche-backend/internal/shared/cache"
	"niche-backend/internal/shared/ratelimit"
	"niche-backend/internal/shared/telemetry"
)

const (
	// MaxBatch is the largest ASIN list accepted by one product request.
	MaxBatch = 100
	// CostPerProduct is the accounting cost of one fetched product in USD.
	CostPerProduct = 0.01

	defaultRefillIn = 60 * time.Second
	defaultTimeout  = 30 * time.Second
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("keepa api key not configured")

// RateLimitError is returned on HTTP 429; RefillIn is how long until tokens
// are available again.
type RateLimitError struct {
	RefillIn       time.Duration
	TokensConsumed int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("keepa rate limited, refill in %s", e.RefillIn)
}

// Options tune a product request.
type Options struct {
	StatsDays int
	History   bool
	// UpdateHours forces a refresh when data is older than this; 0 leaves it
	// to Keepa.
	UpdateHours int
}

// DefaultOptions match the pipeline's product fetch.
func DefaultOptions() Options {
	return Options{StatsDays: 90, History: true}
}

// Config configures a Client.
type Config struct {
	APIKey   string
	Endpoint string
	Domain   int
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client fetches products from Keepa.
type Client struct {
	cfg    Config
	caller transport.Caller
	cache  cache.Cache
	usage  apiusage.Recorder
}

// NewClient constructs a Client. cache and usage may be nil.
func NewClient(cfg Config, httpClient *http.Client, limiter ratelimit.Waiter, c cache.Cache, usage apiusage.Recorder) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.keepa.com"
	}
	if cfg.Domain == 0 {
		cfg.Domain = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Client{
		cfg: cfg,
		caller: transport.Caller{
			Provider: "keepa",
			Client:   httpClient,
			Limiter:  limiter,
			Timeout:  cfg.Timeout,
		},
		cache: c,
		usage: usage,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.cfg.APIKey) != ""
}

type productResponse struct {
	TokensLeft     int               `json:"tokensLeft"`
	TokensConsumed int               `json:"tokensConsumed"`
	RefillIn       int               `json:"refillIn"`
	Products       []json.RawMessage `json:"products"`
}

// GetProducts returns the products Keepa knows about among asins. ASINs
// Keepa omits are simply absent from the result.
func (c *Client) GetProducts(ctx context.Context, asins []string, opts Options) ([]Product, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	var out []Product
	var missing []string
	for _, asin := range asins {
		var p Product
		if cache.GetJSON(ctx, c.cache, cacheKey(asin), &p) {
			out = append(out, p)
			continue
		}
		missing = append(missing, asin)
	}

	for _, chunk := range Chunk(missing, MaxBatch) {
		products, err := c.fetch(ctx, chunk, opts)
		if err != nil {
			return out, err
		}
		for _, p := range products {
			if err := cache.SetJSON(ctx, c.cache, cacheKey(p.ASIN), p, c.cfg.CacheTTL); err != nil {
				telemetry.Warn("keepa.cache.set_failed", map[string]any{"asin": p.ASIN, "error": err})
			}
		}
		out = append(out, products...)
	}
	return out, nil
}

// GetProduct fetches a single ASIN; a missing product is an error.
func (c *Client) GetProduct(ctx context.Context, asin string, opts Options) (Product, error) {
	products, err := c.GetProducts(ctx, []string{asin}, opts)
	if err != nil {
		return Product{}, err
	}
	for _, p := range products {
		if p.ASIN == asin {
			return p, nil
		}
	}
	return Product{}, fmt.Errorf("keepa product %s not found", asin)
}

func (c *Client) fetch(ctx context.Context, asins []string, opts Options) ([]Product, error) {
	if len(asins) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("key", c.cfg.APIKey)
	q.Set("domain", strconv.Itoa(c.cfg.Domain))
	q.Set("asin", strings.Join(asins, ","))
	if opts.StatsDays > 0 {
		q.Set("stats", strconv.Itoa(opts.StatsDays))
	}
	if opts.History {
		q.Set("history", "1")
	}
	if opts.UpdateHours > 0 {
		q.Set("update", strconv.Itoa(opts.UpdateHours))
	}
	q.Set("rating", "1")

	req, err := transport.JSONRequest(ctx, http.MethodGet, strings.TrimRight(c.cfg.Endpoint, "/")+"/product?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.caller.Do(ctx, req)
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
			return nil, rateLimitFrom(resp.Body, se.RetryAfter)
		}
		return nil, err
	}

	var parsed productResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("keepa response parse: %w", err)
	}
	products := make([]Product, 0, len(parsed.Products))
	for _, raw := range parsed.Products {
		p, err := parseProduct(raw)
		if err != nil {
			telemetry.Warn("keepa.product.parse_failed", map[string]any{"error": err})
			continue
		}
		products = append(products, p)
	}

	if c.usage != nil {
		rec := apiusage.Record{
			Service:  "keepa",
			Endpoint: "product",
			Units:    parsed.TokensConsumed,
			Cost:     Cost(len(products)),
			Metadata: map[string]any{
				"asins":       len(asins),
				"returned":    len(products),
				"tokens_left": parsed.TokensLeft,
			},
		}
		if err := c.usage.Record(ctx, rec); err != nil {
			telemetry.Warn("keepa.usage.record_failed", map[string]any{"error": err})
		}
	}
	return products, nil
}

func rateLimitFrom(body []byte, retryAfter time.Duration) *RateLimitError {
	var payload struct {
		RefillIn       int `json:"refillIn"`
		TokensConsumed int `json:"tokensConsumed"`
	}
	_ = json.Unmarshal(body, &payload)
	refill := retryAfter
	if payload.RefillIn > 0 {
		refill = time.Duration(payload.RefillIn) * time.Millisecond
	}
	if refill <= 0 {
		refill = defaultRefillIn
	}
	return &RateLimitError{RefillIn: refill, TokensConsumed: payload.TokensConsumed}
}

// Cost returns the accounting cost of n fetched products.
func Cost(n int) float64 {
	return float64(n) * CostPerProduct
}

// Chunk splits items into slices of at most size elements.
func Chunk(items []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatch
	}
	var out [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

func cacheKey(asin string) string {
	return "keepa:product:" + asin
}
