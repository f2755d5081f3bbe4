// Package apify runs Apify scraping actors for Amazon reviews and competitor
// listings and reads back their datasets.
package apify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"niche-backend/internal/apiusage"
	"niche-backend/internal/clients/transport"
	"niche-backend/internal/shared/cache"
	"niche-backend/internal/shared/ratelimit"
	"niche-backend/internal/shared/telemetry"
)

const (
	// CostPerRun and CostPer1KResults approximate Apify compute pricing.
	CostPerRun       = 0.10
	CostPer1KResults = 0.05

	defaultPollInterval = 5 * time.Second
	defaultMaxWait      = 300 * time.Second
	defaultTimeout      = 30 * time.Second
	defaultRetryAfter   = 60 * time.Second
)

// ErrNotConfigured is returned when no API token is set.
var ErrNotConfigured = errors.New("apify token not configured")

// RateLimitError is returned on HTTP 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("apify rate limited, retry after %s", e.RetryAfter)
}

// RunError reports an actor run that ended in a non-success state or never
// finished within the wait budget.
type RunError struct {
	RunID    string
	Status   string
	ExitCode int
}

func (e *RunError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("apify run %s ended with status %s (exit code %d)", e.RunID, e.Status, e.ExitCode)
	}
	return fmt.Sprintf("apify run %s ended with status %s", e.RunID, e.Status)
}

// Config configures a Client.
type Config struct {
	Token           string
	Endpoint        string
	ReviewActor     string
	CompetitorActor string
	PollInterval    time.Duration
	MaxWait         time.Duration
	Timeout         time.Duration
	CacheTTL        time.Duration
}

// Client starts actor runs and collects their results.
type Client struct {
	cfg    Config
	caller transport.Caller
	cache  cache.Cache
	usage  apiusage.Recorder
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a Client. cache and usage may be nil.
func NewClient(cfg Config, httpClient *http.Client, limiter ratelimit.Waiter, c cache.Cache, usage apiusage.Recorder) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.apify.com/v2"
	}
	if cfg.ReviewActor == "" {
		cfg.ReviewActor = "junglee/amazon-reviews-scraper"
	}
	if cfg.CompetitorActor == "" {
		cfg.CompetitorActor = "junglee/amazon-crawler"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
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
			Provider: "apify",
			Client:   httpClient,
			Limiter:  limiter,
			Timeout:  cfg.Timeout,
		},
		cache: c,
		usage: usage,
		sleep: sleepCtx,
	}
}

// Configured reports whether a token is present.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.cfg.Token) != ""
}

// ReviewOptions tune a review scrape.
type ReviewOptions struct {
	MaxReviews int
	SortBy     string
	Filter     string
}

// GetReviews scrapes up to opts.MaxReviews reviews for asin.
func (c *Client) GetReviews(ctx context.Context, asin string, opts ReviewOptions) ([]Review, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if opts.MaxReviews <= 0 {
		opts.MaxReviews = 100
	}
	if opts.SortBy == "" {
		opts.SortBy = "helpful"
	}
	if opts.Filter == "" {
		opts.Filter = "all"
	}
	key := fmt.Sprintf("apify:reviews:%s:%d:%s:%s", asin, opts.MaxReviews, opts.SortBy, opts.Filter)
	var cached []Review
	if cache.GetJSON(ctx, c.cache, key, &cached) {
		return cached, nil
	}

	input := map[string]any{
		"productUrls":   []string{productURL(asin)},
		"maxReviews":    opts.MaxReviews,
		"sortBy":        opts.SortBy,
		"reviewsFilter": opts.Filter,
	}
	items, err := c.runActor(ctx, c.cfg.ReviewActor, input)
	if err != nil {
		return nil, err
	}
	reviews := make([]Review, 0, len(items))
	for _, raw := range items {
		if r, ok := parseReview(raw, asin); ok {
			reviews = append(reviews, r)
		}
	}
	if len(reviews) > opts.MaxReviews {
		reviews = reviews[:opts.MaxReviews]
	}
	if err := cache.SetJSON(ctx, c.cache, key, reviews, c.cfg.CacheTTL); err != nil {
		telemetry.Warn("apify.cache.set_failed", map[string]any{"key": key, "error": err})
	}
	return reviews, nil
}

// GetCompetitors scrapes listing data for asins, keyed by ASIN.
func (c *Client) GetCompetitors(ctx context.Context, asins []string) (map[string]Competitor, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	out := make(map[string]Competitor, len(asins))
	if len(asins) == 0 {
		return out, nil
	}
	key := "apify:competitors:" + strings.Join(asins, ",")
	if cache.GetJSON(ctx, c.cache, key, &out) {
		return out, nil
	}

	urls := make([]string, 0, len(asins))
	for _, a := range asins {
		urls = append(urls, productURL(a))
	}
	items, err := c.runActor(ctx, c.cfg.CompetitorActor, map[string]any{"productUrls": urls})
	if err != nil {
		return nil, err
	}
	for _, raw := range items {
		if comp, ok := parseCompetitor(raw); ok {
			out[comp.ASIN] = comp
		}
	}
	if err := cache.SetJSON(ctx, c.cache, key, out, c.cfg.CacheTTL); err != nil {
		telemetry.Warn("apify.cache.set_failed", map[string]any{"key": key, "error": err})
	}
	return out, nil
}

type runInfo struct {
	ID               string  `json:"id"`
	ActID            string  `json:"actId"`
	Status           string  `json:"status"`
	ExitCode         int     `json:"exitCode"`
	DefaultDatasetID string  `json:"defaultDatasetId"`
	UsageTotalUSD    float64 `json:"usageTotalUsd"`
}

type runEnvelope struct {
	Data runInfo `json:"data"`
}

// runActor starts actor with input, waits for it to finish and returns the
// dataset items.
func (c *Client) runActor(ctx context.Context, actor string, input map[string]any) ([]json.RawMessage, error) {
	var started runEnvelope
	endpoint := fmt.Sprintf("%s/acts/%s/runs", c.base(), url.PathEscape(strings.ReplaceAll(actor, "/", "~")))
	if err := c.doJSON(ctx, http.MethodPost, endpoint, input, &started); err != nil {
		return nil, err
	}
	run, err := c.waitForRun(ctx, started.Data.ID)
	if err != nil {
		return nil, err
	}
	if run.DefaultDatasetID == "" {
		return nil, fmt.Errorf("apify run %s has no dataset", run.ID)
	}

	var items []json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/datasets/%s/items", c.base(), url.PathEscape(run.DefaultDatasetID)), nil, &items); err != nil {
		return nil, err
	}
	c.record(ctx, actor, run, len(items))
	return items, nil
}

func (c *Client) waitForRun(ctx context.Context, runID string) (runInfo, error) {
	deadline := time.Now().Add(c.cfg.MaxWait)
	for {
		var env runEnvelope
		if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/actor-runs/%s", c.base(), url.PathEscape(runID)), nil, &env); err != nil {
			return runInfo{}, err
		}
		switch env.Data.Status {
		case "SUCCEEDED":
			return env.Data, nil
		case "FAILED", "ABORTED", "TIMED-OUT", "TIMED_OUT":
			return runInfo{}, &RunError{RunID: runID, Status: env.Data.Status, ExitCode: env.Data.ExitCode}
		}
		if time.Now().After(deadline) {
			return runInfo{}, &RunError{RunID: runID, Status: "WAIT_TIMEOUT"}
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return runInfo{}, err
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, dst any) error {
	req, err := transport.JSONRequest(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	resp, err := c.caller.Do(ctx, req)
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
			wait := se.RetryAfter
			if wait <= 0 {
				wait = defaultRetryAfter
			}
			return &RateLimitError{RetryAfter: wait}
		}
		return err
	}
	if err := json.Unmarshal(resp.Body, dst); err != nil {
		return fmt.Errorf("apify response parse: %w", err)
	}
	return nil
}

func (c *Client) record(ctx context.Context, actor string, run runInfo, results int) {
	if c.usage == nil {
		return
	}
	cost := Cost(results)
	if run.UsageTotalUSD > 0 {
		cost = run.UsageTotalUSD
	}
	err := c.usage.Record(ctx, apiusage.Record{
		Service:  "apify",
		Endpoint: actor,
		Units:    results,
		Cost:     cost,
		Metadata: map[string]any{"run_id": run.ID, "status": run.Status},
	})
	if err != nil {
		telemetry.Warn("apify.usage.record_failed", map[string]any{"error": err})
	}
}

func (c *Client) base() string {
	return strings.TrimRight(c.cfg.Endpoint, "/")
}

// Cost estimates one run returning results dataset items.
func Cost(results int) float64 {
	return CostPerRun + float64(results)/1000*CostPer1KResults
}

func productURL(asin string) string {
	return "https://www.amazon.com/dp/" + asin
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
