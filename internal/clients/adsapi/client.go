// Package adsapi fetches keyword recommendations from the Amazon Advertising
// API using a Login with Amazon refresh token.
package adsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"niche-backend/internal/apiusage"
	"niche-backend/internal/clients/transport"
	"niche-backend/internal/shared/ratelimit"
)

const (
	defaultEndpoint = "https://advertising-api.amazon.com"
	defaultTokenURL = "https://api.amazon.com/auth/o2/token"
	defaultTimeout  = 30 * time.Second

	recommendationsPath = "/sp/targets/keywords/recommendations"
	recommendationsType = "application/vnd.spkeywordsrecommendation.v3+json"
	maxRecommendations  = 100
)

// ErrNotConfigured is returned when any credential is missing.
var ErrNotConfigured = errors.New("amazon ads credentials not configured")

// Config holds Ads API credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	ProfileID    string
	Endpoint     string
	TokenURL     string
	Timeout      time.Duration
}

// KeywordSuggestion is one recommended keyword for an ASIN.
type KeywordSuggestion struct {
	ASIN            string  `json:"asin"`
	Keyword         string  `json:"keyword"`
	MatchType       string  `json:"matchType"`
	BidLow          float64 `json:"bidLow"`
	BidMedian       float64 `json:"bidMedian"`
	BidHigh         float64 `json:"bidHigh"`
	EstimatedClicks int     `json:"estimatedClicks"`
	EstimatedOrders int     `json:"estimatedOrders"`
	Rank            int     `json:"rank"`
}

// Client requests keyword recommendations.
type Client struct {
	cfg    Config
	caller transport.Caller
	usage  apiusage.Recorder
}

// NewClient builds a Client whose HTTP transport refreshes LWA access tokens
// on demand. base may be nil; it is used for both token and API calls.
func NewClient(ctx context.Context, cfg Config, base *http.Client, limiter ratelimit.Waiter, usage apiusage.Recorder) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return &Client{
		cfg: cfg,
		caller: transport.Caller{
			Provider: "amazon_ads",
			Client:   oauth2.NewClient(ctx, ts),
			Limiter:  limiter,
			Timeout:  cfg.Timeout,
		},
		usage: usage,
	}
}

// Configured reports whether every credential is present.
func (c *Client) Configured() bool {
	if c == nil {
		return false
	}
	for _, v := range []string{c.cfg.ClientID, c.cfg.ClientSecret, c.cfg.RefreshToken, c.cfg.ProfileID} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

type recommendationResponse struct {
	Keywords []struct {
		Keyword      string  `json:"keyword"`
		MatchType    string  `json:"matchType"`
		Rank         int     `json:"rank"`
		Bid          float64 `json:"bid"`
		SuggestedBid *struct {
			RangeStart  float64 `json:"rangeStart"`
			RangeMedian float64 `json:"rangeMedian"`
			RangeEnd    float64 `json:"rangeEnd"`
		} `json:"suggestedBid"`
		EstimatedClicks int `json:"estimatedClicks"`
		EstimatedOrders int `json:"estimatedOrders"`
	} `json:"keywords"`
}

// SuggestKeywords returns recommendations for each ASIN in asins. Any failed
// ASIN fails the whole call so callers can treat the batch as a unit.
func (c *Client) SuggestKeywords(ctx context.Context, asins []string) ([]KeywordSuggestion, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	var out []KeywordSuggestion
	for _, asin := range asins {
		got, err := c.suggestForASIN(ctx, asin)
		if err != nil {
			return nil, fmt.Errorf("keywords for %s: %w", asin, err)
		}
		out = append(out, got...)
	}
	if c.usage != nil {
		_ = c.usage.Record(ctx, apiusage.Record{
			Service:  "amazon_ads",
			Endpoint: "keywords/recommendations",
			Units:    len(asins),
			Metadata: map[string]any{"keywords": len(out)},
		})
	}
	return out, nil
}

func (c *Client) suggestForASIN(ctx context.Context, asin string) ([]KeywordSuggestion, error) {
	body := map[string]any{
		"recommendationType": "KEYWORDS_FOR_ASINS",
		"asins":              []string{asin},
		"maxRecommendations": maxRecommendations,
		"sortDimension":      "CLICKS",
	}
	req, err := transport.JSONRequest(ctx, http.MethodPost, strings.TrimRight(c.cfg.Endpoint, "/")+recommendationsPath, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", recommendationsType)
	req.Header.Set("Accept", recommendationsType)
	req.Header.Set("Amazon-Advertising-API-ClientId", c.cfg.ClientID)
	req.Header.Set("Amazon-Advertising-API-Scope", c.cfg.ProfileID)

	resp, err := c.caller.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	var parsed recommendationResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("amazon ads response parse: %w", err)
	}
	out := make([]KeywordSuggestion, 0, len(parsed.Keywords))
	for _, k := range parsed.Keywords {
		if strings.TrimSpace(k.Keyword) == "" {
			continue
		}
		s := KeywordSuggestion{
			ASIN:            asin,
			Keyword:         k.Keyword,
			MatchType:       k.MatchType,
			Rank:            k.Rank,
			BidLow:          k.Bid,
			BidMedian:       k.Bid,
			BidHigh:         k.Bid,
			EstimatedClicks: k.EstimatedClicks,
			EstimatedOrders: k.EstimatedOrders,
		}
		if k.SuggestedBid != nil {
			s.BidLow = k.SuggestedBid.RangeStart
			s.BidMedian = k.SuggestedBid.RangeMedian
			s.BidHigh = k.SuggestedBid.RangeEnd
		}
		if s.MatchType == "" {
			s.MatchType = "BROAD"
		}
		out = append(out, s)
	}
	return out, nil
}
