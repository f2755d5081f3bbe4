package apify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"niche-backend/internal/apiusage"
	"niche-backend/internal/shared/cache"
)

func newFakeApify(t *testing.T, items string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/acts/acme~reviews/runs":
			fmt.Fprint(w, `{"data": {"id": "run1", "status": "RUNNING"}}`)
		case r.URL.Path == "/actor-runs/run1":
			if polls.Add(1) < 2 {
				fmt.Fprint(w, `{"data": {"id": "run1", "status": "RUNNING"}}`)
				return
			}
			fmt.Fprint(w, `{"data": {"id": "run1", "status": "SUCCEEDED", "defaultDatasetId": "ds1"}}`)
		case r.URL.Path == "/datasets/ds1/items":
			fmt.Fprint(w, items)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func testClient(srv *httptest.Server, rec apiusage.Recorder) *Client {
	c := NewClient(Config{Token: "tok", Endpoint: srv.URL, ReviewActor: "acme/reviews"}, srv.Client(), nil, cache.NewMemoryCache(nil), rec)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestGetReviewsRunsActorAndParses(t *testing.T) {
	srv, polls := newFakeApify(t, `[
		{"id": "R1", "rating": "5.0 out of 5 stars", "text": "Great product, love it", "date": "2024-03-02", "verifiedPurchase": true},
		{"reviewId": "R2", "rating": 2, "reviewText": "Worst purchase", "date": "2024-04-10"},
		{"rating": 3, "text": "no id so dropped"}
	]`)
	rec := &apiusage.MemoryRecorder{}
	c := testClient(srv, rec)

	reviews, err := c.GetReviews(context.Background(), "B001", ReviewOptions{MaxReviews: 10})
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "R1", reviews[0].ReviewID)
	assert.Equal(t, 5, reviews[0].Rating)
	assert.True(t, reviews[0].Verified)
	assert.Equal(t, "positive", reviews[0].Sentiment)
	assert.Equal(t, "Worst purchase", reviews[1].Text)
	assert.Equal(t, "negative", reviews[1].Sentiment)
	assert.Equal(t, int32(2), polls.Load())

	require.Len(t, rec.Records(), 1)
	assert.Equal(t, "apify", rec.Records()[0].Service)
	assert.InDelta(t, Cost(3), rec.Records()[0].Cost, 1e-9)

	again, err := c.GetReviews(context.Background(), "B001", ReviewOptions{MaxReviews: 10})
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Equal(t, int32(2), polls.Load(), "second call should be served from cache")
}

func TestRunFailureSurfacesRunError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"data": {"id": "run9", "status": "RUNNING"}}`)
			return
		}
		fmt.Fprint(w, `{"data": {"id": "run9", "status": "FAILED", "exitCode": 3}}`)
	}))
	defer srv.Close()

	c := testClient(srv, nil)
	_, err := c.GetReviews(context.Background(), "B001", ReviewOptions{})
	var re *RunError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, "FAILED", re.Status)
	assert.Equal(t, 3, re.ExitCode)
}

func TestRateLimitUsesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv, nil)
	_, err := c.GetCompetitors(context.Background(), []string{"B001"})
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl), "got %v", err)
	assert.Equal(t, 12*time.Second, rl.RetryAfter)
}

func TestGetReviewsRequiresToken(t *testing.T) {
	c := NewClient(Config{}, nil, nil, nil, nil)
	_, err := c.GetReviews(context.Background(), "B001", ReviewOptions{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestParseCompetitorFallsBackToURL(t *testing.T) {
	comp, ok := parseCompetitor([]byte(`{"url": "https://www.amazon.com/dp/B0ABCDEF12?th=1", "name": "Press", "price": "$1,024.50", "fulfilledByAmazon": true, "bulletPoints": ["steel", ""]}`))
	require.True(t, ok)
	assert.Equal(t, "B0ABCDEF12", comp.ASIN)
	assert.Equal(t, "Press", comp.Title)
	assert.InDelta(t, 1024.5, comp.Price, 1e-9)
	assert.True(t, comp.FBAStatus)
	assert.Equal(t, []string{"steel"}, comp.Features)
}

func TestAnalyzeReviews(t *testing.T) {
	reviews := []Review{
		{Rating: 5, Text: "really sturdy handle", Verified: true, Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
		{Rating: 4, Text: "sturdy handle works", Date: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)},
		{Rating: 1, Text: "terrible", Verified: true, Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	got := AnalyzeReviews("B001", reviews)

	assert.Equal(t, 3, got.TotalReviews)
	assert.InDelta(t, 10.0/3.0, got.AverageRating, 1e-9)
	assert.Equal(t, 1, got.RatingDistribution[5])
	assert.Equal(t, 1, got.RatingDistribution[1])
	assert.InDelta(t, 200.0/3.0, got.VerifiedPercentage, 1e-9)
	assert.Equal(t, 1, got.Sentiment["negative"])
	require.NotEmpty(t, got.CommonPhrases)
	assert.Equal(t, Phrase{Phrase: "sturdy handle", Count: 2}, got.CommonPhrases[0])
	require.Len(t, got.Trends, 2)
	assert.Equal(t, MonthTrend{Month: "2024-01", Count: 2, AverageRating: 4.5}, got.Trends[0])
}

func TestAnalyzeReviewsEmpty(t *testing.T) {
	got := AnalyzeReviews("B001", nil)
	assert.Zero(t, got.AverageRating)
	assert.Empty(t, got.CommonPhrases)
}
