package keepa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"niche-backend/internal/apiusage"
	"niche-backend/internal/shared/cache"
)

func productJSON(asin, title string, price, rank, reviews, rating int) string {
	return fmt.Sprintf(`{
		"asin": %q,
		"title": %q,
		"brand": "Acme",
		"categoryTree": [{"name": "Home"}, {"name": "Kitchen"}],
		"imagesCSV": "a.jpg,b.jpg",
		"csv": [
			[6000000, -1, 6000060, %d],
			null,
			null,
			[6000000, 9000, 6000060, %d],
			null, null, null, null, null, null, null, null, null, null, null, null,
			[6000000, %d],
			[6000000, %d]
		],
		"fbaFees": {"pickAndPackFee": 350, "storageFee": 50}
	}`, asin, title, price, rank, reviews, rating)
}

func TestGetProductsParsesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/product" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("stats") != "90" || q.Get("history") != "1" || q.Get("rating") != "1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("asin") != "B001,B002" {
			t.Errorf("unexpected asin list %q", q.Get("asin"))
		}
		fmt.Fprintf(w, `{"tokensLeft": 100, "tokensConsumed": 2, "refillIn": 0, "products": [%s]}`,
			productJSON("B001", "Garlic Press", 2599, 850, 1200, 46))
	}))
	defer srv.Close()

	rec := &apiusage.MemoryRecorder{}
	c := NewClient(Config{APIKey: "k", Endpoint: srv.URL}, srv.Client(), nil, cache.NewMemoryCache(nil), rec)

	products, err := c.GetProducts(context.Background(), []string{"B001", "B002"}, DefaultOptions())
	if err != nil {
		t.Fatalf("GetProducts: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 product (B002 omitted), got %d", len(products))
	}
	p := products[0]
	if p.CurrentPrice != 2599 || p.SalesRank != 850 || p.ReviewCount != 1200 || p.Rating != 4.6 {
		t.Fatalf("unexpected parse: %+v", p)
	}
	if p.Category != "Home > Kitchen" || len(p.Images) != 2 {
		t.Fatalf("unexpected metadata: %q %v", p.Category, p.Images)
	}
	if p.FBAFees == nil || p.FBAFees.Total != 4.0 {
		t.Fatalf("unexpected fees: %+v", p.FBAFees)
	}
	if len(p.RankHistory) != 2 {
		t.Fatalf("expected 2 rank points, got %d", len(p.RankHistory))
	}
	if len(p.PriceHistory) != 1 {
		t.Fatalf("expected -1 price sample skipped, got %d points", len(p.PriceHistory))
	}
	if len(rec.Records()) != 1 || rec.Records()[0].Cost != CostPerProduct {
		t.Fatalf("unexpected usage records %+v", rec.Records())
	}

	if _, err := c.GetProduct(context.Background(), "B001", DefaultOptions()); err != nil {
		t.Fatalf("cached GetProduct: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected cache hit on second call, got %d requests", calls.Load())
	}
}

func TestGetProductsChunksAtMaxBatch(t *testing.T) {
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sizes = append(sizes, len(strings.Split(r.URL.Query().Get("asin"), ",")))
		fmt.Fprint(w, `{"products": []}`)
	}))
	defer srv.Close()

	asins := make([]string, 230)
	for i := range asins {
		asins[i] = fmt.Sprintf("B%05d", i)
	}
	c := NewClient(Config{APIKey: "k", Endpoint: srv.URL}, srv.Client(), nil, nil, nil)
	if _, err := c.GetProducts(context.Background(), asins, DefaultOptions()); err != nil {
		t.Fatalf("GetProducts: %v", err)
	}
	if len(sizes) != 3 || sizes[0] != 100 || sizes[1] != 100 || sizes[2] != 30 {
		t.Fatalf("unexpected chunk sizes %v", sizes)
	}
}

func TestGetProductsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"refillIn": 15000, "tokensConsumed": 0}`)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", Endpoint: srv.URL}, srv.Client(), nil, nil, nil)
	_, err := c.GetProducts(context.Background(), []string{"B001"}, DefaultOptions())
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RefillIn != 15*time.Second {
		t.Fatalf("expected 15s refill, got %s", rl.RefillIn)
	}
}

func TestGetProductsRequiresKey(t *testing.T) {
	c := NewClient(Config{}, nil, nil, nil, nil)
	if _, err := c.GetProducts(context.Background(), []string{"B001"}, DefaultOptions()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestKeepaTimeConversion(t *testing.T) {
	got := keepaTime(0)
	want := time.Date(2011, time.January, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("keepaTime(0) = %s, want %s", got, want)
	}
}
