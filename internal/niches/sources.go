package niches

import (
	"context"

	"niche-backend/internal/clients/adsapi"
	"niche-backend/internal/clients/apify"
	"niche-backend/internal/clients/keepa"
)

// ProductSource fetches product data in bulk and one ASIN at a time.
type ProductSource interface {
	GetProducts(ctx context.Context, asins []string, opts keepa.Options) ([]keepa.Product, error)
	GetProduct(ctx context.Context, asin string, opts keepa.Options) (keepa.Product, error)
}

// KeywordSource suggests keywords for a small batch of ASINs.
type KeywordSource interface {
	Configured() bool
	SuggestKeywords(ctx context.Context, asins []string) ([]adsapi.KeywordSuggestion, error)
}

// ReviewSource scrapes reviews for one ASIN.
type ReviewSource interface {
	Configured() bool
	GetReviews(ctx context.Context, asin string, opts apify.ReviewOptions) ([]apify.Review, error)
}

var (
	_ ProductSource = (*keepa.Client)(nil)
	_ KeywordSource = (*adsapi.Client)(nil)
	_ ReviewSource  = (*apify.Client)(nil)
)
