package niches

import (
	"context"
	"time"

	"niche-backend/internal/market"
)

// Repo defines persistence for niches, their products and analysis rows.
// The store is the source of truth for a niche's status; there are no
// transactions spanning tables.
type Repo interface {
	Create(ctx context.Context, niche Niche) error
	Get(ctx context.Context, nicheID string) (Niche, error)
	// ClaimForProcessing moves a niche into processing for progress.RunID
	// unless another run holds it. Runs started before staleBefore are
	// considered abandoned.
	ClaimForProcessing(ctx context.Context, nicheID string, progress Progress, now, staleBefore time.Time) error
	// UpdateProgress and Finish only write while runID still holds the claim
	// and return ErrClaimLost otherwise.
	UpdateProgress(ctx context.Context, nicheID, runID string, progress Progress) error
	Finish(ctx context.Context, nicheID, runID string, outcome Outcome) error
	UpdateAnalytics(ctx context.Context, nicheID string, analytics Analytics, analyzedAt time.Time) error
	DuePending(ctx context.Context, now time.Time, limit int) ([]Niche, error)
	Delete(ctx context.Context, nicheID string) error

	UpsertProduct(ctx context.Context, product Product) error
	ProductsByASINs(ctx context.Context, asins []string) ([]Product, error)
	UpdateProductScores(ctx context.Context, asin string, scores market.Scores) error
	InsertKeywords(ctx context.Context, keywords []Keyword) error
	KeywordsForASINs(ctx context.Context, asins []string) ([]Keyword, error)
	InsertReviews(ctx context.Context, reviews []Review) error
	ReviewsForASINs(ctx context.Context, asins []string) ([]Review, error)

	UpsertAnalysis(ctx context.Context, nicheID string, analysis Analysis) error
	GetAnalysis(ctx context.Context, nicheID string, dst Analysis) error
}

// Outcome is the terminal state written when a run finishes.
type Outcome struct {
	Status         string
	Progress       Progress
	Notes          *Notes
	ErrorMessage   string
	TotalProducts  int
	FailedProducts int
	CompletedAt    time.Time
}

// Analysis is one of the seven per-niche analysis rows. Table names the
// row's table; the value is stored as JSON.
type Analysis interface {
	Table() string
}

// AnalysisTables lists every analysis table, used for validation and
// cleanup.
var AnalysisTables = []string{
	(&MarketInsights{}).Table(),
	(&CompetitionAnalysis{}).Table(),
	(&FinancialAnalysis{}).Table(),
	(&KeywordAnalysis{}).Table(),
	(&LaunchStrategy{}).Table(),
	(&ListingOptimization{}).Table(),
	(&PricingAnalysis{}).Table(),
}

func knownTable(table string) bool {
	for _, t := range AnalysisTables {
		if t == table {
			return true
		}
	}
	return false
}
