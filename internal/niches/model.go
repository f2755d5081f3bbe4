package niches

import (
	"encoding/json"
	"errors"
	"time"

	"niche-backend/internal/clients/keepa"
	"niche-backend/internal/market"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Keyword sources.
const (
	SourceAPI      = "api"
	SourceFallback = "fallback"
)

// Pipeline stages, in execution order.
const (
	StageBatchFetch          = "batch_fetch"
	StageIndividualRetry     = "individual_retry"
	StageKeywords            = "keywords"
	StageReviews             = "reviews"
	StageAggregate           = "aggregate_analytics"
	StageMarketInsights      = "market_insights"
	StageCompetition         = "competition_analysis"
	StageFinancial           = "financial_analysis"
	StageKeywordAnalysis     = "keyword_analysis"
	StageLaunchStrategy      = "launch_strategy"
	StageListingOptimization = "listing_optimization"
	StagePricing             = "pricing_analysis"
	StageDone                = "done"
)

// MsgNoProducts is stored when no ASIN of a niche could be fetched.
const MsgNoProducts = "No products were successfully processed"

var (
	ErrNotFound          = errors.New("niche not found")
	ErrAlreadyProcessing = errors.New("niche is already processing")
	// ErrClaimLost means another run reclaimed the niche after this one
	// went stale.
	ErrClaimLost = errors.New("niche claimed by a newer run")
	ErrNoASINs           = errors.New("niche has no asins")
)

// Niche is a user-owned set of ASINs and the state of its last processing run.
type Niche struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	Name               string     `json:"name"`
	Category           string     `json:"category,omitempty"`
	Tags               []string   `json:"tags"`
	ASINs              []string   `json:"asins"`
	Marketplace        string     `json:"marketplace"`
	Status             string     `json:"status"`
	Progress           *Progress  `json:"progress,omitempty"`
	Notes              *Notes     `json:"notes,omitempty"`
	ErrorMessage       string     `json:"errorMessage,omitempty"`
	TotalProducts      int        `json:"totalProducts"`
	FailedProducts     int        `json:"failedProducts"`
	ScheduledDate      *time.Time `json:"scheduledDate,omitempty"`
	ProcessStartedAt   *time.Time `json:"processStartedAt,omitempty"`
	ProcessCompletedAt *time.Time `json:"processCompletedAt,omitempty"`
	LastAnalyzedAt     *time.Time `json:"lastAnalyzedAt,omitempty"`
	Analytics          Analytics  `json:"analytics"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Analytics are the denormalized niche-level aggregates.
type Analytics struct {
	OpportunityScore    int      `json:"opportunityScore"`
	CompetitionLevel    string   `json:"competitionLevel,omitempty"`
	MarketSize          float64  `json:"marketSize"`
	AvgPrice            float64  `json:"avgPrice"`
	AvgBSR              float64  `json:"avgBsr"`
	AvgRating           float64  `json:"avgRating"`
	TotalReviews        int      `json:"totalReviews"`
	TotalKeywords       int      `json:"totalKeywords"`
	TotalMonthlyRevenue float64  `json:"totalMonthlyRevenue"`
	NicheKeywords       []string `json:"nicheKeywords,omitempty"`
}

// Progress is the observable state of a processing run, stored as JSON on
// the niche row.
type Progress struct {
	RunID          string          `json:"runId,omitempty"`
	Stage          string          `json:"stage"`
	Current        int             `json:"current"`
	Total          int             `json:"total"`
	Percentage     int             `json:"percentage"`
	CurrentASIN    string          `json:"currentAsin,omitempty"`
	CompletedASINs []string        `json:"completedAsins"`
	FailedASINs    []string        `json:"failedAsins"`
	Stages         map[string]bool `json:"stages"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Notes summarize a finished run.
type Notes struct {
	SuccessRate    int      `json:"successRate"`
	CompletedCount int      `json:"completedCount"`
	FailedCount    int      `json:"failedCount"`
	FailedASINs    []string `json:"failedAsins"`
	Shortfall      string   `json:"shortfall,omitempty"`
	SkippedStages  []string `json:"skippedStages,omitempty"`
	FailedStages   []string `json:"failedStages,omitempty"`
}

// Product is one ASIN as stored; products are shared across niches.
type Product struct {
	ASIN             string           `json:"asin"`
	Title            string           `json:"title"`
	Brand            string           `json:"brand,omitempty"`
	Category         string           `json:"category,omitempty"`
	Price            float64          `json:"price"`
	Rating           float64          `json:"rating"`
	ReviewCount      int              `json:"reviewCount"`
	BSR              int              `json:"bsr"`
	Images           []string         `json:"images"`
	Dimensions       keepa.Dimensions `json:"dimensions"`
	FBAFees          *keepa.FBAFees   `json:"fbaFees,omitempty"`
	MonthlySales     int              `json:"monthlySales"`
	MonthlyRevenue   float64          `json:"monthlyRevenue"`
	OpportunityScore int              `json:"opportunityScore"`
	CompetitionScore int              `json:"competitionScore"`
	DemandScore      int              `json:"demandScore"`
	Raw              RawData          `json:"-"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// RawData is the raw_data column: the Keepa payload plus parsed histories.
type RawData struct {
	Keepa        json.RawMessage `json:"keepa,omitempty"`
	PriceHistory []keepa.Point   `json:"priceHistory,omitempty"`
	RankHistory  []keepa.Point   `json:"rankHistory,omitempty"`
}

// ProductFromKeepa maps a Keepa product onto the stored shape.
func ProductFromKeepa(p keepa.Product, now time.Time) Product {
	price := p.PriceDollars()
	return Product{
		ASIN:           p.ASIN,
		Title:          p.Title,
		Brand:          p.Brand,
		Category:       p.Category,
		Price:          price,
		Rating:         p.Rating,
		ReviewCount:    p.ReviewCount,
		BSR:            p.SalesRank,
		Images:         p.Images,
		Dimensions:     p.Dimensions,
		FBAFees:        p.FBAFees,
		MonthlySales:   market.MonthlySales(p.SalesRank),
		MonthlyRevenue: market.MonthlyRevenue(p.SalesRank, price),
		Raw: RawData{
			Keepa:        p.Raw,
			PriceHistory: p.PriceHistory,
			RankHistory:  p.RankHistory,
		},
		UpdatedAt: now,
	}
}

// Keyword is a (product, keyword) suggestion.
type Keyword struct {
	ID              string    `json:"id"`
	ASIN            string    `json:"asin"`
	Keyword         string    `json:"keyword"`
	MatchType       string    `json:"matchType"`
	SuggestedBid    float64   `json:"suggestedBid"`
	EstimatedClicks int       `json:"estimatedClicks"`
	EstimatedOrders int       `json:"estimatedOrders"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Review is a stored product review.
type Review struct {
	ID           string     `json:"id"`
	ASIN         string     `json:"asin"`
	ReviewID     string     `json:"reviewId"`
	Rating       float64    `json:"rating"`
	Title        string     `json:"title,omitempty"`
	Content      string     `json:"content"`
	Verified     bool       `json:"verified"`
	HelpfulVotes int        `json:"helpfulVotes"`
	ReviewDate   *time.Time `json:"reviewDate,omitempty"`
}

// Job is the in-memory snapshot of one processing run.
type Job struct {
	RunID       string     `json:"runId"`
	NicheID     string     `json:"nicheId"`
	NicheName   string     `json:"nicheName"`
	Marketplace string     `json:"marketplace"`
	Status      string     `json:"status"`
	Progress    Progress   `json:"progress"`
	Notes       *Notes     `json:"notes,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
