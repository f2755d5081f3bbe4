package analysisruns

import (
	"encoding/json"
	"fmt"

	"niche-backend/internal/clients/apify"
	"niche-backend/internal/clients/keepa"
	"niche-backend/internal/market"
)

// Results is the finalized output of a run.
type Results struct {
	Niche              NicheSummary        `json:"niche"`
	Products           []AnalyzedProduct   `json:"products"`
	MarketInsights     MarketInsights      `json:"marketInsights"`
	CompetitorAnalysis *CompetitorInsights `json:"competitorAnalysis,omitempty"`
	ReviewAnalysis     *ReviewInsights     `json:"reviewAnalysis,omitempty"`
	AIRecommendations  AIRecommendations   `json:"aiRecommendations"`
}

// NicheSummary is the niche-level roll-up written back to the niche row.
type NicheSummary struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	OpportunityScore    int     `json:"opportunityScore"`
	CompetitionLevel    string  `json:"competitionLevel"`
	MarketSize          float64 `json:"marketSize"`
	AvgPrice            float64 `json:"avgPrice"`
	TotalMonthlyRevenue float64 `json:"totalMonthlyRevenue"`
}

// AnalyzedProduct is one scored ASIN.
type AnalyzedProduct struct {
	ASIN       string                `json:"asin"`
	Title      string                `json:"title"`
	Brand      string                `json:"brand,omitempty"`
	Keepa      *KeepaMetrics         `json:"keepaData,omitempty"`
	Competitor *apify.Competitor     `json:"competitorData,omitempty"`
	Reviews    *apify.ReviewAnalysis `json:"reviewData,omitempty"`
	Analysis   ProductAnalysis       `json:"analysis"`
}

// KeepaMetrics is the part of a Keepa product carried into results.
type KeepaMetrics struct {
	Price          float64 `json:"price"`
	SalesRank      int     `json:"salesRank"`
	ReviewCount    int     `json:"reviewCount"`
	Rating         float64 `json:"rating"`
	FBAFee         float64 `json:"fbaFee"`
	MonthlySales   int     `json:"monthlySales"`
	MonthlyRevenue float64 `json:"monthlyRevenue"`
}

func keepaMetrics(p keepa.Product) *KeepaMetrics {
	price := p.PriceDollars()
	m := &KeepaMetrics{
		Price:          price,
		SalesRank:      p.SalesRank,
		ReviewCount:    p.ReviewCount,
		Rating:         p.Rating,
		MonthlySales:   market.MonthlySales(p.SalesRank),
		MonthlyRevenue: market.MonthlyRevenue(p.SalesRank, price),
	}
	if p.FBAFees != nil {
		m.FBAFee = p.FBAFees.Total
	}
	return m
}

// ProductAnalysis holds the scores and trends of one product.
type ProductAnalysis struct {
	OpportunityScore int    `json:"opportunityScore"`
	DemandScore      int    `json:"demandScore"`
	CompetitionScore int    `json:"competitionScore"`
	Profitability    int    `json:"profitability"`
	Trends           Trends `json:"trends"`
}

// Trends are directions derived from Keepa histories.
type Trends struct {
	PriceDirection  string `json:"priceDirection"`
	DemandDirection string `json:"demandDirection"`
	Seasonality     string `json:"seasonality"`
}

// MarketInsights summarize the niche's market.
type MarketInsights struct {
	TotalMarketSize  float64             `json:"totalMarketSize"`
	GrowthRate       float64             `json:"growthRate"`
	AvgSellingPrice  float64             `json:"avgSellingPrice"`
	AvgBSR           int                 `json:"avgBsr"`
	TopBrands        []market.BrandShare `json:"topBrands"`
	SeasonalityIndex float64             `json:"seasonalityIndex"`
	EntryDifficulty  string              `json:"entryDifficulty"`
}

// DefaultMarketInsights is used when the market step produced nothing.
func DefaultMarketInsights() MarketInsights {
	return MarketInsights{TopBrands: []market.BrandShare{}, EntryDifficulty: "medium"}
}

// AIRecommendations are the model's qualitative findings.
type AIRecommendations struct {
	Summary             string   `json:"summary"`
	Opportunities       []string `json:"opportunities"`
	Risks               []string `json:"risks"`
	ActionItems         []string `json:"actionItems"`
	SuggestedStrategies []string `json:"suggestedStrategies"`
	ConfidenceScore     float64  `json:"confidenceScore"`
}

// Summaries stored when the model could not be used or never ran.
const (
	MsgAIUnavailable      = "AI analysis unavailable"
	MsgAnalysisIncomplete = "Analysis incomplete"
)

func emptyRecommendations(summary string) AIRecommendations {
	return AIRecommendations{
		Summary:             summary,
		Opportunities:       []string{},
		Risks:               []string{},
		ActionItems:         []string{},
		SuggestedStrategies: []string{},
	}
}

// CompetitorInsights aggregate scraped competitor listings.
type CompetitorInsights struct {
	Listings       int                 `json:"listings"`
	AvgPrice       float64             `json:"avgPrice"`
	AvgRating      float64             `json:"avgRating"`
	AvgReviewCount float64             `json:"avgReviewCount"`
	FBAShare       float64             `json:"fbaShare"`
	PrimeShare     float64             `json:"primeShare"`
	TopBrands      []market.BrandShare `json:"topBrands"`
}

// ReviewInsights aggregate per-ASIN review analyses.
type ReviewInsights struct {
	ProductsAnalyzed   int            `json:"productsAnalyzed"`
	ReviewsAnalyzed    int            `json:"reviewsAnalyzed"`
	AverageRating      float64        `json:"averageRating"`
	VerifiedPercentage float64        `json:"verifiedPercentage"`
	Sentiment          map[string]int `json:"sentiment"`
	CommonPhrases      []apify.Phrase `json:"commonPhrases"`
}

// ProductRef is a niche ASIN with its stored title.
type ProductRef struct {
	ASIN  string `json:"asin"`
	Title string `json:"title"`
}

// NicheInfo identifies the analyzed niche.
type NicheInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// runState is the working set a run builds step by step.
type runState struct {
	niche       NicheInfo
	products    []ProductRef
	keepa       map[string]keepa.Product
	competitors map[string]apify.Competitor
	reviews     map[string]apify.ReviewAnalysis
	market      *MarketInsights
	ai          *AIRecommendations
	scored      []AnalyzedProduct
}

func newRunState() *runState {
	return &runState{
		keepa:       map[string]keepa.Product{},
		competitors: map[string]apify.Competitor{},
		reviews:     map[string]apify.ReviewAnalysis{},
	}
}

// stepOutput is the typed result of one step.
type stepOutput interface {
	apply(st *runState)
}

type nicheProductsOutput struct {
	Niche    NicheInfo    `json:"niche"`
	Products []ProductRef `json:"products"`
}

func (o nicheProductsOutput) apply(st *runState) {
	st.niche = o.Niche
	st.products = o.Products
}

type keepaOutput struct {
	Products map[string]keepa.Product `json:"products"`
}

func (o keepaOutput) apply(st *runState) {
	for asin, p := range o.Products {
		st.keepa[asin] = p
	}
}

type competitorOutput struct {
	Competitors map[string]apify.Competitor `json:"competitors"`
}

func (o competitorOutput) apply(st *runState) {
	for asin, c := range o.Competitors {
		st.competitors[asin] = c
	}
}

type reviewOutput struct {
	Reviews map[string]apify.ReviewAnalysis `json:"reviews"`
}

func (o reviewOutput) apply(st *runState) {
	for asin, r := range o.Reviews {
		st.reviews[asin] = r
	}
}

func (o MarketInsights) apply(st *runState) { st.market = &o }

func (o AIRecommendations) apply(st *runState) { st.ai = &o }

type scoresOutput struct {
	Products []AnalyzedProduct `json:"products"`
}

func (o scoresOutput) apply(st *runState) { st.scored = o.Products }

// decodeStepData rebuilds the typed output of a completed step.
func decodeStepData(name string, raw json.RawMessage) (stepOutput, error) {
	var (
		out stepOutput
		err error
	)
	switch name {
	case StepFetchNicheProducts:
		var v nicheProductsOutput
		err = json.Unmarshal(raw, &v)
		out = v
	case StepFetchKeepaData:
		var v keepaOutput
		err = json.Unmarshal(raw, &v)
		out = v
	case StepFetchCompetitorData:
		var v competitorOutput
		err = json.Unmarshal(raw, &v)
		out = v
	case StepFetchReviewData:
		var v reviewOutput
		err = json.Unmarshal(raw, &v)
		out = v
	case StepAnalyzeMarket:
		var v MarketInsights
		err = json.Unmarshal(raw, &v)
		out = v
	case StepGenerateAIInsights:
		var v AIRecommendations
		err = json.Unmarshal(raw, &v)
		out = v
	case StepCalculateScores:
		var v scoresOutput
		err = json.Unmarshal(raw, &v)
		out = v
	default:
		return nil, newError(CodeUnknownStep, fmt.Sprintf("Unknown analysis step: %s", name))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s data: %w", name, err)
	}
	return out, nil
}
