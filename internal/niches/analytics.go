package niches

import (
	"math"
	"sort"
	"strings"
	"time"

	"niche-backend/internal/clients/apify"
	"niche-backend/internal/clients/keepa"
	"niche-backend/internal/market"
)

// Snapshot is what the analysis stages read: the rows currently stored for
// a niche's ASINs.
type Snapshot struct {
	Products []Product
	Keywords []Keyword
	Reviews  []Review
}

func (s Snapshot) avg(f func(Product) float64) float64 {
	if len(s.Products) == 0 {
		return 0
	}
	var sum float64
	for _, p := range s.Products {
		sum += f(p)
	}
	return sum / float64(len(s.Products))
}

func (s Snapshot) monthlyRevenue() float64 {
	var sum float64
	for _, p := range s.Products {
		sum += p.MonthlyRevenue
	}
	return sum
}

// ScoreProduct runs the shared scoring heuristics over a stored product.
func ScoreProduct(p Product) market.Scores {
	in := market.ScoreInput{
		HasKeepa:    true,
		SalesRank:   p.BSR,
		ReviewCount: p.ReviewCount,
		Rating:      p.Rating,
		PriceCents:  int(math.Round(p.Price * 100)),
	}
	if p.FBAFees != nil {
		in.TotalFee = p.FBAFees.Total
	}
	return market.Score(in)
}

// Aggregate computes the niche-level analytics and the per-product scores
// they are derived from.
func Aggregate(s Snapshot) (Analytics, map[string]market.Scores) {
	scores := make(map[string]market.Scores, len(s.Products))
	var oppSum, compSum float64
	var reviews int
	for _, p := range s.Products {
		sc := ScoreProduct(p)
		scores[p.ASIN] = sc
		oppSum += float64(sc.Opportunity)
		compSum += float64(sc.Competition)
		reviews += p.ReviewCount
	}
	a := Analytics{
		AvgPrice:            s.avg(func(p Product) float64 { return p.Price }),
		AvgBSR:              s.avg(func(p Product) float64 { return float64(p.BSR) }),
		AvgRating:           s.avg(func(p Product) float64 { return p.Rating }),
		TotalReviews:        reviews,
		TotalMonthlyRevenue: s.monthlyRevenue(),
	}
	a.MarketSize = a.TotalMonthlyRevenue * 12
	if n := len(s.Products); n > 0 {
		a.OpportunityScore = int(math.Round(oppSum / float64(n)))
		a.CompetitionLevel = market.CompetitionLevel(compSum / float64(n))
	}

	seen := map[string]bool{}
	for _, k := range s.Keywords {
		kw := strings.ToLower(strings.TrimSpace(k.Keyword))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		if len(a.NicheKeywords) < 50 {
			a.NicheKeywords = append(a.NicheKeywords, kw)
		}
	}
	a.TotalKeywords = len(seen)
	return a, scores
}

// MarketInsights describes demand, growth and the voice of the customer.
type MarketInsights struct {
	AvgPrice         float64         `json:"avgPrice"`
	AvgBSR           float64         `json:"avgBsr"`
	AvgRating        float64         `json:"avgRating"`
	MonthlyRevenue   float64         `json:"monthlyRevenue"`
	MarketSize       float64         `json:"marketSize"`
	MarketSizeByBSR  float64         `json:"marketSizeByBsr"`
	GrowthRate       float64         `json:"growthRate"`
	DemandTrend      string          `json:"demandTrend"`
	PriceTrend       string          `json:"priceTrend"`
	Seasonality      string          `json:"seasonality"`
	SeasonalityIndex float64         `json:"seasonalityIndex"`
	VoiceOfCustomer  VoiceOfCustomer `json:"voiceOfCustomer"`
	AnalyzedAt       time.Time       `json:"analyzedAt"`
}

// VoiceOfCustomer is what the stored reviews say.
type VoiceOfCustomer struct {
	ReviewsAnalyzed    int            `json:"reviewsAnalyzed"`
	AverageRating      float64        `json:"averageRating"`
	VerifiedPercentage float64        `json:"verifiedPercentage"`
	Sentiment          map[string]int `json:"sentiment"`
	TopPhrases         []apify.Phrase `json:"topPhrases"`
}

func (MarketInsights) Table() string { return "niches_market_insights" }

// BuildMarketInsights derives trends from the stored histories. Growth and
// seasonality come from rank history only and are deterministic.
func BuildMarketInsights(s Snapshot, a Analytics, now time.Time) MarketInsights {
	var rankHistories [][]keepa.Point
	var demand, price []string
	for _, p := range s.Products {
		rankHistories = append(rankHistories, p.Raw.RankHistory)
		demand = append(demand, market.DemandTrend(p.Raw.RankHistory))
		price = append(price, market.PriceTrend(p.Raw.PriceHistory))
	}
	index := market.SeasonalityIndex(rankHistories)
	ra := apify.AnalyzeReviews("", toApifyReviews(s.Reviews))
	return MarketInsights{
		AvgPrice:         a.AvgPrice,
		AvgBSR:           a.AvgBSR,
		AvgRating:        a.AvgRating,
		MonthlyRevenue:   a.TotalMonthlyRevenue,
		MarketSize:       a.TotalMonthlyRevenue * 12,
		MarketSizeByBSR:  market.MarketSizeFromBSR(a.AvgBSR),
		GrowthRate:       market.GrowthRate(rankHistories),
		DemandTrend:      dominantTrend(demand),
		PriceTrend:       dominantTrend(price),
		Seasonality:      market.SeasonalityLevel(index),
		SeasonalityIndex: index,
		VoiceOfCustomer: VoiceOfCustomer{
			ReviewsAnalyzed:    ra.TotalReviews,
			AverageRating:      ra.AverageRating,
			VerifiedPercentage: ra.VerifiedPercentage,
			Sentiment:          ra.Sentiment,
			TopPhrases:         ra.CommonPhrases,
		},
		AnalyzedAt: now,
	}
}

// dominantTrend returns the most common direction; ties are stable.
func dominantTrend(trends []string) string {
	var up, down int
	for _, t := range trends {
		switch t {
		case market.TrendUp:
			up++
		case market.TrendDown:
			down++
		}
	}
	stable := len(trends) - up - down
	switch {
	case up > down && up > stable:
		return market.TrendUp
	case down > up && down > stable:
		return market.TrendDown
	default:
		return market.TrendStable
	}
}

func toApifyReviews(reviews []Review) []apify.Review {
	out := make([]apify.Review, 0, len(reviews))
	for _, r := range reviews {
		ar := apify.Review{
			ReviewID:     r.ReviewID,
			ASIN:         r.ASIN,
			Rating:       int(math.Round(r.Rating)),
			Title:        r.Title,
			Text:         r.Content,
			Verified:     r.Verified,
			HelpfulVotes: r.HelpfulVotes,
		}
		if r.ReviewDate != nil {
			ar.Date = *r.ReviewDate
		}
		ar.Sentiment = apify.Sentiment(r.Content)
		out = append(out, ar)
	}
	return out
}

// PriceRange is a min/max pair in dollars.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Competitor is one listing in the competition table.
type Competitor struct {
	ASIN    string  `json:"asin"`
	Title   string  `json:"title"`
	Brand   string  `json:"brand,omitempty"`
	Price   float64 `json:"price"`
	Rating  float64 `json:"rating"`
	Reviews int     `json:"reviews"`
	BSR     int     `json:"bsr"`
}

// CompetitionAnalysis describes how crowded the niche is.
type CompetitionAnalysis struct {
	TotalCompetitors  int                 `json:"totalCompetitors"`
	CompetitionLevel  string              `json:"competitionLevel"`
	EntryDifficulty   string              `json:"entryDifficulty"`
	AveragePrice      float64             `json:"averagePrice"`
	AverageRating     float64             `json:"averageRating"`
	AverageReviews    float64             `json:"averageReviews"`
	PriceRange        PriceRange          `json:"priceRange"`
	TopCompetitors    []Competitor        `json:"topCompetitors"`
	BrandDistribution []market.BrandShare `json:"brandDistribution"`
	AnalyzedAt        time.Time           `json:"analyzedAt"`
}

func (CompetitionAnalysis) Table() string { return "niches_competition_analysis" }

// BuildCompetition ranks the niche's products by review count.
func BuildCompetition(s Snapshot, now time.Time) CompetitionAnalysis {
	out := CompetitionAnalysis{
		TotalCompetitors: len(s.Products),
		AveragePrice:     s.avg(func(p Product) float64 { return p.Price }),
		AverageRating:    s.avg(func(p Product) float64 { return p.Rating }),
		AverageReviews:   s.avg(func(p Product) float64 { return float64(p.ReviewCount) }),
		PriceRange:       priceRange(s.Products),
		AnalyzedAt:       now,
	}
	out.EntryDifficulty = market.EntryDifficulty(out.AverageReviews)

	ranked := append([]Product(nil), s.Products...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].ReviewCount > ranked[j].ReviewCount })
	var brands []string
	var compSum float64
	for i, p := range ranked {
		brands = append(brands, p.Brand)
		compSum += float64(ScoreProduct(p).Competition)
		if i < 5 {
			out.TopCompetitors = append(out.TopCompetitors, Competitor{
				ASIN: p.ASIN, Title: p.Title, Brand: p.Brand, Price: p.Price,
				Rating: p.Rating, Reviews: p.ReviewCount, BSR: p.BSR,
			})
		}
	}
	out.BrandDistribution = market.TopBrands(brands)
	if len(ranked) > 0 {
		out.CompetitionLevel = market.CompetitionLevel(compSum / float64(len(ranked)))
	}
	return out
}

func priceRange(products []Product) PriceRange {
	var r PriceRange
	for i, p := range products {
		if i == 0 || p.Price < r.Min {
			r.Min = p.Price
		}
		if p.Price > r.Max {
			r.Max = p.Price
		}
	}
	return r
}

// Financial model constants.
const (
	GrossMargin          = 0.35
	NetMargin            = 0.15
	LaunchUnits          = 500
	FixedLaunchCost      = 5000.0
	MarketingShare       = 0.10
	BreakEvenMonths      = 4
	PenetrationPriceMult = 0.85
	PremiumPriceMult     = 1.15
)

type ProfitMargins struct {
	Gross float64 `json:"gross"`
	Net   float64 `json:"net"`
}

type Investment struct {
	InitialInventory float64 `json:"initialInventory"`
	MarketingBudget  float64 `json:"marketingBudget"`
	Total            float64 `json:"total"`
}

type BreakEven struct {
	Units  int `json:"units"`
	Months int `json:"months"`
}

type ROIProjections struct {
	Month3  float64 `json:"month3"`
	Month6  float64 `json:"month6"`
	Month12 float64 `json:"month12"`
}

type PriceTiers struct {
	Penetration float64 `json:"penetration"`
	Competitive float64 `json:"competitive"`
	Premium     float64 `json:"premium"`
}

type CostBreakdown struct {
	ProductCost float64 `json:"productCost"`
	AmazonFees  float64 `json:"amazonFees"`
	Shipping    float64 `json:"shipping"`
	Marketing   float64 `json:"marketing"`
}

// FinancialAnalysis is a unit-economics model for entering the niche.
type FinancialAnalysis struct {
	AverageSellingPrice     float64        `json:"averageSellingPrice"`
	MonthlyRevenuePotential float64        `json:"monthlyRevenuePotential"`
	EstimatedMarketSize     float64        `json:"estimatedMarketSize"`
	AvgFBAFee               float64        `json:"avgFbaFee"`
	ProfitMargins           ProfitMargins  `json:"profitMargins"`
	Investment              Investment     `json:"investment"`
	BreakEven               BreakEven      `json:"breakEven"`
	ROIProjections          ROIProjections `json:"roiProjections"`
	PricingStrategy         PriceTiers     `json:"pricingStrategy"`
	CostBreakdown           CostBreakdown  `json:"costBreakdown"`
	AnalyzedAt              time.Time      `json:"analyzedAt"`
}

func (FinancialAnalysis) Table() string { return "niches_financial_analysis" }

// BuildFinancial applies the fixed margin model to the niche averages.
func BuildFinancial(s Snapshot, a Analytics, now time.Time) FinancialAnalysis {
	avgPrice := a.AvgPrice
	revenue := a.TotalMonthlyRevenue
	inventory := avgPrice * LaunchUnits
	marketing := revenue * MarketingShare
	out := FinancialAnalysis{
		AverageSellingPrice:     avgPrice,
		MonthlyRevenuePotential: revenue,
		EstimatedMarketSize:     revenue * 12,
		AvgFBAFee: s.avg(func(p Product) float64 {
			if p.FBAFees == nil {
				return 0
			}
			return p.FBAFees.Total
		}),
		ProfitMargins: ProfitMargins{Gross: GrossMargin, Net: NetMargin},
		Investment: Investment{
			InitialInventory: inventory,
			MarketingBudget:  marketing,
			Total:            inventory + marketing + FixedLaunchCost,
		},
		BreakEven:      BreakEven{Months: BreakEvenMonths},
		ROIProjections: ROIProjections{Month3: -0.2, Month6: 0.1, Month12: 0.35},
		PricingStrategy: PriceTiers{
			Penetration: avgPrice * PenetrationPriceMult,
			Competitive: avgPrice,
			Premium:     avgPrice * PremiumPriceMult,
		},
		CostBreakdown: CostBreakdown{
			ProductCost: avgPrice * 0.30,
			AmazonFees:  avgPrice * 0.15,
			Shipping:    avgPrice * 0.05,
			Marketing:   avgPrice * 0.10,
		},
		AnalyzedAt: now,
	}
	if avgPrice > 0 {
		out.BreakEven.Units = int(math.Ceil((inventory + FixedLaunchCost) / (avgPrice * GrossMargin)))
	}
	return out
}

// Keyword analysis defaults, in dollars.
const (
	DefaultBid        = 1.25
	RecommendedBudget = 1500.0
	EstimatedACoS     = 0.25
)

type KeywordStat struct {
	Keyword     string  `json:"keyword"`
	Frequency   int     `json:"frequency"`
	AvgBid      float64 `json:"avgBid"`
	TotalClicks int     `json:"totalClicks"`
	TotalOrders int     `json:"totalOrders"`
}

type VolumeBucket struct {
	Count      int `json:"count"`
	Percentage int `json:"percentage"`
}

type VolumeDistribution struct {
	High   VolumeBucket `json:"high"`
	Medium VolumeBucket `json:"medium"`
	Low    VolumeBucket `json:"low"`
}

type PPCInsights struct {
	AvgCPC            float64 `json:"avgCpc"`
	RecommendedBudget float64 `json:"recommendedBudget"`
	EstimatedACoS     float64 `json:"estimatedAcos"`
}

// KeywordAnalysis summarizes the keyword rows of a niche.
type KeywordAnalysis struct {
	TotalKeywords      int                `json:"totalKeywords"`
	UniqueKeywords     int                `json:"uniqueKeywords"`
	FallbackKeywords   int                `json:"fallbackKeywords"`
	TopKeywords        []KeywordStat      `json:"topKeywords"`
	VolumeDistribution VolumeDistribution `json:"volumeDistribution"`
	PPC                PPCInsights        `json:"ppc"`
	AnalyzedAt         time.Time          `json:"analyzedAt"`
}

func (KeywordAnalysis) Table() string { return "niches_keyword_analysis" }

// BuildKeywordAnalysis groups keywords case-insensitively and ranks them by
// estimated clicks.
func BuildKeywordAnalysis(s Snapshot, now time.Time) KeywordAnalysis {
	type acc struct {
		stat   KeywordStat
		bidSum float64
		bids   int
	}
	byKeyword := map[string]*acc{}
	var order []string
	var bidSum float64
	var bids, fallback int
	for _, k := range s.Keywords {
		if k.Source == SourceFallback {
			fallback++
		}
		key := strings.ToLower(strings.TrimSpace(k.Keyword))
		if key == "" {
			continue
		}
		a, ok := byKeyword[key]
		if !ok {
			a = &acc{stat: KeywordStat{Keyword: key}}
			byKeyword[key] = a
			order = append(order, key)
		}
		a.stat.Frequency++
		a.stat.TotalClicks += k.EstimatedClicks
		a.stat.TotalOrders += k.EstimatedOrders
		if k.SuggestedBid > 0 {
			a.bidSum += k.SuggestedBid
			a.bids++
			bidSum += k.SuggestedBid
			bids++
		}
	}

	stats := make([]KeywordStat, 0, len(order))
	var dist VolumeDistribution
	for _, key := range order {
		a := byKeyword[key]
		a.stat.AvgBid = DefaultBid
		if a.bids > 0 {
			a.stat.AvgBid = a.bidSum / float64(a.bids)
		}
		switch {
		case a.stat.TotalClicks >= 500:
			dist.High.Count++
		case a.stat.TotalClicks >= 50:
			dist.Medium.Count++
		default:
			dist.Low.Count++
		}
		stats = append(stats, a.stat)
	}
	if n := len(stats); n > 0 {
		dist.High.Percentage = percent(dist.High.Count, n)
		dist.Medium.Percentage = percent(dist.Medium.Count, n)
		dist.Low.Percentage = percent(dist.Low.Count, n)
	}
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].TotalClicks != stats[j].TotalClicks {
			return stats[i].TotalClicks > stats[j].TotalClicks
		}
		return stats[i].Frequency > stats[j].Frequency
	})
	if len(stats) > 20 {
		stats = stats[:20]
	}

	cpc := DefaultBid
	if bids > 0 {
		cpc = bidSum / float64(bids)
	}
	return KeywordAnalysis{
		TotalKeywords:      len(s.Keywords),
		UniqueKeywords:     len(order),
		FallbackKeywords:   fallback,
		TopKeywords:        stats,
		VolumeDistribution: dist,
		PPC: PPCInsights{
			AvgCPC:            cpc,
			RecommendedBudget: RecommendedBudget,
			EstimatedACoS:     EstimatedACoS,
		},
		AnalyzedAt: now,
	}
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

type LaunchPhase struct {
	Name     string   `json:"name"`
	Duration string   `json:"duration"`
	Tasks    []string `json:"tasks"`
}

type InventoryPlan struct {
	InitialOrder int     `json:"initialOrder"`
	ReorderPoint int     `json:"reorderPoint"`
	LeadTimeDays int     `json:"leadTimeDays"`
	InitialCost  float64 `json:"initialCost"`
}

type ReviewTargets struct {
	Month1 int `json:"month1"`
	Month3 int `json:"month3"`
	Month6 int `json:"month6"`
}

type Milestone struct {
	Sales   int `json:"sales"`
	Reviews int `json:"reviews"`
	BSR     int `json:"bsr"`
}

// LaunchStrategy is a phased plan sized from the niche averages.
type LaunchStrategy struct {
	Timeline       []LaunchPhase        `json:"timeline"`
	PPCBudget      float64              `json:"ppcBudget"`
	Inventory      InventoryPlan        `json:"inventory"`
	ReviewTargets  ReviewTargets        `json:"reviewTargets"`
	SuccessMetrics map[string]Milestone `json:"successMetrics"`
	RiskMitigation []string             `json:"riskMitigation"`
	AnalyzedAt     time.Time            `json:"analyzedAt"`
}

func (LaunchStrategy) Table() string { return "niches_launch_strategy" }

func BuildLaunchStrategy(a Analytics, now time.Time) LaunchStrategy {
	risks := []string{"Start with a small first order", "Monitor competitor pricing weekly"}
	if a.CompetitionLevel == "High" || a.CompetitionLevel == "Very High" {
		risks = append(risks, "Differentiate on bundle or packaging before launch")
	}
	return LaunchStrategy{
		Timeline: []LaunchPhase{
			{Name: "pre_launch", Duration: "2 weeks", Tasks: []string{"Product design", "Photography"}},
			{Name: "soft_launch", Duration: "4 weeks", Tasks: []string{"Initial inventory", "First reviews"}},
			{Name: "scale_up", Duration: "8 weeks", Tasks: []string{"Increase PPC", "Review generation"}},
		},
		PPCBudget: RecommendedBudget,
		Inventory: InventoryPlan{
			InitialOrder: LaunchUnits,
			ReorderPoint: 150,
			LeadTimeDays: 45,
			InitialCost:  a.AvgPrice * 0.30 * LaunchUnits,
		},
		ReviewTargets: ReviewTargets{Month1: 25, Month3: 100, Month6: 250},
		SuccessMetrics: map[string]Milestone{
			"month1": {Sales: 50, Reviews: 25, BSR: 50000},
			"month3": {Sales: 200, Reviews: 100, BSR: 20000},
		},
		RiskMitigation: risks,
		AnalyzedAt:     now,
	}
}

// Listing limits enforced by Amazon.
const (
	TitleCharLimit           = 200
	BackendKeywordsCharLimit = 250
)

// ListingOptimization proposes listing copy from keywords and reviews.
type ListingOptimization struct {
	TitleStructure       string    `json:"titleStructure"`
	TitleCharLimit       int       `json:"titleCharLimit"`
	TitleKeywords        []string  `json:"titleKeywords"`
	BulletThemes         []string  `json:"bulletThemes"`
	BackendKeywords      string    `json:"backendKeywords"`
	ImageRecommendations []string  `json:"imageRecommendations"`
	ConversionElements   []string  `json:"conversionElements"`
	AnalyzedAt           time.Time `json:"analyzedAt"`
}

func (ListingOptimization) Table() string { return "niches_listing_optimization" }

func BuildListingOptimization(s Snapshot, kw KeywordAnalysis, now time.Time) ListingOptimization {
	out := ListingOptimization{
		TitleStructure: "[Brand] + [Main Keyword] + [Product Type] + [Key Feature]",
		TitleCharLimit: TitleCharLimit,
		ImageRecommendations: []string{
			"Main image on a white background",
			"Lifestyle image showing the product in use",
			"Infographic with dimensions",
		},
		ConversionElements: []string{"Social proof", "Guarantee"},
		AnalyzedAt:         now,
	}
	var backend []string
	used := 0
	for i, k := range kw.TopKeywords {
		if i < 5 {
			out.TitleKeywords = append(out.TitleKeywords, k.Keyword)
			continue
		}
		// Space-separated, within the backend search-term limit.
		need := len(k.Keyword)
		if used > 0 {
			need++
		}
		if used+need > BackendKeywordsCharLimit {
			break
		}
		backend = append(backend, k.Keyword)
		used += need
	}
	out.BackendKeywords = strings.Join(backend, " ")

	ra := apify.AnalyzeReviews("", toApifyReviews(s.Reviews))
	for i, p := range ra.CommonPhrases {
		if i == 5 {
			break
		}
		out.BulletThemes = append(out.BulletThemes, p.Phrase)
	}
	return out
}

type PricePoint struct {
	Label string  `json:"label"`
	Price float64 `json:"price"`
	Count int     `json:"count"`
}

// PricingAnalysis places the niche's prices into bands around the average.
type PricingAnalysis struct {
	AveragePrice     float64      `json:"averagePrice"`
	MedianPrice      float64      `json:"medianPrice"`
	PriceRange       PriceRange   `json:"priceRange"`
	OptimalRange     PriceRange   `json:"optimalRange"`
	PricePoints      []PricePoint `json:"pricePoints"`
	PriceSensitivity string       `json:"priceSensitivity"`
	PriceTrend       string       `json:"priceTrend"`
	AnalyzedAt       time.Time    `json:"analyzedAt"`
}

func (PricingAnalysis) Table() string { return "niches_pricing_analysis" }

func BuildPricing(s Snapshot, now time.Time) PricingAnalysis {
	var prices []float64
	var trends []string
	for _, p := range s.Products {
		if p.Price > 0 {
			prices = append(prices, p.Price)
		}
		trends = append(trends, market.PriceTrend(p.Raw.PriceHistory))
	}
	out := PricingAnalysis{
		PriceRange:       priceRange(s.Products),
		PriceTrend:       dominantTrend(trends),
		PriceSensitivity: "low",
		AnalyzedAt:       now,
	}
	if len(prices) == 0 {
		return out
	}
	sort.Float64s(prices)
	var sum float64
	for _, p := range prices {
		sum += p
	}
	avg := sum / float64(len(prices))
	out.AveragePrice = avg
	out.MedianPrice = median(prices)
	out.OptimalRange = PriceRange{Min: avg * 0.8, Max: avg * 1.2}

	budget := PricePoint{Label: "budget", Price: avg * PenetrationPriceMult}
	mid := PricePoint{Label: "competitive", Price: avg}
	premium := PricePoint{Label: "premium", Price: avg * PremiumPriceMult}
	var variance float64
	for _, p := range prices {
		switch {
		case p < out.OptimalRange.Min:
			budget.Count++
		case p > out.OptimalRange.Max:
			premium.Count++
		default:
			mid.Count++
		}
		variance += (p - avg) * (p - avg)
	}
	out.PricePoints = []PricePoint{budget, mid, premium}
	if cv := math.Sqrt(variance/float64(len(prices))) / avg * 100; cv > 30 {
		out.PriceSensitivity = "high"
	}
	return out
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
