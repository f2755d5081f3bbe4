package niches

import (
	"fmt"
	"math"
	"strings"
	"testing"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Products: []Product{
			{ASIN: "B000000001", Title: "Garlic Press", Brand: "Acme", Price: 10, Rating: 4.0, ReviewCount: 100, BSR: 1000, MonthlyRevenue: 1000},
			{ASIN: "B000000002", Title: "Garlic Crusher", Brand: "Acme", Price: 20, Rating: 4.5, ReviewCount: 300, BSR: 3000, MonthlyRevenue: 2000},
			{ASIN: "B000000003", Title: "Garlic Mincer", Brand: "Zest", Price: 30, Rating: 5.0, ReviewCount: 500, BSR: 5000, MonthlyRevenue: 3000},
		},
		Keywords: []Keyword{
			{ASIN: "B000000001", Keyword: "Garlic Press", EstimatedClicks: 700, SuggestedBid: 1.0, Source: SourceAPI},
			{ASIN: "B000000002", Keyword: "garlic press ", EstimatedClicks: 100, SuggestedBid: 2.0, Source: SourceAPI},
			{ASIN: "B000000003", Keyword: "mincer", EstimatedClicks: 10, Source: SourceFallback},
		},
	}
}

func TestAggregateAveragesAndKeywords(t *testing.T) {
	a, scores := Aggregate(sampleSnapshot())

	if a.AvgPrice != 20 {
		t.Fatalf("expected avg price 20, got %v", a.AvgPrice)
	}
	if a.AvgBSR != 3000 {
		t.Fatalf("expected avg bsr 3000, got %v", a.AvgBSR)
	}
	if a.TotalReviews != 900 {
		t.Fatalf("expected 900 reviews, got %d", a.TotalReviews)
	}
	if a.TotalMonthlyRevenue != 6000 || a.MarketSize != 72000 {
		t.Fatalf("unexpected revenue %v / market size %v", a.TotalMonthlyRevenue, a.MarketSize)
	}
	if a.TotalKeywords != 2 {
		t.Fatalf("expected 2 unique keywords, got %d (%v)", a.TotalKeywords, a.NicheKeywords)
	}
	if a.NicheKeywords[0] != "garlic press" {
		t.Fatalf("expected normalized keyword, got %q", a.NicheKeywords[0])
	}
	if len(scores) != 3 {
		t.Fatalf("expected scores for every product, got %d", len(scores))
	}
	var sum int
	for _, sc := range scores {
		sum += sc.Opportunity
	}
	if want := int(math.Round(float64(sum) / 3)); a.OpportunityScore != want {
		t.Fatalf("expected opportunity %d, got %d", want, a.OpportunityScore)
	}
	if a.CompetitionLevel == "" {
		t.Fatalf("expected a competition level")
	}
}

func TestAggregateEmptySnapshot(t *testing.T) {
	a, scores := Aggregate(Snapshot{})
	if a.OpportunityScore != 0 || a.AvgPrice != 0 || len(scores) != 0 {
		t.Fatalf("expected zero analytics, got %+v", a)
	}
}

func TestBuildFinancialBreakEven(t *testing.T) {
	snap := sampleSnapshot()
	a, _ := Aggregate(snap)
	fin := BuildFinancial(snap, a, fixedNow)

	// inventory 20*500 = 10000; (10000+5000)/(20*0.35) = 2142.86
	if fin.BreakEven.Units != 2143 {
		t.Fatalf("expected 2143 break-even units, got %d", fin.BreakEven.Units)
	}
	if fin.Investment.Total != 10000+600+FixedLaunchCost {
		t.Fatalf("unexpected investment total %v", fin.Investment.Total)
	}
	if fin.PricingStrategy.Premium != 20*PremiumPriceMult {
		t.Fatalf("unexpected premium price %v", fin.PricingStrategy.Premium)
	}

	zero := BuildFinancial(Snapshot{}, Analytics{}, fixedNow)
	if zero.BreakEven.Units != 0 {
		t.Fatalf("expected no break-even units without a price, got %d", zero.BreakEven.Units)
	}
}

func TestBuildKeywordAnalysisCountsFallbacks(t *testing.T) {
	ka := BuildKeywordAnalysis(sampleSnapshot(), fixedNow)
	if ka.FallbackKeywords != 1 {
		t.Fatalf("expected 1 fallback keyword, got %d", ka.FallbackKeywords)
	}
	if len(ka.TopKeywords) == 0 || ka.TopKeywords[0].Keyword != "garlic press" {
		t.Fatalf("expected garlic press on top, got %+v", ka.TopKeywords)
	}
	if ka.TopKeywords[0].TotalClicks != 800 {
		t.Fatalf("expected clicks merged across rows, got %d", ka.TopKeywords[0].TotalClicks)
	}
}

func TestBuildListingOptimizationBackendLimit(t *testing.T) {
	var stats []KeywordStat
	for i := 0; i < 40; i++ {
		stats = append(stats, KeywordStat{Keyword: fmt.Sprintf("keyword number %02d", i)})
	}
	lo := BuildListingOptimization(Snapshot{}, KeywordAnalysis{TopKeywords: stats}, fixedNow)

	if len(lo.TitleKeywords) != 5 {
		t.Fatalf("expected 5 title keywords, got %d", len(lo.TitleKeywords))
	}
	if len(lo.BackendKeywords) > BackendKeywordsCharLimit {
		t.Fatalf("backend keywords exceed limit: %d", len(lo.BackendKeywords))
	}
	if strings.Contains(lo.BackendKeywords, lo.TitleKeywords[0]) {
		t.Fatalf("title keyword repeated in backend terms")
	}
}

func TestBuildPricingBands(t *testing.T) {
	pa := BuildPricing(sampleSnapshot(), fixedNow)
	if pa.AveragePrice != 20 || pa.MedianPrice != 20 {
		t.Fatalf("unexpected average/median %v/%v", pa.AveragePrice, pa.MedianPrice)
	}
	counts := map[string]int{}
	for _, pp := range pa.PricePoints {
		counts[pp.Label] = pp.Count
	}
	if counts["budget"] != 1 || counts["competitive"] != 1 || counts["premium"] != 1 {
		t.Fatalf("unexpected band counts %v", counts)
	}
	// Prices 10/20/30 have a CV of about 41%.
	if pa.PriceSensitivity != "high" {
		t.Fatalf("expected high sensitivity, got %q", pa.PriceSensitivity)
	}
}
