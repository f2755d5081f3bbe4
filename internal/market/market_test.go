package market

import (
	"testing"
	"time"

	"niche-backend/internal/clients/keepa"
)

func series(values ...int) []keepa.Point {
	out := make([]keepa.Point, len(values))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range values {
		out[i] = keepa.Point{Time: start.Add(time.Duration(i) * 24 * time.Hour), Value: v}
	}
	return out
}

func TestScoreBoundaries(t *testing.T) {
	tests := []struct {
		name string
		in   ScoreInput
		want Scores
	}{
		{
			name: "no keepa data",
			in:   ScoreInput{},
			want: Scores{Demand: 0, Competition: 100, Profitability: 0, Opportunity: 40},
		},
		{
			name: "best case",
			in:   ScoreInput{HasKeepa: true, SalesRank: 500, ReviewCount: 1001, Rating: 4.0, PriceCents: 6000},
			want: Scores{Demand: 100, Competition: 70, Profitability: 70, Opportunity: 82},
		},
		{
			name: "rank and review edges",
			in:   ScoreInput{HasKeepa: true, SalesRank: 1000, ReviewCount: 1000, Rating: 4.5, PriceCents: 3000},
			want: Scores{Demand: 85, Competition: 70, Profitability: 60, Opportunity: 74},
		},
		{
			name: "cheap product with heavy fees",
			in:   ScoreInput{HasKeepa: true, SalesRank: 20000, ReviewCount: 50, PriceCents: 900, TotalFee: 5, FBA: true},
			want: Scores{Demand: 50, Competition: 95, Profitability: 10, Opportunity: 60},
		},
		{
			name: "entrenched competition",
			in:   ScoreInput{HasKeepa: true, SalesRank: 9999, ReviewCount: 5001, Rating: 4.8, PriceCents: 2500, TotalFee: 9, FBA: true},
			want: Scores{Demand: 80, Competition: 45, Profitability: 50, Opportunity: 60},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.in); got != tt.want {
				t.Fatalf("Score(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestOpportunityScoreMax(t *testing.T) {
	if got := OpportunityScore(100, 100, 100); got != 100 {
		t.Fatalf("OpportunityScore(100,100,100) = %d", got)
	}
	if got := OpportunityScore(0, 0, 0); got != 0 {
		t.Fatalf("OpportunityScore(0,0,0) = %d", got)
	}
}

func TestMonthlySalesTiers(t *testing.T) {
	tests := map[int]int{0: 10, 999: 1000, 1000: 500, 4999: 500, 5000: 200, 9999: 200, 10000: 50, 49999: 50, 50000: 10}
	for bsr, want := range tests {
		if got := MonthlySales(bsr); got != want {
			t.Fatalf("MonthlySales(%d) = %d, want %d", bsr, got, want)
		}
	}
}

func TestMarketSizeFromBSR(t *testing.T) {
	tests := map[float64]float64{500: 10e6, 1000: 5e6, 7000: 2e6, 49999: 1e6, 50000: 500e3}
	for bsr, want := range tests {
		if got := MarketSizeFromBSR(bsr); got != want {
			t.Fatalf("MarketSizeFromBSR(%v) = %v, want %v", bsr, got, want)
		}
	}
}

func TestTrends(t *testing.T) {
	if got := PriceTrend(series(100, 100, 106, 106)); got != TrendUp {
		t.Fatalf("price +6%% = %s", got)
	}
	if got := PriceTrend(series(100, 100, 95, 95)); got != TrendStable {
		t.Fatalf("price -5%% = %s", got)
	}
	if got := PriceTrend(series(100)); got != TrendStable {
		t.Fatalf("single point = %s", got)
	}
	if got := DemandTrend(series(1000, 1000, 850, 850)); got != TrendUp {
		t.Fatalf("rank improved 15%% = %s", got)
	}
	if got := DemandTrend(series(1000, 1000, 1200, 1200)); got != TrendDown {
		t.Fatalf("rank worsened 20%% = %s", got)
	}
}

func TestSeasonality(t *testing.T) {
	short := make([]int, 89)
	for i := range short {
		short[i] = 1000 * (i%2 + 1)
	}
	if got := Seasonality(series(short...)); got != SeasonalityLow {
		t.Fatalf("short history = %s", got)
	}

	volatile := make([]int, 90)
	flat := make([]int, 90)
	for i := range volatile {
		if i%2 == 0 {
			volatile[i] = 100
		} else {
			volatile[i] = 1000
		}
		flat[i] = 5000
	}
	if got := Seasonality(series(volatile...)); got != SeasonalityHigh {
		t.Fatalf("volatile history = %s (cv %.1f)", got, CoefficientOfVariation(series(volatile...)))
	}
	if got := Seasonality(series(flat...)); got != SeasonalityLow {
		t.Fatalf("flat history = %s", got)
	}
	if idx := SeasonalityIndex([][]keepa.Point{series(flat...), series(1, 2)}); idx != 0 {
		t.Fatalf("flat index = %v", idx)
	}
}

func TestGrowthRateDeterministic(t *testing.T) {
	h := [][]keepa.Point{series(1000, 1000, 800, 800), series(100, 100, 100, 100), nil}
	if got := GrowthRate(h); got < 9.999 || got > 10.001 {
		t.Fatalf("GrowthRate = %v, want 10", got)
	}
	if got := GrowthRate(nil); got != 0 {
		t.Fatalf("GrowthRate(nil) = %v", got)
	}
}

func TestTopBrands(t *testing.T) {
	got := TopBrands([]string{"A", "B", "A", "", "C", "D", "E", "F"})
	if len(got) != 5 {
		t.Fatalf("expected top 5, got %d", len(got))
	}
	if got[0].Name != "A" || got[0].Count != 2 || got[0].MarketShare != 25 {
		t.Fatalf("unexpected leader %+v", got[0])
	}
	small := TopBrands([]string{"A", ""})
	if len(small) != 2 || small[1].Name != "Unknown" {
		t.Fatalf("expected blank brand to be reported as Unknown: %+v", small)
	}
}

func TestLevels(t *testing.T) {
	if EntryDifficulty(99) != "easy" || EntryDifficulty(100) != "medium" || EntryDifficulty(500) != "hard" {
		t.Fatalf("unexpected entry difficulty buckets")
	}
	if CompetitionLevel(80) != "Low" || CompetitionLevel(60) != "Medium" || CompetitionLevel(40) != "High" || CompetitionLevel(39.9) != "Very High" {
		t.Fatalf("unexpected competition levels")
	}
}
