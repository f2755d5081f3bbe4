// Package market holds the pure heuristics shared by the niche processor and
// the analysis orchestrator: BSR-based sales estimates, history trends,
// seasonality and brand concentration.
package market

import (
	"math"
	"sort"

	"niche-backend/internal/clients/keepa"
)

// Trend directions.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// Seasonality levels.
const (
	SeasonalityLow    = "low"
	SeasonalityMedium = "medium"
	SeasonalityHigh   = "high"
)

// DefaultBSR is assumed for products without a sales rank.
const DefaultBSR = 100000

// MinSeasonalityPoints is the shortest rank history (about three months of
// daily samples) that can indicate seasonality.
const MinSeasonalityPoints = 90

// MonthlySales estimates unit sales per month from a best-seller rank.
func MonthlySales(bsr int) int {
	if bsr <= 0 {
		bsr = DefaultBSR
	}
	switch {
	case bsr < 1000:
		return 1000
	case bsr < 5000:
		return 500
	case bsr < 10000:
		return 200
	case bsr < 50000:
		return 50
	default:
		return 10
	}
}

// MonthlyRevenue is MonthlySales(bsr) × price.
func MonthlyRevenue(bsr int, price float64) float64 {
	return float64(MonthlySales(bsr)) * price
}

// MarketSizeFromBSR buckets the average BSR of a niche into an annual market
// size in USD.
func MarketSizeFromBSR(avgBSR float64) float64 {
	switch {
	case avgBSR < 1000:
		return 10_000_000
	case avgBSR < 5000:
		return 5_000_000
	case avgBSR < 10000:
		return 2_000_000
	case avgBSR < 50000:
		return 1_000_000
	default:
		return 500_000
	}
}

// halves returns the mean of the older and the more recent half of points.
func halves(points []keepa.Point) (older, recent float64, ok bool) {
	if len(points) < 2 {
		return 0, 0, false
	}
	mid := len(points) / 2
	var oSum, rSum float64
	for _, p := range points[:mid] {
		oSum += float64(p.Value)
	}
	for _, p := range points[mid:] {
		rSum += float64(p.Value)
	}
	older = oSum / float64(mid)
	recent = rSum / float64(len(points)-mid)
	return older, recent, older != 0
}

// PriceTrend compares recent and older average prices with a ±5% band.
func PriceTrend(history []keepa.Point) string {
	older, recent, ok := halves(history)
	if !ok {
		return TrendStable
	}
	change := (recent - older) / older * 100
	switch {
	case change > 5:
		return TrendUp
	case change < -5:
		return TrendDown
	default:
		return TrendStable
	}
}

// DemandTrend reads a falling sales rank as rising demand, with a ±10% band.
func DemandTrend(rankHistory []keepa.Point) string {
	change, ok := rankImprovement(rankHistory)
	if !ok {
		return TrendStable
	}
	switch {
	case change > 10:
		return TrendUp
	case change < -10:
		return TrendDown
	default:
		return TrendStable
	}
}

// rankImprovement is the percentage drop of the average rank from the older
// half of the history to the recent half.
func rankImprovement(rankHistory []keepa.Point) (float64, bool) {
	older, recent, ok := halves(rankHistory)
	if !ok {
		return 0, false
	}
	return (older - recent) / older * 100, true
}

// CoefficientOfVariation returns stddev/mean×100 of the history values.
func CoefficientOfVariation(history []keepa.Point) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, p := range history {
		sum += float64(p.Value)
	}
	mean := sum / float64(len(history))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, p := range history {
		d := float64(p.Value) - mean
		variance += d * d
	}
	variance /= float64(len(history))
	return math.Sqrt(variance) / mean * 100
}

// Seasonality classifies rank volatility. Fewer than MinSeasonalityPoints
// samples is always low.
func Seasonality(rankHistory []keepa.Point) string {
	if len(rankHistory) < MinSeasonalityPoints {
		return SeasonalityLow
	}
	return SeasonalityLevel(CoefficientOfVariation(rankHistory))
}

// SeasonalityLevel buckets a rank coefficient of variation.
func SeasonalityLevel(cv float64) string {
	switch {
	case cv > 50:
		return SeasonalityHigh
	case cv > 25:
		return SeasonalityMedium
	default:
		return SeasonalityLow
	}
}

// SeasonalityIndex averages the rank coefficient of variation over every
// history long enough to judge, capped at 100.
func SeasonalityIndex(rankHistories [][]keepa.Point) float64 {
	var sum float64
	var n int
	for _, h := range rankHistories {
		if len(h) < MinSeasonalityPoints {
			continue
		}
		sum += CoefficientOfVariation(h)
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Min(100, sum/float64(n))
}

// GrowthRate averages the rank improvement across histories, clamped to
// [-50, 100] percent. Products without history are ignored.
func GrowthRate(rankHistories [][]keepa.Point) float64 {
	var sum float64
	var n int
	for _, h := range rankHistories {
		if change, ok := rankImprovement(h); ok {
			sum += change
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Max(-50, math.Min(100, sum/float64(n)))
}

// BrandShare is one brand's share of a product set, in percent.
type BrandShare struct {
	Name        string  `json:"name"`
	Count       int     `json:"count"`
	MarketShare float64 `json:"marketShare"`
}

// TopBrands returns the five most frequent brands. A blank brand counts as
// "Unknown".
func TopBrands(brands []string) []BrandShare {
	if len(brands) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, b := range brands {
		if b == "" {
			b = "Unknown"
		}
		counts[b]++
	}
	out := make([]BrandShare, 0, len(counts))
	for name, n := range counts {
		out = append(out, BrandShare{Name: name, Count: n, MarketShare: float64(n) / float64(len(brands)) * 100})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// EntryDifficulty buckets the average review count of a niche.
func EntryDifficulty(avgReviews float64) string {
	switch {
	case avgReviews < 100:
		return "easy"
	case avgReviews < 500:
		return "medium"
	default:
		return "hard"
	}
}

// CompetitionLevel maps an average competition score (higher means less
// competition) to a label.
func CompetitionLevel(avgCompetitionScore float64) string {
	switch {
	case avgCompetitionScore >= 80:
		return "Low"
	case avgCompetitionScore >= 60:
		return "Medium"
	case avgCompetitionScore >= 40:
		return "High"
	default:
		return "Very High"
	}
}
