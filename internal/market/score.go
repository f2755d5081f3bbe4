package market

import "math"

// ScoreInput is the subset of product data the scores read.
type ScoreInput struct {
	HasKeepa    bool
	SalesRank   int
	ReviewCount int
	Rating      float64
	// PriceCents is the current price in cents; 0 means unknown.
	PriceCents int
	// TotalFee is the FBA fee total in dollars.
	TotalFee float64
	// FBA is true when a competitor scrape reported fulfilment by Amazon.
	FBA bool
}

// Scores are 0..100 per product.
type Scores struct {
	Demand        int `json:"demandScore"`
	Competition   int `json:"competitionScore"`
	Profitability int `json:"profitability"`
	Opportunity   int `json:"opportunityScore"`
}

// DemandScore rewards a low sales rank and a large review base.
func DemandScore(in ScoreInput) int {
	if !in.HasKeepa {
		return 0
	}
	score := 50
	if in.SalesRank > 0 {
		switch {
		case in.SalesRank < 1000:
			score += 30
		case in.SalesRank < 5000:
			score += 20
		case in.SalesRank < 10000:
			score += 10
		}
	}
	switch {
	case in.ReviewCount > 1000:
		score += 20
	case in.ReviewCount > 500:
		score += 15
	case in.ReviewCount > 100:
		score += 10
	}
	return min(100, score)
}

// CompetitionScore starts at 100 (no competition) and subtracts for
// entrenched listings.
func CompetitionScore(in ScoreInput) int {
	score := 100
	switch {
	case in.ReviewCount > 5000:
		score -= 40
	case in.ReviewCount > 1000:
		score -= 30
	case in.ReviewCount > 500:
		score -= 20
	case in.ReviewCount > 100:
		score -= 10
	}
	if in.Rating >= 4.5 && in.ReviewCount > 100 {
		score -= 10
	}
	if in.FBA {
		score -= 5
	}
	return max(0, score)
}

// ProfitabilityScore weighs price level against FBA fee share.
func ProfitabilityScore(in ScoreInput) int {
	if in.PriceCents <= 0 {
		return 0
	}
	price := float64(in.PriceCents) / 100
	score := 50
	switch {
	case price > 50:
		score += 20
	case price > 30:
		score += 15
	case price > 20:
		score += 10
	case price < 10:
		score -= 20
	}
	if in.TotalFee > 0 {
		feePct := in.TotalFee / price * 100
		switch {
		case feePct > 50:
			score -= 20
		case feePct > 35:
			score -= 10
		}
	}
	return min(100, max(0, score))
}

// OpportunityScore weights demand 40%, competition 40%, profitability 20%.
func OpportunityScore(demand, competition, profitability int) int {
	return int(math.Round(float64(demand)*0.4 + float64(competition)*0.4 + float64(profitability)*0.2))
}

// Score computes all four scores for one product.
func Score(in ScoreInput) Scores {
	s := Scores{
		Demand:        DemandScore(in),
		Competition:   CompetitionScore(in),
		Profitability: ProfitabilityScore(in),
	}
	s.Opportunity = OpportunityScore(s.Demand, s.Competition, s.Profitability)
	return s
}
