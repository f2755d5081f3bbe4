package llm

// Per-1K-token prices in USD.
const (
	InputCostPer1K  = 0.01
	OutputCostPer1K = 0.03
)

// EstimateTokens approximates the token count of text at four characters per
// token.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// EstimateCost prices a completion. When the provider reported no usage the
// output tokens are estimated from resp.Text.
func EstimateCost(resp Response) float64 {
	u := resp.Usage
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return float64(EstimateTokens(resp.Text)) / 1000 * OutputCostPer1K
	}
	return float64(u.InputTokens)/1000*InputCostPer1K + float64(u.OutputTokens)/1000*OutputCostPer1K
}
