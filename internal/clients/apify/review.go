package apify

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Review is one scraped Amazon review.
type Review struct {
	ReviewID     string    `json:"reviewId"`
	ASIN         string    `json:"asin"`
	ReviewerName string    `json:"reviewerName"`
	Rating       int       `json:"rating"`
	Title        string    `json:"title"`
	Text         string    `json:"text"`
	Date         time.Time `json:"date"`
	Verified     bool      `json:"verified"`
	HelpfulVotes int       `json:"helpfulVotes"`
	Sentiment    string    `json:"sentiment"`
}

// Competitor is listing data scraped for one ASIN.
type Competitor struct {
	ASIN          string   `json:"asin"`
	Title         string   `json:"title"`
	Brand         string   `json:"brand"`
	Price         float64  `json:"price"`
	Rating        float64  `json:"rating"`
	ReviewCount   int      `json:"reviewCount"`
	BSR           int      `json:"bsr"`
	Category      string   `json:"category"`
	Features      []string `json:"features"`
	FBAStatus     bool     `json:"fbaStatus"`
	PrimeEligible bool     `json:"primeEligible"`
}

var asinInURL = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)

func parseReview(raw json.RawMessage, asin string) (Review, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Review{}, false
	}
	r := Review{
		ReviewID:     str(m, "id", "reviewId"),
		ASIN:         asin,
		ReviewerName: str(m, "reviewerName"),
		Rating:       int(num(m, "rating", "ratingScore")),
		Title:        str(m, "title", "reviewTitle"),
		Text:         str(m, "text", "reviewText", "reviewDescription"),
		Verified:     boolean(m, "verified", "verifiedPurchase", "isVerified"),
		HelpfulVotes: int(num(m, "helpfulVotes")),
	}
	if r.ReviewID == "" {
		return Review{}, false
	}
	if r.ReviewerName == "" {
		r.ReviewerName = "Anonymous"
	}
	if d := str(m, "date", "reviewDate"); d != "" {
		r.Date = parseDate(d)
	}
	r.Sentiment = Sentiment(r.Text)
	return r, true
}

func parseCompetitor(raw json.RawMessage) (Competitor, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Competitor{}, false
	}
	c := Competitor{
		ASIN:          str(m, "asin"),
		Title:         str(m, "title", "name"),
		Brand:         str(m, "brand", "manufacturer"),
		Price:         num(m, "price"),
		Rating:        num(m, "rating", "stars"),
		ReviewCount:   int(num(m, "reviewCount", "reviewsCount")),
		BSR:           int(num(m, "bestSellersRank", "bsr")),
		Category:      str(m, "category"),
		FBAStatus:     boolean(m, "fba", "fulfilledByAmazon"),
		PrimeEligible: boolean(m, "prime", "isPrime", "primeEligible"),
	}
	if c.ASIN == "" {
		if match := asinInURL.FindStringSubmatch(str(m, "url")); match != nil {
			c.ASIN = match[1]
		}
	}
	if c.ASIN == "" {
		return Competitor{}, false
	}
	for _, key := range []string{"features", "bulletPoints"} {
		if list, ok := m[key].([]any); ok {
			for _, f := range list {
				if s, ok := f.(string); ok && s != "" {
					c.Features = append(c.Features, s)
				}
			}
			break
		}
	}
	return c, true
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

var leadingNumber = regexp.MustCompile(`[0-9][0-9,]*(\.[0-9]+)?`)

// num reads a number that scrapers emit either as JSON numbers or as text
// such as "$24.99" or "4.5 out of 5 stars".
func num(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case string:
			match := leadingNumber.FindString(v)
			if match == "" {
				continue
			}
			f, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
			if err == nil {
				return f
			}
		case map[string]any:
			if f := num(v, "value", "amount"); f != 0 {
				return f
			}
		}
	}
	return 0
}

func boolean(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if b, err := strconv.ParseBool(v); err == nil && b {
				return true
			}
		}
	}
	return false
}

func parseDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "January 2, 2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var (
	positiveWords = []string{"great", "excellent", "amazing", "fantastic", "love", "perfect", "wonderful"}
	negativeWords = []string{"terrible", "awful", "horrible", "hate", "worst", "disappointing", "poor"}
)

// Sentiment labels text as positive, negative, mixed or neutral by keyword
// counts.
func Sentiment(text string) string {
	lower := strings.ToLower(text)
	var pos, neg int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return "positive"
	case neg > pos:
		return "negative"
	case pos > 0:
		return "mixed"
	default:
		return "neutral"
	}
}

// Phrase is a recurring two-word phrase across reviews.
type Phrase struct {
	Phrase string `json:"phrase"`
	Count  int    `json:"count"`
}

// MonthTrend aggregates reviews written in one calendar month.
type MonthTrend struct {
	Month         string  `json:"month"`
	Count         int     `json:"count"`
	AverageRating float64 `json:"averageRating"`
}

// ReviewAnalysis summarises a set of reviews.
type ReviewAnalysis struct {
	ASIN               string         `json:"asin"`
	TotalReviews       int            `json:"totalReviews"`
	AverageRating      float64        `json:"averageRating"`
	RatingDistribution map[int]int    `json:"ratingDistribution"`
	Sentiment          map[string]int `json:"sentiment"`
	VerifiedPercentage float64        `json:"verifiedPercentage"`
	CommonPhrases      []Phrase       `json:"commonPhrases"`
	Trends             []MonthTrend   `json:"trends"`
}

const maxPhrases = 20

// AnalyzeReviews computes rating, sentiment, phrase and monthly statistics.
func AnalyzeReviews(asin string, reviews []Review) ReviewAnalysis {
	out := ReviewAnalysis{
		ASIN:               asin,
		TotalReviews:       len(reviews),
		RatingDistribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		Sentiment:          map[string]int{"positive": 0, "negative": 0, "neutral": 0, "mixed": 0},
	}
	if len(reviews) == 0 {
		return out
	}

	var ratingSum, verified int
	phrases := map[string]int{}
	type monthAcc struct{ count, ratingSum int }
	months := map[string]*monthAcc{}
	for _, r := range reviews {
		ratingSum += r.Rating
		if r.Rating >= 1 && r.Rating <= 5 {
			out.RatingDistribution[r.Rating]++
		}
		if r.Verified {
			verified++
		}
		label := r.Sentiment
		if label == "" {
			label = Sentiment(r.Text)
		}
		out.Sentiment[label]++
		for _, p := range extractPhrases(r.Text) {
			phrases[p]++
		}
		if !r.Date.IsZero() {
			key := r.Date.UTC().Format("2006-01")
			acc := months[key]
			if acc == nil {
				acc = &monthAcc{}
				months[key] = acc
			}
			acc.count++
			acc.ratingSum += r.Rating
		}
	}
	out.AverageRating = float64(ratingSum) / float64(len(reviews))
	out.VerifiedPercentage = float64(verified) / float64(len(reviews)) * 100

	for p, n := range phrases {
		out.CommonPhrases = append(out.CommonPhrases, Phrase{Phrase: p, Count: n})
	}
	sort.Slice(out.CommonPhrases, func(i, j int) bool {
		a, b := out.CommonPhrases[i], out.CommonPhrases[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Phrase < b.Phrase
	})
	if len(out.CommonPhrases) > maxPhrases {
		out.CommonPhrases = out.CommonPhrases[:maxPhrases]
	}

	for month, acc := range months {
		out.Trends = append(out.Trends, MonthTrend{
			Month:         month,
			Count:         acc.count,
			AverageRating: float64(acc.ratingSum) / float64(acc.count),
		})
	}
	sort.Slice(out.Trends, func(i, j int) bool { return out.Trends[i].Month < out.Trends[j].Month })
	return out
}

// extractPhrases returns adjacent word pairs where both words exceed three
// characters.
func extractPhrases(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	var out []string
	for i := 0; i+1 < len(words); i++ {
		a := strings.Trim(words[i], ".,!?;:\"'()")
		b := strings.Trim(words[i+1], ".,!?;:\"'()")
		if len(a) > 3 && len(b) > 3 {
			out = append(out, a+" "+b)
		}
	}
	return out
}
