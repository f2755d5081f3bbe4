package niches

import (
	"regexp"
	"strings"
	"time"
)

// Backfill produces placeholder data when an upstream source fails. Rows it
// returns carry SourceFallback so consumers can tell them apart.
type Backfill interface {
	// Keywords returns exactly one keyword per ASIN in batch.
	Keywords(batch []string, products map[string]Product) []Keyword
}

// FallbackBid is the suggested bid, in dollars, put on fallback keywords.
const FallbackBid = 1.00

// TitleBackfill derives a keyword from each product's title, falling back
// to brand and then the ASIN itself.
type TitleBackfill struct {
	Now func() time.Time
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

func (b TitleBackfill) Keywords(batch []string, products map[string]Product) []Keyword {
	now := time.Now().UTC()
	if b.Now != nil {
		now = b.Now()
	}
	out := make([]Keyword, 0, len(batch))
	for _, asin := range batch {
		p := products[asin]
		out = append(out, Keyword{
			ASIN:         asin,
			Keyword:      fallbackKeyword(p, asin),
			MatchType:    "PHRASE",
			SuggestedBid: FallbackBid,
			Source:       SourceFallback,
			CreatedAt:    now,
		})
	}
	return out
}

func fallbackKeyword(p Product, asin string) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(nonWord.ReplaceAllString(p.Title, " "))) {
		if len(w) > 2 {
			words = append(words, w)
		}
		if len(words) == 2 {
			break
		}
	}
	if len(words) > 0 {
		return strings.Join(words, " ")
	}
	if brand := strings.TrimSpace(p.Brand); brand != "" {
		return strings.ToLower(brand)
	}
	return strings.ToLower(asin)
}
