package keepa

import (
	"encoding/json"
	"strings"
	"time"
)

// CSV history indexes in a Keepa product payload.
const (
	csvAmazon      = 0
	csvNew         = 1
	csvUsed        = 2
	csvSalesRank   = 3
	csvReviewCount = 16
	csvRating      = 17
)

// keepaEpochMinutes is the offset between Keepa time (minutes since
// 2011-01-01) and the unix epoch, in minutes.
const keepaEpochMinutes = 21564000

// Point is one sample of a Keepa history series.
type Point struct {
	Time  time.Time `json:"time"`
	Value int       `json:"value"`
}

// FBAFees are expressed in dollars.
type FBAFees struct {
	PickAndPack float64 `json:"pickAndPack"`
	Storage     float64 `json:"storage"`
	Total       float64 `json:"total"`
}

// Stats are dollar-denominated price statistics.
type Stats struct {
	Current                float64 `json:"current"`
	Avg30                  float64 `json:"avg30"`
	Avg90                  float64 `json:"avg90"`
	OutOfStockPercentage30 float64 `json:"outOfStockPercentage30"`
}

// Dimensions are Keepa package dimensions (millimetres / grams).
type Dimensions struct {
	Length int `json:"length"`
	Width  int `json:"width"`
	Height int `json:"height"`
	Weight int `json:"weight"`
}

// Product is the parsed view of one Keepa product.
type Product struct {
	ASIN         string          `json:"asin"`
	Title        string          `json:"title"`
	Brand        string          `json:"brand,omitempty"`
	Category     string          `json:"category,omitempty"`
	Images       []string        `json:"images,omitempty"`
	CurrentPrice int             `json:"currentPrice"`
	AmazonPrice  int             `json:"amazonPrice,omitempty"`
	NewPrice     int             `json:"newPrice,omitempty"`
	UsedPrice    int             `json:"usedPrice,omitempty"`
	SalesRank    int             `json:"salesRank,omitempty"`
	ReviewCount  int             `json:"reviewCount"`
	Rating       float64         `json:"rating"`
	PriceHistory []Point         `json:"priceHistory,omitempty"`
	RankHistory  []Point         `json:"rankHistory,omitempty"`
	FBAFees      *FBAFees        `json:"fbaFees,omitempty"`
	Stats        *Stats          `json:"stats,omitempty"`
	Dimensions   Dimensions      `json:"dimensions"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// PriceDollars returns the current price in dollars.
func (p Product) PriceDollars() float64 {
	return float64(p.CurrentPrice) / 100
}

type rawProduct struct {
	ASIN         string `json:"asin"`
	Title        string `json:"title"`
	Brand        string `json:"brand"`
	CategoryTree []struct {
		Name string `json:"name"`
	} `json:"categoryTree"`
	ImagesCSV     string    `json:"imagesCSV"`
	CSV           [][]int   `json:"csv"`
	PackageLength int       `json:"packageLength"`
	PackageWidth  int       `json:"packageWidth"`
	PackageHeight int       `json:"packageHeight"`
	PackageWeight int       `json:"packageWeight"`
	Stats         *rawStats `json:"stats"`
	FBAFees       *struct {
		PickAndPackFee int `json:"pickAndPackFee"`
		StorageFee     int `json:"storageFee"`
	} `json:"fbaFees"`
}

type rawStats struct {
	Current                []int `json:"current"`
	Avg30                  []int `json:"avg30"`
	Avg90                  []int `json:"avg90"`
	OutOfStockPercentage30 []int `json:"outOfStockPercentage30"`
}

func parseProduct(raw json.RawMessage) (Product, error) {
	var rp rawProduct
	if err := json.Unmarshal(raw, &rp); err != nil {
		return Product{}, err
	}
	p := Product{
		ASIN:  rp.ASIN,
		Title: strings.TrimSpace(rp.Title),
		Brand: rp.Brand,
		Raw:   raw,
		Dimensions: Dimensions{
			Length: rp.PackageLength,
			Width:  rp.PackageWidth,
			Height: rp.PackageHeight,
			Weight: rp.PackageWeight,
		},
	}
	if len(rp.CategoryTree) > 0 {
		names := make([]string, 0, len(rp.CategoryTree))
		for _, c := range rp.CategoryTree {
			names = append(names, c.Name)
		}
		p.Category = strings.Join(names, " > ")
	}
	for _, img := range strings.Split(rp.ImagesCSV, ",") {
		if img = strings.TrimSpace(img); img != "" {
			p.Images = append(p.Images, "https://m.media-amazon.com/images/I/"+img)
		}
	}

	p.AmazonPrice = latest(series(rp.CSV, csvAmazon))
	p.NewPrice = latest(series(rp.CSV, csvNew))
	p.UsedPrice = latest(series(rp.CSV, csvUsed))
	p.SalesRank = latest(series(rp.CSV, csvSalesRank))
	p.CurrentPrice = p.AmazonPrice
	if p.CurrentPrice <= 0 {
		p.CurrentPrice = p.NewPrice
	}
	if p.CurrentPrice < 0 {
		p.CurrentPrice = 0
	}

	priceSeries := series(rp.CSV, csvAmazon)
	if len(history(priceSeries)) == 0 {
		priceSeries = series(rp.CSV, csvNew)
	}
	p.PriceHistory = history(priceSeries)
	p.RankHistory = history(series(rp.CSV, csvSalesRank))

	if rc := latest(series(rp.CSV, csvReviewCount)); rc > 0 {
		p.ReviewCount = rc
	}
	if r := latest(series(rp.CSV, csvRating)); r > 0 {
		p.Rating = float64(r) / 10
	}

	if rp.FBAFees != nil {
		p.FBAFees = &FBAFees{
			PickAndPack: float64(rp.FBAFees.PickAndPackFee) / 100,
			Storage:     float64(rp.FBAFees.StorageFee) / 100,
			Total:       float64(rp.FBAFees.PickAndPackFee+rp.FBAFees.StorageFee) / 100,
		}
	}
	if rp.Stats != nil {
		p.Stats = &Stats{
			Current:                centsAt(rp.Stats.Current, csvAmazon),
			Avg30:                  centsAt(rp.Stats.Avg30, csvAmazon),
			Avg90:                  centsAt(rp.Stats.Avg90, csvAmazon),
			OutOfStockPercentage30: float64(intAt(rp.Stats.OutOfStockPercentage30, csvAmazon)),
		}
	}
	return p, nil
}

func series(csv [][]int, idx int) []int {
	if idx < len(csv) {
		return csv[idx]
	}
	return nil
}

// history decodes [keepaMinute, value, ...] pairs, skipping -1 values.
func history(csv []int) []Point {
	if len(csv) < 2 {
		return nil
	}
	out := make([]Point, 0, len(csv)/2)
	for i := 0; i+1 < len(csv); i += 2 {
		if csv[i+1] == -1 {
			continue
		}
		out = append(out, Point{Time: keepaTime(csv[i]), Value: csv[i+1]})
	}
	return out
}

func latest(csv []int) int {
	for i := len(csv) - 1; i >= 1; i -= 2 {
		if csv[i] != -1 {
			return csv[i]
		}
	}
	return 0
}

func keepaTime(minutes int) time.Time {
	return time.UnixMilli(int64(minutes+keepaEpochMinutes) * 60000).UTC()
}

func intAt(vals []int, idx int) int {
	if idx < len(vals) && vals[idx] > 0 {
		return vals[idx]
	}
	return 0
}

func centsAt(vals []int, idx int) float64 {
	return float64(intAt(vals, idx)) / 100
}
