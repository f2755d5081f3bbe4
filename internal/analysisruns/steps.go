package analysisruns

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"niche-backend/internal/clients/apify"
	"niche-backend/internal/clients/keepa"
	"niche-backend/internal/llm"
	"niche-backend/internal/market"
	"niche-backend/internal/niches"
	"niche-backend/internal/shared/metrics"
	"niche-backend/internal/shared/telemetry"
)

const defaultAIConfidence = 0.8

// runStep dispatches one step by name. A step that fails returns a nil
// output; costs are only counted for completed steps.
func (o *Orchestrator) runStep(ctx context.Context, name string, run Run, st *runState) (stepOutput, Costs, error) {
	switch name {
	case StepFetchNicheProducts:
		return o.fetchNicheProducts(ctx, run)
	case StepFetchKeepaData:
		return o.fetchKeepaData(ctx, st)
	case StepFetchCompetitorData:
		return o.fetchCompetitorData(ctx, st)
	case StepFetchReviewData:
		return o.fetchReviewData(ctx, st)
	case StepAnalyzeMarket:
		return analyzeMarket(st), Costs{}, nil
	case StepGenerateAIInsights:
		return o.generateAIInsights(ctx, run, st)
	case StepCalculateScores:
		return calculateScores(st), Costs{}, nil
	}
	return nil, Costs{}, newError(CodeUnknownStep, "Unknown analysis step: "+name)
}

func (o *Orchestrator) fetchNicheProducts(ctx context.Context, run Run) (stepOutput, Costs, error) {
	n, err := o.Niches.Get(ctx, run.NicheID)
	if err != nil {
		return nil, Costs{}, fmt.Errorf("load niche: %w", err)
	}
	asins := n.ASINs
	if len(asins) == 0 {
		return nil, Costs{}, niches.ErrNoASINs
	}
	if limit := run.Config.MaxProducts(); len(asins) > limit {
		asins = asins[:limit]
	}

	titles := map[string]string{}
	stored, err := o.Niches.ProductsByASINs(ctx, asins)
	if err != nil {
		telemetry.Warn("run.step.titles_failed", map[string]any{"run_id": run.ID, "error": err.Error()})
	}
	for _, p := range stored {
		titles[p.ASIN] = p.Title
	}

	out := nicheProductsOutput{
		Niche:    NicheInfo{ID: n.ID, Name: n.Name, Category: n.Category},
		Products: make([]ProductRef, 0, len(asins)),
	}
	for _, asin := range asins {
		out.Products = append(out.Products, ProductRef{ASIN: asin, Title: titles[asin]})
	}
	return out, Costs{}, nil
}

func (o *Orchestrator) fetchKeepaData(ctx context.Context, st *runState) (stepOutput, Costs, error) {
	if o.Products == nil {
		return nil, Costs{}, keepa.ErrNotConfigured
	}
	if len(st.products) == 0 {
		return nil, Costs{}, niches.ErrNoASINs
	}
	asins := make([]string, len(st.products))
	for i, p := range st.products {
		asins[i] = p.ASIN
	}

	var mu sync.Mutex
	out := keepaOutput{Products: map[string]keepa.Product{}}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.fanOut())
	for _, batch := range keepa.Chunk(asins, keepa.MaxBatch) {
		g.Go(func() error {
			products, err := o.Products.GetProducts(gctx, batch, keepa.DefaultOptions())
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, p := range products {
				p.Raw = nil
				out.Products[p.ASIN] = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Costs{}, fmt.Errorf("fetch keepa products: %w", err)
	}
	return out, Costs{Keepa: keepa.Cost(len(asins))}, nil
}

func (o *Orchestrator) fanOut() int {
	if o.Tunables.FanOut > 0 {
		return o.Tunables.FanOut
	}
	return 1
}

// fetchCompetitorData never fails the run: a scrape error yields an empty
// result at no cost.
func (o *Orchestrator) fetchCompetitorData(ctx context.Context, st *runState) (stepOutput, Costs, error) {
	if o.Competitors == nil || !o.Competitors.Configured() {
		return nil, Costs{}, errSkipped
	}
	asins := make([]string, len(st.products))
	for i, p := range st.products {
		asins[i] = p.ASIN
	}
	comps, err := o.Competitors.GetCompetitors(ctx, asins)
	if err != nil {
		telemetry.Warn("run.step.competitors_failed", map[string]any{"error": err.Error()})
		return competitorOutput{Competitors: map[string]apify.Competitor{}}, Costs{}, nil
	}
	if comps == nil {
		comps = map[string]apify.Competitor{}
	}
	return competitorOutput{Competitors: comps}, Costs{Apify: apify.Cost(len(comps))}, nil
}

// fetchReviewData scrapes each ASIN concurrently. An ASIN whose scrape fails
// gets an empty analysis.
func (o *Orchestrator) fetchReviewData(ctx context.Context, st *runState) (stepOutput, Costs, error) {
	if o.Reviews == nil || !o.Reviews.Configured() {
		return nil, Costs{}, errSkipped
	}
	opts := apify.ReviewOptions{MaxReviews: o.Tunables.ReviewsPerASIN, SortBy: "helpful"}

	var mu sync.Mutex
	out := reviewOutput{Reviews: map[string]apify.ReviewAnalysis{}}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.fanOut())
	for _, p := range st.products {
		asin := p.ASIN
		g.Go(func() error {
			reviews, err := o.Reviews.GetReviews(gctx, asin, opts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				telemetry.Warn("run.step.reviews_failed", map[string]any{"asin": asin, "error": err.Error()})
				reviews = nil
			}
			analysis := apify.AnalyzeReviews(asin, reviews)
			mu.Lock()
			out.Reviews[asin] = analysis
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Costs{}, fmt.Errorf("fetch reviews: %w", err)
	}
	return out, Costs{Apify: float64(len(st.products)) * apify.CostPerRun * 0.5}, nil
}

func analyzeMarket(st *runState) stepOutput {
	if len(st.keepa) == 0 {
		return DefaultMarketInsights()
	}
	var (
		priceSum, bsrSum, reviewSum float64
		priced, ranked              int
		brands                      []string
		histories                   [][]keepa.Point
	)
	for _, ref := range st.products {
		p, ok := st.keepa[ref.ASIN]
		if !ok {
			continue
		}
		if price := p.PriceDollars(); price > 0 {
			priceSum += price
			priced++
		}
		if p.SalesRank > 0 {
			bsrSum += float64(p.SalesRank)
			ranked++
		}
		reviewSum += float64(p.ReviewCount)
		brands = append(brands, p.Brand)
		histories = append(histories, p.RankHistory)
	}

	mi := DefaultMarketInsights()
	if priced > 0 {
		mi.AvgSellingPrice = priceSum / float64(priced)
	}
	avgBSR := float64(market.DefaultBSR)
	if ranked > 0 {
		avgBSR = bsrSum / float64(ranked)
	}
	mi.AvgBSR = int(avgBSR)
	mi.TotalMarketSize = market.MarketSizeFromBSR(avgBSR)
	mi.GrowthRate = market.GrowthRate(histories)
	mi.SeasonalityIndex = market.SeasonalityIndex(histories)
	if top := market.TopBrands(brands); top != nil {
		mi.TopBrands = top
	}
	if len(brands) > 0 {
		mi.EntryDifficulty = market.EntryDifficulty(reviewSum / float64(len(brands)))
	}
	return mi
}

type aiProduct struct {
	ASIN  string        `json:"asin"`
	Title string        `json:"title"`
	Brand string        `json:"brand,omitempty"`
	Keepa *KeepaMetrics `json:"keepa,omitempty"`
}

type aiPayload struct {
	Niche          NicheInfo      `json:"niche"`
	Products       []aiProduct    `json:"products"`
	MarketInsights MarketInsights `json:"marketInsights"`
}

type aiReply struct {
	Summary       string   `json:"summary"`
	Opportunities []string `json:"opportunities"`
	Risks         []string `json:"risks"`
	ActionItems   []string `json:"actionItems"`
	Strategies    []string `json:"strategies"`
	Confidence    *float64 `json:"confidence"`
}

// generateAIInsights asks the model for recommendations. Any model failure
// degrades to the unavailable summary instead of failing the step.
func (o *Orchestrator) generateAIInsights(ctx context.Context, run Run, st *runState) (stepOutput, Costs, error) {
	unavailable := emptyRecommendations(MsgAIUnavailable)
	if o.LLM == nil {
		return unavailable, Costs{}, nil
	}

	payload := aiPayload{Niche: st.niche, MarketInsights: DefaultMarketInsights()}
	if st.market != nil {
		payload.MarketInsights = *st.market
	}
	for _, ref := range topProducts(st, o.Tunables.InsightProducts) {
		p := aiProduct{ASIN: ref.ASIN, Title: ref.Title}
		if kp, ok := st.keepa[ref.ASIN]; ok {
			p.Brand = kp.Brand
			p.Keepa = keepaMetrics(kp)
			if p.Title == "" {
				p.Title = kp.Title
			}
		}
		payload.Products = append(payload.Products, p)
	}

	req, err := llm.Prompt(llm.KindNiche, payload)
	if err != nil {
		return o.aiUnavailable(run, unavailable, err)
	}
	resp, err := o.LLM.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Costs{}, ctx.Err()
		}
		return o.aiUnavailable(run, unavailable, err)
	}
	metrics.AddLLMTokens(ctx, resp.Model, int64(resp.Usage.InputTokens), int64(resp.Usage.OutputTokens))
	var reply aiReply
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Text)), &reply); err != nil {
		return o.aiUnavailable(run, unavailable, fmt.Errorf("parse model reply: %w", err))
	}

	rec := emptyRecommendations(reply.Summary)
	rec.ConfidenceScore = defaultAIConfidence
	if reply.Confidence != nil {
		rec.ConfidenceScore = *reply.Confidence
	}
	for _, pair := range []struct {
		dst *[]string
		src []string
	}{
		{&rec.Opportunities, reply.Opportunities},
		{&rec.Risks, reply.Risks},
		{&rec.ActionItems, reply.ActionItems},
		{&rec.SuggestedStrategies, reply.Strategies},
	} {
		if pair.src != nil {
			*pair.dst = pair.src
		}
	}
	return rec, Costs{AI: llm.EstimateCost(resp)}, nil
}

func (o *Orchestrator) aiUnavailable(run Run, rec AIRecommendations, err error) (stepOutput, Costs, error) {
	telemetry.Warn("run.step.ai_unavailable", map[string]any{"run_id": run.ID, "error": err.Error()})
	return rec, Costs{}, nil
}

// topProducts returns up to n products ordered by estimated monthly revenue.
func topProducts(st *runState, n int) []ProductRef {
	refs := append([]ProductRef(nil), st.products...)
	revenue := func(asin string) float64 {
		p, ok := st.keepa[asin]
		if !ok {
			return -1
		}
		return market.MonthlyRevenue(p.SalesRank, p.PriceDollars())
	}
	sort.SliceStable(refs, func(i, j int) bool { return revenue(refs[i].ASIN) > revenue(refs[j].ASIN) })
	if n > 0 && len(refs) > n {
		refs = refs[:n]
	}
	return refs
}

func calculateScores(st *runState) stepOutput {
	out := scoresOutput{Products: make([]AnalyzedProduct, 0, len(st.products))}
	for _, ref := range st.products {
		ap := AnalyzedProduct{ASIN: ref.ASIN, Title: ref.Title}
		in := market.ScoreInput{}
		kp, ok := st.keepa[ref.ASIN]
		if ok {
			if ap.Title == "" {
				ap.Title = kp.Title
			}
			ap.Brand = kp.Brand
			ap.Keepa = keepaMetrics(kp)
			in = market.ScoreInput{
				HasKeepa:    true,
				SalesRank:   kp.SalesRank,
				ReviewCount: kp.ReviewCount,
				Rating:      kp.Rating,
				PriceCents:  kp.CurrentPrice,
			}
			if kp.FBAFees != nil {
				in.TotalFee = kp.FBAFees.Total
			}
		}
		ap.Analysis.Trends = Trends{
			PriceDirection:  market.PriceTrend(kp.PriceHistory),
			DemandDirection: market.DemandTrend(kp.RankHistory),
			Seasonality:     market.Seasonality(kp.RankHistory),
		}
		if c, ok := st.competitors[ref.ASIN]; ok {
			ap.Competitor = &c
			in.FBA = c.FBAStatus
			if ap.Brand == "" {
				ap.Brand = c.Brand
			}
		}
		if r, ok := st.reviews[ref.ASIN]; ok {
			ap.Reviews = &r
		}
		s := market.Score(in)
		ap.Analysis.OpportunityScore = s.Opportunity
		ap.Analysis.DemandScore = s.Demand
		ap.Analysis.CompetitionScore = s.Competition
		ap.Analysis.Profitability = s.Profitability
		out.Products = append(out.Products, ap)
	}
	return out
}
