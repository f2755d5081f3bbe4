package analysisruns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"niche-backend/internal/clients/apify"
	"niche-backend/internal/market"
	"niche-backend/internal/niches"
	"niche-backend/internal/queue"
	"niche-backend/internal/shared/metrics"
	"niche-backend/internal/shared/telemetry"
)

// errCancelled stops a run whose owner cancelled it between steps.
var errCancelled = errors.New("run cancelled")

// errSkipped marks a step whose source is not configured.
var errSkipped = errors.New("step skipped")

// ProcessRun executes the job for one run. A returned error means the job
// should be retried; cancelled and already completed runs return nil.
func (o *Orchestrator) ProcessRun(ctx context.Context, msg queue.Message) error {
	started := o.now()
	run, err := o.getRun(ctx, msg.RunID)
	if err != nil {
		return err
	}
	fields := map[string]any{
		"run_id":     run.ID,
		"niche_id":   run.NicheID,
		"attempt":    msg.Attempt,
		"resume":     msg.Resume,
		"request_id": msg.RequestID,
	}
	if run.Cancelled() {
		telemetry.Info("run.skipped_cancelled", fields)
		return nil
	}
	if run.Status == StatusCompleted {
		telemetry.Info("run.skipped_completed", fields)
		return nil
	}

	telemetry.Info("run.started", fields)
	err = o.execute(ctx, run, msg)
	duration := o.now().Sub(started)
	switch {
	case errors.Is(err, errCancelled):
		telemetry.Info("run.cancelled_midway", fields)
		return nil
	case err != nil:
		o.logEvent(ctx, run, EventJobFailed, map[string]any{"error": err.Error(), "attemptsMade": max(1, msg.Attempt)})
		fields["error"] = err.Error()
		telemetry.Error("run.failed", fields)
		return err
	}

	o.logEvent(ctx, run, EventJobDone, map[string]any{"duration": duration.Milliseconds()})
	metrics.ObserveRunDurationMs(float64(duration.Milliseconds()))
	fields["duration_ms"] = duration.Milliseconds()
	telemetry.Info("run.completed", fields)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, run Run, msg queue.Message) error {
	if err := o.Repo.UpdateRunStatus(ctx, run.ID, StatusProcessing, "", o.now()); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	steps, start := prepareSteps(run, msg)
	err := o.executeSteps(ctx, run, steps, start)
	if err != nil && !errors.Is(err, errCancelled) {
		o.failRun(ctx, run, steps, err)
	}
	return err
}

func (o *Orchestrator) executeSteps(ctx context.Context, run Run, steps []Step, start int) error {
	st := newRunState()
	var costs Costs
	for _, s := range steps[:start] {
		if s.Status != StepCompleted {
			continue
		}
		out, err := decodeStepData(s.Name, s.Data)
		if err != nil {
			return err
		}
		out.apply(st)
		costs = costs.Add(s.Costs)
	}

	costs, err := o.runSteps(ctx, run, steps, start, st, costs)
	if err != nil {
		return err
	}
	if o.cancelled(ctx, run.ID) {
		return errCancelled
	}
	return o.finalize(ctx, run, st, costs)
}

// prepareSteps returns the steps to run and the index to start at. A fresh
// job starts over; a resumed job keeps every completed step up to the last
// completed one whose data can still be read. The stored steps win over the
// message hint, which goes stale when a resumed job is redelivered.
func prepareSteps(run Run, msg queue.Message) ([]Step, int) {
	fresh := NewSteps(run.Config)
	if !msg.Resume || len(run.Steps) == 0 {
		return fresh, 0
	}
	steps := slices.Clone(run.Steps)

	start := 0
	for i, s := range steps {
		if s.Status == StepCompleted {
			start = i + 1
		}
	}
	if hint := msg.LastCompletedStep; hint != "" {
		i := slices.IndexFunc(steps, func(s Step) bool { return s.Name == hint })
		start = max(start, i+1)
	}
	for i := 0; i < start; i++ {
		s := steps[i]
		if s.Status == StepCompleted && len(s.Data) == 0 {
			start = i
			break
		}
		if s.Status != StepCompleted && s.Status != StepFailed && s.Status != StepSkipped {
			start = i
			break
		}
	}
	for i := start; i < len(steps); i++ {
		steps[i].Status = StepPending
		steps[i].StartedAt = nil
		steps[i].CompletedAt = nil
		steps[i].Error = ""
		steps[i].Costs = Costs{}
		steps[i].Data = nil
	}
	return steps, start
}

func (o *Orchestrator) runSteps(ctx context.Context, run Run, steps []Step, start int, st *runState, costs Costs) (Costs, error) {
	n := len(steps)
	progress := percent(start, n)
	for i := start; i < n; i++ {
		if o.cancelled(ctx, run.ID) {
			return costs, errCancelled
		}
		step := &steps[i]
		began := o.now()
		step.Status = StepRunning
		step.StartedAt = &began
		step.CompletedAt = nil
		step.Error = ""
		if err := o.Repo.SaveSteps(ctx, run.ID, steps, progress, step.Name, began); err != nil {
			return costs, fmt.Errorf("save steps: %w", err)
		}

		out, cost, err := o.runStep(ctx, step.Name, run, st)
		done := o.now()
		step.CompletedAt = &done
		switch {
		case errors.Is(err, errSkipped):
			step.Status = StepSkipped
		case err != nil:
			step.Status = StepFailed
			step.Error = err.Error()
			step.RetryCount++
		default:
			data, merr := json.Marshal(out)
			if merr != nil {
				return costs, fmt.Errorf("encode %s data: %w", step.Name, merr)
			}
			out.apply(st)
			costs = costs.Add(cost)
			recordSpend(ctx, cost)
			step.Status = StepCompleted
			step.Costs = cost
			step.Data = data
		}
		if step.Status != StepFailed {
			progress = percent(i+1, n)
		}
		if serr := o.Repo.SaveSteps(ctx, run.ID, steps, progress, step.Name, done); serr != nil {
			return costs, fmt.Errorf("save steps: %w", serr)
		}

		if err != nil && !errors.Is(err, errSkipped) {
			critical := IsCritical(step.Name)
			o.logEvent(ctx, run, EventStepFailed, map[string]any{"step": step.Name, "error": err.Error(), "critical": critical})
			if critical {
				return costs, &Error{
					Code:    CodeCriticalStepFailed,
					Message: "Critical step failed: " + step.Name,
					RunID:   run.ID,
					Step:    step.Name,
					Err:     err,
				}
			}
			telemetry.Warn("run.step.failed", map[string]any{"run_id": run.ID, "step": step.Name, "error": err.Error()})
		}
	}
	return costs, nil
}

func recordSpend(ctx context.Context, c Costs) {
	metrics.AddRunCost(ctx, "keepa", c.Keepa)
	metrics.AddRunCost(ctx, "apify", c.Apify)
	metrics.AddRunCost(ctx, "ai", c.AI)
}

func percent(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

// failRun records a failed attempt: partially completed when any step
// finished, failed otherwise.
func (o *Orchestrator) failRun(ctx context.Context, run Run, steps []Step, cause error) {
	status := StatusFailed
	for _, s := range steps {
		if s.Status == StepCompleted {
			status = StatusPartiallyCompleted
			break
		}
	}
	if o.cancelled(ctx, run.ID) {
		return
	}
	if err := o.Repo.UpdateRunStatus(ctx, run.ID, status, cause.Error(), o.now()); err != nil {
		telemetry.Error("run.status.update_failed", map[string]any{"run_id": run.ID, "error": err.Error()})
	}
	if status == StatusPartiallyCompleted {
		metrics.IncRunPartial()
	} else {
		metrics.IncRunFailed()
	}
}

// cancelled re-reads the run so a cancel issued while a step was executing
// stops the run before its next step.
func (o *Orchestrator) cancelled(ctx context.Context, runID string) bool {
	run, err := o.Repo.GetRun(ctx, runID)
	if err != nil {
		return false
	}
	return run.Cancelled()
}

func (o *Orchestrator) finalize(ctx context.Context, run Run, st *runState, costs Costs) error {
	results := buildResults(run, st)
	now := o.now()
	if err := o.Repo.SaveResults(ctx, run.ID, results, costs, now); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	o.updateNiche(ctx, run.NicheID, results.Niche, now)

	o.logEvent(ctx, run, EventFinalized, map[string]any{
		"productCount":        len(results.Products),
		"avgOpportunityScore": results.Niche.OpportunityScore,
		"costs":               costs,
	})
	if err := o.Repo.UpdateRunStatus(ctx, run.ID, StatusCompleted, "", now); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	metrics.IncRunCompleted()

	if run.Config.WebhookURL != "" {
		o.sendWebhook(ctx, run, results, costs)
	}
	return nil
}

// updateNiche writes the run's roll-up onto the niche row, keeping the
// aggregates only the niche processor computes.
func (o *Orchestrator) updateNiche(ctx context.Context, nicheID string, summary NicheSummary, now time.Time) {
	n, err := o.Niches.Get(ctx, nicheID)
	if err != nil {
		telemetry.Warn("run.niche_update_failed", map[string]any{"niche_id": nicheID, "error": err.Error()})
		return
	}
	a := n.Analytics
	a.OpportunityScore = summary.OpportunityScore
	a.CompetitionLevel = summary.CompetitionLevel
	a.MarketSize = summary.MarketSize
	a.AvgPrice = summary.AvgPrice
	a.TotalMonthlyRevenue = summary.TotalMonthlyRevenue
	if err := o.Niches.UpdateAnalytics(ctx, nicheID, a, now); err != nil && !errors.Is(err, niches.ErrNotFound) {
		telemetry.Warn("run.niche_update_failed", map[string]any{"niche_id": nicheID, "error": err.Error()})
	}
}

// buildResults assembles the final results from whatever steps produced,
// filling defaults for steps that failed.
func buildResults(run Run, st *runState) Results {
	products := slices.Clone(st.scored)
	if products == nil {
		products = make([]AnalyzedProduct, 0, len(st.products))
		for _, p := range st.products {
			products = append(products, AnalyzedProduct{ASIN: p.ASIN, Title: p.Title})
		}
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].Analysis.OpportunityScore > products[j].Analysis.OpportunityScore
	})

	mi := DefaultMarketInsights()
	if st.market != nil {
		mi = *st.market
	}
	ai := emptyRecommendations(MsgAnalysisIncomplete)
	if st.ai != nil {
		ai = *st.ai
	}

	var oppSum, compSum, revenue float64
	for _, p := range products {
		oppSum += float64(p.Analysis.OpportunityScore)
		compSum += float64(p.Analysis.CompetitionScore)
		if p.Keepa != nil {
			revenue += p.Keepa.MonthlyRevenue
		}
	}
	summary := NicheSummary{
		ID:                  run.NicheID,
		Name:                st.niche.Name,
		MarketSize:          mi.TotalMarketSize,
		AvgPrice:            mi.AvgSellingPrice,
		TotalMonthlyRevenue: revenue,
		CompetitionLevel:    market.CompetitionLevel(0),
	}
	if n := len(products); n > 0 {
		summary.OpportunityScore = int(math.Round(oppSum / float64(n)))
		summary.CompetitionLevel = market.CompetitionLevel(compSum / float64(n))
	}

	return Results{
		Niche:              summary,
		Products:           products,
		MarketInsights:     mi,
		CompetitorAnalysis: competitorInsights(st.competitors),
		ReviewAnalysis:     reviewInsights(st.reviews),
		AIRecommendations:  ai,
	}
}

func competitorInsights(comps map[string]apify.Competitor) *CompetitorInsights {
	if len(comps) == 0 {
		return nil
	}
	out := &CompetitorInsights{Listings: len(comps)}
	brands := make([]string, 0, len(comps))
	var price, rating, reviews float64
	var priced, fba, prime int
	for _, c := range comps {
		brands = append(brands, c.Brand)
		if c.Price > 0 {
			price += c.Price
			priced++
		}
		rating += c.Rating
		reviews += float64(c.ReviewCount)
		if c.FBAStatus {
			fba++
		}
		if c.PrimeEligible {
			prime++
		}
	}
	n := float64(len(comps))
	if priced > 0 {
		out.AvgPrice = price / float64(priced)
	}
	out.AvgRating = rating / n
	out.AvgReviewCount = reviews / n
	out.FBAShare = float64(fba) / n * 100
	out.PrimeShare = float64(prime) / n * 100
	sort.Strings(brands)
	out.TopBrands = market.TopBrands(brands)
	return out
}

const maxCommonPhrases = 10

func reviewInsights(analyses map[string]apify.ReviewAnalysis) *ReviewInsights {
	if len(analyses) == 0 {
		return nil
	}
	out := &ReviewInsights{Sentiment: map[string]int{}}
	phrases := map[string]int{}
	var ratingSum, verifiedSum float64
	for _, a := range analyses {
		if a.TotalReviews == 0 {
			continue
		}
		out.ProductsAnalyzed++
		out.ReviewsAnalyzed += a.TotalReviews
		ratingSum += a.AverageRating * float64(a.TotalReviews)
		verifiedSum += a.VerifiedPercentage * float64(a.TotalReviews)
		for k, v := range a.Sentiment {
			out.Sentiment[k] += v
		}
		for _, p := range a.CommonPhrases {
			phrases[p.Phrase] += p.Count
		}
	}
	if out.ReviewsAnalyzed > 0 {
		out.AverageRating = ratingSum / float64(out.ReviewsAnalyzed)
		out.VerifiedPercentage = verifiedSum / float64(out.ReviewsAnalyzed)
	}
	out.CommonPhrases = make([]apify.Phrase, 0, len(phrases))
	for p, c := range phrases {
		out.CommonPhrases = append(out.CommonPhrases, apify.Phrase{Phrase: p, Count: c})
	}
	sort.Slice(out.CommonPhrases, func(i, j int) bool {
		if out.CommonPhrases[i].Count != out.CommonPhrases[j].Count {
			return out.CommonPhrases[i].Count > out.CommonPhrases[j].Count
		}
		return out.CommonPhrases[i].Phrase < out.CommonPhrases[j].Phrase
	})
	if len(out.CommonPhrases) > maxCommonPhrases {
		out.CommonPhrases = out.CommonPhrases[:maxCommonPhrases]
	}
	return out
}
