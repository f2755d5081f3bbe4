package niches

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"niche-backend/internal/clients/apify"
	"niche-backend/internal/clients/keepa"
	"niche-backend/internal/shared/config"
	"niche-backend/internal/shared/metrics"
	"niche-backend/internal/shared/ratelimit"
	"niche-backend/internal/shared/telemetry"
	"niche-backend/internal/shared/util"
)

// ErrNothingToRetry is returned by RetryFailed when no ASIN failed.
var ErrNothingToRetry = errors.New("no failed asins to retry")

const (
	defaultStaleAfter = 2 * time.Hour
	jobRetention      = time.Hour
	dueBatch          = 10
)

// ProcessRequest names a niche and the ASINs to process.
type ProcessRequest struct {
	NicheID     string
	Name        string
	ASINs       []string
	Marketplace string
}

// Processor drives a niche from its ASIN list to populated analysis tables.
// The niche row is authoritative; jobs is a local cache keyed by run id.
type Processor struct {
	Repo     Repo
	Products ProductSource
	Keywords KeywordSource
	Reviews  ReviewSource
	Backfill Backfill
	// RetryLimiter paces the one-at-a-time retry pass.
	RetryLimiter ratelimit.Waiter
	Tunables     config.ProcessorTunables
	KeepaOptions keepa.Options
	StaleAfter   time.Duration
	Now          func() time.Time
	NewID        func() string

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewProcessor constructs a Processor with default collaborators.
func NewProcessor(repo Repo, products ProductSource, keywords KeywordSource, reviews ReviewSource, tunables config.ProcessorTunables, retryLimiter ratelimit.Waiter) *Processor {
	return &Processor{
		Repo:         repo,
		Products:     products,
		Keywords:     keywords,
		Reviews:      reviews,
		Backfill:     TitleBackfill{},
		RetryLimiter: retryLimiter,
		Tunables:     tunables,
		KeepaOptions: keepa.DefaultOptions(),
		StaleAfter:   defaultStaleAfter,
		jobs:         make(map[string]*Job),
	}
}

// run is the working state of one processing run.
type run struct {
	job       *Job
	nicheID   string
	asins     []string
	products  map[string]Product
	completed []string
	failed    []string
	progress  Progress
	skipped   []string
	broken    []string
}

func (r *run) complete(asin string) { r.completed = append(r.completed, asin) }
func (r *run) fail(asin string)     { r.failed = append(r.failed, asin) }

func (r *run) markRecovered(asin string) {
	for i, a := range r.failed {
		if a == asin {
			r.failed = append(r.failed[:i], r.failed[i+1:]...)
			break
		}
	}
	r.complete(asin)
}

func (r *run) enter(stage string) { r.progress.Stage = stage }

func (r *run) done(stage string) {
	if r.progress.Stages == nil {
		r.progress.Stages = map[string]bool{}
	}
	r.progress.Stages[stage] = true
}

func (r *run) notes() Notes {
	total := len(r.asins)
	n := Notes{
		CompletedCount: len(r.completed),
		FailedCount:    len(r.failed),
		FailedASINs:    append([]string{}, r.failed...),
		SkippedStages:  r.skipped,
		FailedStages:   r.broken,
	}
	if total > 0 {
		n.SuccessRate = int(math.Round(100 * float64(len(r.completed)) / float64(total)))
	}
	if len(r.failed) > 0 {
		n.Shortfall = fmt.Sprintf("%d of %d products could not be fetched", len(r.failed), total)
	}
	return n
}

// Process runs every stage synchronously and returns the final job.
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (Job, error) {
	r, err := p.claim(ctx, req)
	if err != nil {
		return Job{}, err
	}
	p.execute(ctx, r)
	job, _ := p.Job(r.job.RunID)
	return job, nil
}

// Start claims the niche and runs the stages in the background. The
// returned job reflects the claimed state.
func (p *Processor) Start(ctx context.Context, req ProcessRequest) (Job, error) {
	r, err := p.claim(ctx, req)
	if err != nil {
		return Job{}, err
	}
	job, _ := p.Job(r.job.RunID)
	go p.execute(telemetry.Detach(ctx), r)
	return job, nil
}

// Job returns the cached snapshot of a run.
func (p *Processor) Job(runID string) (Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	job, ok := p.jobs[runID]
	if !ok {
		return Job{}, false
	}
	out := *job
	out.Progress = copyProgress(job.Progress)
	return out, true
}

func (p *Processor) claim(ctx context.Context, req ProcessRequest) (*run, error) {
	asins, _ := util.NormalizeASINs(req.ASINs)
	if len(asins) == 0 {
		return nil, ErrNoASINs
	}
	now := p.now()
	runID := p.newID()
	progress := Progress{
		RunID:          runID,
		Stage:          StageBatchFetch,
		Total:          len(asins),
		CompletedASINs: []string{},
		FailedASINs:    []string{},
		Stages:         map[string]bool{},
		UpdatedAt:      now,
	}
	if err := p.Repo.ClaimForProcessing(ctx, req.NicheID, progress, now, now.Add(-p.staleAfter())); err != nil {
		return nil, err
	}
	marketplace := req.Marketplace
	if marketplace == "" {
		marketplace = "US"
	}
	job := &Job{
		RunID:       runID,
		NicheID:     req.NicheID,
		NicheName:   req.Name,
		Marketplace: marketplace,
		Status:      StatusProcessing,
		Progress:    copyProgress(progress),
		StartedAt:   now,
	}
	p.mu.Lock()
	if p.jobs == nil {
		p.jobs = make(map[string]*Job)
	}
	p.pruneLocked(now)
	p.jobs[runID] = job
	p.mu.Unlock()

	metrics.IncNicheStarted()
	telemetry.Info("niche.processing.started", map[string]any{
		"niche_id":   req.NicheID,
		"run_id":     runID,
		"asins":      len(asins),
		"request_id": telemetry.RequestID(ctx),
	})
	return &run{
		job:      job,
		nicheID:  req.NicheID,
		asins:    asins,
		products: make(map[string]Product, len(asins)),
		progress: progress,
	}, nil
}

func (p *Processor) pruneLocked(now time.Time) {
	for id, job := range p.jobs {
		if job.CompletedAt != nil && now.Sub(*job.CompletedAt) > jobRetention {
			delete(p.jobs, id)
		}
	}
}

func (p *Processor) execute(ctx context.Context, r *run) {
	p.batchFetch(ctx, r)
	p.retryPass(ctx, r)
	if len(r.completed) == 0 {
		p.finish(ctx, r, StatusFailed, MsgNoProducts)
		return
	}
	p.collectKeywords(ctx, r, r.completed)
	p.collectReviews(ctx, r)
	p.analyze(ctx, r)
	p.finishByRate(ctx, r)
}

func (p *Processor) batchFetch(ctx context.Context, r *run) {
	r.enter(StageBatchFetch)
	for _, chunk := range keepa.Chunk(r.asins, p.productBatchSize()) {
		fetched, err := p.Products.GetProducts(ctx, chunk, p.KeepaOptions)
		if err != nil {
			telemetry.Warn("niche.batch.failed", map[string]any{
				"niche_id": r.nicheID,
				"run_id":   r.job.RunID,
				"size":     len(chunk),
				"returned": len(fetched),
				"error":    err.Error(),
			})
		}
		byASIN := make(map[string]keepa.Product, len(fetched))
		for _, kp := range fetched {
			byASIN[strings.ToUpper(kp.ASIN)] = kp
		}
		for _, asin := range chunk {
			kp, ok := byASIN[asin]
			if !ok || strings.TrimSpace(kp.Title) == "" {
				r.fail(asin)
				continue
			}
			if err := p.store(ctx, r, kp); err != nil {
				r.fail(asin)
				continue
			}
			r.complete(asin)
		}
		r.progress.Current = len(r.completed) + len(r.failed)
		p.publish(ctx, r)
	}
	r.done(StageBatchFetch)
}

func (p *Processor) retryPass(ctx context.Context, r *run) {
	r.enter(StageIndividualRetry)
	pending := append([]string(nil), r.failed...)
	for _, asin := range pending {
		if err := p.retryLimiter().Wait(ctx); err != nil {
			telemetry.Warn("niche.retry.aborted", map[string]any{"niche_id": r.nicheID, "error": err.Error()})
			break
		}
		r.progress.CurrentASIN = asin
		kp, err := p.Products.GetProduct(ctx, asin, p.KeepaOptions)
		if err != nil || strings.TrimSpace(kp.Title) == "" {
			fields := map[string]any{"niche_id": r.nicheID, "asin": asin}
			if err != nil {
				fields["error"] = err.Error()
			}
			telemetry.Warn("niche.retry.failed", fields)
			continue
		}
		if err := p.store(ctx, r, kp); err != nil {
			continue
		}
		r.markRecovered(asin)
		p.publish(ctx, r)
	}
	r.progress.CurrentASIN = ""
	r.done(StageIndividualRetry)
	p.publish(ctx, r)
}

func (p *Processor) store(ctx context.Context, r *run, kp keepa.Product) error {
	product := ProductFromKeepa(kp, p.now())
	product.ASIN = strings.ToUpper(product.ASIN)
	if err := p.Repo.UpsertProduct(ctx, product); err != nil {
		telemetry.Error("niche.product.upsert_failed", map[string]any{
			"niche_id": r.nicheID,
			"asin":     product.ASIN,
			"error":    err.Error(),
		})
		return err
	}
	r.products[product.ASIN] = product
	return nil
}

func (p *Processor) collectKeywords(ctx context.Context, r *run, asins []string) {
	if p.Keywords == nil || !p.Keywords.Configured() {
		r.skipped = append(r.skipped, StageKeywords)
		telemetry.Warn("niche.stage.skipped", map[string]any{
			"niche_id": r.nicheID,
			"stage":    StageKeywords,
			"reason":   "amazon ads credentials not configured",
		})
		return
	}
	r.enter(StageKeywords)
	for _, batch := range keepa.Chunk(asins, p.keywordBatchSize()) {
		rows, err := p.suggest(ctx, r, batch)
		if err != nil || len(rows) == 0 {
			fields := map[string]any{"niche_id": r.nicheID, "batch": batch}
			if err != nil {
				fields["error"] = err.Error()
			}
			telemetry.Warn("niche.keywords.fallback", fields)
			rows = p.backfill().Keywords(batch, r.products)
		}
		if err := p.Repo.InsertKeywords(ctx, rows); err != nil {
			telemetry.Error("niche.keywords.insert_failed", map[string]any{
				"niche_id": r.nicheID,
				"rows":     len(rows),
				"error":    err.Error(),
			})
		}
		p.publish(ctx, r)
	}
	r.done(StageKeywords)
}

func (p *Processor) suggest(ctx context.Context, r *run, batch []string) ([]Keyword, error) {
	suggestions, err := p.Keywords.SuggestKeywords(ctx, batch)
	if err != nil {
		return nil, err
	}
	now := p.now()
	rows := make([]Keyword, 0, len(suggestions))
	for _, s := range suggestions {
		asin := strings.ToUpper(s.ASIN)
		if _, ok := r.products[asin]; !ok || strings.TrimSpace(s.Keyword) == "" {
			continue
		}
		bid := s.BidMedian
		if bid == 0 {
			bid = s.BidLow
		}
		rows = append(rows, Keyword{
			ASIN:            asin,
			Keyword:         s.Keyword,
			MatchType:       s.MatchType,
			SuggestedBid:    bid,
			EstimatedClicks: s.EstimatedClicks,
			EstimatedOrders: s.EstimatedOrders,
			Source:          SourceAPI,
			CreatedAt:       now,
		})
	}
	return rows, nil
}

func (p *Processor) collectReviews(ctx context.Context, r *run) {
	if p.Reviews == nil || !p.Reviews.Configured() {
		r.skipped = append(r.skipped, StageReviews)
		telemetry.Warn("niche.stage.skipped", map[string]any{
			"niche_id": r.nicheID,
			"stage":    StageReviews,
			"reason":   "review source not configured",
		})
		return
	}
	r.enter(StageReviews)
	ordered := make([]Product, 0, len(r.completed))
	for _, asin := range r.completed {
		ordered = append(ordered, r.products[asin])
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ReviewCount > ordered[j].ReviewCount })

	target := p.reviewTarget()
	collected := 0
	for _, product := range ordered {
		if collected >= target {
			break
		}
		r.progress.CurrentASIN = product.ASIN
		fetched, err := p.Reviews.GetReviews(ctx, product.ASIN, apify.ReviewOptions{
			MaxReviews: p.reviewsPerProduct(),
			SortBy:     "helpful",
		})
		if err != nil {
			telemetry.Warn("niche.reviews.failed", map[string]any{
				"niche_id": r.nicheID,
				"asin":     product.ASIN,
				"error":    err.Error(),
			})
			continue
		}
		rows := textReviews(product.ASIN, fetched, target-collected)
		if len(rows) == 0 {
			continue
		}
		if err := p.Repo.InsertReviews(ctx, rows); err != nil {
			telemetry.Error("niche.reviews.insert_failed", map[string]any{
				"niche_id": r.nicheID,
				"asin":     product.ASIN,
				"error":    err.Error(),
			})
			continue
		}
		collected += len(rows)
		p.publish(ctx, r)
	}
	r.progress.CurrentASIN = ""
	r.done(StageReviews)
	telemetry.Info("niche.reviews.collected", map[string]any{"niche_id": r.nicheID, "count": collected})
}

// textReviews keeps at most limit reviews that carry text.
func textReviews(asin string, fetched []apify.Review, limit int) []Review {
	var out []Review
	for _, fr := range fetched {
		if len(out) >= limit {
			break
		}
		text := strings.TrimSpace(fr.Text)
		if text == "" {
			continue
		}
		id := fr.ReviewID
		if id == "" {
			id = util.HashKey(asin, fr.Title, text)[:20]
		}
		rv := Review{
			ASIN:         asin,
			ReviewID:     id,
			Rating:       float64(fr.Rating),
			Title:        fr.Title,
			Content:      text,
			Verified:     fr.Verified,
			HelpfulVotes: fr.HelpfulVotes,
		}
		if !fr.Date.IsZero() {
			d := fr.Date
			rv.ReviewDate = &d
		}
		out = append(out, rv)
	}
	return out
}

func (p *Processor) analyze(ctx context.Context, r *run) {
	analysisStages := []string{
		StageMarketInsights, StageCompetition, StageFinancial, StageKeywordAnalysis,
		StageLaunchStrategy, StageListingOptimization, StagePricing,
	}
	r.enter(StageAggregate)
	now := p.now()
	snap, err := p.loadSnapshot(ctx, r.completed)
	if err == nil {
		analytics, scores := Aggregate(snap)
		for asin, sc := range scores {
			if err := p.Repo.UpdateProductScores(ctx, asin, sc); err != nil {
				telemetry.Warn("niche.scores.update_failed", map[string]any{"asin": asin, "error": err.Error()})
			}
		}
		if err = p.Repo.UpdateAnalytics(ctx, r.nicheID, analytics, now); err == nil {
			r.done(StageAggregate)
			p.publish(ctx, r)
			p.runAnalyses(ctx, r, snap, analytics, now)
			return
		}
	}
	r.broken = append(r.broken, StageAggregate)
	r.skipped = append(r.skipped, analysisStages...)
	telemetry.Error("niche.stage.failed", map[string]any{
		"niche_id": r.nicheID,
		"stage":    StageAggregate,
		"error":    err.Error(),
	})
}

func (p *Processor) runAnalyses(ctx context.Context, r *run, snap Snapshot, analytics Analytics, now time.Time) {
	keywords := BuildKeywordAnalysis(snap, now)
	stages := []struct {
		name  string
		build func() Analysis
	}{
		{StageMarketInsights, func() Analysis { return BuildMarketInsights(snap, analytics, now) }},
		{StageCompetition, func() Analysis { return BuildCompetition(snap, now) }},
		{StageFinancial, func() Analysis { return BuildFinancial(snap, analytics, now) }},
		{StageKeywordAnalysis, func() Analysis { return keywords }},
		{StageLaunchStrategy, func() Analysis { return BuildLaunchStrategy(analytics, now) }},
		{StageListingOptimization, func() Analysis { return BuildListingOptimization(snap, keywords, now) }},
		{StagePricing, func() Analysis { return BuildPricing(snap, now) }},
	}
	for _, st := range stages {
		r.enter(st.name)
		if err := p.Repo.UpsertAnalysis(ctx, r.nicheID, st.build()); err != nil {
			r.broken = append(r.broken, st.name)
			telemetry.Error("niche.stage.failed", map[string]any{
				"niche_id": r.nicheID,
				"stage":    st.name,
				"error":    err.Error(),
			})
			continue
		}
		r.done(st.name)
		p.publish(ctx, r)
	}
}

func (p *Processor) loadSnapshot(ctx context.Context, asins []string) (Snapshot, error) {
	products, err := p.Repo.ProductsByASINs(ctx, asins)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load products: %w", err)
	}
	keywords, err := p.Repo.KeywordsForASINs(ctx, asins)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load keywords: %w", err)
	}
	reviews, err := p.Repo.ReviewsForASINs(ctx, asins)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load reviews: %w", err)
	}
	return Snapshot{Products: products, Keywords: keywords, Reviews: reviews}, nil
}

func (p *Processor) finishByRate(ctx context.Context, r *run) {
	total := len(r.asins)
	completed := len(r.completed)
	threshold := p.successThreshold()
	// Integer comparison keeps 3/10 at a 0.30 threshold on the passing side.
	if completed*100 >= int(math.Round(threshold*100))*total {
		p.finish(ctx, r, StatusCompleted, "")
		return
	}
	rate := int(math.Round(100 * float64(completed) / float64(total)))
	p.finish(ctx, r, StatusFailed, fmt.Sprintf(
		"Only %d of %d products were processed (%d%%), below the %d%% threshold",
		completed, total, rate, int(math.Round(threshold*100))))
}

func (p *Processor) finish(ctx context.Context, r *run, status, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	now := p.now()
	r.progress.Stage = StageDone
	r.progress.CurrentASIN = ""
	notes := r.notes()
	p.syncProgress(r, now)

	outcome := Outcome{
		Status:         status,
		Progress:       copyProgress(r.progress),
		Notes:          &notes,
		ErrorMessage:   errMsg,
		TotalProducts:  len(r.completed),
		FailedProducts: len(r.failed),
		CompletedAt:    now,
	}
	if err := p.Repo.Finish(ctx, r.nicheID, r.job.RunID, outcome); err != nil {
		if errors.Is(err, ErrClaimLost) {
			p.claimLost(r, "finish")
		} else {
			telemetry.Error("niche.finish.failed", map[string]any{"niche_id": r.nicheID, "error": err.Error()})
		}
	}

	p.mu.Lock()
	r.job.Status = status
	r.job.Notes = &notes
	r.job.Error = errMsg
	r.job.CompletedAt = &now
	r.job.Progress = copyProgress(r.progress)
	p.mu.Unlock()

	fields := map[string]any{
		"niche_id":     r.nicheID,
		"run_id":       r.job.RunID,
		"status":       status,
		"success_rate": notes.SuccessRate,
		"completed":    notes.CompletedCount,
		"failed":       notes.FailedCount,
		"duration_ms":  now.Sub(r.job.StartedAt).Milliseconds(),
	}
	if status == StatusCompleted {
		metrics.IncNicheCompleted()
		telemetry.Info("niche.processing.completed", fields)
		return
	}
	metrics.IncNicheFailed()
	fields["error"] = errMsg
	telemetry.Error("niche.processing.failed", fields)
}

func (p *Processor) syncProgress(r *run, now time.Time) {
	r.progress.CompletedASINs = append([]string{}, r.completed...)
	r.progress.FailedASINs = append([]string{}, r.failed...)
	if r.progress.Total > 0 {
		r.progress.Percentage = int(math.Round(100 * float64(r.progress.Current) / float64(r.progress.Total)))
	}
	r.progress.UpdatedAt = now
}

// publish writes progress to the cache and, best-effort, to the store.
func (p *Processor) publish(ctx context.Context, r *run) {
	p.syncProgress(r, p.now())
	snapshot := copyProgress(r.progress)
	p.mu.Lock()
	r.job.Progress = snapshot
	p.mu.Unlock()
	err := p.Repo.UpdateProgress(ctx, r.nicheID, r.job.RunID, snapshot)
	switch {
	case errors.Is(err, ErrClaimLost):
		p.claimLost(r, "progress")
	case err != nil:
		telemetry.Warn("niche.progress.write_failed", map[string]any{"niche_id": r.nicheID, "error": err.Error()})
	}
}

func (p *Processor) claimLost(r *run, write string) {
	telemetry.Warn("niche.claim_lost", map[string]any{
		"niche_id": r.nicheID,
		"run_id":   r.job.RunID,
		"write":    write,
	})
}

// RetryFailed re-fetches the ASINs that failed in the niche's last run and
// refreshes the analysis tables when any of them recover.
func (p *Processor) RetryFailed(ctx context.Context, nicheID string) (Job, error) {
	r, err := p.prepareRetry(ctx, nicheID)
	if err != nil {
		return Job{}, err
	}
	p.executeRetry(ctx, r)
	job, _ := p.Job(r.job.RunID)
	return job, nil
}

// StartRetry is RetryFailed in the background.
func (p *Processor) StartRetry(ctx context.Context, nicheID string) (Job, error) {
	r, err := p.prepareRetry(ctx, nicheID)
	if err != nil {
		return Job{}, err
	}
	job, _ := p.Job(r.job.RunID)
	go p.executeRetry(telemetry.Detach(ctx), r)
	return job, nil
}

func (p *Processor) prepareRetry(ctx context.Context, nicheID string) (*run, error) {
	niche, err := p.Repo.Get(ctx, nicheID)
	if err != nil {
		return nil, err
	}
	if niche.Progress == nil || len(niche.Progress.FailedASINs) == 0 {
		return nil, ErrNothingToRetry
	}
	previous := *niche.Progress
	r, err := p.claim(ctx, ProcessRequest{
		NicheID:     niche.ID,
		Name:        niche.Name,
		ASINs:       niche.ASINs,
		Marketplace: niche.Marketplace,
	})
	if err != nil {
		return nil, err
	}
	inNiche := make(map[string]bool, len(r.asins))
	for _, a := range r.asins {
		inNiche[a] = true
	}
	for _, a := range previous.CompletedASINs {
		if inNiche[a] {
			r.complete(a)
		}
	}
	for _, a := range previous.FailedASINs {
		if inNiche[a] {
			r.fail(a)
		}
	}
	r.progress.Current = len(r.completed) + len(r.failed)
	if stored, err := p.Repo.ProductsByASINs(ctx, r.completed); err == nil {
		for _, prod := range stored {
			r.products[prod.ASIN] = prod
		}
	}
	return r, nil
}

func (p *Processor) executeRetry(ctx context.Context, r *run) {
	before := len(r.completed)
	p.retryPass(ctx, r)
	if len(r.completed) == 0 {
		p.finish(ctx, r, StatusFailed, MsgNoProducts)
		return
	}
	if recovered := r.completed[before:]; len(recovered) > 0 {
		p.collectKeywords(ctx, r, recovered)
	}
	p.analyze(ctx, r)
	p.finishByRate(ctx, r)
}

// StatusView is the stored processing state of a niche.
type StatusView struct {
	NicheID      string     `json:"nicheId"`
	Status       string     `json:"status"`
	Progress     *Progress  `json:"progress,omitempty"`
	Notes        *Notes     `json:"notes,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// GetProgress reads the authoritative processing state from the store.
func (p *Processor) GetProgress(ctx context.Context, nicheID string) (StatusView, error) {
	niche, err := p.Repo.Get(ctx, nicheID)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{
		NicheID:      niche.ID,
		Status:       niche.Status,
		Progress:     niche.Progress,
		Notes:        niche.Notes,
		ErrorMessage: niche.ErrorMessage,
		StartedAt:    niche.ProcessStartedAt,
		CompletedAt:  niche.ProcessCompletedAt,
	}, nil
}

// ProcessDue processes pending niches whose scheduled date has passed and
// returns how many were run.
func (p *Processor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	due, err := p.Repo.DuePending(ctx, now, dueBatch)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, niche := range due {
		if ctx.Err() != nil {
			break
		}
		_, err := p.Process(ctx, ProcessRequest{
			NicheID:     niche.ID,
			Name:        niche.Name,
			ASINs:       niche.ASINs,
			Marketplace: niche.Marketplace,
		})
		switch {
		case errors.Is(err, ErrAlreadyProcessing):
			continue
		case err != nil:
			telemetry.Error("niche.scheduled.failed", map[string]any{"niche_id": niche.ID, "error": err.Error()})
			continue
		}
		processed++
	}
	return processed, nil
}

func copyProgress(p Progress) Progress {
	out := p
	out.CompletedASINs = append([]string{}, p.CompletedASINs...)
	out.FailedASINs = append([]string{}, p.FailedASINs...)
	out.Stages = make(map[string]bool, len(p.Stages))
	for k, v := range p.Stages {
		out.Stages[k] = v
	}
	return out
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Processor) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

func (p *Processor) staleAfter() time.Duration {
	if p.StaleAfter > 0 {
		return p.StaleAfter
	}
	return defaultStaleAfter
}

func (p *Processor) retryLimiter() ratelimit.Waiter {
	if p.RetryLimiter != nil {
		return p.RetryLimiter
	}
	return ratelimit.Unlimited()
}

func (p *Processor) backfill() Backfill {
	if p.Backfill != nil {
		return p.Backfill
	}
	return TitleBackfill{Now: p.Now}
}

func (p *Processor) productBatchSize() int {
	if n := p.Tunables.ProductBatchSize; n > 0 && n <= keepa.MaxBatch {
		return n
	}
	return keepa.MaxBatch
}

func (p *Processor) keywordBatchSize() int {
	if p.Tunables.KeywordBatchSize > 0 {
		return p.Tunables.KeywordBatchSize
	}
	return 5
}

func (p *Processor) reviewTarget() int {
	if p.Tunables.ReviewTarget > 0 {
		return p.Tunables.ReviewTarget
	}
	return 100
}

func (p *Processor) reviewsPerProduct() int {
	if p.Tunables.ReviewsPerProduct > 0 {
		return p.Tunables.ReviewsPerProduct
	}
	return 20
}

func (p *Processor) successThreshold() float64 {
	if p.Tunables.SuccessThreshold > 0 {
		return p.Tunables.SuccessThreshold
	}
	return 0.30
}
