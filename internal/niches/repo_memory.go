package niches

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"niche-backend/internal/market"
)

// MemoryRepo stores niches in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu       sync.RWMutex
	niches   map[string]Niche
	products map[string]Product
	keywords []Keyword
	reviews  map[string]Review
	analyses map[string]map[string][]byte
	// claims maps a niche to the run currently allowed to write its progress.
	claims map[string]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		niches:   make(map[string]Niche),
		products: make(map[string]Product),
		reviews:  make(map[string]Review),
		analyses: make(map[string]map[string][]byte),
		claims:   make(map[string]string),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, niche Niche) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.niches[niche.ID]; ok {
		return fmt.Errorf("niche %s already exists", niche.ID)
	}
	r.niches[niche.ID] = niche
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, nicheID string) (Niche, error) {
	if err := ctx.Err(); err != nil {
		return Niche{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.niches[nicheID]
	if !ok {
		return Niche{}, ErrNotFound
	}
	return n, nil
}

func (r *MemoryRepo) ClaimForProcessing(ctx context.Context, nicheID string, progress Progress, now, staleBefore time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.niches[nicheID]
	if !ok {
		return ErrNotFound
	}
	if n.Status == StatusProcessing && n.ProcessStartedAt != nil && !n.ProcessStartedAt.Before(staleBefore) {
		return ErrAlreadyProcessing
	}
	p := copyProgress(progress)
	r.claims[nicheID] = progress.RunID
	n.Status = StatusProcessing
	n.Progress = &p
	n.Notes = nil
	n.ErrorMessage = ""
	n.ProcessStartedAt = &now
	n.ProcessCompletedAt = nil
	n.UpdatedAt = now
	r.niches[nicheID] = n
	return nil
}

func (r *MemoryRepo) UpdateProgress(ctx context.Context, nicheID, runID string, progress Progress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.niches[nicheID]
	if !ok {
		return ErrNotFound
	}
	if r.claims[nicheID] != runID {
		return ErrClaimLost
	}
	p := copyProgress(progress)
	n.Progress = &p
	r.niches[nicheID] = n
	return nil
}

func (r *MemoryRepo) Finish(ctx context.Context, nicheID, runID string, outcome Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.niches[nicheID]
	if !ok {
		return ErrNotFound
	}
	if r.claims[nicheID] != runID {
		return ErrClaimLost
	}
	p := copyProgress(outcome.Progress)
	completedAt := outcome.CompletedAt
	n.Status = outcome.Status
	n.Progress = &p
	n.Notes = outcome.Notes
	n.ErrorMessage = outcome.ErrorMessage
	n.TotalProducts = outcome.TotalProducts
	n.FailedProducts = outcome.FailedProducts
	n.ProcessCompletedAt = &completedAt
	n.UpdatedAt = completedAt
	r.niches[nicheID] = n
	return nil
}

func (r *MemoryRepo) UpdateAnalytics(ctx context.Context, nicheID string, analytics Analytics, analyzedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.niches[nicheID]
	if !ok {
		return ErrNotFound
	}
	n.Analytics = analytics
	n.LastAnalyzedAt = &analyzedAt
	r.niches[nicheID] = n
	return nil
}

func (r *MemoryRepo) DuePending(ctx context.Context, now time.Time, limit int) ([]Niche, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Niche
	for _, n := range r.niches {
		if n.Status == StatusPending && n.ScheduledDate != nil && !n.ScheduledDate.After(now) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledDate.Before(*out[j].ScheduledDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes the niche, its analysis rows and products no other niche
// references.
func (r *MemoryRepo) Delete(ctx context.Context, nicheID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.niches[nicheID]
	if !ok {
		return ErrNotFound
	}
	delete(r.niches, nicheID)
	delete(r.analyses, nicheID)
	delete(r.claims, nicheID)
	shared := map[string]bool{}
	for _, other := range r.niches {
		for _, a := range other.ASINs {
			shared[a] = true
		}
	}
	orphan := map[string]bool{}
	for _, a := range n.ASINs {
		if !shared[a] {
			orphan[a] = true
			delete(r.products, a)
		}
	}
	kept := r.keywords[:0]
	for _, k := range r.keywords {
		if !orphan[k.ASIN] {
			kept = append(kept, k)
		}
	}
	r.keywords = kept
	for key, rv := range r.reviews {
		if orphan[rv.ASIN] {
			delete(r.reviews, key)
		}
	}
	return nil
}

func (r *MemoryRepo) UpsertProduct(ctx context.Context, product Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.products[product.ASIN]; ok {
		product.OpportunityScore = prev.OpportunityScore
		product.CompetitionScore = prev.CompetitionScore
		product.DemandScore = prev.DemandScore
	}
	r.products[product.ASIN] = product
	return nil
}

func (r *MemoryRepo) ProductsByASINs(ctx context.Context, asins []string) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Product
	for _, a := range asins {
		if p, ok := r.products[a]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MemoryRepo) UpdateProductScores(ctx context.Context, asin string, scores market.Scores) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[asin]
	if !ok {
		return ErrNotFound
	}
	p.OpportunityScore = scores.Opportunity
	p.CompetitionScore = scores.Competition
	p.DemandScore = scores.Demand
	r.products[asin] = p
	return nil
}

func (r *MemoryRepo) InsertKeywords(ctx context.Context, keywords []Keyword) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keywords {
		if k.ID == "" {
			k.ID = uuid.NewString()
		}
		r.keywords = append(r.keywords, k)
	}
	return nil
}

func (r *MemoryRepo) KeywordsForASINs(ctx context.Context, asins []string) ([]Keyword, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := toSet(asins)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Keyword
	for _, k := range r.keywords {
		if want[k.ASIN] {
			out = append(out, k)
		}
	}
	return out, nil
}

func (r *MemoryRepo) InsertReviews(ctx context.Context, reviews []Review) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rv := range reviews {
		key := rv.ASIN + "/" + rv.ReviewID
		if _, ok := r.reviews[key]; ok {
			continue
		}
		if rv.ID == "" {
			rv.ID = uuid.NewString()
		}
		r.reviews[key] = rv
	}
	return nil
}

func (r *MemoryRepo) ReviewsForASINs(ctx context.Context, asins []string) ([]Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := toSet(asins)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Review
	for _, rv := range r.reviews {
		if want[rv.ASIN] {
			out = append(out, rv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ASIN != out[j].ASIN {
			return out[i].ASIN < out[j].ASIN
		}
		return out[i].ReviewID < out[j].ReviewID
	})
	return out, nil
}

func (r *MemoryRepo) UpsertAnalysis(ctx context.Context, nicheID string, analysis Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !knownTable(analysis.Table()) {
		return fmt.Errorf("unknown analysis table %q", analysis.Table())
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.niches[nicheID]; !ok {
		return ErrNotFound
	}
	if r.analyses[nicheID] == nil {
		r.analyses[nicheID] = make(map[string][]byte)
	}
	r.analyses[nicheID][analysis.Table()] = payload
	return nil
}

func (r *MemoryRepo) GetAnalysis(ctx context.Context, nicheID string, dst Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	payload, ok := r.analyses[nicheID][dst.Table()]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(payload, dst)
}

// KeywordCount reports how many keyword rows are stored for asin.
func (r *MemoryRepo) KeywordCount(asin string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, k := range r.keywords {
		if k.ASIN == asin {
			n++
		}
	}
	return n
}

// AnalysisCount reports how many analysis rows exist for nicheID.
func (r *MemoryRepo) AnalysisCount(nicheID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.analyses[nicheID])
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}
