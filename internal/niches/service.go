package niches

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"niche-backend/internal/shared/util"
)

var ErrInvalidInput = errors.New("invalid input")

const (
	maxNameLength      = 120
	maxASINsPerNiche   = 100
	defaultMarketplace = "US"
)

// CreateInput is the user-supplied part of a new niche.
type CreateInput struct {
	Name          string
	Category      string
	Tags          []string
	ASINs         []string
	Marketplace   string
	ScheduledDate *time.Time
}

// Service owns niche lifecycle rules on top of the repo and processor.
type Service struct {
	Repo      Repo
	Processor *Processor
	Now       func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repo, processor *Processor) *Service {
	return &Service{Repo: repo, Processor: processor}
}

// Create validates input and stores a pending niche.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (Niche, error) {
	if userID == "" {
		return Niche{}, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Niche{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return Niche{}, fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLength)
	}
	asins, invalid := util.NormalizeASINs(in.ASINs)
	if len(invalid) > 0 {
		return Niche{}, fmt.Errorf("%w: invalid asins: %s", ErrInvalidInput, strings.Join(invalid, ", "))
	}
	if len(asins) == 0 {
		return Niche{}, fmt.Errorf("%w: %v", ErrInvalidInput, ErrNoASINs)
	}
	if len(asins) > maxASINsPerNiche {
		return Niche{}, fmt.Errorf("%w: at most %d asins per niche", ErrInvalidInput, maxASINsPerNiche)
	}
	marketplace := strings.ToUpper(strings.TrimSpace(in.Marketplace))
	if marketplace == "" {
		marketplace = defaultMarketplace
	}

	now := s.now()
	niche := Niche{
		ID:            uuid.NewString(),
		UserID:        userID,
		Name:          name,
		Category:      strings.TrimSpace(in.Category),
		Tags:          cleanTags(in.Tags),
		ASINs:         asins,
		Marketplace:   marketplace,
		Status:        StatusPending,
		ScheduledDate: in.ScheduledDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Repo.Create(ctx, niche); err != nil {
		return Niche{}, err
	}
	return niche, nil
}

// Get returns the niche when userID owns it. Other users see ErrNotFound.
func (s *Service) Get(ctx context.Context, userID, nicheID string) (Niche, error) {
	niche, err := s.Repo.Get(ctx, nicheID)
	if err != nil {
		return Niche{}, err
	}
	if niche.UserID != userID {
		return Niche{}, ErrNotFound
	}
	return niche, nil
}

// Process starts a background run for an owned niche.
func (s *Service) Process(ctx context.Context, userID, nicheID string) (Job, error) {
	niche, err := s.Get(ctx, userID, nicheID)
	if err != nil {
		return Job{}, err
	}
	return s.Processor.Start(ctx, ProcessRequest{
		NicheID:     niche.ID,
		Name:        niche.Name,
		ASINs:       niche.ASINs,
		Marketplace: niche.Marketplace,
	})
}

// RetryFailed re-fetches the failed ASINs of an owned niche in the background.
func (s *Service) RetryFailed(ctx context.Context, userID, nicheID string) (Job, error) {
	if _, err := s.Get(ctx, userID, nicheID); err != nil {
		return Job{}, err
	}
	return s.Processor.StartRetry(ctx, nicheID)
}

// Progress returns the stored processing state of an owned niche.
func (s *Service) Progress(ctx context.Context, userID, nicheID string) (StatusView, error) {
	if _, err := s.Get(ctx, userID, nicheID); err != nil {
		return StatusView{}, err
	}
	return s.Processor.GetProgress(ctx, nicheID)
}

// Analysis loads one analysis table row by table name.
func (s *Service) Analysis(ctx context.Context, userID, nicheID, table string) (Analysis, error) {
	if _, err := s.Get(ctx, userID, nicheID); err != nil {
		return nil, err
	}
	dst := NewAnalysis(table)
	if dst == nil {
		return nil, fmt.Errorf("%w: unknown analysis %q", ErrInvalidInput, table)
	}
	if err := s.Repo.GetAnalysis(ctx, nicheID, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Products returns the stored products of an owned niche.
func (s *Service) Products(ctx context.Context, userID, nicheID string) ([]Product, error) {
	niche, err := s.Get(ctx, userID, nicheID)
	if err != nil {
		return nil, err
	}
	return s.Repo.ProductsByASINs(ctx, niche.ASINs)
}

// Delete removes an owned niche. A niche mid-run cannot be deleted.
func (s *Service) Delete(ctx context.Context, userID, nicheID string) error {
	niche, err := s.Get(ctx, userID, nicheID)
	if err != nil {
		return err
	}
	if niche.Status == StatusProcessing {
		return ErrAlreadyProcessing
	}
	return s.Repo.Delete(ctx, nicheID)
}

// NewAnalysis returns an empty analysis value for a table name, accepting
// the short form without the "niches_" prefix.
func NewAnalysis(table string) Analysis {
	if !strings.HasPrefix(table, "niches_") {
		table = "niches_" + table
	}
	for _, a := range []Analysis{
		&MarketInsights{},
		&CompetitionAnalysis{},
		&FinancialAnalysis{},
		&KeywordAnalysis{},
		&LaunchStrategy{},
		&ListingOptimization{},
		&PricingAnalysis{},
	} {
		if a.Table() == table {
			return a
		}
	}
	return nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
