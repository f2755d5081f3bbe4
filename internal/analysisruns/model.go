package analysisruns

import (
	"encoding/json"
	"strings"
	"time"
)

// Run statuses.
const (
	StatusQueued             = "queued"
	StatusProcessing         = "processing"
	StatusCompleted          = "completed"
	StatusPartiallyCompleted = "partially_completed"
	StatusFailed             = "failed"
)

// Step statuses.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// Step names, in execution order.
const (
	StepFetchNicheProducts  = "fetch_niche_products"
	StepFetchKeepaData      = "fetch_keepa_data"
	StepFetchCompetitorData = "fetch_competitor_data"
	StepFetchReviewData     = "fetch_review_data"
	StepAnalyzeMarket       = "analyze_market"
	StepGenerateAIInsights  = "generate_ai_insights"
	StepCalculateScores     = "calculate_scores"
)

// Event types written to analysis_events.
const (
	EventQueued     = "analysis_queued"
	EventResumed    = "analysis_resumed"
	EventCancelled  = "analysis_cancelled"
	EventFinalized  = "analysis_finalized"
	EventJobDone    = "job_completed"
	EventJobFailed  = "job_failed"
	EventStepFailed = "step_failed"
)

// MsgCancelled is the error message of a run cancelled by its owner.
const MsgCancelled = "Analysis cancelled by user"

// Priorities.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

const (
	defaultMaxProducts = 20
	maxMaxProducts     = 100
)

// criticalSteps abort the run when they fail.
var criticalSteps = map[string]bool{
	StepFetchNicheProducts: true,
	StepFetchKeepaData:     true,
	StepCalculateScores:    true,
}

// IsCritical reports whether a failure of step aborts the run.
func IsCritical(step string) bool { return criticalSteps[step] }

// Config describes what one analysis run covers.
type Config struct {
	NicheID              string `json:"nicheId" validate:"required,uuid"`
	UserID               string `json:"userId" validate:"required,uuid"`
	IncludeReviews       *bool  `json:"includeReviews,omitempty"`
	IncludeCompetitors   *bool  `json:"includeCompetitors,omitempty"`
	IncludeSocialMedia   bool   `json:"includeSocialMedia"`
	MaxProductsToAnalyze int    `json:"maxProductsToAnalyze" validate:"gte=0,lte=100"`
	Priority             string `json:"priority" validate:"omitempty,oneof=high normal low"`
	WebhookURL           string `json:"webhookUrl,omitempty" validate:"omitempty,url"`
}

// WithDefaults fills unset options.
func (c Config) WithDefaults() Config {
	c.NicheID = strings.TrimSpace(c.NicheID)
	c.UserID = strings.TrimSpace(c.UserID)
	if c.IncludeReviews == nil {
		c.IncludeReviews = boolPtr(true)
	}
	if c.IncludeCompetitors == nil {
		c.IncludeCompetitors = boolPtr(true)
	}
	if c.MaxProductsToAnalyze == 0 {
		c.MaxProductsToAnalyze = defaultMaxProducts
	}
	if c.Priority == "" {
		c.Priority = PriorityNormal
	}
	return c
}

func (c Config) Reviews() bool     { return c.IncludeReviews == nil || *c.IncludeReviews }
func (c Config) Competitors() bool { return c.IncludeCompetitors == nil || *c.IncludeCompetitors }

// MaxProducts returns the product cap, defaulting when unset.
func (c Config) MaxProducts() int {
	if c.MaxProductsToAnalyze <= 0 {
		return defaultMaxProducts
	}
	return min(c.MaxProductsToAnalyze, maxMaxProducts)
}

func boolPtr(v bool) *bool { return &v }

// StepNames returns the steps a run with cfg executes.
func StepNames(cfg Config) []string {
	names := []string{StepFetchNicheProducts, StepFetchKeepaData}
	if cfg.Competitors() {
		names = append(names, StepFetchCompetitorData)
	}
	if cfg.Reviews() {
		names = append(names, StepFetchReviewData)
	}
	return append(names, StepAnalyzeMarket, StepGenerateAIInsights, StepCalculateScores)
}

// NewSteps returns pending steps for cfg.
func NewSteps(cfg Config) []Step {
	names := StepNames(cfg)
	steps := make([]Step, len(names))
	for i, name := range names {
		steps[i] = Step{Name: name, Status: StepPending}
	}
	return steps
}

// Step is one unit of a run. Data holds the step's typed output as JSON so a
// resumed run can rebuild its state without re-fetching.
type Step struct {
	Name        string          `json:"name"`
	Status      string          `json:"status"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retryCount"`
	Costs       Costs           `json:"costs"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Costs are USD amounts attributed to each provider.
type Costs struct {
	Keepa float64 `json:"keepa"`
	Apify float64 `json:"apify"`
	AI    float64 `json:"ai"`
	Total float64 `json:"total"`
}

// Add returns c plus o with Total recomputed.
func (c Costs) Add(o Costs) Costs {
	out := Costs{Keepa: c.Keepa + o.Keepa, Apify: c.Apify + o.Apify, AI: c.AI + o.AI}
	out.Total = out.Keepa + out.Apify + out.AI
	return out
}

// Run is one analysis run of a niche.
type Run struct {
	ID           string     `json:"id"`
	NicheID      string     `json:"nicheId"`
	UserID       string     `json:"userId"`
	Status       string     `json:"status"`
	Config       Config     `json:"config"`
	Steps        []Step     `json:"steps"`
	Results      *Results   `json:"results,omitempty"`
	Costs        Costs      `json:"costs"`
	Progress     int        `json:"progress"`
	CurrentStep  string     `json:"currentStep,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Cancelled reports whether the run was cancelled by its owner.
func (r Run) Cancelled() bool {
	return r.Status == StatusFailed && r.ErrorMessage == MsgCancelled
}

// LastCompletedStep returns the name of the last completed step, or "".
func (r Run) LastCompletedStep() string {
	last := ""
	for _, s := range r.Steps {
		if s.Status == StepCompleted {
			last = s.Name
		}
	}
	return last
}

// IsTerminal reports whether status ends a run.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed:
		return true
	}
	return false
}

// StatusView is the externally visible state of a run.
type StatusView struct {
	RunID       string       `json:"runId"`
	NicheID     string       `json:"nicheId"`
	UserID      string       `json:"userId"`
	Status      string       `json:"status"`
	Progress    ProgressView `json:"progress"`
	Steps       []Step       `json:"steps"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	Error       string       `json:"error,omitempty"`
	Results     *Results     `json:"results,omitempty"`
	Costs       Costs        `json:"costs"`
}

// ProgressView counts completed steps.
type ProgressView struct {
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Percentage  int    `json:"percentage"`
	CurrentStep string `json:"currentStep,omitempty"`
}

// View projects r without the per-step payloads.
func (r Run) View() StatusView {
	steps := make([]Step, len(r.Steps))
	completed := 0
	for i, s := range r.Steps {
		s.Data = nil
		steps[i] = s
		if s.Status == StepCompleted {
			completed++
		}
	}
	return StatusView{
		RunID:   r.ID,
		NicheID: r.NicheID,
		UserID:  r.UserID,
		Status:  r.Status,
		Progress: ProgressView{
			Current:     completed,
			Total:       len(r.Steps),
			Percentage:  r.Progress,
			CurrentStep: r.CurrentStep,
		},
		Steps:       steps,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Error:       r.ErrorMessage,
		Results:     r.Results,
		Costs:       r.Costs,
	}
}

// Event is an append-only audit record of a run.
type Event struct {
	ID        string          `json:"id"`
	RunID     string          `json:"runId"`
	UserID    string          `json:"userId,omitempty"`
	Type      string          `json:"eventType"`
	Data      json.RawMessage `json:"eventData,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// QueueStats reports job counts by state.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}
