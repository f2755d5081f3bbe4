// Package analysisruns runs queued, resumable market analyses of a niche:
// a fixed list of steps with per-step persistence, cost accounting and
// monthly quotas.
package analysisruns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"niche-backend/internal/clients/apify"
	"niche-backend/internal/clients/keepa"
	"niche-backend/internal/llm"
	"niche-backend/internal/niches"
	"niche-backend/internal/queue"
	"niche-backend/internal/shared/config"
	"niche-backend/internal/shared/metrics"
	"niche-backend/internal/shared/telemetry"
)

const defaultTier = "free"

// NicheStore is the part of the niche store a run reads and updates.
type NicheStore interface {
	Get(ctx context.Context, nicheID string) (niches.Niche, error)
	ProductsByASINs(ctx context.Context, asins []string) ([]niches.Product, error)
	UpdateAnalytics(ctx context.Context, nicheID string, analytics niches.Analytics, analyzedAt time.Time) error
}

// ProductSource fetches Keepa products in batches.
type ProductSource interface {
	GetProducts(ctx context.Context, asins []string, opts keepa.Options) ([]keepa.Product, error)
}

// CompetitorSource scrapes competitor listings.
type CompetitorSource interface {
	Configured() bool
	GetCompetitors(ctx context.Context, asins []string) (map[string]apify.Competitor, error)
}

// ReviewSource scrapes reviews for one ASIN.
type ReviewSource interface {
	Configured() bool
	GetReviews(ctx context.Context, asin string, opts apify.ReviewOptions) ([]apify.Review, error)
}

var (
	_ ProductSource    = (*keepa.Client)(nil)
	_ CompetitorSource = (*apify.Client)(nil)
	_ ReviewSource     = (*apify.Client)(nil)
)

// Deps are the collaborators of an Orchestrator. Competitors, Reviews, LLM
// and Notifier may be nil.
type Deps struct {
	Repo        Repo
	Niches      NicheStore
	Queue       queue.Client
	Products    ProductSource
	Competitors CompetitorSource
	Reviews     ReviewSource
	LLM         llm.Client
	Notifier    Notifier
	Pipeline    config.Pipeline
}

// Orchestrator starts, executes, resumes and cancels analysis runs.
type Orchestrator struct {
	Repo        Repo
	Niches      NicheStore
	Queue       queue.Client
	Products    ProductSource
	Competitors CompetitorSource
	Reviews     ReviewSource
	LLM         llm.Client
	Notifier    Notifier
	Tunables    config.OrchestratorTunables
	Quotas      map[string]int
	Now         func() time.Time
	NewID       func() string

	validate *validator.Validate
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(d Deps) *Orchestrator {
	pipeline := d.Pipeline
	if pipeline.Orchestrator.FanOut == 0 {
		pipeline = config.DefaultPipeline()
	}
	return &Orchestrator{
		Repo:        d.Repo,
		Niches:      d.Niches,
		Queue:       d.Queue,
		Products:    d.Products,
		Competitors: d.Competitors,
		Reviews:     d.Reviews,
		LLM:         d.LLM,
		Notifier:    d.Notifier,
		Tunables:    pipeline.Orchestrator,
		Quotas:      pipeline.Quotas,
		Now:         func() time.Time { return time.Now().UTC() },
		NewID:       uuid.NewString,
		validate:    validator.New(),
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now().UTC()
	}
	return o.Now()
}

func (o *Orchestrator) newID() string {
	if o.NewID == nil {
		return uuid.NewString()
	}
	return o.NewID()
}

// ValidateConfig applies defaults and validates cfg.
func (o *Orchestrator) ValidateConfig(cfg Config) (Config, error) {
	cfg = cfg.WithDefaults()
	v := o.validate
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(cfg); err != nil {
		return cfg, &Error{Code: CodeInvalidConfig, Message: "Invalid analysis configuration", Err: err}
	}
	return cfg, nil
}

// StartAnalysis validates cfg, enforces the owner's quota, records a queued
// run and enqueues it. It returns the run id.
func (o *Orchestrator) StartAnalysis(ctx context.Context, cfg Config) (string, error) {
	cfg, err := o.ValidateConfig(cfg)
	if err != nil {
		return "", err
	}

	niche, err := o.Niches.Get(ctx, cfg.NicheID)
	if errors.Is(err, niches.ErrNotFound) || (err == nil && niche.UserID != cfg.UserID) {
		return "", newError(CodeNicheNotFound, "Niche not found or access denied")
	}
	if err != nil {
		return "", fmt.Errorf("load niche: %w", err)
	}

	if err := o.CheckQuota(ctx, cfg.UserID); err != nil {
		return "", err
	}

	now := o.now()
	run := Run{
		ID:        o.newID(),
		NicheID:   cfg.NicheID,
		UserID:    cfg.UserID,
		Status:    StatusQueued,
		Config:    cfg,
		Steps:     NewSteps(cfg),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.Repo.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	priority := queue.PriorityFor(cfg.Priority)
	if err := o.enqueue(ctx, run.ID, priority, false, ""); err != nil {
		if uerr := o.Repo.UpdateRunStatus(ctx, run.ID, StatusFailed, "Failed to queue analysis", o.now()); uerr != nil {
			telemetry.Error("run.status.update_failed", map[string]any{"run_id": run.ID, "error": uerr.Error()})
		}
		return "", fmt.Errorf("enqueue run: %w", err)
	}

	o.logEvent(ctx, run, EventQueued, map[string]any{"jobId": run.ID, "priority": priority})
	metrics.IncRunStarted()
	telemetry.Info("run.queued", map[string]any{
		"run_id":     run.ID,
		"niche_id":   run.NicheID,
		"user_id":    run.UserID,
		"priority":   cfg.Priority,
		"steps":      len(run.Steps),
		"request_id": telemetry.RequestID(ctx),
	})
	return run.ID, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, runID string, priority int, resume bool, lastCompleted string) error {
	if o.Queue == nil {
		return errors.New("queue not configured")
	}
	return o.Queue.Send(ctx, queue.Message{
		RunID:             runID,
		RequestID:         telemetry.RequestID(ctx),
		Priority:          priority,
		Resume:            resume,
		LastCompletedStep: lastCompleted,
		EnqueuedAt:        o.now().Format(time.RFC3339),
		Version:           queue.MessageVersion,
	})
}

// Usage reports the monthly run allowance of a user.
type Usage struct {
	Tier  string `json:"tier"`
	Limit int    `json:"limit"`
	Used  int    `json:"used"`
}

// Usage counts the runs userID started this calendar month (UTC) against the
// limit of their tier. Unknown users and tiers get the free allowance; a
// negative limit is unlimited.
func (o *Orchestrator) Usage(ctx context.Context, userID string) (Usage, error) {
	tier, err := o.Repo.UserTier(ctx, userID)
	if err != nil {
		return Usage{}, fmt.Errorf("load user tier: %w", err)
	}
	if tier == "" {
		tier = defaultTier
	}
	used, err := o.Repo.CountRunsSince(ctx, userID, monthStart(o.now()))
	if err != nil {
		return Usage{}, fmt.Errorf("count runs: %w", err)
	}
	return Usage{Tier: tier, Limit: o.quotaFor(tier), Used: used}, nil
}

// CheckQuota fails with *QuotaExceededError when userID has used up the
// runs of their tier.
func (o *Orchestrator) CheckQuota(ctx context.Context, userID string) error {
	u, err := o.Usage(ctx, userID)
	if err != nil {
		return err
	}
	if u.Limit >= 0 && u.Used >= u.Limit {
		return &QuotaExceededError{Limit: u.Limit, Used: u.Used}
	}
	return nil
}

func (o *Orchestrator) quotaFor(tier string) int {
	quotas := o.Quotas
	if quotas == nil {
		quotas = config.DefaultPipeline().Quotas
	}
	if tier == "" {
		tier = defaultTier
	}
	if limit, ok := quotas[tier]; ok {
		return limit
	}
	return quotas[defaultTier]
}

func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// GetAnalysisStatus returns the observable state of a run.
func (o *Orchestrator) GetAnalysisStatus(ctx context.Context, runID string) (StatusView, error) {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return StatusView{}, err
	}
	return run.View(), nil
}

// Events lists the audit events of a run.
func (o *Orchestrator) Events(ctx context.Context, runID string) ([]Event, error) {
	if _, err := o.getRun(ctx, runID); err != nil {
		return nil, err
	}
	return o.Repo.Events(ctx, runID)
}

func (o *Orchestrator) getRun(ctx context.Context, runID string) (Run, error) {
	run, err := o.Repo.GetRun(ctx, runID)
	if errors.Is(err, ErrNotFound) {
		return Run{}, &Error{Code: CodeRunNotFound, Message: "Analysis run not found", RunID: runID}
	}
	if err != nil {
		return Run{}, fmt.Errorf("load run: %w", err)
	}
	return run, nil
}

// ResumeAnalysis re-queues a failed or partially completed run so it
// continues after its last completed step.
func (o *Orchestrator) ResumeAnalysis(ctx context.Context, runID string) error {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != StatusFailed && run.Status != StatusPartiallyCompleted {
		return &Error{Code: CodeInvalidState, Message: "Analysis cannot be resumed in current state", RunID: runID}
	}

	last := run.LastCompletedStep()
	if err := o.Repo.UpdateRunStatus(ctx, runID, StatusQueued, "", o.now()); err != nil {
		return fmt.Errorf("requeue run: %w", err)
	}
	if err := o.enqueue(ctx, runID, queue.PriorityFor(run.Config.Priority), true, last); err != nil {
		if uerr := o.Repo.UpdateRunStatus(ctx, runID, run.Status, run.ErrorMessage, o.now()); uerr != nil {
			telemetry.Error("run.status.update_failed", map[string]any{"run_id": runID, "error": uerr.Error()})
		}
		return fmt.Errorf("enqueue run: %w", err)
	}

	o.logEvent(ctx, run, EventResumed, map[string]any{"lastCompletedStep": last})
	telemetry.Info("run.resumed", map[string]any{"run_id": runID, "last_completed_step": last})
	return nil
}

// CancelAnalysis stops any run that has not completed, including a failed or
// partially completed one whose retry is still waiting in the queue. A
// pending job is removed when the queue supports it; a step already
// executing finishes, and the worker stops before the next one. Deliveries
// that cannot be removed are skipped by ProcessRun.
func (o *Orchestrator) CancelAnalysis(ctx context.Context, runID string) error {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == StatusCompleted || run.Cancelled() {
		return &Error{Code: CodeInvalidState, Message: "Analysis cannot be cancelled in current state", RunID: runID}
	}

	removed := false
	if rm, ok := o.Queue.(queue.Remover); ok {
		removed, err = rm.Remove(ctx, runID)
		if err != nil {
			telemetry.Warn("run.cancel.remove_failed", map[string]any{"run_id": runID, "error": err.Error()})
		}
	}
	if err := o.Repo.UpdateRunStatus(ctx, runID, StatusFailed, MsgCancelled, o.now()); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}

	o.logEvent(ctx, run, EventCancelled, map[string]any{"removedFromQueue": removed})
	telemetry.Info("run.cancelled", map[string]any{"run_id": runID, "removed_from_queue": removed})
	return nil
}

// CleanupOldRuns deletes completed and failed runs created more than days
// ago. A non-positive days uses the configured retention.
func (o *Orchestrator) CleanupOldRuns(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = o.Tunables.RetentionDays
	}
	if days <= 0 {
		days = config.DefaultPipeline().Orchestrator.RetentionDays
	}
	cutoff := o.now().AddDate(0, 0, -days)
	n, err := o.Repo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old runs: %w", err)
	}
	telemetry.Info("run.cleanup", map[string]any{"deleted": n, "cutoff": cutoff.Format(time.RFC3339)})
	return n, nil
}

// QueueStats combines queue depth, when the backend reports it, with run
// counts from the store.
func (o *Orchestrator) QueueStats(ctx context.Context) (QueueStats, error) {
	counts, err := o.Repo.CountByStatus(ctx)
	if err != nil {
		return QueueStats{}, fmt.Errorf("count runs: %w", err)
	}
	st := QueueStats{
		Waiting:   counts[StatusQueued],
		Active:    counts[StatusProcessing],
		Completed: counts[StatusCompleted],
		Failed:    counts[StatusFailed] + counts[StatusPartiallyCompleted],
	}
	if sr, ok := o.Queue.(queue.StatsReporter); ok {
		qs, err := sr.Stats(ctx)
		if err != nil {
			telemetry.Warn("queue.stats_failed", map[string]any{"error": err.Error()})
			return st, nil
		}
		st.Waiting = qs.Waiting
		st.Active = qs.Active
		st.Delayed = qs.Delayed
	}
	return st, nil
}

func (o *Orchestrator) logEvent(ctx context.Context, run Run, eventType string, data map[string]any) {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	event := Event{
		ID:        o.newID(),
		RunID:     run.ID,
		UserID:    run.UserID,
		Type:      eventType,
		Data:      raw,
		CreatedAt: o.now(),
	}
	if err := o.Repo.InsertEvent(ctx, event); err != nil {
		telemetry.Warn("run.event.insert_failed", map[string]any{
			"run_id": run.ID,
			"event":  eventType,
			"error":  err.Error(),
		})
	}
}
