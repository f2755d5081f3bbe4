package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"niche-backend/internal/shared/telemetry"
)

// Scheduler runs the periodic niche and run-retention jobs.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	entries map[string]cron.EntryID
}

const (
	jobDueNiches  = "due-niches"
	jobRunCleanup = "run-cleanup"
)

// newCron skips a tick while the previous run of the same job is still busy.
func newCron() *cron.Cron {
	return cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
}

// NewScheduler registers the due-niche sweep on ScheduleCron and the run
// cleanup on CleanupCron. An empty spec leaves that job off.
func (a *App) NewScheduler(ctx context.Context) (*Scheduler, error) {
	s := &Scheduler{cron: newCron(), ctx: ctx, entries: map[string]cron.EntryID{}}
	if err := s.add(jobDueNiches, a.Config.ScheduleCron, func() { a.processDueNiches(ctx) }); err != nil {
		return nil, err
	}
	if err := s.add(jobRunCleanup, a.Config.CleanupCron, func() { a.cleanupRuns(ctx) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, fn func()) error {
	if spec == "" {
		return nil
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("%s cron %q: %w", name, spec, err)
	}
	s.entries[name] = id
	telemetry.Info("scheduler.registered", map[string]any{"job": name, "spec": spec})
	return nil
}

// job returns the chain-wrapped job registered under name.
func (s *Scheduler) job(name string) (cron.Job, bool) {
	id, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return s.cron.Entry(id).WrappedJob, true
}

// Start runs the scheduler until its context is cancelled.
func (s *Scheduler) Start() {
	s.cron.Start()
	go func() {
		<-s.ctx.Done()
		<-s.cron.Stop().Done()
	}()
}

func (a *App) processDueNiches(ctx context.Context) {
	n, err := a.NicheProcessor.ProcessDue(ctx, time.Now().UTC())
	if err != nil {
		telemetry.Error("scheduler.niches.failed", map[string]any{"error": err.Error()})
		return
	}
	if n > 0 {
		telemetry.Info("scheduler.niches.processed", map[string]any{"count": n})
	}
}

func (a *App) cleanupRuns(ctx context.Context) {
	days := a.Orchestrator.Tunables.RetentionDays
	n, err := a.Orchestrator.CleanupOldRuns(ctx, days)
	if err != nil {
		telemetry.Error("scheduler.cleanup.failed", map[string]any{"error": err.Error()})
		return
	}
	telemetry.Info("scheduler.cleanup.done", map[string]any{"deleted": n, "retention_days": days})
}
