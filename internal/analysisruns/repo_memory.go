package analysisruns

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo for development and tests.
type MemoryRepo struct {
	mu     sync.RWMutex
	runs   map[string]Run
	events []Event
	tiers  map[string]string

	// Tiers, when set, answers UserTier instead of the local table.
	Tiers interface {
		UserTier(ctx context.Context, userID string) (string, error)
	}
}

// NewMemoryRepo constructs an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{runs: map[string]Run{}, tiers: map[string]string{}}
}

// SetUserTier registers a user's subscription tier.
func (r *MemoryRepo) SetUserTier(userID, tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers[userID] = tier
}

// cloneRun deep-copies the mutable parts of a run so callers never share
// slices with the store.
func cloneRun(run Run) Run {
	raw, err := json.Marshal(run)
	if err != nil {
		return run
	}
	var out Run
	if err := json.Unmarshal(raw, &out); err != nil {
		return run
	}
	return out
}

func (r *MemoryRepo) CreateRun(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = cloneRun(run)
	return nil
}

func (r *MemoryRepo) GetRun(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return cloneRun(run), nil
}

func (r *MemoryRepo) UpdateRunStatus(ctx context.Context, runID, status, errorMessage string, now time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Status = status
		run.ErrorMessage = errorMessage
		switch {
		case status == StatusProcessing:
			if run.StartedAt == nil {
				run.StartedAt = &now
			}
			run.Attempts++
			run.CompletedAt = nil
		case IsTerminal(status):
			run.CompletedAt = &now
		default:
			run.CompletedAt = nil
		}
		run.UpdatedAt = now
	})
}

func (r *MemoryRepo) SaveSteps(ctx context.Context, runID string, steps []Step, progress int, currentStep string, now time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Steps = append([]Step(nil), steps...)
		run.Progress = progress
		run.CurrentStep = currentStep
		run.UpdatedAt = now
	})
}

func (r *MemoryRepo) SaveResults(ctx context.Context, runID string, results Results, costs Costs, now time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Results = &results
		run.Costs = costs
		run.UpdatedAt = now
	})
}

func (r *MemoryRepo) update(ctx context.Context, runID string, fn func(run *Run)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return ErrNotFound
	}
	fn(&run)
	r.runs[runID] = cloneRun(run)
	return nil
}

func (r *MemoryRepo) CountRunsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, run := range r.runs {
		if run.UserID == userID && !run.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, run := range r.runs {
		if run.CreatedAt.Before(cutoff) && (run.Status == StatusCompleted || run.Status == StatusFailed) {
			delete(r.runs, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]int{}
	for _, run := range r.runs {
		out[run.Status]++
	}
	return out, nil
}

func (r *MemoryRepo) UserTier(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.Tiers != nil {
		return r.Tiers.UserTier(ctx, userID)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tiers[userID], nil
}

func (r *MemoryRepo) InsertEvent(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *MemoryRepo) Events(ctx context.Context, runID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, e := range r.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
