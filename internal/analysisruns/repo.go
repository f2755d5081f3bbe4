package analysisruns

import (
	"context"
	"time"
)

// Repo persists runs, their events and the user tier used for quotas.
type Repo interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	// UpdateRunStatus sets status and error. Moving to processing stamps
	// started_at once and counts an attempt; terminal statuses stamp
	// completed_at and every other status clears it.
	UpdateRunStatus(ctx context.Context, runID, status, errorMessage string, now time.Time) error
	SaveSteps(ctx context.Context, runID string, steps []Step, progress int, currentStep string, now time.Time) error
	SaveResults(ctx context.Context, runID string, results Results, costs Costs, now time.Time) error
	CountRunsSince(ctx context.Context, userID string, since time.Time) (int, error)
	// DeleteFinishedBefore removes completed and failed runs created before
	// cutoff and returns how many were deleted.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	// UserTier returns the subscription tier of userID, or "" when the user
	// is unknown.
	UserTier(ctx context.Context, userID string) (string, error)

	InsertEvent(ctx context.Context, event Event) error
	Events(ctx context.Context, runID string) ([]Event, error)
}
