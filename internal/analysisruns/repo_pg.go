package analysisruns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const runColumns = `
id, niche_id, user_id, status, config::text, steps::text,
COALESCE(results::text, ''), COALESCE(costs::text, ''),
progress, COALESCE(current_step, ''), COALESCE(error_message, ''), attempts,
created_at, started_at, completed_at, updated_at`

func (r *PGRepo) CreateRun(ctx context.Context, run Run) error {
	cfg, err := marshalJSONB(run.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	steps, err := marshalJSONB(nonNilSteps(run.Steps))
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	costs, err := marshalJSONB(run.Costs)
	if err != nil {
		return fmt.Errorf("marshal costs: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `
INSERT INTO analysis_runs (id, niche_id, user_id, status, config, steps, costs, progress, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		run.ID, run.NicheID, run.UserID, run.Status, cfg, steps, costs, run.Progress, run.CreatedAt,
	)
	return err
}

func (r *PGRepo) GetRun(ctx context.Context, runID string) (Run, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE id = $1`, runID)

	var (
		run                    Run
		cfg, steps             string
		results, costs         string
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.NicheID, &run.UserID, &run.Status, &cfg, &steps,
		&results, &costs,
		&run.Progress, &run.CurrentStep, &run.ErrorMessage, &run.Attempts,
		&run.CreatedAt, &startedAt, &completedAt, &run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(cfg), &run.Config); err != nil {
		return Run{}, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &run.Steps); err != nil {
		return Run{}, fmt.Errorf("decode steps: %w", err)
	}
	if results != "" && results != "null" {
		var res Results
		if err := json.Unmarshal([]byte(results), &res); err != nil {
			return Run{}, fmt.Errorf("decode results: %w", err)
		}
		run.Results = &res
	}
	if costs != "" && costs != "null" {
		if err := json.Unmarshal([]byte(costs), &run.Costs); err != nil {
			return Run{}, fmt.Errorf("decode costs: %w", err)
		}
	}
	run.StartedAt = nullTimePtr(startedAt)
	run.CompletedAt = nullTimePtr(completedAt)
	return run, nil
}

func (r *PGRepo) UpdateRunStatus(ctx context.Context, runID, status, errorMessage string, now time.Time) error {
	return r.execOne(ctx, `
UPDATE analysis_runs
SET status = $2::text,
    error_message = NULLIF($3, ''),
    started_at = CASE WHEN $2::text = 'processing' THEN COALESCE(started_at, $4) ELSE started_at END,
    attempts = attempts + CASE WHEN $2::text = 'processing' THEN 1 ELSE 0 END,
    completed_at = CASE WHEN $2::text IN ('completed', 'partially_completed', 'failed') THEN $4 ELSE NULL END,
    updated_at = $4
WHERE id = $1`,
		runID, status, errorMessage, now,
	)
}

func (r *PGRepo) SaveSteps(ctx context.Context, runID string, steps []Step, progress int, currentStep string, now time.Time) error {
	payload, err := marshalJSONB(nonNilSteps(steps))
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	return r.execOne(ctx, `
UPDATE analysis_runs
SET steps = $2, progress = $3, current_step = NULLIF($4, ''), updated_at = $5
WHERE id = $1`,
		runID, payload, progress, currentStep, now,
	)
}

func (r *PGRepo) SaveResults(ctx context.Context, runID string, results Results, costs Costs, now time.Time) error {
	res, err := marshalJSONB(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	c, err := marshalJSONB(costs)
	if err != nil {
		return fmt.Errorf("marshal costs: %w", err)
	}
	return r.execOne(ctx, `
UPDATE analysis_runs SET results = $2, costs = $3, updated_at = $4 WHERE id = $1`,
		runID, res, c, now,
	)
}

func (r *PGRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) CountRunsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM analysis_runs WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&n)
	return n, err
}

func (r *PGRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
DELETE FROM analysis_runs
WHERE created_at < $1 AND status IN ('completed', 'failed')`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (r *PGRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM analysis_runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r *PGRepo) UserTier(ctx context.Context, userID string) (string, error) {
	var tier string
	err := r.DB.QueryRowContext(ctx, `SELECT subscription_tier FROM users WHERE id = $1`, userID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return tier, err
}

func (r *PGRepo) InsertEvent(ctx context.Context, event Event) error {
	var data any
	if len(event.Data) > 0 {
		data = string(event.Data)
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO analysis_events (id, run_id, user_id, event_type, event_data, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`,
		event.ID, event.RunID, event.UserID, event.Type, data, event.CreatedAt,
	)
	return err
}

func (r *PGRepo) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, run_id, COALESCE(user_id, ''), event_type, COALESCE(event_data::text, ''), created_at
FROM analysis_events
WHERE run_id = $1
ORDER BY created_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			data string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.UserID, &e.Type, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		if data != "" {
			e.Data = json.RawMessage(data)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalJSONB(value any) (any, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

func nonNilSteps(steps []Step) []Step {
	if steps == nil {
		return []Step{}
	}
	return steps
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ Repo = (*PGRepo)(nil)
