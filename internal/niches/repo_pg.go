package niches

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"niche-backend/internal/clients/keepa"
	"niche-backend/internal/market"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const nicheColumns = `
id, user_id, name, COALESCE(category, ''),
COALESCE(array_to_json(tags), '[]')::text, COALESCE(array_to_json(asins), '[]')::text,
marketplace, status, processing_progress, processing_notes, COALESCE(error_message, ''),
total_products, failed_products, scheduled_date, process_started_at, process_completed_at, last_analyzed_at,
COALESCE(opportunity_score, 0), COALESCE(competition_level, ''), COALESCE(market_size, 0)::float8,
COALESCE(avg_price, 0)::float8, COALESCE(avg_bsr, 0)::float8, COALESCE(avg_rating, 0)::float8,
COALESCE(total_reviews, 0), COALESCE(total_keywords, 0), COALESCE(total_monthly_revenue, 0)::float8,
COALESCE(array_to_json(niche_keywords), '[]')::text, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNiche(row rowScanner) (Niche, error) {
	var n Niche
	var tags, asins, nicheKeywords string
	var progress, notes sql.NullString
	var scheduled, started, completed, analyzed sql.NullTime
	err := row.Scan(
		&n.ID, &n.UserID, &n.Name, &n.Category,
		&tags, &asins,
		&n.Marketplace, &n.Status, &progress, &notes, &n.ErrorMessage,
		&n.TotalProducts, &n.FailedProducts, &scheduled, &started, &completed, &analyzed,
		&n.Analytics.OpportunityScore, &n.Analytics.CompetitionLevel, &n.Analytics.MarketSize,
		&n.Analytics.AvgPrice, &n.Analytics.AvgBSR, &n.Analytics.AvgRating,
		&n.Analytics.TotalReviews, &n.Analytics.TotalKeywords, &n.Analytics.TotalMonthlyRevenue,
		&nicheKeywords, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return Niche{}, err
	}
	if err := decodeArrays(map[*[]string]string{
		&n.Tags:                    tags,
		&n.ASINs:                   asins,
		&n.Analytics.NicheKeywords: nicheKeywords,
	}); err != nil {
		return Niche{}, err
	}
	if progress.Valid && progress.String != "" {
		var p Progress
		if err := json.Unmarshal([]byte(progress.String), &p); err != nil {
			return Niche{}, fmt.Errorf("decode progress: %w", err)
		}
		n.Progress = &p
	}
	if notes.Valid && notes.String != "" {
		var nt Notes
		if err := json.Unmarshal([]byte(notes.String), &nt); err != nil {
			return Niche{}, fmt.Errorf("decode notes: %w", err)
		}
		n.Notes = &nt
	}
	n.ScheduledDate = nullTimePtr(scheduled)
	n.ProcessStartedAt = nullTimePtr(started)
	n.ProcessCompletedAt = nullTimePtr(completed)
	n.LastAnalyzedAt = nullTimePtr(analyzed)
	return n, nil
}

func (r *PGRepo) Create(ctx context.Context, niche Niche) error {
	const query = `
INSERT INTO niches (id, user_id, name, category, tags, asins, marketplace, status, scheduled_date, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.DB.ExecContext(ctx, query,
		niche.ID,
		niche.UserID,
		niche.Name,
		niche.Category,
		nonNil(niche.Tags),
		nonNil(niche.ASINs),
		niche.Marketplace,
		niche.Status,
		timePtrValue(niche.ScheduledDate),
		niche.CreatedAt,
		niche.UpdatedAt,
	)
	return err
}

func (r *PGRepo) Get(ctx context.Context, nicheID string) (Niche, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+nicheColumns+` FROM niches WHERE id = $1`, nicheID)
	n, err := scanNiche(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Niche{}, ErrNotFound
	}
	return n, err
}

// ClaimForProcessing flips status with a conditional update so two workers
// cannot both own the niche.
func (r *PGRepo) ClaimForProcessing(ctx context.Context, nicheID string, progress Progress, now, staleBefore time.Time) error {
	const query = `
UPDATE niches
SET status = 'processing', processing_progress = $2, processing_notes = NULL, error_message = NULL,
    process_started_at = $3, process_completed_at = NULL, updated_at = $3, processing_run_id = NULLIF($5, '')
WHERE id = $1 AND (status <> 'processing' OR process_started_at IS NULL OR process_started_at < $4)`
	payload, err := marshalJSONB(progress)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query, nicheID, payload, now, staleBefore, progress.RunID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM niches WHERE id = $1)`, nicheID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyProcessing
}

func (r *PGRepo) UpdateProgress(ctx context.Context, nicheID, runID string, progress Progress) error {
	const query = `
UPDATE niches SET processing_progress = $3, updated_at = now()
WHERE id = $1 AND processing_run_id IS NOT DISTINCT FROM NULLIF($2, '')`
	payload, err := marshalJSONB(progress)
	if err != nil {
		return err
	}
	return r.execFenced(ctx, nicheID, query, nicheID, runID, payload)
}

func (r *PGRepo) Finish(ctx context.Context, nicheID, runID string, outcome Outcome) error {
	const query = `
UPDATE niches
SET status = $3, processing_progress = $4, processing_notes = $5, error_message = NULLIF($6, ''),
    total_products = $7, failed_products = $8, process_completed_at = $9, updated_at = $9
WHERE id = $1 AND processing_run_id IS NOT DISTINCT FROM NULLIF($2, '')`
	progress, err := marshalJSONB(outcome.Progress)
	if err != nil {
		return err
	}
	var notes any
	if outcome.Notes != nil {
		if notes, err = marshalJSONB(outcome.Notes); err != nil {
			return err
		}
	}
	return r.execFenced(ctx, nicheID, query,
		nicheID,
		runID,
		outcome.Status,
		progress,
		notes,
		outcome.ErrorMessage,
		outcome.TotalProducts,
		outcome.FailedProducts,
		outcome.CompletedAt,
	)
}

func (r *PGRepo) UpdateAnalytics(ctx context.Context, nicheID string, a Analytics, analyzedAt time.Time) error {
	const query = `
UPDATE niches
SET opportunity_score = $2, competition_level = NULLIF($3, ''), market_size = $4, avg_price = $5,
    avg_bsr = $6, avg_rating = $7, total_reviews = $8, total_keywords = $9,
    total_monthly_revenue = $10, niche_keywords = $11, last_analyzed_at = $12, updated_at = $12
WHERE id = $1`
	return r.execOne(ctx, query,
		nicheID,
		a.OpportunityScore,
		a.CompetitionLevel,
		a.MarketSize,
		a.AvgPrice,
		a.AvgBSR,
		a.AvgRating,
		a.TotalReviews,
		a.TotalKeywords,
		a.TotalMonthlyRevenue,
		nonNil(a.NicheKeywords),
		analyzedAt,
	)
}

func (r *PGRepo) DuePending(ctx context.Context, now time.Time, limit int) ([]Niche, error) {
	query := `SELECT ` + nicheColumns + `
FROM niches
WHERE status = 'pending' AND scheduled_date IS NOT NULL AND scheduled_date <= $1
ORDER BY scheduled_date ASC
LIMIT $2`
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Niche
	for rows.Next() {
		n, err := scanNiche(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Delete removes the niche and, in the same transaction, products that no
// remaining niche references. Analysis rows cascade.
func (r *PGRepo) Delete(ctx context.Context, nicheID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var asins string
	err = tx.QueryRowContext(ctx, `DELETE FROM niches WHERE id = $1 RETURNING COALESCE(array_to_json(asins), '[]')::text`, nicheID).Scan(&asins)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var owned []string
	if err := json.Unmarshal([]byte(asins), &owned); err != nil {
		return err
	}
	if len(owned) > 0 {
		const orphans = `
DELETE FROM products p
WHERE p.asin = ANY($1)
  AND NOT EXISTS (SELECT 1 FROM niches n WHERE p.asin = ANY(n.asins))`
		if _, err := tx.ExecContext(ctx, orphans, owned); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PGRepo) UpsertProduct(ctx context.Context, p Product) error {
	const query = `
INSERT INTO products (
	asin, title, brand, category, price, rating, review_count, bsr, images,
	dimensions, fba_fees, monthly_sales, monthly_revenue, raw_data, updated_at
)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (asin) DO UPDATE SET
	title = EXCLUDED.title, brand = EXCLUDED.brand, category = EXCLUDED.category,
	price = EXCLUDED.price, rating = EXCLUDED.rating, review_count = EXCLUDED.review_count,
	bsr = EXCLUDED.bsr, images = EXCLUDED.images, dimensions = EXCLUDED.dimensions,
	fba_fees = EXCLUDED.fba_fees, monthly_sales = EXCLUDED.monthly_sales,
	monthly_revenue = EXCLUDED.monthly_revenue, raw_data = EXCLUDED.raw_data,
	updated_at = EXCLUDED.updated_at`
	dims, err := marshalJSONB(p.Dimensions)
	if err != nil {
		return err
	}
	var fees any
	if p.FBAFees != nil {
		if fees, err = marshalJSONB(p.FBAFees); err != nil {
			return err
		}
	}
	raw, err := marshalJSONB(p.Raw)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		p.ASIN,
		p.Title,
		p.Brand,
		p.Category,
		p.Price,
		p.Rating,
		p.ReviewCount,
		p.BSR,
		nonNil(p.Images),
		dims,
		fees,
		p.MonthlySales,
		p.MonthlyRevenue,
		raw,
		p.UpdatedAt,
	)
	return err
}

func (r *PGRepo) ProductsByASINs(ctx context.Context, asins []string) ([]Product, error) {
	if len(asins) == 0 {
		return nil, nil
	}
	const query = `
SELECT asin, title, COALESCE(brand, ''), COALESCE(category, ''), COALESCE(price, 0)::float8,
       COALESCE(rating, 0)::float8, review_count, COALESCE(bsr, 0),
       COALESCE(array_to_json(images), '[]')::text, dimensions, fba_fees,
       COALESCE(monthly_sales, 0), COALESCE(monthly_revenue, 0)::float8,
       COALESCE(opportunity_score, 0), COALESCE(competition_score, 0), COALESCE(demand_score, 0),
       raw_data, updated_at
FROM products
WHERE asin = ANY($1)
ORDER BY asin`
	rows, err := r.DB.QueryContext(ctx, query, asins)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		var images string
		var dims, fees, raw sql.NullString
		if err := rows.Scan(
			&p.ASIN, &p.Title, &p.Brand, &p.Category, &p.Price,
			&p.Rating, &p.ReviewCount, &p.BSR,
			&images, &dims, &fees,
			&p.MonthlySales, &p.MonthlyRevenue,
			&p.OpportunityScore, &p.CompetitionScore, &p.DemandScore,
			&raw, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
			return nil, err
		}
		if dims.Valid {
			if err := json.Unmarshal([]byte(dims.String), &p.Dimensions); err != nil {
				return nil, err
			}
		}
		if fees.Valid {
			var f keepa.FBAFees
			if err := json.Unmarshal([]byte(fees.String), &f); err != nil {
				return nil, err
			}
			p.FBAFees = &f
		}
		if raw.Valid {
			if err := json.Unmarshal([]byte(raw.String), &p.Raw); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PGRepo) UpdateProductScores(ctx context.Context, asin string, scores market.Scores) error {
	const query = `
UPDATE products SET opportunity_score = $2, competition_score = $3, demand_score = $4
WHERE asin = $1`
	return r.execOne(ctx, query, asin, scores.Opportunity, scores.Competition, scores.Demand)
}

func (r *PGRepo) InsertKeywords(ctx context.Context, keywords []Keyword) error {
	if len(keywords) == 0 {
		return nil
	}
	const query = `
INSERT INTO product_keywords (id, product_id, keyword, match_type, suggested_bid, estimated_clicks, estimated_orders, source, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, k := range keywords {
		id := k.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, query,
			id, k.ASIN, k.Keyword, k.MatchType, k.SuggestedBid,
			k.EstimatedClicks, k.EstimatedOrders, k.Source, k.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PGRepo) KeywordsForASINs(ctx context.Context, asins []string) ([]Keyword, error) {
	if len(asins) == 0 {
		return nil, nil
	}
	const query = `
SELECT id, product_id, keyword, COALESCE(match_type, ''), COALESCE(suggested_bid, 0)::float8,
       COALESCE(estimated_clicks, 0), COALESCE(estimated_orders, 0), source, created_at
FROM product_keywords
WHERE product_id = ANY($1)
ORDER BY product_id, created_at`
	rows, err := r.DB.QueryContext(ctx, query, asins)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Keyword
	for rows.Next() {
		var k Keyword
		if err := rows.Scan(&k.ID, &k.ASIN, &k.Keyword, &k.MatchType, &k.SuggestedBid,
			&k.EstimatedClicks, &k.EstimatedOrders, &k.Source, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// InsertReviews ignores reviews already stored for the same product.
func (r *PGRepo) InsertReviews(ctx context.Context, reviews []Review) error {
	if len(reviews) == 0 {
		return nil
	}
	const query = `
INSERT INTO product_reviews (id, product_id, review_id, rating, title, content, verified, helpful_votes, review_date)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
ON CONFLICT (product_id, review_id) DO NOTHING`
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, rv := range reviews {
		id := rv.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, query,
			id, rv.ASIN, rv.ReviewID, rv.Rating, rv.Title, rv.Content,
			rv.Verified, rv.HelpfulVotes, timePtrValue(rv.ReviewDate),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PGRepo) ReviewsForASINs(ctx context.Context, asins []string) ([]Review, error) {
	if len(asins) == 0 {
		return nil, nil
	}
	const query = `
SELECT id, product_id, review_id, COALESCE(rating, 0)::float8, COALESCE(title, ''), COALESCE(content, ''),
       verified, helpful_votes, review_date
FROM product_reviews
WHERE product_id = ANY($1)
ORDER BY product_id, review_id`
	rows, err := r.DB.QueryContext(ctx, query, asins)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Review
	for rows.Next() {
		var rv Review
		var date sql.NullTime
		if err := rows.Scan(&rv.ID, &rv.ASIN, &rv.ReviewID, &rv.Rating, &rv.Title, &rv.Content,
			&rv.Verified, &rv.HelpfulVotes, &date); err != nil {
			return nil, err
		}
		rv.ReviewDate = nullTimePtr(date)
		out = append(out, rv)
	}
	return out, rows.Err()
}

// UpsertAnalysis replaces the niche's row in the analysis's table. The
// table name comes from a fixed list, never from input.
func (r *PGRepo) UpsertAnalysis(ctx context.Context, nicheID string, analysis Analysis) error {
	table := analysis.Table()
	if !knownTable(table) {
		return fmt.Errorf("unknown analysis table %q", table)
	}
	payload, err := marshalJSONB(analysis)
	if err != nil {
		return err
	}
	query := `INSERT INTO ` + table + ` (niche_id, data, updated_at) VALUES ($1, $2, now())
ON CONFLICT (niche_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	_, err = r.DB.ExecContext(ctx, query, nicheID, payload)
	return err
}

func (r *PGRepo) GetAnalysis(ctx context.Context, nicheID string, dst Analysis) error {
	table := dst.Table()
	if !knownTable(table) {
		return fmt.Errorf("unknown analysis table %q", table)
	}
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE niche_id = $1`, nicheID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), dst)
}

// execFenced runs an update guarded by the processing run id. No affected
// row means either the niche is gone or a newer run owns it.
func (r *PGRepo) execFenced(ctx context.Context, nicheID, query string, args ...any) error {
	err := r.execOne(ctx, query, args...)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM niches WHERE id = $1)`, nicheID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrClaimLost
	}
	return ErrNotFound
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

func marshalJSONB(value any) (any, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

func decodeArrays(targets map[*[]string]string) error {
	for dst, raw := range targets {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return fmt.Errorf("decode array: %w", err)
		}
	}
	return nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timePtrValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
