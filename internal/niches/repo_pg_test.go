package niches

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"niche-backend/internal/market"
)

// arrayConverter lets []string arguments through the way the pgx driver
// accepts them.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoClaimForProcessing(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-2 * time.Hour)

	cases := []struct {
		name     string
		affected int64
		exists   bool
		want     error
	}{
		{name: "claimed", affected: 1},
		{name: "held by another run", affected: 0, exists: true, want: ErrAlreadyProcessing},
		{name: "missing", affected: 0, exists: false, want: ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectExec("UPDATE niches").
				WithArgs("niche-1", sqlmock.AnyArg(), now, stale, "run-1").
				WillReturnResult(sqlmock.NewResult(0, tc.affected))
			if tc.affected == 0 {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("niche-1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tc.exists))
			}

			err := repo.ClaimForProcessing(context.Background(), "niche-1", Progress{RunID: "run-1"}, now, stale)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("ExpectationsWereMet: %v", err)
			}
		})
	}
}

func TestPGRepoFinishFencedByRunID(t *testing.T) {
	done := time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC)
	outcome := Outcome{Status: StatusCompleted, CompletedAt: done}

	cases := []struct {
		name     string
		affected int64
		exists   bool
		want     error
	}{
		{name: "owner", affected: 1},
		{name: "reclaimed by newer run", affected: 0, exists: true, want: ErrClaimLost},
		{name: "deleted", affected: 0, exists: false, want: ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectExec(`WHERE id = \$1 AND processing_run_id IS NOT DISTINCT FROM NULLIF\(\$2, ''\)`).
				WithArgs("niche-1", "run-old", StatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg(), "", 0, 0, done).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))
			if tc.affected == 0 {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("niche-1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tc.exists))
			}

			err := repo.Finish(context.Background(), "niche-1", "run-old", outcome)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("ExpectationsWereMet: %v", err)
			}
		})
	}
}

func TestPGRepoUpdateProgressFencedByRunID(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE niches SET processing_progress").
		WithArgs("niche-1", "run-old", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("niche-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.UpdateProgress(context.Background(), "niche-1", "run-old", Progress{RunID: "run-old"})
	if !errors.Is(err, ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetDecodesArraysAndProgress(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	started := created.Add(time.Hour)

	cols := make([]string, 29)
	for i := range cols {
		cols[i] = "c"
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"niche-1", "user-1", "Garlic presses", "Kitchen",
		`["kitchen"]`, `["B000000001","B000000002"]`,
		"US", StatusProcessing, `{"runId":"run-1","stage":"keywords","current":2,"total":2}`, nil, "",
		0, 0, nil, started, nil, nil,
		72, "Medium", 120000.0,
		24.5, 15000.0, 4.3,
		800, 12, 10000.0,
		`["garlic press"]`, created, created,
	)
	mock.ExpectQuery("(?s)SELECT .* FROM niches WHERE id = \\$1").
		WithArgs("niche-1").
		WillReturnRows(rows)

	n, err := repo.Get(context.Background(), "niche-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(n.ASINs) != 2 || n.ASINs[1] != "B000000002" {
		t.Fatalf("unexpected asins %v", n.ASINs)
	}
	if n.Progress == nil || n.Progress.Stage != StageKeywords || n.Progress.RunID != "run-1" {
		t.Fatalf("unexpected progress %+v", n.Progress)
	}
	if n.Notes != nil {
		t.Fatalf("expected nil notes, got %+v", n.Notes)
	}
	if n.ProcessStartedAt == nil || !n.ProcessStartedAt.Equal(started) {
		t.Fatalf("unexpected started at %v", n.ProcessStartedAt)
	}
	if n.Analytics.OpportunityScore != 72 || n.Analytics.CompetitionLevel != "Medium" {
		t.Fatalf("unexpected analytics %+v", n.Analytics)
	}
	if len(n.Analytics.NicheKeywords) != 1 {
		t.Fatalf("unexpected niche keywords %v", n.Analytics.NicheKeywords)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("(?s)SELECT .* FROM niches").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoUpsertAnalysisTargetsKnownTable(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO niches_pricing_analysis").
		WithArgs("niche-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpsertAnalysis(context.Background(), "niche-1", PricingAnalysis{AveragePrice: 20}); err != nil {
		t.Fatalf("UpsertAnalysis: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

type bogusAnalysis struct{}

func (bogusAnalysis) Table() string { return "users; DROP TABLE niches" }

func TestPGRepoUpsertAnalysisRejectsUnknownTable(t *testing.T) {
	repo, mock := newMockRepo(t)
	if err := repo.UpsertAnalysis(context.Background(), "niche-1", bogusAnalysis{}); err == nil {
		t.Fatalf("expected error for unknown table")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected statements: %v", err)
	}
}

func TestPGRepoDeleteRemovesOrphanProducts(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM niches WHERE id = \\$1 RETURNING").
		WithArgs("niche-1").
		WillReturnRows(sqlmock.NewRows([]string{"asins"}).AddRow(`["B000000001","B000000002"]`))
	mock.ExpectExec("DELETE FROM products p").
		WithArgs([]string{"B000000001", "B000000002"}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Delete(context.Background(), "niche-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoDeleteMissingRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM niches").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if err := repo.Delete(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoInsertReviewsIgnoresDuplicates(t *testing.T) {
	repo, mock := newMockRepo(t)
	reviews := []Review{
		{ASIN: "B000000001", ReviewID: "r1", Rating: 5, Content: "great"},
		{ASIN: "B000000001", ReviewID: "r2", Rating: 2, Content: "broke"},
	}
	mock.ExpectBegin()
	for _, rv := range reviews {
		mock.ExpectExec("(?s)INSERT INTO product_reviews.*ON CONFLICT \\(product_id, review_id\\) DO NOTHING").
			WithArgs(sqlmock.AnyArg(), rv.ASIN, rv.ReviewID, rv.Rating, "", rv.Content, false, 0, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := repo.InsertReviews(context.Background(), reviews); err != nil {
		t.Fatalf("InsertReviews: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpdateProductScoresMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE products SET opportunity_score").
		WithArgs("B000000001", 70, 40, 55).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateProductScores(context.Background(), "B000000001", market.Scores{Opportunity: 70, Competition: 40, Demand: 55})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
