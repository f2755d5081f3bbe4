package niches

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"niche-backend/internal/clients/keepa"
	"niche-backend/internal/shared/config"
)

func newTestRouter(t *testing.T, userID string) (*gin.Engine, *MemoryRepo, *fakeProducts) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := NewMemoryRepo()
	products := &fakeProducts{batch: map[string]keepa.Product{}, single: map[string]keepa.Product{}}
	processor := NewProcessor(repo, products, &fakeKeywords{}, &fakeReviews{}, config.ProcessorTunables{}, nil)
	svc := NewService(repo, processor)
	svc.Now = func() time.Time { return fixedNow }

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userId", userID)
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(router.Group("/api/v1"))
	return router, repo, products
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHandlerCreateAndGet(t *testing.T) {
	router, _, _ := newTestRouter(t, "user-1")

	resp := doJSON(router, http.MethodPost, "/api/v1/niches", map[string]any{
		"name":  "Garlic presses",
		"asins": []string{"b000000001", "B000000001", "B000000002"},
		"tags":  []string{"Kitchen", "kitchen"},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created Niche
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if len(created.ASINs) != 2 || created.ASINs[0] != "B000000001" {
		t.Fatalf("expected normalized asins, got %v", created.ASINs)
	}
	if len(created.Tags) != 1 || created.Marketplace != "US" || created.Status != StatusPending {
		t.Fatalf("unexpected niche %+v", created)
	}

	get := doJSON(router, http.MethodGet, "/api/v1/niches/"+created.ID, nil)
	if get.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", get.Code)
	}
}

func TestHandlerCreateRejectsInvalidASINs(t *testing.T) {
	router, _, _ := newTestRouter(t, "user-1")

	resp := doJSON(router, http.MethodPost, "/api/v1/niches", map[string]any{
		"name":  "Bad",
		"asins": []string{"B000000001", "not-an-asin"},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestHandlerHidesOtherUsersNiches(t *testing.T) {
	router, repo, _ := newTestRouter(t, "user-2")
	if err := repo.Create(t.Context(), Niche{ID: "niche-1", UserID: "user-1", Name: "x", ASINs: []string{"B000000001"}, Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, path := range []string{"/api/v1/niches/niche-1", "/api/v1/niches/niche-1/progress"} {
		resp := doJSON(router, http.MethodGet, path, nil)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s: expected status 404, got %d", path, resp.Code)
		}
	}
}

func TestHandlerProcessConflictsWhileRunning(t *testing.T) {
	router, repo, _ := newTestRouter(t, "user-1")
	if err := repo.Create(t.Context(), Niche{ID: "niche-1", UserID: "user-1", Name: "x", ASINs: []string{"B000000001"}, Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	now := time.Now().UTC()
	if err := repo.ClaimForProcessing(t.Context(), "niche-1", Progress{}, now, now.Add(-time.Hour)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	resp := doJSON(router, http.MethodPost, "/api/v1/niches/niche-1/process", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	del := doJSON(router, http.MethodDelete, "/api/v1/niches/niche-1", nil)
	if del.Code != http.StatusConflict {
		t.Fatalf("expected status 409 on delete, got %d", del.Code)
	}
}

func TestHandlerAnalysisLookup(t *testing.T) {
	router, repo, _ := newTestRouter(t, "user-1")
	if err := repo.Create(t.Context(), Niche{ID: "niche-1", UserID: "user-1", Name: "x", ASINs: []string{"B000000001"}, Status: StatusCompleted}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.UpsertAnalysis(t.Context(), "niche-1", PricingAnalysis{AveragePrice: 19.99}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	resp := doJSON(router, http.MethodGet, "/api/v1/niches/niche-1/analysis/pricing_analysis", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var pa PricingAnalysis
	if err := json.NewDecoder(resp.Body).Decode(&pa); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pa.AveragePrice != 19.99 {
		t.Fatalf("unexpected average price %v", pa.AveragePrice)
	}

	missing := doJSON(router, http.MethodGet, "/api/v1/niches/niche-1/analysis/market_insights", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", missing.Code)
	}
	unknown := doJSON(router, http.MethodGet, "/api/v1/niches/niche-1/analysis/horoscope", nil)
	if unknown.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", unknown.Code)
	}
}

func TestHandlerDeleteRemovesNiche(t *testing.T) {
	router, repo, _ := newTestRouter(t, "user-1")
	if err := repo.Create(t.Context(), Niche{ID: "niche-1", UserID: "user-1", Name: "x", ASINs: []string{"B000000001"}, Status: StatusCompleted}); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := doJSON(router, http.MethodDelete, "/api/v1/niches/niche-1", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
	if _, err := repo.Get(t.Context(), "niche-1"); err != ErrNotFound {
		t.Fatalf("expected niche removed, got %v", err)
	}
}
