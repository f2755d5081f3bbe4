package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"niche-backend/internal/analysisruns"
)

type fakeUsage struct {
	usage analysisruns.Usage
	err   error
}

func (f fakeUsage) Usage(ctx context.Context, userID string) (analysisruns.Usage, error) {
	return f.usage, f.err
}

func newRouter(svc *Service, usage UsageReporter, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set("userId", userID)
		}
		c.Next()
	})
	NewHandler(svc, usage).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestMeReturnsTierAndUsage(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	if _, err := svc.Register(context.Background(), User{ID: "user-1", Email: "a@example.com", SubscriptionTier: "PRO"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	r := newRouter(svc, fakeUsage{usage: analysisruns.Usage{Tier: TierPro, Limit: 50, Used: 3}}, "user-1")

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		ID               string             `json:"id"`
		SubscriptionTier string             `json:"subscriptionTier"`
		Usage            analysisruns.Usage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != "user-1" || body.SubscriptionTier != TierPro || body.Usage.Used != 3 || body.Usage.Limit != 50 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestMeUnknownUserIsFree(t *testing.T) {
	r := newRouter(NewService(NewMemoryRepo()), nil, "user-2")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["subscriptionTier"] != TierFree {
		t.Fatalf("expected free tier, got %v", body["subscriptionTier"])
	}
	if _, ok := body["usage"]; ok {
		t.Fatalf("usage should be omitted without a reporter")
	}
}

func TestMeRequiresIdentity(t *testing.T) {
	r := newRouter(NewService(NewMemoryRepo()), nil, "")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestRegisterRejectsUnknownTier(t *testing.T) {
	_, err := NewService(NewMemoryRepo()).Register(context.Background(), User{ID: "u", SubscriptionTier: "platinum"})
	if !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
}

func TestMemoryRepoUserTier(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	if tier, err := repo.UserTier(ctx, "missing"); err != nil || tier != "" {
		t.Fatalf("expected empty tier for unknown user, got %q %v", tier, err)
	}
	_ = repo.Upsert(ctx, User{ID: "u", SubscriptionTier: TierEnterprise})
	if tier, _ := repo.UserTier(ctx, "u"); tier != TierEnterprise {
		t.Fatalf("expected enterprise, got %q", tier)
	}
}
