package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"niche-backend/internal/shared/config"
)

const testOrigin = "http://localhost:5173"

func testCORSConfig() config.CORS {
	return config.CORS{
		AllowOrigins:  []string{" " + testOrigin + " ", ""},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", DevUserHeader},
		ExposeHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:        10 * time.Minute,
	}
}

func corsRouter() *gin.Engine {
	return corsRouterWith(testCORSConfig())
}

func corsRouterWith(cfg config.CORS) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS(cfg))
	router.POST("/api/v1/analyses", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"runId": "run-1"})
	})
	return router
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyses", nil)
	req.Header.Set("Origin", testOrigin)
	resp := httptest.NewRecorder()
	corsRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	assertCORSHeaders(t, resp)
}

func TestCORSHeadersOnStartAnalysis(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", nil)
	req.Header.Set("Origin", testOrigin)
	resp := httptest.NewRecorder()
	corsRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	assertCORSHeaders(t, resp)
	if got := resp.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "Retry-After") {
		t.Fatalf("expected Retry-After to be exposed, got %q", got)
	}
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp := httptest.NewRecorder()
	corsRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no Allow-Origin, got %q", got)
	}
}

func TestCORSHeadersFollowConfig(t *testing.T) {
	cfg := config.CORS{
		AllowOrigins: []string{"https://app.example.com"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"X-Trace-Id"},
	}
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyses", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp := httptest.NewRecorder()
	corsRouterWith(cfg).ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Methods"); got != "GET" {
		t.Fatalf("expected configured methods, got %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Headers"); got != "X-Trace-Id" {
		t.Fatalf("expected configured headers, got %q", got)
	}
	if got := resp.Header().Get("Access-Control-Max-Age"); got != "" {
		t.Fatalf("expected no Max-Age without config, got %q", got)
	}
	if got := resp.Header().Get("Access-Control-Expose-Headers"); got != "" {
		t.Fatalf("expected no exposed headers, got %q", got)
	}
}

func TestCORSWildcardOriginEchoesCaller(t *testing.T) {
	cfg := testCORSConfig()
	cfg.AllowOrigins = []string{"*"}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	resp := httptest.NewRecorder()
	router := corsRouterWith(cfg)
	router.GET("/api/v1/analyses", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example" {
		t.Fatalf("expected caller origin echoed, got %q", got)
	}
	if got := resp.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("expected Vary: Origin, got %q", got)
	}
}

func assertCORSHeaders(t *testing.T, resp *httptest.ResponseRecorder) {
	t.Helper()
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Fatalf("expected Allow-Origin %s, got %q", testOrigin, got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, DevUserHeader) {
		t.Fatalf("expected %s in Allow-Headers, got %q", DevUserHeader, got)
	}
	if got := resp.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Fatalf("expected Max-Age 600, got %q", got)
	}
}
