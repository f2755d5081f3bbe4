package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"niche-backend/internal/shared/telemetry"
)

func TestRequestIDPropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	var fromCtx, fromGin string
	router.GET("/x", func(c *gin.Context) {
		fromCtx = telemetry.RequestID(c.Request.Context())
		fromGin = RequestIDFromContext(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "req-42")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if fromCtx != "req-42" || fromGin != "req-42" || resp.Header().Get("X-Request-Id") != "req-42" {
		t.Fatalf("request id not propagated: ctx=%q gin=%q header=%q", fromCtx, fromGin, resp.Header().Get("X-Request-Id"))
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", strings.Repeat("a", 500))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if got := resp.Header().Get("X-Request-Id"); len(got) != 36 {
		t.Fatalf("expected a minted uuid for an oversized id, got %q", got)
	}
}
