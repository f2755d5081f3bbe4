package analysisruns

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, userID string) (*gin.Engine, *harness) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := newHarness(t)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userId", userID)
		c.Next()
	})
	NewHandler(h.orch).RegisterRoutes(router.Group("/api/v1"))
	return router, h
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

func TestHandlerStartAndStatus(t *testing.T) {
	router, _ := newTestRouter(t, testUserID)

	resp := doJSON(router, http.MethodPost, "/api/v1/analyses", map[string]any{
		"nicheId":  testNicheID,
		"priority": "high",
	})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var started struct {
		RunID string `json:"runId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil || started.RunID == "" {
		t.Fatalf("decode start response: %v (%q)", err, started.RunID)
	}

	resp = doJSON(router, http.MethodGet, "/api/v1/analyses/"+started.RunID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var view StatusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.Status != StatusQueued || view.Progress.Total != 7 {
		t.Fatalf("unexpected view: %+v", view)
	}

	resp = doJSON(router, http.MethodGet, "/api/v1/analyses/"+started.RunID+"/events", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil || len(events) != 1 || events[0].Type != EventQueued {
		t.Fatalf("unexpected events: %v %+v", err, events)
	}
}

func TestHandlerRejectsInvalidConfig(t *testing.T) {
	router, _ := newTestRouter(t, testUserID)
	resp := doJSON(router, http.MethodPost, "/api/v1/analyses", map[string]any{"nicheId": "nope"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestHandlerQuotaExceeded(t *testing.T) {
	router, h := newTestRouter(t, testUserID)
	h.orch.Quotas = map[string]int{"free": 0}

	resp := doJSON(router, http.MethodPost, "/api/v1/analyses", map[string]any{"nicheId": testNicheID})
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d: %s", resp.Code, resp.Body.String())
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("quota_exceeded")) {
		t.Fatalf("expected quota_exceeded code, got %s", resp.Body.String())
	}
}

func TestHandlerHidesOtherUsersRun(t *testing.T) {
	router, h := newTestRouter(t, otherUserID)
	runID := h.start(t, Config{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/analyses/" + runID},
		{http.MethodPost, "/api/v1/analyses/" + runID + "/cancel"},
		{http.MethodPost, "/api/v1/analyses/" + runID + "/resume"},
	} {
		resp := doJSON(router, tc.method, tc.path, nil)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected status 404, got %d", tc.method, tc.path, resp.Code)
		}
	}
}

func TestHandlerCancelAndResumeStates(t *testing.T) {
	router, h := newTestRouter(t, testUserID)
	runID := h.start(t, Config{})

	resp := doJSON(router, http.MethodPost, "/api/v1/analyses/"+runID+"/resume", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("resume queued run: expected status 409, got %d", resp.Code)
	}

	resp = doJSON(router, http.MethodPost, "/api/v1/analyses/"+runID+"/cancel", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("cancel: expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(router, http.MethodPost, "/api/v1/analyses/"+runID+"/cancel", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("second cancel: expected status 409, got %d", resp.Code)
	}

	resp = doJSON(router, http.MethodPost, "/api/v1/analyses/"+runID+"/resume", nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("resume cancelled run: expected status 202, got %d", resp.Code)
	}
}

func TestHandlerStats(t *testing.T) {
	router, h := newTestRouter(t, testUserID)
	h.start(t, Config{})

	resp := doJSON(router, http.MethodGet, "/api/v1/analyses/stats", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var st QueueStats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Waiting != 1 {
		t.Fatalf("expected 1 waiting, got %+v", st)
	}
}
