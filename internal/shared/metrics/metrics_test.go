package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	snap := h.Snapshot()
	var cumulative uint64
	var got []uint64
	for i := range snap.buckets {
		cumulative += snap.counts[i]
		got = append(got, cumulative)
	}
	if got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected cumulative buckets %v", got)
	}
	if snap.count != 3 {
		t.Fatalf("expected count 3, got %d", snap.count)
	}
}

func TestRenderIncludesExternalCalls(t *testing.T) {
	IncExternalCall("keepa", "ok")
	IncExternalCall("keepa", "ok")
	IncExternalCall("apify", "rate_limited")

	out := Render()
	if !strings.Contains(out, `external_api_calls_total{provider="keepa",outcome="ok"} 2`) {
		t.Fatalf("missing keepa counter in:\n%s", out)
	}
	if !strings.Contains(out, `external_api_calls_total{provider="apify",outcome="rate_limited"} 1`) {
		t.Fatalf("missing apify counter in:\n%s", out)
	}
	if !strings.Contains(out, "analysis_run_duration_ms_bucket{le=\"+Inf\"}") {
		t.Fatalf("missing histogram in:\n%s", out)
	}
}

func TestRenderIncludesHTTPRequests(t *testing.T) {
	ObserveHTTPRequest("GET", "/api/v1/analyses/:id", 200, 3*time.Millisecond)

	out := Render()
	if !strings.Contains(out, `http_requests_total{route="GET /api/v1/analyses/:id",status="200"} 1`) {
		t.Fatalf("missing http counter in:\n%s", out)
	}
	if !strings.Contains(out, "http_request_duration_ms_count") {
		t.Fatalf("missing http histogram in:\n%s", out)
	}
}
