package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	nichesStartedTotal   atomic.Uint64
	nichesCompletedTotal atomic.Uint64
	nichesFailedTotal    atomic.Uint64

	runsStartedTotal   atomic.Uint64
	runsCompletedTotal atomic.Uint64
	runsPartialTotal   atomic.Uint64
	runsFailedTotal    atomic.Uint64

	jobsReceivedTotal             atomic.Uint64
	jobsFailedTotal               atomic.Uint64
	jobsDeletedUnrecoverableTotal atomic.Uint64

	externalCalls = newLabeledCounter()
	httpRequests  = newLabeledCounter()

	runDuration  = newHistogram([]float64{1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000})
	httpDuration = newHistogram([]float64{5, 25, 100, 250, 1000, 5000})
)

func IncNicheStarted()   { nichesStartedTotal.Add(1) }
func IncNicheCompleted() { nichesCompletedTotal.Add(1) }
func IncNicheFailed()    { nichesFailedTotal.Add(1) }

func IncRunStarted()   { runsStartedTotal.Add(1) }
func IncRunCompleted() { runsCompletedTotal.Add(1) }
func IncRunPartial()   { runsPartialTotal.Add(1) }
func IncRunFailed()    { runsFailedTotal.Add(1) }

// IncJobsReceived counts queue messages picked up by the worker.
func IncJobsReceived() { jobsReceivedTotal.Add(1) }

// IncJobsFailed counts jobs left on the queue for redelivery.
func IncJobsFailed() { jobsFailedTotal.Add(1) }

// IncJobsDeletedUnrecoverable counts poison messages dropped by the worker.
func IncJobsDeletedUnrecoverable() { jobsDeletedUnrecoverableTotal.Add(1) }

// IncExternalCall counts an outbound call to provider with the given outcome.
func IncExternalCall(provider, outcome string) {
	externalCalls.Inc(provider + "|" + outcome)
}

// ObserveRunDurationMs records a run duration in milliseconds.
func ObserveRunDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	runDuration.Observe(value)
}

// ObserveHTTPRequest counts a served request by route and status and records
// its latency.
func ObserveHTTPRequest(method, route string, status int, latency time.Duration) {
	httpRequests.Inc(method + " " + route + "|" + strconv.Itoa(status))
	httpDuration.Observe(float64(latency.Microseconds()) / 1000.0)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "niches_started_total", "Niche processing runs started", nichesStartedTotal.Load())
	writeCounter(&buf, "niches_completed_total", "Niche processing runs completed", nichesCompletedTotal.Load())
	writeCounter(&buf, "niches_failed_total", "Niche processing runs failed", nichesFailedTotal.Load())
	writeCounter(&buf, "analysis_runs_started_total", "Analysis runs started", runsStartedTotal.Load())
	writeCounter(&buf, "analysis_runs_completed_total", "Analysis runs completed", runsCompletedTotal.Load())
	writeCounter(&buf, "analysis_runs_partial_total", "Analysis runs partially completed", runsPartialTotal.Load())
	writeCounter(&buf, "analysis_runs_failed_total", "Analysis runs failed", runsFailedTotal.Load())
	writeCounter(&buf, "worker_jobs_received_total", "Queue jobs received", jobsReceivedTotal.Load())
	writeCounter(&buf, "worker_jobs_failed_total", "Queue jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "worker_jobs_deleted_unrecoverable_total", "Queue jobs dropped as unrecoverable", jobsDeletedUnrecoverableTotal.Load())
	writeLabeled(&buf, "external_api_calls_total", "Outbound calls to external providers", "provider", "outcome", externalCalls.Snapshot())
	writeLabeled(&buf, "http_requests_total", "HTTP requests served", "route", "status", httpRequests.Snapshot())
	writeHistogram(&buf, "analysis_run_duration_ms", "Analysis run duration in milliseconds", runDuration.Snapshot())
	writeHistogram(&buf, "http_request_duration_ms", "HTTP request latency in milliseconds", httpDuration.Snapshot())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: make(map[string]uint64)}
}

func (l *labeledCounter) Inc(key string) {
	l.mu.Lock()
	l.values[key]++
	l.mu.Unlock()
}

func (l *labeledCounter) Snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe stores value in the first bucket whose bound covers it; Render
// accumulates the per-bucket counts.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeled(buf *bytes.Buffer, name, help, label1, label2 string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v1, v2 := splitKey(k)
		fmt.Fprintf(buf, "%s{%s=%q,%s=%q} %d\n", name, label1, v1, label2, v2, values[k])
	}
}

func splitKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
