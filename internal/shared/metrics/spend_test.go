package metrics

import (
	"context"
	"sync"
	"testing"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type recordingMeter struct {
	noop.Meter
	cost   *recordingFloat
	tokens *recordingInt
}

func (m recordingMeter) Float64Counter(string, ...otelmetric.Float64CounterOption) (otelmetric.Float64Counter, error) {
	return m.cost, nil
}

func (m recordingMeter) Int64Counter(string, ...otelmetric.Int64CounterOption) (otelmetric.Int64Counter, error) {
	return m.tokens, nil
}

type recordingFloat struct {
	noop.Float64Counter
	mu     sync.Mutex
	totals map[string]float64
}

func (c *recordingFloat) Add(_ context.Context, v float64, opts ...otelmetric.AddOption) {
	attrs := otelmetric.NewAddConfig(opts).Attributes()
	provider, _ := attrs.Value("provider")
	c.mu.Lock()
	c.totals[provider.AsString()] += v
	c.mu.Unlock()
}

type recordingInt struct {
	noop.Int64Counter
	mu     sync.Mutex
	totals map[string]int64
}

func (c *recordingInt) Add(_ context.Context, v int64, opts ...otelmetric.AddOption) {
	attrs := otelmetric.NewAddConfig(opts).Attributes()
	dir, _ := attrs.Value("direction")
	c.mu.Lock()
	c.totals[dir.AsString()] += v
	c.mu.Unlock()
}

func useRecordingMeter(t *testing.T) recordingMeter {
	t.Helper()
	m := recordingMeter{
		cost:   &recordingFloat{totals: map[string]float64{}},
		tokens: &recordingInt{totals: map[string]int64{}},
	}
	if err := UseMeter(m); err != nil {
		t.Fatalf("UseMeter: %v", err)
	}
	t.Cleanup(func() { _ = UseMeter(noop.NewMeterProvider().Meter(meterName)) })
	return m
}

func TestAddRunCostByProvider(t *testing.T) {
	m := useRecordingMeter(t)
	ctx := context.Background()

	AddRunCost(ctx, "keepa", 0.02)
	AddRunCost(ctx, "keepa", 0.03)
	AddRunCost(ctx, "apify", 0.25)
	AddRunCost(ctx, "ai", 0)

	if got := m.cost.totals["keepa"]; got < 0.0499 || got > 0.0501 {
		t.Fatalf("expected keepa spend 0.05, got %v", got)
	}
	if got := m.cost.totals["apify"]; got != 0.25 {
		t.Fatalf("expected apify spend 0.25, got %v", got)
	}
	if _, ok := m.cost.totals["ai"]; ok {
		t.Fatalf("zero spend must not be recorded")
	}
}

func TestAddLLMTokensSplitsDirections(t *testing.T) {
	m := useRecordingMeter(t)

	AddLLMTokens(context.Background(), "gpt-4o-mini", 1200, 300)
	AddLLMTokens(context.Background(), "gpt-4o-mini", 0, 100)

	if m.tokens.totals["input"] != 1200 || m.tokens.totals["output"] != 400 {
		t.Fatalf("unexpected token totals %v", m.tokens.totals)
	}
}

func TestSpendCountersDefaultToGlobalMeter(t *testing.T) {
	spendMu.Lock()
	spend = nil
	spendMu.Unlock()

	AddRunCost(context.Background(), "keepa", 1)
	if spendCounters() == nil {
		t.Fatalf("expected counters from the global meter provider")
	}
}
