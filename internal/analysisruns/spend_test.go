package analysisruns

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"niche-backend/internal/clients/apify"
	"niche-backend/internal/clients/keepa"
	"niche-backend/internal/shared/metrics"
)

// spendMeter sums counter additions by their first attribute value.
type spendMeter struct {
	noop.Meter
	mu     sync.Mutex
	cost   map[string]float64
	tokens map[string]int64
}

func (m *spendMeter) Float64Counter(string, ...otelmetric.Float64CounterOption) (otelmetric.Float64Counter, error) {
	return spendFloat{m: m}, nil
}

func (m *spendMeter) Int64Counter(string, ...otelmetric.Int64CounterOption) (otelmetric.Int64Counter, error) {
	return spendInt{m: m}, nil
}

type spendFloat struct {
	noop.Float64Counter
	m *spendMeter
}

func (c spendFloat) Add(_ context.Context, v float64, opts ...otelmetric.AddOption) {
	provider, _ := otelmetric.NewAddConfig(opts).Attributes().Value("provider")
	c.m.mu.Lock()
	c.m.cost[provider.AsString()] += v
	c.m.mu.Unlock()
}

type spendInt struct {
	noop.Int64Counter
	m *spendMeter
}

func (c spendInt) Add(_ context.Context, v int64, opts ...otelmetric.AddOption) {
	dir, _ := otelmetric.NewAddConfig(opts).Attributes().Value("direction")
	c.m.mu.Lock()
	c.m.tokens[dir.AsString()] += v
	c.m.mu.Unlock()
}

func TestProcessRunRecordsSpendCounters(t *testing.T) {
	meter := &spendMeter{cost: map[string]float64{}, tokens: map[string]int64{}}
	require.NoError(t, metrics.UseMeter(meter))
	t.Cleanup(func() { _ = metrics.UseMeter(noop.NewMeterProvider().Meter("test")) })

	h := newHarness(t)
	runID := h.start(t, Config{})
	require.NoError(t, h.orch.ProcessRun(context.Background(), h.queue.last(t)))

	run, err := h.repo.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)

	meter.mu.Lock()
	defer meter.mu.Unlock()
	assert.InDelta(t, keepa.Cost(2), meter.cost["keepa"], 1e-9)
	assert.InDelta(t, 2*apify.CostPerRun*0.5, meter.cost["apify"], 1e-9)
	assert.InDelta(t, run.Costs.AI, meter.cost["ai"], 1e-9)
	assert.Equal(t, int64(1000), meter.tokens["input"])
	assert.Equal(t, int64(500), meter.tokens["output"])
}
