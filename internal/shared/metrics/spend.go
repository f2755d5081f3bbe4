package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

const meterName = "niche-backend/analysisruns"

type spendInstruments struct {
	cost   otelmetric.Float64Counter
	tokens otelmetric.Int64Counter
}

var (
	spendMu sync.RWMutex
	spend   *spendInstruments
)

// UseMeter creates the spend counters on meter. Until it is called the
// counters come from the global otel meter provider, which discards
// everything unless the process installs an SDK provider.
func UseMeter(meter otelmetric.Meter) error {
	cost, err := meter.Float64Counter("analysis_cost_usd_total",
		otelmetric.WithDescription("Estimated external spend of analysis steps"),
		otelmetric.WithUnit("USD"),
	)
	if err != nil {
		return err
	}
	tokens, err := meter.Int64Counter("llm_tokens_total",
		otelmetric.WithDescription("Tokens consumed by LLM completions"),
		otelmetric.WithUnit("{token}"),
	)
	if err != nil {
		return err
	}
	spendMu.Lock()
	spend = &spendInstruments{cost: cost, tokens: tokens}
	spendMu.Unlock()
	return nil
}

func spendCounters() *spendInstruments {
	spendMu.RLock()
	s := spend
	spendMu.RUnlock()
	if s != nil {
		return s
	}
	if err := UseMeter(otel.Meter(meterName)); err != nil {
		return nil
	}
	spendMu.RLock()
	defer spendMu.RUnlock()
	return spend
}

// AddRunCost adds usd to the spend of provider ("keepa", "apify", "ai").
func AddRunCost(ctx context.Context, provider string, usd float64) {
	if usd <= 0 {
		return
	}
	s := spendCounters()
	if s == nil {
		return
	}
	s.cost.Add(ctx, usd, otelmetric.WithAttributes(attribute.String("provider", provider)))
}

// AddLLMTokens records prompt and completion tokens for model.
func AddLLMTokens(ctx context.Context, model string, input, output int64) {
	s := spendCounters()
	if s == nil {
		return
	}
	for _, part := range []struct {
		direction string
		n         int64
	}{{"input", input}, {"output", output}} {
		if part.n <= 0 {
			continue
		}
		s.tokens.Add(ctx, part.n, otelmetric.WithAttributes(
			attribute.String("model", model),
			attribute.String("direction", part.direction),
		))
	}
}
