package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Pipeline carries the tunables shared by the niche processor and the
// analysis orchestrator. Values can be overridden by a TOML file.
type Pipeline struct {
	Processor    ProcessorTunables    `toml:"processor"`
	Orchestrator OrchestratorTunables `toml:"orchestrator"`
	RateLimits   map[string]RateLimit `toml:"rate_limits" validate:"dive"`
	Quotas       map[string]int       `toml:"quotas"`
	CacheTTLSec  int                  `toml:"cache_ttl_seconds" validate:"gte=0"`
}

type ProcessorTunables struct {
	ProductBatchSize  int     `toml:"product_batch_size" validate:"gte=1,lte=100"`
	KeywordBatchSize  int     `toml:"keyword_batch_size" validate:"gte=1"`
	ReviewTarget      int     `toml:"review_target" validate:"gte=1"`
	ReviewsPerProduct int     `toml:"reviews_per_product" validate:"gte=1"`
	RetryDelayMs      int     `toml:"retry_delay_ms" validate:"gte=0"`
	SuccessThreshold  float64 `toml:"success_threshold" validate:"gt=0,lte=1"`
}

type OrchestratorTunables struct {
	MaxAttempts     int `toml:"max_attempts" validate:"gte=1"`
	BackoffBaseMs   int `toml:"backoff_base_ms" validate:"gte=0"`
	FanOut          int `toml:"fan_out" validate:"gte=1"`
	RetentionDays   int `toml:"retention_days" validate:"gte=1"`
	ReviewsPerASIN  int `toml:"reviews_per_asin" validate:"gte=1"`
	InsightProducts int `toml:"insight_products" validate:"gte=1"`
}

// RateLimit is a token-bucket rule for one external provider.
type RateLimit struct {
	RPS   float64 `toml:"rps" validate:"gt=0"`
	Burst int     `toml:"burst" validate:"gte=1"`
}

// DefaultPipeline returns the built-in tunables.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Processor: ProcessorTunables{
			ProductBatchSize:  100,
			KeywordBatchSize:  5,
			ReviewTarget:      100,
			ReviewsPerProduct: 20,
			RetryDelayMs:      1500,
			SuccessThreshold:  0.30,
		},
		Orchestrator: OrchestratorTunables{
			MaxAttempts:     3,
			BackoffBaseMs:   5000,
			FanOut:          5,
			RetentionDays:   30,
			ReviewsPerASIN:  50,
			InsightProducts: 10,
		},
		RateLimits: map[string]RateLimit{
			"keepa": {RPS: 1, Burst: 5},
			"apify": {RPS: 2, Burst: 2},
			"ads":   {RPS: 2, Burst: 2},
			"llm":   {RPS: 3, Burst: 3},
		},
		Quotas: map[string]int{
			"free":       5,
			"pro":        50,
			"enterprise": -1,
		},
		CacheTTLSec: 3600,
	}
}

// RetryDelay returns the spacing between individual product retries.
func (p Pipeline) RetryDelay() time.Duration {
	return time.Duration(p.Processor.RetryDelayMs) * time.Millisecond
}

// BackoffBase returns the base delay for job retries.
func (p Pipeline) BackoffBase() time.Duration {
	return time.Duration(p.Orchestrator.BackoffBaseMs) * time.Millisecond
}

// CacheTTL returns the TTL applied to cached external responses.
func (p Pipeline) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLSec) * time.Second
}

// LoadPipeline reads the TOML file at path over the defaults. An empty path
// returns the defaults.
func LoadPipeline(path string) (Pipeline, error) {
	p := DefaultPipeline()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read %s: %w", path, err)
	}
	return ParsePipeline(raw)
}

// ParsePipeline decodes TOML over the defaults and validates the result.
func ParsePipeline(raw []byte) (Pipeline, error) {
	p := DefaultPipeline()
	if err := toml.Unmarshal(raw, &p); err != nil {
		return DefaultPipeline(), fmt.Errorf("decode pipeline toml: %w", err)
	}
	if err := validator.New().Struct(p); err != nil {
		return DefaultPipeline(), fmt.Errorf("validate pipeline: %w", err)
	}
	return p, nil
}
