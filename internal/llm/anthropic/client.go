// Package anthropic implements llm.Client on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"niche-backend/internal/clients/transport"
	"niche-backend/internal/llm"
	"niche-backend/internal/shared/metrics"
	"niche-backend/internal/shared/ratelimit"
	"niche-backend/internal/shared/telemetry"
)

const (
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
	jsonInstruction  = "Respond with a single JSON object and nothing else."
)

// Client calls Claude models.
type Client struct {
	messages anthropic.MessageService
	model    string
	limiter  ratelimit.Waiter
	timeout  time.Duration
}

// NewClient constructs a Claude client. opts are passed to the SDK and are
// mainly useful for overriding the base URL in tests.
func NewClient(apiKey, model string, limiter ratelimit.Waiter, opts ...option.RequestOption) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for Anthropic")
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &Client{
		messages: anthropic.NewClient(all...).Messages,
		model:    model,
		limiter:  limiter,
		timeout:  defaultTimeout,
	}, nil
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return llm.Response{}, err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.messages.New(callCtx, buildParams(c.model, req))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			metrics.IncExternalCall("anthropic", "timeout")
			return llm.Response{}, &transport.TimeoutError{Provider: "anthropic", After: c.timeout, Err: err}
		}
		metrics.IncExternalCall("anthropic", "error")
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return llm.Response{}, &transport.StatusError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return llm.Response{}, fmt.Errorf("anthropic request: %w", err)
	}
	metrics.IncExternalCall("anthropic", "ok")

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return llm.Response{}, fmt.Errorf("anthropic response empty content")
	}
	if req.JSON {
		text = llm.ExtractJSON(text)
	}
	out := llm.Response{
		Text:       text,
		Model:      string(resp.Model),
		PromptHash: llm.HashPrompt(req),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	telemetry.Info("llm.response", map[string]any{
		"provider":      "anthropic",
		"model":         out.Model,
		"kind":          req.Kind,
		"input_tokens":  out.Usage.InputTokens,
		"output_tokens": out.Usage.OutputTokens,
	})
	return out, nil
}

func buildParams(model string, req llm.Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	system := strings.TrimSpace(req.System)
	if req.JSON {
		system = strings.TrimSpace(system + "\n" + jsonInstruction)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

var _ llm.Client = (*Client)(nil)
