// Package gemini implements llm.Client on Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"niche-backend/internal/clients/transport"
	"niche-backend/internal/llm"
	"niche-backend/internal/shared/metrics"
	"niche-backend/internal/shared/ratelimit"
	"niche-backend/internal/shared/telemetry"
)

const defaultTimeout = 120 * time.Second

// Client calls Gemini models through the genai SDK.
type Client struct {
	client  *genai.Client
	model   string
	limiter ratelimit.Waiter
	timeout time.Duration
}

// NewClient constructs a Gemini client.
func NewClient(ctx context.Context, apiKey, model string, limiter ratelimit.Waiter) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for Gemini")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{client: client, model: model, limiter: limiter, timeout: defaultTimeout}, nil
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return llm.Response{}, err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(req.User)},
	}}
	resp, err := c.client.Models.GenerateContent(callCtx, c.model, contents, buildConfig(req))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			metrics.IncExternalCall("gemini", "timeout")
			return llm.Response{}, &transport.TimeoutError{Provider: "gemini", After: c.timeout, Err: err}
		}
		metrics.IncExternalCall("gemini", "error")
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return llm.Response{}, &transport.StatusError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return llm.Response{}, fmt.Errorf("gemini request: %w", err)
	}
	metrics.IncExternalCall("gemini", "ok")

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return llm.Response{}, fmt.Errorf("gemini response empty content")
	}
	if req.JSON {
		text = llm.ExtractJSON(text)
	}
	out := llm.Response{Text: text, Model: c.model, PromptHash: llm.HashPrompt(req)}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	telemetry.Info("llm.response", map[string]any{
		"provider":      "gemini",
		"model":         c.model,
		"kind":          req.Kind,
		"input_tokens":  out.Usage.InputTokens,
		"output_tokens": out.Usage.OutputTokens,
	})
	return out, nil
}

func buildConfig(req llm.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

var _ llm.Client = (*Client)(nil)
