package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"niche-backend/internal/clients/transport"
	"niche-backend/internal/llm"
	"niche-backend/internal/shared/ratelimit"
	"niche-backend/internal/shared/telemetry"
)

var apiURL = "https://api.openai.com/v1/chat/completions"

// Client implements llm.Client using OpenAI Chat Completions.
type Client struct {
	apiKey string
	model  string
	caller transport.Caller
}

// NewClient constructs a new OpenAI client. limiter may be nil.
func NewClient(apiKey, model string, limiter ratelimit.Waiter) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		caller: transport.Caller{Provider: "openai", Limiter: limiter, Timeout: timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// errTemperatureUnsupported marks a model that rejects explicit temperatures.
var errTemperatureUnsupported = errors.New("openai temperature unsupported")

// Complete sends req as a system+user chat. Models on the
// LLM_NO_TEMP0_MODELS list, and gpt-5 models, never receive a temperature;
// any other model that rejects one is retried once without it.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	temp := req.Temperature
	if temp == nil {
		temp = llm.Float(0)
	}
	if isGPT5(c.model) || noTemperatureModel(c.model) {
		temp = nil
	}

	resp, err := c.completeOnce(ctx, req, temp)
	if errors.Is(err, errTemperatureUnsupported) && temp != nil {
		telemetry.Warn("llm.openai.temperature_unsupported", map[string]any{"model": c.model})
		resp, err = c.completeOnce(ctx, req, nil)
	}
	if err != nil {
		return llm.Response{}, err
	}
	resp.PromptHash = llm.HashPrompt(req)
	logUsage(c.model, req.Kind, resp.Usage)
	return resp, nil
}

func (c *Client) completeOnce(ctx context.Context, req llm.Request, temp *float64) (llm.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})
	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temp,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	httpReq, err := transport.JSONRequest(ctx, "POST", apiURL, body)
	if err != nil {
		return llm.Response{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, doErr := c.caller.Do(ctx, httpReq)
	var se *transport.StatusError
	if doErr != nil && !errors.As(doErr, &se) {
		return llm.Response{}, doErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		if doErr != nil {
			return llm.Response{}, doErr
		}
		return llm.Response{}, fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		if strings.Contains(strings.ToLower(parsed.Error.Message), "temperature") {
			return llm.Response{}, fmt.Errorf("%w: %s", errTemperatureUnsupported, parsed.Error.Message)
		}
		return llm.Response{}, fmt.Errorf("openai http status %d: %s (%s)", resp.StatusCode, parsed.Error.Message, parsed.Error.Type)
	}
	if doErr != nil {
		return llm.Response{}, doErr
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("openai response missing choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return llm.Response{}, fmt.Errorf("openai response empty content")
	}
	out := llm.Response{Text: content, Model: c.model}
	if parsed.Model != "" {
		out.Model = parsed.Model
	}
	if parsed.Usage != nil {
		out.Usage = llm.Usage{InputTokens: parsed.Usage.PromptTokens, OutputTokens: parsed.Usage.CompletionTokens}
	}
	return out, nil
}

func logUsage(model, kind string, usage llm.Usage) {
	telemetry.Info("llm.response", map[string]any{
		"provider":      "openai",
		"model":         model,
		"kind":          kind,
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
	})
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

func noTemperatureModel(model string) bool {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, m := range strings.Split(os.Getenv("LLM_NO_TEMP0_MODELS"), ",") {
		if strings.ToLower(strings.TrimSpace(m)) == model && model != "" {
			return true
		}
	}
	return false
}

var _ llm.Client = (*Client)(nil)
