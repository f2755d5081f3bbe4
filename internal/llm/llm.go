// Package llm abstracts the language-model providers used for niche insights.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request is one system/user prompt pair.
type Request struct {
	Kind      string
	System    string
	User      string
	JSON      bool
	MaxTokens int
	// Temperature nil leaves the provider default.
	Temperature *float64
}

// Usage reports token counts; zero values mean the provider did not say.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Response is the model's text output.
type Response struct {
	Text       string
	Model      string
	Usage      Usage
	PromptHash string
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is used when no provider is configured.
type PlaceholderClient struct{}

// Complete returns ErrNotImplemented.
func (PlaceholderClient) Complete(ctx context.Context, req Request) (Response, error) {
	return Response{}, ErrNotImplemented
}

// HashPrompt returns a stable identifier for the prompt text of req.
func HashPrompt(req Request) string {
	sum := sha256.Sum256([]byte("system: " + req.System + "\n\nuser: " + req.User))
	return hex.EncodeToString(sum[:])
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 { return &v }
