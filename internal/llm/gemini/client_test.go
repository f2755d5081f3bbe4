package gemini

import (
	"context"
	"testing"

	"niche-backend/internal/llm"
)

func TestBuildConfigJSONMode(t *testing.T) {
	cfg := buildConfig(llm.Request{System: "sys", User: "u", JSON: true, MaxTokens: 300, Temperature: llm.Float(0.5)})
	if cfg.ResponseMIMEType != "application/json" {
		t.Fatalf("expected json mime type, got %q", cfg.ResponseMIMEType)
	}
	if cfg.MaxOutputTokens != 300 {
		t.Fatalf("expected 300 max tokens, got %d", cfg.MaxOutputTokens)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.5 {
		t.Fatalf("unexpected temperature %v", cfg.Temperature)
	}
	if cfg.SystemInstruction == nil || len(cfg.SystemInstruction.Parts) != 1 || cfg.SystemInstruction.Parts[0].Text != "sys" {
		t.Fatalf("unexpected system instruction %+v", cfg.SystemInstruction)
	}
}

func TestBuildConfigPlainText(t *testing.T) {
	cfg := buildConfig(llm.Request{User: "u"})
	if cfg.ResponseMIMEType != "" || cfg.SystemInstruction != nil || cfg.Temperature != nil {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(context.Background(), "", "gemini-2.5-flash", nil); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := NewClient(context.Background(), "k", "", nil); err == nil {
		t.Fatalf("expected error without model")
	}
}
