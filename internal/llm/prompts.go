package llm

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

var (
	//go:embed prompts/niche.txt
	promptNiche string
	//go:embed prompts/deep.txt
	promptDeep string
	//go:embed prompts/keyword.txt
	promptKeyword string
	//go:embed prompts/ppc.txt
	promptPPC string
	//go:embed prompts/inventory.txt
	promptInventory string
	//go:embed prompts/demand.txt
	promptDemand string
	//go:embed prompts/competitor.txt
	promptCompetitor string
	//go:embed prompts/financial.txt
	promptFinancial string
)

// Analysis kinds accepted by Prompt.
const (
	KindNiche      = "niche"
	KindDeep       = "deep"
	KindKeyword    = "keyword"
	KindPPC        = "ppc"
	KindInventory  = "inventory"
	KindDemand     = "demand"
	KindCompetitor = "competitor"
	KindFinancial  = "financial"
)

const defaultMaxTokens = 2000

// PromptTemplate returns the system prompt for kind and whether it is known.
func PromptTemplate(kind string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindNiche:
		return promptNiche, true
	case KindDeep:
		return promptDeep, true
	case KindKeyword:
		return promptKeyword, true
	case KindPPC:
		return promptPPC, true
	case KindInventory:
		return promptInventory, true
	case KindDemand:
		return promptDemand, true
	case KindCompetitor:
		return promptCompetitor, true
	case KindFinancial:
		return promptFinancial, true
	default:
		return "", false
	}
}

// Prompt builds a JSON-mode request for kind with payload serialised into the
// user message.
func Prompt(kind string, payload any) (Request, error) {
	system, ok := PromptTemplate(kind)
	if !ok {
		return Request{}, fmt.Errorf("unknown prompt kind %q", kind)
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Request{
		Kind:        kind,
		System:      strings.TrimSpace(system),
		User:        "Analyze the following data and respond with JSON only:\n" + string(raw),
		JSON:        true,
		MaxTokens:   defaultMaxTokens,
		Temperature: Float(0.3),
	}, nil
}

// ExtractJSON trims markdown fences and surrounding prose from a model reply
// so it can be unmarshalled.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start := strings.IndexAny(s, "{["); start > 0 {
		s = s[start:]
	}
	if end := strings.LastIndexAny(s, "}]"); end >= 0 && end < len(s)-1 {
		s = s[:end+1]
	}
	return s
}
