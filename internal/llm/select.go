package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/byteowlz/pinscrpr/internal/config"
)

// New picks the provider from cfg.Provider, falling back to the model name
// prefix ("gemini-..." selects Gemini) when the provider is left empty.
func New(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = "openai"
		if strings.HasPrefix(strings.ToLower(cfg.Model), "gemini") {
			name = "gemini"
		}
	}

	switch name {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: openai api key not set (llm.api_key or OPENAI_API_KEY)")
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxRetries), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
