package providers

import (
	"fmt"
	"strings"

	"github.com/droidcrawl/droidcrawl/internal/config"
)

// New constructs the configured provider, wrapped with the request
// rate limiter and the image payload guard.
func New(cfg *config.Config) (Provider, error) {
	name := strings.ToLower(cfg.AI.Provider)
	pc := cfg.ProviderFor(name)

	model := cfg.AI.Model
	if model == "" {
		model = pc.Model
	}

	var p Provider
	switch name {
	case "anthropic":
		if pc.APIKey == "" {
			return nil, fmt.Errorf("provider %s: missing API key (DROIDCRAWL_ANTHROPIC_API_KEY)", name)
		}
		p = NewAnthropicProvider(pc.APIKey,
			WithAnthropicModel(model),
			WithAnthropicBaseURL(pc.BaseURL))
	case "openai":
		if pc.APIKey == "" {
			return nil, fmt.Errorf("provider %s: missing API key (DROIDCRAWL_OPENAI_API_KEY)", name)
		}
		p = NewOpenAIProvider("openai", pc.APIKey, pc.BaseURL, model)
	case "gemini":
		if pc.APIKey == "" {
			return nil, fmt.Errorf("provider %s: missing API key (DROIDCRAWL_GEMINI_API_KEY)", name)
		}
		p = NewGeminiProvider(pc.APIKey, model)
	case "ollama":
		p = NewOllamaProvider(pc.BaseURL, model)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.AI.Provider)
	}

	return Guard(p, cfg.AI.RequestsPerMinute), nil
}
