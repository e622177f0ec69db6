// Provider factory wired to the config package's provider table.

package llm

import (
	"fmt"

	"github.com/MCP-Dev-Studio/autostudio-embedded/config"
)

// New builds the provider named in cfg with an explicit API key.
func New(cfg config.LLMConfig, apiKey string) (Provider, error) {
	temperature := float32(cfg.Temperature)
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(apiKey, cfg.Model, cfg.MaxTokens, temperature), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey, cfg.Model, cfg.MaxTokens, temperature), nil
	case "gemini":
		return NewGeminiProvider(apiKey, cfg.Model, cfg.MaxTokens, temperature), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Provider)
	}
}

// FromEnv builds the provider named in cfg, reading its API key from the
// environment.
func FromEnv(cfg config.LLMConfig) (Provider, error) {
	apiKey, err := config.APIKeyFor(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return New(cfg, apiKey)
}
