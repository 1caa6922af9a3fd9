package perception

import (
	"fmt"
	"time"
)

// Options selects and configures a provider client.
type Options struct {
	// Provider is "openai", "zai", "xai", "openrouter" or "gemini".
	// Everything except "gemini" speaks the OpenAI-compatible protocol.
	Provider string

	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Known OpenAI-compatible base URLs by provider name.
var compatibleBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"zai":        "https://api.z.ai/api/paas/v4",
	"xai":        "https://api.x.ai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// New builds the ChatClient for the configured provider.
func New(opts Options) (ChatClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key not configured for provider %q", opts.Provider)
	}

	switch opts.Provider {
	case "gemini":
		cfg := DefaultGeminiConfig(opts.APIKey)
		applyOverrides(&cfg.BaseURL, &cfg.Model, &cfg.MaxTokens, &cfg.Temperature, &cfg.Timeout, opts)
		return NewGeminiClient(cfg), nil

	case "openai", "zai", "xai", "openrouter", "":
		cfg := DefaultOpenAIConfig(opts.APIKey)
		if base, ok := compatibleBaseURLs[opts.Provider]; ok {
			cfg.BaseURL = base
		}
		applyOverrides(&cfg.BaseURL, &cfg.Model, &cfg.MaxTokens, &cfg.Temperature, &cfg.Timeout, opts)
		return NewOpenAIClient(cfg), nil

	default:
		return nil, fmt.Errorf("unknown model provider %q", opts.Provider)
	}
}

func applyOverrides(baseURL, model *string, maxTokens *int, temperature *float64, timeout *time.Duration, opts Options) {
	if opts.BaseURL != "" {
		*baseURL = opts.BaseURL
	}
	if opts.Model != "" {
		*model = opts.Model
	}
	if opts.MaxTokens > 0 {
		*maxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		*temperature = opts.Temperature
	}
	if opts.Timeout > 0 {
		*timeout = opts.Timeout
	}
}
