package llm

import (
	"context"
	"fmt"
	"strings"
)

// Config controls model construction.
type Config struct {
	Provider      string
	GoogleAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

func NewModel(ctx context.Context, cfg Config) (Model, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = providerGemini
	}

	switch provider {
	case providerGemini:
		return NewGeminiModel(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
	case providerOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, fmt.Errorf("openai API key is required")
		}
		return NewOpenAIModel(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	case providerMock:
		return NewMockModel(), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}
