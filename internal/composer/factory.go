package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/mailpilot/mailpilot/internal/config"
)

// NewModel builds the backend selected by cfg.Provider
func NewModel(ctx context.Context, cfg config.GeneratorConfig) (Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAIModel(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout), nil
	case "bedrock":
		return NewBedrockModel(ctx, cfg.BedrockRegion, cfg.BedrockModelID, cfg.MaxTokens, cfg.Temperature)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}

// OptionsFromConfig maps generator settings onto retry options
func OptionsFromConfig(cfg config.GeneratorConfig) Options {
	return Options{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		CallTimeout: cfg.Timeout,
	}
}
