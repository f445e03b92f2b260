package provider

import (
	"context"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
)

// ConfigFromEnv resolves the grading model configuration.
//
// Environment variables:
//
//	QUALITY_PROVIDER         = openai | azure | ollama | gemini | ark (default: openai)
//	QUALITY_MODEL            model or deployment name (default: gpt-4o-mini)
//	QUALITY_BASE_URL         endpoint override (default: NOVELT_BASE_URL)
//	QUALITY_API_KEY          credential (default: NOVELT_API_KEY, or GOOGLE_API_KEY for gemini)
//	AZURE_OPENAI_API_VERSION (default: 2024-06-01)
//	QUALITY_MAX_TOKENS       (default: 1024)
//	QUALITY_TEMPERATURE      (default: 0)
func ConfigFromEnv() *Config {
	backend := Backend(getEnvOrDefault("QUALITY_PROVIDER", string(BackendOpenAI)))

	keyFallback := os.Getenv("NOVELT_API_KEY")
	urlFallback := os.Getenv("NOVELT_BASE_URL")
	if backend == BackendGemini {
		keyFallback = os.Getenv("GOOGLE_API_KEY")
		urlFallback = ""
	}
	if backend == BackendOllama {
		urlFallback = ""
	}

	return &Config{
		Backend:         backend,
		Model:           getEnvOrDefault("QUALITY_MODEL", "gpt-4o-mini"),
		BaseURL:         getEnvOrDefault("QUALITY_BASE_URL", urlFallback),
		APIKey:          getEnvOrDefault("QUALITY_API_KEY", keyFallback),
		AzureAPIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-06-01"),
		MaxTokens:       getEnvInt("QUALITY_MAX_TOKENS", 1024),
		Temperature:     getEnvFloat32("QUALITY_TEMPERATURE", 0),
	}
}

// NewFromEnv builds the grading model from ConfigFromEnv.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, error) {
	return New(ctx, ConfigFromEnv())
}

// New validates cfg and constructs the backend's chat model, so bad settings
// fail at startup rather than on the first grading call.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendOllama:
		return newOllama(ctx, cfg)
	case BackendAzure:
		return newAzure(ctx, cfg)
	case BackendGemini:
		return newGemini(ctx, cfg)
	case BackendArk:
		return newArk(ctx, cfg)
	default:
		return newOpenAI(ctx, cfg)
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
