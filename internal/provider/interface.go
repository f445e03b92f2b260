// Package provider builds the chat model used to grade translations. The
// translation itself goes through internal/completion; grading is a short
// structured call that works on any eino-ext backend.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported grading backends.
type Backend string

const (
	// BackendOpenAI selects the OpenAI API or any OpenAI-compatible endpoint.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendGemini selects Google Gemini through AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects the Volcano Engine Ark runtime.
	BackendArk Backend = "ark"
)

// Config is the resolved grading model configuration.
type Config struct {
	Backend Backend

	// Model is the model name, or the deployment name for Azure.
	Model string

	// BaseURL overrides the backend's default endpoint. Required for Azure.
	BaseURL string

	// APIKey authenticates against the backend. Unused by Ollama.
	APIKey string

	// AzureAPIVersion is the Azure OpenAI REST API version.
	AzureAPIVersion string

	// MaxTokens caps the verdict length. Zero leaves the backend default.
	MaxTokens int

	// Temperature for grading calls.
	Temperature float32
}

// Validate reports the first missing setting for the selected backend.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("provider: QUALITY_API_KEY is required for openai backend")
		}
	case BackendAzure:
		if c.APIKey == "" {
			return fmt.Errorf("provider: QUALITY_API_KEY is required for azure backend")
		}
		if c.BaseURL == "" {
			return fmt.Errorf("provider: QUALITY_BASE_URL (Azure endpoint) is required for azure backend")
		}
	case BackendOllama:
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY or QUALITY_API_KEY is required for gemini backend")
		}
	case BackendArk:
		if c.APIKey == "" {
			return fmt.Errorf("provider: QUALITY_API_KEY is required for ark backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: openai, azure, ollama, gemini, ark)", c.Backend)
	}
	if c.Model == "" {
		return fmt.Errorf("provider: QUALITY_MODEL is required for %s backend", c.Backend)
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment is an o-series
// or codex model, which reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if d == p || strings.HasPrefix(d, p+"-") {
			return true
		}
	}
	return false
}
