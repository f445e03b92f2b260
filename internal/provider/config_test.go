package provider

import (
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		// ── OpenAI ────────────────────────────────────────────────────────────
		{
			name: "openai/valid",
			cfg:  Config{Backend: BackendOpenAI, APIKey: "sk-test", Model: "gpt-4o-mini"},
		},
		{
			name:    "openai/missing api key",
			cfg:     Config{Backend: BackendOpenAI, Model: "gpt-4o-mini"},
			wantErr: "QUALITY_API_KEY",
		},
		{
			name:    "openai/missing model",
			cfg:     Config{Backend: BackendOpenAI, APIKey: "sk-test"},
			wantErr: "QUALITY_MODEL",
		},

		// ── Azure ─────────────────────────────────────────────────────────────
		{
			name: "azure/valid",
			cfg: Config{
				Backend:         BackendAzure,
				APIKey:          "key",
				BaseURL:         "https://my.openai.azure.com",
				Model:           "gpt-4o",
				AzureAPIVersion: "2024-06-01",
			},
		},
		{
			name:    "azure/missing endpoint",
			cfg:     Config{Backend: BackendAzure, APIKey: "key", Model: "gpt-4o"},
			wantErr: "QUALITY_BASE_URL",
		},

		// ── Ollama ────────────────────────────────────────────────────────────
		{
			name: "ollama/valid without key",
			cfg:  Config{Backend: BackendOllama, Model: "qwen2.5"},
		},
		{
			name:    "ollama/missing model",
			cfg:     Config{Backend: BackendOllama},
			wantErr: "QUALITY_MODEL",
		},

		// ── Gemini ────────────────────────────────────────────────────────────
		{
			name: "gemini/valid",
			cfg:  Config{Backend: BackendGemini, APIKey: "AIza-test", Model: "gemini-2.0-flash"},
		},
		{
			name:    "gemini/missing api key",
			cfg:     Config{Backend: BackendGemini, Model: "gemini-2.0-flash"},
			wantErr: "GOOGLE_API_KEY",
		},

		// ── Ark ───────────────────────────────────────────────────────────────
		{
			name:    "ark/missing api key",
			cfg:     Config{Backend: BackendArk, Model: "doubao-pro"},
			wantErr: "QUALITY_API_KEY",
		},

		{
			name:    "unknown backend",
			cfg:     Config{Backend: "bedrock"},
			wantErr: "unknown backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("QUALITY_PROVIDER", "")
	t.Setenv("QUALITY_MODEL", "")
	t.Setenv("QUALITY_BASE_URL", "")
	t.Setenv("QUALITY_API_KEY", "")
	t.Setenv("QUALITY_MAX_TOKENS", "")
	t.Setenv("NOVELT_API_KEY", "sk-shared")
	t.Setenv("NOVELT_BASE_URL", "https://llm.example/v1")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendOpenAI {
		t.Errorf("Backend = %q, want openai", cfg.Backend)
	}
	if cfg.APIKey != "sk-shared" || cfg.BaseURL != "https://llm.example/v1" {
		t.Errorf("shared credentials not inherited: key=%q url=%q", cfg.APIKey, cfg.BaseURL)
	}
	if cfg.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024", cfg.MaxTokens)
	}

	t.Setenv("QUALITY_PROVIDER", "gemini")
	t.Setenv("GOOGLE_API_KEY", "AIza-test")
	cfg = ConfigFromEnv()
	if cfg.APIKey != "AIza-test" || cfg.BaseURL != "" {
		t.Errorf("gemini should use GOOGLE_API_KEY and no base url: key=%q url=%q", cfg.APIKey, cfg.BaseURL)
	}

	t.Setenv("QUALITY_API_KEY", "explicit")
	if got := ConfigFromEnv().APIKey; got != "explicit" {
		t.Errorf("QUALITY_API_KEY should win, got %q", got)
	}
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		deployment string
		want       bool
	}{
		{"o1", true},
		{"o1-preview", true},
		{"o3-mini", true},
		{"o4-mini", true},
		{"O3-Mini", true},
		{"codex-mini", true},
		{"gpt-5.2-codex", false},
		{"gpt-4o", false},
		{"gpt-4.1", false},
		{"o1x", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.deployment, func(t *testing.T) {
			t.Parallel()
			if got := isAzureReasoningModel(tc.deployment); got != tc.want {
				t.Errorf("isAzureReasoningModel(%q) = %v, want %v", tc.deployment, got, tc.want)
			}
		})
	}
}
