package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/novelt-go/internal/budget"
	"github.com/54b3r/novelt-go/internal/completion"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/postprocess"
	"github.com/54b3r/novelt-go/internal/quality"
	"github.com/54b3r/novelt-go/internal/tokens"
)

// Default translation settings.
const (
	DefaultModel                      = "gpt-4o"
	DefaultQualityModel               = "gpt-4o-mini"
	DefaultTemperature                = 0.3
	DefaultMaxTranslationOutputTokens = 8192
	DefaultMaxQualityOutputTokens     = 1024
	// TokenizerHeuristic selects the character-based token estimate.
	TokenizerHeuristic = "heuristic"
)

// Settings is the resolved configuration consumed by the translation core.
type Settings struct {
	BaseURL string
	APIKey  string

	TranslationModel string
	QualityModel     string
	Temperature      float64

	MaxContextTokens           int
	MaxTranslationOutputTokens int
	MaxQualityOutputTokens     int

	Stream       bool
	UseToolCalls bool
	Strategy     budget.Strategy

	PostProcess      postprocess.Options
	QualityThreshold float64
	SafetyMarkers    []string
	// Tokenizer is a tiktoken encoding name or TokenizerHeuristic.
	Tokenizer string
}

// SettingsFromEnv resolves Settings from the environment. Call Load and
// LoadDotEnv first so file-based values are visible.
func SettingsFromEnv() (Settings, error) {
	s := Settings{
		BaseURL:                    getEnvOrDefault("NOVELT_BASE_URL", "https://api.openai.com/v1"),
		APIKey:                     os.Getenv("NOVELT_API_KEY"),
		TranslationModel:           getEnvOrDefault("NOVELT_MODEL", DefaultModel),
		QualityModel:               getEnvOrDefault("QUALITY_MODEL", DefaultQualityModel),
		MaxContextTokens:           budget.DefaultMaxContextTokens,
		MaxTranslationOutputTokens: DefaultMaxTranslationOutputTokens,
		MaxQualityOutputTokens:     DefaultMaxQualityOutputTokens,
		Temperature:                DefaultTemperature,
		QualityThreshold:           quality.DefaultThreshold,
		SafetyMarkers:              completion.DefaultSafetyMarkers,
		Tokenizer:                  getEnvOrDefault("NOVELT_TOKENIZER", tokens.DefaultEncoding),
	}

	var err error
	if s.Temperature, err = envFloat("NOVELT_TEMPERATURE", s.Temperature); err != nil {
		return Settings{}, err
	}
	if s.QualityThreshold, err = envFloat("QUALITY_THRESHOLD", s.QualityThreshold); err != nil {
		return Settings{}, err
	}
	if s.MaxContextTokens, err = envInt("NOVELT_MAX_CONTEXT_TOKENS", s.MaxContextTokens); err != nil {
		return Settings{}, err
	}
	if s.MaxTranslationOutputTokens, err = envInt("NOVELT_MAX_OUTPUT_TOKENS", s.MaxTranslationOutputTokens); err != nil {
		return Settings{}, err
	}
	if s.MaxQualityOutputTokens, err = envInt("QUALITY_MAX_TOKENS", s.MaxQualityOutputTokens); err != nil {
		return Settings{}, err
	}
	s.Stream = envBool("NOVELT_STREAM")
	s.UseToolCalls = envBool("NOVELT_TOOL_CALLS")
	s.PostProcess = postprocess.Options{
		RemoveXMLTags:             envBool("NOVELT_REMOVE_XML_TAGS"),
		RemoveCodeBlocks:          envBool("NOVELT_REMOVE_CODE_BLOCKS"),
		TrimWhitespace:            envBool("NOVELT_TRIM_WHITESPACE"),
		TruncateAfterSecondHeader: envBool("NOVELT_TRUNCATE_AFTER_SECOND_HEADER"),
	}
	s.Strategy = budget.ParseStrategy(strings.ToLower(os.Getenv("NOVELT_BUDGET_STRATEGY")))
	if v := os.Getenv("NOVELT_SAFETY_MODELS"); v != "" {
		s.SafetyMarkers = splitList(v)
	}
	return s, nil
}

// ForNovel returns s with n's overrides applied.
func (s Settings) ForNovel(n *novel.Novel) Settings {
	if n == nil {
		return s
	}
	o := n.Overrides
	if o.TranslationModel != "" {
		s.TranslationModel = o.TranslationModel
	}
	if o.QualityModel != "" {
		s.QualityModel = o.QualityModel
	}
	if o.MaxContextTokens > 0 {
		s.MaxContextTokens = o.MaxContextTokens
	}
	if o.MaxTranslationOutputTokens > 0 {
		s.MaxTranslationOutputTokens = o.MaxTranslationOutputTokens
	}
	if o.MaxQualityOutputTokens > 0 {
		s.MaxQualityOutputTokens = o.MaxQualityOutputTokens
	}
	if o.UseToolCalls != nil {
		s.UseToolCalls = *o.UseToolCalls
	}
	return s
}

// Mode returns the completion mode implied by the streaming flag.
func (s Settings) Mode() completion.Mode {
	if s.Stream {
		return completion.ModeCollectStream
	}
	return completion.ModeBlocking
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, v)
	}
	return i, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a number, got %q", key, v)
	}
	return f, nil
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
