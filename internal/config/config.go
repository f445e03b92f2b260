// Package config loads novelt configuration.
// Precedence, lowest first: defaults, .env file, YAML file, environment.
// The .env and YAML layers are applied as environment variables and never
// overwrite a variable that is already set, so the environment always wins.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. NOVELT_CONFIG environment variable
//  3. ~/.novelt/config.yaml
//  4. ./novelt.yaml
//
// If no file is found novelt runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration file. Field names mirror the env vars
// they feed.
type Config struct {
	// Upstream is the OpenAI-compatible endpoint used for translation.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Translation tunes prompt assembly and the translation call.
	Translation TranslationConfig `yaml:"translation"`

	// Quality configures the grading model and threshold.
	Quality QualityConfig `yaml:"quality"`

	// PostProcess toggles output cleanups.
	PostProcess PostProcessConfig `yaml:"postprocess"`

	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// UpstreamConfig holds the completion endpoint settings.
type UpstreamConfig struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1.
	BaseURL string `yaml:"base_url"`
	// APIKey prefer env var NOVELT_API_KEY.
	APIKey string `yaml:"api_key"`
	// SafetyModels are model-name substrings that get relaxed safety settings.
	SafetyModels []string `yaml:"safety_models"`
}

// TranslationConfig holds translation call and prompt settings.
type TranslationConfig struct {
	Model            string  `yaml:"model"`
	Temperature      float32 `yaml:"temperature"`
	MaxOutputTokens  int     `yaml:"max_output_tokens"`
	MaxContextTokens int     `yaml:"max_context_tokens"`
	Stream           bool    `yaml:"stream"`
	UseToolCalls     bool    `yaml:"use_tool_calls"`
	// Strategy is the exemplar fitting strategy: greedy or binary.
	Strategy string `yaml:"strategy"`
	// Tokenizer is the tiktoken encoding, or "heuristic".
	Tokenizer string `yaml:"tokenizer"`
}

// QualityConfig holds grading settings.
type QualityConfig struct {
	// Provider selects the backend: openai, azure, ollama, gemini, ark.
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"base_url"`
	APIKey          string  `yaml:"api_key"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Temperature     float32 `yaml:"temperature"`
	Threshold       float32 `yaml:"threshold"`
}

// PostProcessConfig holds the output cleanup toggles.
type PostProcessConfig struct {
	RemoveXMLTags             bool `yaml:"remove_xml_tags"`
	RemoveCodeBlocks          bool `yaml:"remove_code_blocks"`
	TrimWhitespace            bool `yaml:"trim_whitespace"`
	TruncateAfterSecondHeader bool `yaml:"truncate_after_second_header"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for the HTTP API. Prefer env var NOVELT_SERVER_API_KEY.
	APIKey string `yaml:"api_key"`
}

// StorageConfig holds the database location.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their env var names.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"NOVELT_BASE_URL", func(c *Config) string { return c.Upstream.BaseURL }},
	{"NOVELT_API_KEY", func(c *Config) string { return c.Upstream.APIKey }},
	{"NOVELT_SAFETY_MODELS", func(c *Config) string { return strings.Join(c.Upstream.SafetyModels, ",") }},
	{"NOVELT_MODEL", func(c *Config) string { return c.Translation.Model }},
	{"NOVELT_TEMPERATURE", func(c *Config) string { return float32Str(c.Translation.Temperature) }},
	{"NOVELT_MAX_OUTPUT_TOKENS", func(c *Config) string { return intStr(c.Translation.MaxOutputTokens) }},
	{"NOVELT_MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Translation.MaxContextTokens) }},
	{"NOVELT_STREAM", func(c *Config) string { return boolStr(c.Translation.Stream) }},
	{"NOVELT_TOOL_CALLS", func(c *Config) string { return boolStr(c.Translation.UseToolCalls) }},
	{"NOVELT_BUDGET_STRATEGY", func(c *Config) string { return c.Translation.Strategy }},
	{"NOVELT_TOKENIZER", func(c *Config) string { return c.Translation.Tokenizer }},
	{"QUALITY_PROVIDER", func(c *Config) string { return c.Quality.Provider }},
	{"QUALITY_MODEL", func(c *Config) string { return c.Quality.Model }},
	{"QUALITY_BASE_URL", func(c *Config) string { return c.Quality.BaseURL }},
	{"QUALITY_API_KEY", func(c *Config) string { return c.Quality.APIKey }},
	{"QUALITY_MAX_TOKENS", func(c *Config) string { return intStr(c.Quality.MaxOutputTokens) }},
	{"QUALITY_TEMPERATURE", func(c *Config) string { return float32Str(c.Quality.Temperature) }},
	{"QUALITY_THRESHOLD", func(c *Config) string { return float32Str(c.Quality.Threshold) }},
	{"NOVELT_REMOVE_XML_TAGS", func(c *Config) string { return boolStr(c.PostProcess.RemoveXMLTags) }},
	{"NOVELT_REMOVE_CODE_BLOCKS", func(c *Config) string { return boolStr(c.PostProcess.RemoveCodeBlocks) }},
	{"NOVELT_TRIM_WHITESPACE", func(c *Config) string { return boolStr(c.PostProcess.TrimWhitespace) }},
	{"NOVELT_TRUNCATE_AFTER_SECOND_HEADER", func(c *Config) string { return boolStr(c.PostProcess.TruncateAfterSecondHeader) }},
	{"NOVELT_HOST", func(c *Config) string { return c.Server.Host }},
	{"NOVELT_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"NOVELT_SERVER_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"NOVELT_DB", func(c *Config) string { return c.Storage.DBPath }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LOG_FILE", func(c *Config) string { return c.Logging.File }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv applies KEY=VALUE pairs from ./.env and ~/.novelt/.env when
// present. Variables already set are left alone. It returns the files read.
func LoadDotEnv(log *slog.Logger) []string {
	paths := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".novelt", ".env"))
	}
	var loaded []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.Warn("config: failed to read env file", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		log.Debug("config: loaded env file", slog.String("path", p))
		loaded = append(loaded, p)
	}
	return loaded
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // already set in the environment
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("NOVELT_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".novelt", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("novelt.yaml"); err == nil {
		return "novelt.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
