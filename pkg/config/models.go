package config

import (
	"fmt"
	"strings"
)

// Provider identifiers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// API key environment variable names.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"

	DefaultOllamaHost = "http://localhost:11434"
)

// Model name constants.
const (
	ModelClaudeSonnet = "claude-sonnet-4-5"
	ModelClaudeHaiku  = "claude-haiku-4-5"
	ModelGPT4o        = "gpt-4o"
	ModelGPT4oMini    = "gpt-4o-mini"
	ModelO4Mini       = "o4-mini"
	ModelGeminiFlash  = "gemini-2.5-flash"
	ModelGeminiPro    = "gemini-2.5-pro"
	ModelQwenCoder    = "qwen2.5-coder:7b"
	ModelLlama31      = "llama3.1:8b"

	DefaultModel = ModelClaudeSonnet
)

// Conservative limits for models missing from the registry.
const (
	defaultContextTokens = 32000
	defaultOutputTokens  = 4096
)

// ModelInfo is static data about a known model.
type ModelInfo struct {
	Provider         string  // anthropic, openai, google, ollama
	InputCPM         float64 // USD per million input tokens
	OutputCPM        float64 // USD per million output tokens
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels is the built-in model registry. Unknown models are resolved via ProviderPatterns.
//
//nolint:gochecknoglobals // static registry
var KnownModels = map[string]ModelInfo{
	ModelClaudeSonnet: {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	ModelClaudeHaiku: {
		Provider:         ProviderAnthropic,
		InputCPM:         1.0,
		OutputCPM:        5.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	ModelGPT4o: {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	ModelGPT4oMini: {
		Provider:         ProviderOpenAI,
		InputCPM:         0.15,
		OutputCPM:        0.60,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	ModelO4Mini: {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	ModelGeminiFlash: {
		Provider:         ProviderGoogle,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
	ModelGeminiPro: {
		Provider:         ProviderGoogle,
		InputCPM:         1.25,
		OutputCPM:        10.0,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
	ModelQwenCoder: {
		Provider:         ProviderOllama,
		MaxContextTokens: 32768,
		MaxOutputTokens:  4096,
	},
	ModelLlama31: {
		Provider:         ProviderOllama,
		MaxContextTokens: 8192,
		MaxOutputTokens:  4096,
	},
}

// ProviderPattern maps a model name prefix to a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns infer providers for models not in KnownModels.
//
//nolint:gochecknoglobals // static inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"gemma", ProviderOllama},
	{"ollama:", ProviderOllama}, // explicit, e.g. "ollama:phi4"
}

func inferProvider(modelName string) string {
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider
		}
	}
	return ""
}

// GetModelProvider returns the API provider for a model.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	if provider := inferProvider(modelName); provider != "" {
		return provider, nil
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns registry data for a model. For unknown models it returns conservative
// limits with the inferred provider and false.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}
	return ModelInfo{
		Provider:         inferProvider(modelName),
		MaxContextTokens: defaultContextTokens,
		MaxOutputTokens:  defaultOutputTokens,
	}, false
}

// CalculateCost returns the USD cost of a token usage. Unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, exists := KnownModels[modelName]
	if !exists {
		return 0
	}
	return float64(promptTokens)/1_000_000.0*info.InputCPM + float64(completionTokens)/1_000_000.0*info.OutputCPM
}

// GetAPIKey returns the credential for a provider: the secrets vault first, then the
// environment. For Ollama it returns the host URL.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		if host, err := GetSecret(EnvOllamaHost); err == nil {
			return host, nil
		}
		return DefaultOllamaHost, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err != nil {
		return "", fmt.Errorf("API key not found: %s not in secrets file or environment", envVar)
	}
	return key, nil
}
