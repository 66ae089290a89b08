// Package providers builds LLM clients with their middleware chains.
package providers

import (
	"context"
	"fmt"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"

	"patchmind/pkg/config"
	"patchmind/pkg/llm"
	"patchmind/pkg/llm/internal/llmimpl/anthropic"
	"patchmind/pkg/llm/internal/llmimpl/google"
	"patchmind/pkg/llm/internal/llmimpl/ollama"
	"patchmind/pkg/llm/internal/llmimpl/openai"
	"patchmind/pkg/llm/middleware/metrics"
	"patchmind/pkg/logx"
)

// Factory creates LLM clients with properly configured middleware chains.
type Factory struct {
	recorder metrics.Recorder
	counter  metrics.UsageCounter
	logger   *logx.Logger
}

// Option customizes a Factory.
type Option func(*Factory)

// WithRecorder sets the metrics recorder. The default discards observations.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(f *Factory) { f.recorder = recorder }
}

// WithCounter sets the token counter used for usage metrics.
func WithCounter(counter metrics.UsageCounter) Option {
	return func(f *Factory) { f.counter = counter }
}

func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("llm"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateClient resolves the model's provider and credentials and returns a client wrapped
// in the metrics middleware. Failed calls are not retried; a retry is a new user request.
func (f *Factory) CreateClient(model string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", model, err)
	}
	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	var raw llm.LLMClient
	switch provider {
	case config.ProviderAnthropic:
		raw = anthropic.NewClaudeClientWithModel(apiKey, model, anthropicopt.WithMaxRetries(0))
	case config.ProviderOpenAI:
		raw = openai.NewClientWithModel(apiKey, model, openaiopt.WithMaxRetries(0))
	case config.ProviderGoogle:
		raw = google.NewGeminiClientWithModel(apiKey, model)
	case config.ProviderOllama:
		raw = ollama.NewOllamaClientWithModel(apiKey, model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}

	f.logger.Debug("created %s client for model %s", provider, model)
	return llm.Chain(raw, metrics.Middleware(f.recorder, f.counter, f.logger)), nil
}

// ContextLimit returns the model's context window. Ollama models are asked directly since
// their window depends on the local model file.
func ContextLimit(ctx context.Context, model string) int {
	if info, known := config.GetModelInfo(model); known || info.Provider != config.ProviderOllama {
		return info.MaxContextTokens
	}
	host, err := config.GetAPIKey(config.ProviderOllama)
	if err != nil {
		host = config.DefaultOllamaHost
	}
	return ollama.NewOllamaClientWithModel(host, model).ContextLimit(ctx)
}

// ListOllamaModels lists the models installed on the configured Ollama server.
func ListOllamaModels(ctx context.Context) ([]string, error) {
	host, err := config.GetAPIKey(config.ProviderOllama)
	if err != nil {
		return nil, err //nolint:wrapcheck // config error is descriptive
	}
	models, err := ollama.NewOllamaClientWithModel(host, "").ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ollama models at %s: %w", host, err)
	}
	return models, nil
}
