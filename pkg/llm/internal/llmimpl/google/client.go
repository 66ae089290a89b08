// Package google implements llm.LLMClient over the Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"patchmind/pkg/llm"
	"patchmind/pkg/llm/llmerrors"
)

// GeminiClient streams completions from Gemini models. The SDK client is created on first use.
type GeminiClient struct {
	client  *genai.Client
	initErr error
	once    sync.Once
	apiKey  string
	baseURL string
	model   string
}

func NewGeminiClientWithModel(apiKey, model string) llm.LLMClient {
	return &GeminiClient{apiKey: apiKey, model: model}
}

// newGeminiClientWithBaseURL points the SDK at a test server.
func newGeminiClientWithBaseURL(apiKey, model, baseURL string) *GeminiClient {
	return &GeminiClient{apiKey: apiKey, model: model, baseURL: baseURL}
}

func (g *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if g.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
		}
		g.client, g.initErr = genai.NewClient(ctx, cfg)
	})
	if g.initErr != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, g.initErr, "failed to create Gemini client")
	}
	return g.client, nil
}

// convertMessages maps roles to Gemini's user/model and lifts system messages into the
// system instruction.
func convertMessages(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}
	system, rest := llm.SplitSystem(messages)

	contents := make([]*genai.Content, 0, len(rest))
	for _, msg := range rest {
		var role genai.Role
		switch msg.Role {
		case llm.RoleUser:
			role = genai.RoleUser
		case llm.RoleAssistant:
			role = genai.RoleModel
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}
		if msg.Content == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	if len(contents) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}
	return contents, system, nil
}

func buildConfig(in *llm.CompletionRequest, system string) *genai.GenerateContentConfig {
	temperature := in.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if in.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(in.MaxTokens) //nolint:gosec // bounded by model limits
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	return cfg
}

//nolint:gocritic // value request matches interface
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	stream, err := g.Stream(ctx, in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	resp, err := llm.Collect(ctx, stream)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	if resp.Content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}
	return resp, nil
}

//nolint:gocritic // value request matches interface
func (g *GeminiClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	contents, system, err := convertMessages(in.Messages)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}
	client, err := g.sdk(ctx)
	if err != nil {
		return nil, err
	}
	cfg := buildConfig(&in, system)

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for resp, err := range client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				llm.Emit(ctx, ch, llm.StreamChunk{Error: classifyError(err)})
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !llm.Emit(ctx, ch, llm.StreamChunk{Content: text}) {
				return
			}
		}
		llm.Emit(ctx, ch, llm.StreamChunk{Done: true})
	}()
	return ch, nil
}

func (g *GeminiClient) GetModelName() string {
	return g.model
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled or timed out")
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(err, apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return llmerrors.Classify(err, apiErrPtr.Code, apiErrPtr.Message)
	}
	return llmerrors.Classify(err, 0, "")
}
