// Package openai implements llm.LLMClient over the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"patchmind/pkg/config"
	"patchmind/pkg/llm"
	"patchmind/pkg/llm/llmerrors"
)

// Client streams chat completions from OpenAI models.
type Client struct {
	client openai.Client
	model  string
}

// NewClientWithModel creates a raw client. opts may override the base URL for compatible servers.
func NewClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func convertMessages(messages []llm.CompletionMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}
	return out, nil
}

func (c *Client) buildParams(in *llm.CompletionRequest) (openai.ChatCompletionNewParams, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	maxTokens := in.MaxTokens
	if info, exists := config.KnownModels[c.model]; exists && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	// Reasoning models reject temperature.
	if !isReasoningModel(c.model) {
		params.Temperature = openai.Float(float64(in.Temperature))
	}
	return params, nil
}

func isReasoningModel(model string) bool {
	return len(model) >= 2 && model[0] == 'o' && model[1] >= '0' && model[1] <= '9'
}

//nolint:gocritic // value request matches interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	stream, err := c.Stream(ctx, in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	resp, err := llm.Collect(ctx, stream)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	if resp.Content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI API")
	}
	return resp, nil
}

//nolint:gocritic // value request matches interface
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := c.buildParams(&in)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !llm.Emit(ctx, ch, llm.StreamChunk{Content: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			llm.Emit(ctx, ch, llm.StreamChunk{Error: classifyError(err)})
			return
		}
		llm.Emit(ctx, ch, llm.StreamChunk{Done: true})
	}()
	return ch, nil
}

func (c *Client) GetModelName() string {
	return c.model
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled or timed out")
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(err, apiErr.StatusCode, err.Error())
	}
	return llmerrors.Classify(err, 0, "")
}
