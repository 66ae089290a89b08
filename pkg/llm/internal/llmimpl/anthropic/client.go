// Package anthropic implements llm.LLMClient over the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"patchmind/pkg/llm"
	"patchmind/pkg/llm/llmerrors"
)

// ClaudeClient streams completions from Claude models.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw client. Middleware is applied by the provider factory.
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// ensureAlternation extracts the system prompt and merges consecutive user messages so the
// conversation strictly alternates and starts and ends with a user turn.
func ensureAlternation(messages []llm.CompletionMessage) (string, []llm.CompletionMessage, error) {
	system, rest := llm.SplitSystem(messages)
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	var merged []llm.CompletionMessage
	var userParts []string
	flush := func() {
		if len(userParts) > 0 {
			merged = append(merged, llm.NewUserMessage(strings.Join(userParts, "\n\n")))
			userParts = nil
		}
	}
	for _, msg := range rest {
		if msg.Role == llm.RoleAssistant {
			flush()
			merged = append(merged, msg)
			continue
		}
		userParts = append(userParts, msg.Content)
	}
	flush()

	if merged[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, merged[i].Role)
		}
	}
	if last := merged[len(merged)-1]; last.Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", last.Role)
	}
	return system, merged, nil
}

func (c *ClaudeClient) buildParams(in *llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	system, alternating, err := ensureAlternation(in.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for _, msg := range alternating {
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params, nil
}

// Complete collects a streamed response.
//
//nolint:gocritic // value request matches interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	stream, err := c.Stream(ctx, in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	resp, err := llm.Collect(ctx, stream)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	if resp.Content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}
	return resp, nil
}

// Stream forwards text deltas as they arrive.
//
//nolint:gocritic // value request matches interface
func (c *ClaudeClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	params, err := c.buildParams(&in)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		stream := c.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !llm.Emit(ctx, ch, llm.StreamChunk{Content: text.Text}) {
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

func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps SDK errors to llmerrors types, preferring the API status code.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled or timed out")
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(err, apiErr.StatusCode, err.Error())
	}
	return llmerrors.Classify(err, 0, "")
}
