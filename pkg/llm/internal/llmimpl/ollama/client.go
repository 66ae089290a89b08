// Package ollama implements llm.LLMClient over a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/ollama/ollama/api"

	"patchmind/pkg/config"
	"patchmind/pkg/llm"
	"patchmind/pkg/llm/llmerrors"
)

// ExplicitPrefix marks a model as served by Ollama, e.g. "ollama:phi4".
const ExplicitPrefix = "ollama:"

// Client streams chat responses from an Ollama server.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewOllamaClientWithModel creates a client for hostURL (e.g. "http://localhost:11434").
// An unparsable host falls back to the default.
func NewOllamaClientWithModel(hostURL, model string) *Client {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		parsedURL, _ = url.Parse(config.DefaultOllamaHost)
	}
	return &Client{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   strings.TrimPrefix(model, ExplicitPrefix),
		hostURL: parsedURL.String(),
	}
}

func convertMessages(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	out := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, api.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return out, nil
}

//nolint:gocritic // value request matches interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	stream, err := o.Stream(ctx, in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	resp, err := llm.Collect(ctx, stream)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	if resp.Content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Ollama")
	}
	return resp, nil
}

//nolint:gocritic // value request matches interface
func (o *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}
	stream := true
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			if !llm.Emit(ctx, ch, llm.StreamChunk{Content: resp.Message.Content}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			llm.Emit(ctx, ch, llm.StreamChunk{Error: classifyError(err)})
			return
		}
		llm.Emit(ctx, ch, llm.StreamChunk{Done: true})
	}()
	return ch, nil
}

func (o *Client) GetModelName() string {
	return o.model
}

// ListModels returns the names of locally installed models, sorted.
func (o *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names, nil
}

// ContextLimit returns the model's context window from its model info, falling back to an
// estimate from the model name when the server does not report one.
func (o *Client) ContextLimit(ctx context.Context) int {
	resp, err := o.client.Show(ctx, &api.ShowRequest{Model: o.model})
	if err == nil && resp != nil {
		if limit := contextLengthFromInfo(resp.ModelInfo); limit > 0 {
			return limit
		}
	}
	return FallbackContextLimit(o.model)
}

func contextLengthFromInfo(info map[string]any) int {
	for key, value := range info {
		if !strings.HasSuffix(key, ".context_length") {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int(v)
		case int:
			return v
		case int64:
			return int(v)
		}
	}
	return 0
}

// FallbackContextLimit guesses a context window from size markers in the model name.
func FallbackContextLimit(model string) int {
	name := strings.ToLower(model)
	switch {
	case containsAny(name, "70b", "large", "mixtral"):
		return 32768
	case containsAny(name, "13b", "20b", "30b", "34b"):
		return 8192
	case containsAny(name, "7b", "8b", "gemma", "phi", "medium"):
		return 8192
	case containsAny(name, "3b", "4b", "small"):
		return 4096
	default:
		return 4096
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled or timed out")
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, statusErr.StatusCode, fmt.Sprintf("Ollama model not found: %s", statusErr.ErrorMessage))
		}
		return llmerrors.Classify(err, statusErr.StatusCode, statusErr.ErrorMessage)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	}
	return llmerrors.Classify(err, 0, "")
}
