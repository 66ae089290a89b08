// Package llm defines the model client surface used by the generation workflows.
package llm

import (
	"context"
	"strings"
)

// CompletionRole is the role of a message in a conversation.
type CompletionRole string

const (
	RoleSystem    CompletionRole = "system"
	RoleUser      CompletionRole = "user"
	RoleAssistant CompletionRole = "assistant"
)

const (
	// DefaultMaxTokens caps output when the caller does not set MaxTokens.
	DefaultMaxTokens = 4096

	// TemperatureDefault suits planning and critique.
	TemperatureDefault = 0.3

	// TemperatureDeterministic suits code generation.
	TemperatureDeterministic = 0.2
)

// CompletionMessage is one message of a completion request.
type CompletionMessage struct {
	Content string
	Role    CompletionRole
}

// CompletionRequest is a request to generate a completion.
type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
}

// CompletionResponse is a complete model response.
type CompletionResponse struct {
	Content    string
	StopReason string
}

// StreamChunk is one piece of a streamed response. A chunk with Error set is the last one.
type StreamChunk struct {
	Error   error
	Content string
	Done    bool
}

// LLMClient is a model backend.
type LLMClient interface { //nolint:revive // name kept across providers
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// Stream generates a completion as a stream of chunks. The channel is closed when the
	// stream ends; cancelling ctx ends it early.
	Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error)

	// GetModelName returns the model served by this client.
	GetModelName() string
}

// NewCompletionRequest creates a request with default sampling settings.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content}
}

// SplitSystem separates system messages (joined by blank lines) from the conversation.
// Providers that take the system prompt as a separate parameter use it.
func SplitSystem(messages []CompletionMessage) (string, []CompletionMessage) {
	var system []string
	rest := make([]CompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// Collect drains a stream into a response. It returns the first chunk error, with whatever
// content arrived before it.
func Collect(ctx context.Context, stream <-chan StreamChunk) (CompletionResponse, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return CompletionResponse{Content: sb.String()}, ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return CompletionResponse{Content: sb.String(), StopReason: "end_turn"}, nil
			}
			if chunk.Error != nil {
				return CompletionResponse{Content: sb.String()}, chunk.Error
			}
			sb.WriteString(chunk.Content)
			if chunk.Done {
				return CompletionResponse{Content: sb.String(), StopReason: "end_turn"}, nil
			}
		}
	}
}

// Emit sends chunk on ch unless ctx ends first. It reports whether the chunk was sent.
// Provider stream goroutines use it so an abandoned stream never blocks them.
func Emit(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
