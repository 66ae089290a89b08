package mocks

import (
	"context"
	"strings"
	"sync"

	"patchmind/pkg/llm"
)

// MockLLMClient implements llm.LLMClient for testing.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockLLMClient struct {
	// CompleteFunc is called when Complete is invoked. Override to customize behavior.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)

	// StreamFunc is called when Stream is invoked. Override to customize behavior.
	StreamFunc func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error)

	CompleteCalls []llm.CompletionRequest
	StreamCalls   []llm.CompletionRequest

	modelName string

	// mu protects call tracking slices
	mu sync.Mutex
}

// NewMockLLMClient creates a mock that answers "Mock response" to everything.
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{modelName: "mock-model"}
	m.RespondWith("Mock response")
	m.StreamContent("Mock streamed response", 8)
	return m
}

// Complete implements llm.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	fn := m.CompleteFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

// Stream implements llm.LLMClient.
func (m *MockLLMClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.StreamCalls = append(m.StreamCalls, req)
	fn := m.StreamFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

// GetModelName implements llm.LLMClient.
func (m *MockLLMClient) GetModelName() string {
	return m.modelName
}

// --- Configuration methods ---

// SetModelName sets the model name returned by GetModelName.
func (m *MockLLMClient) SetModelName(name string) {
	m.modelName = name
}

// OnStream sets a custom handler for Stream calls.
func (m *MockLLMClient) OnStream(fn func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamFunc = fn
}

// FailCompleteWith configures Complete to return err.
func (m *MockLLMClient) FailCompleteWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, err
	}
}

// FailStreamWith configures Stream to fail before opening.
func (m *MockLLMClient) FailStreamWith(err error) {
	m.OnStream(func(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		return nil, err
	})
}

// RespondWith configures Complete to return content.
func (m *MockLLMClient) RespondWith(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: content, StopReason: "end_turn"}, nil
	}
}

// --- Streaming helpers ---

func chunked(content string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = len(content)
	}
	var parts []string
	for i := 0; i < len(content); i += chunkSize {
		end := min(i+chunkSize, len(content))
		parts = append(parts, content[i:end])
	}
	return parts
}

func streamParts(ctx context.Context, parts []string, tail error) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, p := range parts {
			if !llm.Emit(ctx, ch, llm.StreamChunk{Content: p}) {
				return
			}
		}
		if tail != nil {
			llm.Emit(ctx, ch, llm.StreamChunk{Error: tail})
			return
		}
		llm.Emit(ctx, ch, llm.StreamChunk{Done: true})
	}()
	return ch
}

// StreamContent configures Stream to return content in chunks of chunkSize bytes.
func (m *MockLLMClient) StreamContent(content string, chunkSize int) {
	m.OnStream(func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		return streamParts(ctx, chunked(content, chunkSize), nil), nil
	})
}

// StreamChunks configures Stream to emit exactly the given chunks.
func (m *MockLLMClient) StreamChunks(chunks ...string) {
	m.OnStream(func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		return streamParts(ctx, chunks, nil), nil
	})
}

// StreamSequence answers the nth Stream call with the nth response, streamed in one chunk.
// Calls past the end repeat the last response.
func (m *MockLLMClient) StreamSequence(responses ...string) {
	var calls int
	var seqMu sync.Mutex
	m.OnStream(func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		seqMu.Lock()
		idx := min(calls, len(responses)-1)
		calls++
		seqMu.Unlock()
		return streamParts(ctx, []string{responses[idx]}, nil), nil
	})
}

// StreamWithError streams content, then fails with err.
func (m *MockLLMClient) StreamWithError(content string, err error) {
	m.OnStream(func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		return streamParts(ctx, []string{content}, err), nil
	})
}

// Gate holds a stream open until released or the request context ends.
type Gate struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	startMu sync.Once
}

// Started is closed once the first chunk has been delivered.
func (g *Gate) Started() <-chan struct{} {
	return g.started
}

// Release lets the stream finish normally.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

// StreamGated streams first, then blocks until the gate is released (then streams rest)
// or the context is cancelled (then closes without a terminal chunk).
func (m *MockLLMClient) StreamGated(first, rest string) *Gate {
	gate := &Gate{started: make(chan struct{}), release: make(chan struct{})}
	m.OnStream(func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk)
		go func() {
			defer close(ch)
			if !llm.Emit(ctx, ch, llm.StreamChunk{Content: first}) {
				return
			}
			gate.startMu.Do(func() { close(gate.started) })
			select {
			case <-ctx.Done():
				return
			case <-gate.release:
			}
			if rest != "" && !llm.Emit(ctx, ch, llm.StreamChunk{Content: rest}) {
				return
			}
			llm.Emit(ctx, ch, llm.StreamChunk{Done: true})
		}()
		return ch, nil
	})
	return gate
}

// --- Verification helpers ---

// GetCompleteCallCount returns the number of times Complete was called.
func (m *MockLLMClient) GetCompleteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// GetStreamCallCount returns the number of times Stream was called.
func (m *MockLLMClient) GetStreamCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.StreamCalls)
}

// StreamPrompt returns the concatenated message text of the nth Stream call, or "".
func (m *MockLLMClient) StreamPrompt(n int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.StreamCalls) {
		return ""
	}
	var sb strings.Builder
	for _, msg := range m.StreamCalls[n].Messages {
		sb.WriteString(msg.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}
