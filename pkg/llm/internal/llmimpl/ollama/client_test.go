package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchmind/pkg/config"
	"patchmind/pkg/llm"
	"patchmind/pkg/llm/llmerrors"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req api.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "model 'missing' not found"})
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, piece := range []string{"he", "llo"} {
			_ = enc.Encode(api.ChatResponse{Model: req.Model, Message: api.Message{Role: "assistant", Content: piece}})
		}
		_ = enc.Encode(api.ChatResponse{Model: req.Model, Done: true, DoneReason: "stop"})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(api.ListResponse{Models: []api.ListModelResponse{{Name: "qwen2.5-coder:7b"}, {Name: "llama3.1:8b"}}})
	})
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		var req api.ShowRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		info := map[string]any{"general.architecture": "qwen2"}
		if req.Model == "qwen2.5-coder:7b" {
			info["qwen2.context_length"] = 32768
		}
		_ = json.NewEncoder(w).Encode(api.ShowResponse{ModelInfo: info})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOllamaClientWithModel(t *testing.T) {
	c := NewOllamaClientWithModel("not a url", "ollama:phi4")
	assert.Equal(t, "phi4", c.GetModelName())
	assert.Equal(t, config.DefaultOllamaHost, c.hostURL)
}

func TestStream(t *testing.T) {
	srv := newTestServer(t)
	c := NewOllamaClientWithModel(srv.URL, "llama3.1:8b")

	stream, err := c.Stream(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)

	var pieces []string
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		if chunk.Content != "" {
			pieces = append(pieces, chunk.Content)
		}
	}
	assert.Equal(t, []string{"he", "llo"}, pieces)
}

func TestCompleteModelNotFound(t *testing.T) {
	srv := newTestServer(t)
	c := NewOllamaClientWithModel(srv.URL, "missing")

	_, err := c.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t)
	names, err := NewOllamaClientWithModel(srv.URL, "x").ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.1:8b", "qwen2.5-coder:7b"}, names)
}

func TestContextLimit(t *testing.T) {
	srv := newTestServer(t)
	assert.Equal(t, 32768, NewOllamaClientWithModel(srv.URL, "qwen2.5-coder:7b").ContextLimit(context.Background()))
	assert.Equal(t, 8192, NewOllamaClientWithModel(srv.URL, "llama3.1:8b").ContextLimit(context.Background()))
}

func TestFallbackContextLimit(t *testing.T) {
	tests := map[string]int{
		"llama3:70b":    32768,
		"mixtral:8x7b":  32768,
		"codellama:13b": 8192,
		"mistral:7b":    8192,
		"gemma2":        8192,
		"llama3.2:3b":   4096,
		"tinyllama":     4096,
	}
	for model, want := range tests {
		assert.Equal(t, want, FallbackContextLimit(model), model)
	}
}

func TestConvertMessages(t *testing.T) {
	_, err := convertMessages(nil)
	assert.Error(t, err)

	msgs, err := convertMessages([]llm.CompletionMessage{llm.NewSystemMessage("s"), llm.NewUserMessage("u")})
	require.NoError(t, err)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
}
