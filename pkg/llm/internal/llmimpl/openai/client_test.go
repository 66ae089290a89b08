package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchmind/pkg/llm"
	"patchmind/pkg/llm/llmerrors"
)

func TestConvertMessages(t *testing.T) {
	_, err := convertMessages(nil)
	assert.Error(t, err)

	out, err := convertMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("hi"),
		llm.NewAssistantMessage("hello"),
	})
	require.NoError(t, err)
	assert.Len(t, out, 3)

	_, err = convertMessages([]llm.CompletionMessage{{Role: "tool", Content: "x"}})
	assert.Error(t, err)
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, isReasoningModel("o4-mini"))
	assert.True(t, isReasoningModel("o3"))
	assert.False(t, isReasoningModel("gpt-4o"))
	assert.False(t, isReasoningModel("ollama:phi"))
}

func TestStreamAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClientWithModel("key", "gpt-4o", option.WithBaseURL(srv.URL))
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
}

func TestStreamClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	client := NewClientWithModel("key", "gpt-4o", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
}
