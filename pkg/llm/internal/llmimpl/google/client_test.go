package google

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"patchmind/pkg/llm"
	"patchmind/pkg/llm/llmerrors"
)

func TestConvertMessages(t *testing.T) {
	contents, system, err := convertMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("a"),
		llm.NewSystemMessage("b"),
		llm.NewUserMessage("question"),
		llm.NewAssistantMessage("answer"),
		llm.NewUserMessage("follow-up"),
	})
	require.NoError(t, err)
	assert.Equal(t, "a\n\nb", system)
	require.Len(t, contents, 3)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, "follow-up", contents[2].Parts[0].Text)

	_, _, err = convertMessages(nil)
	assert.Error(t, err)

	_, _, err = convertMessages([]llm.CompletionMessage{llm.NewSystemMessage("only")})
	assert.Error(t, err)
}

func TestBuildConfig(t *testing.T) {
	req := llm.NewCompletionRequest(nil)
	req.MaxTokens = 1024
	cfg := buildConfig(&req, "sys")

	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, float64(llm.TemperatureDefault), float64(*cfg.Temperature), 1e-6)
	assert.Equal(t, int32(1024), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "sys", cfg.SystemInstruction.Parts[0].Text)
}

func TestStreamAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, ":streamGenerateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"fo", "o"} {
			fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", piece)
		}
	}))
	defer srv.Close()

	client := newGeminiClientWithBaseURL("key", "gemini-2.5-flash", srv.URL)
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "foo", resp.Content)
}

func TestClassifyError(t *testing.T) {
	err := classifyError(genai.APIError{Code: 429, Message: "quota"})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit))

	err = classifyError(context.Canceled)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeTransient))
}
