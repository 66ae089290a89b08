package workflow

import (
	"context"
	"strings"

	"patchmind/pkg/llm"
	"patchmind/pkg/llm/middleware/metrics"
	"patchmind/pkg/logx"
	"patchmind/pkg/templates"
)

const maxQueryWords = 12

// RewriteQuery asks the model for a short search query for prompt. Any failure falls back
// to the prompt itself.
func RewriteQuery(ctx context.Context, client llm.LLMClient, prompt string) string {
	rendered, err := templates.MustRenderer().Render(templates.QueryRewriteTemplate, &templates.PromptData{Query: prompt})
	if err != nil {
		return prompt
	}
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage(rendered)})
	req.MaxTokens = 64

	resp, err := client.Complete(metrics.WithStage(ctx, "query_rewrite"), req)
	if err != nil {
		logx.Debug(ctx, "workflow", "query rewrite failed, using prompt: %v", err)
		return prompt
	}

	query := strings.TrimSpace(resp.Content)
	if first, _, ok := strings.Cut(query, "\n"); ok {
		query = strings.TrimSpace(first)
	}
	query = strings.TrimPrefix(query, "Search query:")
	query = strings.Trim(strings.TrimSpace(query), "\"'`")
	if query == "" || len(strings.Fields(query)) > maxQueryWords {
		return prompt
	}
	return query
}
