package contextmgr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchmind/internal/mocks"
	"patchmind/pkg/errkind"
	"patchmind/pkg/proto"
	"patchmind/pkg/retrieval"
	"patchmind/pkg/snippets"
	"patchmind/pkg/tokens"
)

const testModel = "gpt-4o" // 4 runes per token

type stubSnippets map[string]string

func (s stubSnippets) Resolve(ids []string) ([]snippets.Snippet, error) {
	var out []snippets.Snippet
	for _, id := range ids {
		if text, ok := s[id]; ok {
			out = append(out, snippets.Snippet{ID: id, Text: text})
		}
	}
	return out, nil
}

type stubRetrieval struct {
	err      error
	passages []retrieval.Passage
	queries  []string
}

func (s *stubRetrieval) Fetch(_ context.Context, query string, limit int) ([]retrieval.Passage, error) {
	s.queries = append(s.queries, query)
	if len(s.passages) > limit {
		return s.passages[:limit], s.err
	}
	return s.passages, s.err
}

func newRequest(t *testing.T, prompt string, budget int, opts ...proto.RequestOption) *proto.GenerationRequest {
	t.Helper()
	req, err := proto.NewGenerationRequest(prompt, proto.WorkflowDirect, testModel, budget, opts...)
	require.NoError(t, err)
	return req
}

func TestBuildTruncatesOversizedFile(t *testing.T) {
	prompt := strings.Repeat("p", 40) // 10 tokens
	files := mocks.NewMemFiles(map[string]string{"big.go": strings.Repeat("x", 600)})
	req := newRequest(t, prompt, 100, proto.WithFiles("big.go"))

	bundle, err := NewAssembler().Build(context.Background(), req, files, nil, nil)
	require.NoError(t, err)

	require.Len(t, bundle.Segments, 2)
	assert.Equal(t, prompt, bundle.Instruction(), "instruction is never truncated")
	assert.Equal(t, 10, bundle.Segments[0].Tokens)

	seg := bundle.Segments[1]
	assert.True(t, seg.Truncated)
	assert.True(t, bundle.Truncated)
	assert.LessOrEqual(t, seg.Tokens, 90)
	assert.True(t, strings.HasPrefix(seg.Text, "### START FILE: big.go ###\n"))
	assert.True(t, strings.HasSuffix(seg.Text, "\n### END FILE: big.go ###"))
	assert.LessOrEqual(t, bundle.Total, bundle.Budget)
}

func TestBuildEverythingFits(t *testing.T) {
	files := mocks.NewMemFiles(map[string]string{
		"main.go": "package main\n",
		"util.go": "package util\n",
	})
	lib := stubSnippets{"style": "Use tabs."}
	rag := &stubRetrieval{passages: []retrieval.Passage{{Source: "docs", Title: "Intro", URL: "file://docs/a.md#p1", Text: "hello"}}}
	req := newRequest(t, "refactor main", 10000,
		proto.WithActiveFile("main.go"),
		proto.WithFiles("util.go", "main.go"),
		proto.WithSnippets("style", "missing"))

	bundle, err := NewAssembler().Build(context.Background(), req, files, lib, rag)
	require.NoError(t, err)

	assert.False(t, bundle.Truncated)
	kinds := make([]SegmentKind, 0, len(bundle.Segments))
	for _, s := range bundle.Segments {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []SegmentKind{KindInstruction, KindActiveFile, KindFile, KindSnippet, KindPassage}, kinds)
	assert.Equal(t, []string{"main.go", "util.go", "snippet:style", "file://docs/a.md#p1"}, bundle.Sources())
	assert.Equal(t, []string{"refactor main"}, rag.queries, "query defaults to the prompt")
	assert.Contains(t, bundle.ContextText(), "### RAG: docs - Intro (file://docs/a.md#p1) ###\nhello\n### END RAG ###")
	assert.True(t, strings.HasSuffix(bundle.Render(), "\n\nrefactor main"))

	sum := 0
	for _, s := range bundle.Segments {
		sum += s.Tokens
	}
	assert.Equal(t, sum, bundle.Total)
}

func TestBuildInstructionOverBudget(t *testing.T) {
	req := newRequest(t, strings.Repeat("p", 81), 20)
	_, err := NewAssembler().Build(context.Background(), req, mocks.NewMemFiles(nil), nil, nil)
	assert.True(t, errkind.Is(err, errkind.BudgetExceeded))
}

func TestBuildFramingChargedToInstruction(t *testing.T) {
	req := newRequest(t, strings.Repeat("p", 40), 12)
	_, err := NewAssembler(WithFraming(strings.Repeat("f", 40))).Build(context.Background(), req, mocks.NewMemFiles(nil), nil, nil)
	assert.True(t, errkind.Is(err, errkind.BudgetExceeded))

	bundle, err := NewAssembler().Build(context.Background(), req, mocks.NewMemFiles(nil), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, bundle.Total)
}

func TestBuildReserveChargedToInstruction(t *testing.T) {
	req := newRequest(t, strings.Repeat("p", 40), 12)
	_, err := NewAssembler(WithReserve(3)).Build(context.Background(), req, mocks.NewMemFiles(nil), nil, nil)
	assert.True(t, errkind.Is(err, errkind.BudgetExceeded))

	bundle, err := NewAssembler(WithReserve(2)).Build(context.Background(), req, mocks.NewMemFiles(nil), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 12, bundle.Total)
}

func TestBuildStopsAtFirstOverflow(t *testing.T) {
	files := mocks.NewMemFiles(map[string]string{
		"a.go": strings.Repeat("a", 400),
		"b.go": "small",
	})
	rag := &stubRetrieval{passages: []retrieval.Passage{{Source: "docs", Text: "never reached"}}}
	req := newRequest(t, "fix", 60, proto.WithFiles("a.go", "b.go"))

	bundle, err := NewAssembler().Build(context.Background(), req, files, nil, rag)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, bundle.Sources(), "lower tiers are dropped after truncation")
	assert.True(t, bundle.Truncated)
	assert.Empty(t, rag.queries, "retrieval is not consulted once the budget is spent")
}

func TestBuildSkipsBinaryAndUnreadable(t *testing.T) {
	files := mocks.NewMemFiles(map[string]string{
		"logo.png": string([]byte{0x89, 'P', 'N', 'G', 0, 0, 0, 0x0d, 1, 2, 3, 4}),
		"ok.go":    "package ok",
	})
	req := newRequest(t, "go", 1000, proto.WithFiles("logo.png", "gone.go", "ok.go"))

	bundle, err := NewAssembler().Build(context.Background(), req, files, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.go"}, bundle.Sources())
	assert.Equal(t, []string{"logo.png", "gone.go"}, bundle.Skipped)
	assert.False(t, bundle.Truncated)
}

func TestBuildActiveFileMissing(t *testing.T) {
	req := newRequest(t, "go", 1000, proto.WithActiveFile("gone.go"))
	_, err := NewAssembler().Build(context.Background(), req, mocks.NewMemFiles(nil), nil, nil)
	assert.True(t, errkind.Is(err, errkind.InvalidRequest))
}

func TestBuildToleratesRetrievalFailure(t *testing.T) {
	rag := &stubRetrieval{err: errors.New("all sources failed")}
	req := newRequest(t, "how do I", 1000, proto.WithRetrievalQuery("golang context"))

	bundle, err := NewAssembler().Build(context.Background(), req, mocks.NewMemFiles(nil), nil, rag)
	require.NoError(t, err)
	assert.Len(t, bundle.Segments, 1)
	assert.Equal(t, []string{"golang context"}, rag.queries)
}

func TestBuildPassageLimit(t *testing.T) {
	rag := &stubRetrieval{passages: []retrieval.Passage{
		{Source: "a", URL: "u1", Text: "one"},
		{Source: "a", URL: "u2", Text: "two"},
		{Source: "a", URL: "u3", Text: "three"},
	}}
	req := newRequest(t, "q", 1000)

	bundle, err := NewAssembler(WithMaxPassages(2)).Build(context.Background(), req, mocks.NewMemFiles(nil), nil, rag)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, bundle.Sources())

	rag.queries = nil
	_, err = NewAssembler(WithMaxPassages(0)).Build(context.Background(), req, mocks.NewMemFiles(nil), nil, rag)
	require.NoError(t, err)
	assert.Empty(t, rag.queries)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	files := mocks.NewMemFiles(map[string]string{"a.go": "a"})
	req := newRequest(t, "q", 1000, proto.WithFiles("a.go"))

	_, err := NewAssembler().Build(ctx, req, files, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTruncationFitsEveryFamily(t *testing.T) {
	for _, model := range []string{"gpt-4o", "claude-sonnet-4-5", "llama3.1:8b", "mystery"} {
		t.Run(model, func(t *testing.T) {
			req, err := proto.NewGenerationRequest("prompt", proto.WorkflowDirect, model, 37, proto.WithFiles("f"))
			require.NoError(t, err)
			files := mocks.NewMemFiles(map[string]string{"f": strings.Repeat("é", 999)})

			bundle, err := NewAssembler().Build(context.Background(), req, files, nil, nil)
			require.NoError(t, err)
			assert.LessOrEqual(t, bundle.Total, 37)
			last := bundle.Segments[len(bundle.Segments)-1]
			assert.Equal(t, tokens.Estimate(last.Text, tokens.FamilyForModel(model)), last.Tokens)
		})
	}
}
