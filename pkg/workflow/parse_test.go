package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchmind/internal/mocks"
)

func TestExtractEdits(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		prose    string
		anchor   string
		repl     string
		file     string
		line     int
		edits    int
		fragment bool
	}{
		{
			name:   "original and updated",
			text:   editOutput,
			prose:  "Here is the change.\nDone.",
			file:   "main.go",
			anchor: "fmt.Println(\"hi\")\n",
			repl:   "fmt.Println(\"hello\")\n",
			edits:  1,
		},
		{
			name:     "fragment",
			text:     "### START FILE: a.go @ line 12 ###\nfunc a() {}\n### END FILE: a.go ###",
			file:     "a.go",
			anchor:   "func a() {}\n",
			repl:     "func a() {}\n",
			line:     12,
			edits:    1,
			fragment: true,
		},
		{
			name:     "fenced body",
			text:     "### START FILE: a.go ###\n```go\nx := 1\n```\n### END FILE: a.go ###",
			file:     "a.go",
			anchor:   "x := 1\n",
			repl:     "x := 1\n",
			edits:    1,
			fragment: true,
		},
		{
			name:   "new file",
			text:   "### START FILE: new.go ###\n<<<<<<< ORIGINAL\n=======\npackage fresh\n>>>>>>> UPDATED\n### END FILE: new.go ###",
			file:   "new.go",
			anchor: "",
			repl:   "package fresh\n",
			edits:  1,
		},
		{
			name:  "unterminated",
			text:  "before\n### START FILE: a.go ###\nx\nafter",
			prose: "before\n### START FILE: a.go ###\nx\nafter",
		},
		{
			name:  "mismatched end",
			text:  "### START FILE: a.go ###\nx\n### END FILE: b.go ###",
			prose: "### START FILE: a.go ###\nx\n### END FILE: b.go ###",
		},
		{
			name:  "no blocks",
			text:  "  just an answer  \n",
			prose: "just an answer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edits, prose := ExtractEdits(tt.text)
			assert.Equal(t, tt.prose, prose)
			require.Len(t, edits, tt.edits)
			if tt.edits == 0 {
				return
			}
			assert.Equal(t, tt.file, edits[0].File)
			assert.Equal(t, tt.anchor, edits[0].Anchor)
			assert.Equal(t, tt.repl, edits[0].Replacement)
			assert.Equal(t, tt.line, edits[0].Line)
			assert.Equal(t, tt.fragment, edits[0].Fragment)
		})
	}
}

func TestExtractEditsKeepsOrder(t *testing.T) {
	text := "one\n### START FILE: a ###\nA\n### END FILE: a ###\ntwo\n### START FILE: b ###\nB\n### END FILE: b ###\nthree"
	edits, prose := ExtractEdits(text)
	require.Len(t, edits, 2)
	assert.Equal(t, "a", edits[0].File)
	assert.Equal(t, "b", edits[1].File)
	assert.Equal(t, "one\ntwo\nthree", prose)
}

func TestParseCritique(t *testing.T) {
	c, err := ParseCritique(goodCritique)
	require.NoError(t, err)
	assert.Equal(t, PlanGood, c.Status)
	plan, revised := c.FinalPlan("orig")
	assert.False(t, revised)
	assert.Equal(t, "orig", plan)

	c, err = ParseCritique(`Verdict: {"plan_status": "bad", "revised_plan": "1. better"} thanks`)
	require.NoError(t, err)
	assert.Equal(t, PlanBad, c.Status)
	plan, revised = c.FinalPlan("orig")
	assert.True(t, revised)
	assert.Equal(t, "1. better", plan)

	c, err = ParseCritique(`{"plan_status": "BAD", "revised_plan": null}`)
	require.NoError(t, err)
	plan, revised = c.FinalPlan("orig")
	assert.False(t, revised)
	assert.Equal(t, "orig", plan)

	_, err = ParseCritique("no json here")
	assert.Error(t, err)
	_, err = ParseCritique(`{"plan_status": "GOOD", "revised_plan": 42}`)
	assert.Error(t, err)
}

func TestRewriteQuery(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWith("\"golang context cancellation\"\nextra commentary")
	assert.Equal(t, "golang context cancellation", RewriteQuery(context.Background(), client, "how do I cancel?"))

	client.RespondWith("Search query: sqlite wal mode")
	assert.Equal(t, "sqlite wal mode", RewriteQuery(context.Background(), client, "p"))

	client.RespondWith("   ")
	assert.Equal(t, "p", RewriteQuery(context.Background(), client, "p"))

	client.FailCompleteWith(errors.New("offline"))
	assert.Equal(t, "p", RewriteQuery(context.Background(), client, "p"))
}
