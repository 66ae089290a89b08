package templates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRendererLoadsAll(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	for _, name := range All {
		out, err := r.Render(name, &PromptData{Query: "add logging", Context: "ctx", Plan: "1. step"})
		require.NoError(t, err, name)
		assert.Contains(t, out, "add logging", name)
		assert.NotContains(t, out, "{{", name)
	}
}

func TestRenderOmitsEmptyContext(t *testing.T) {
	r := MustRenderer()

	out, err := r.Render(DirectTemplate, &PromptData{Query: "q"})
	require.NoError(t, err)
	assert.NotContains(t, out, "**Context:**")

	out, err = r.Render(DirectTemplate, &PromptData{Query: "q", Context: "### START FILE: a.go ###"})
	require.NoError(t, err)
	assert.True(t, strings.Index(out, "### START FILE: a.go ###") < strings.Index(out, "**Request:** q"),
		"context comes before the request")
}

func TestCriticIncludesPlanAndSchema(t *testing.T) {
	out, err := MustRenderer().Render(CriticTemplate, &PromptData{Query: "q", Plan: "1. edit main.go"})
	require.NoError(t, err)
	assert.Contains(t, out, "1. edit main.go")
	assert.Contains(t, out, `"plan_status"`)
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := MustRenderer().Render("nope.tpl.md", &PromptData{})
	assert.Error(t, err)
}
