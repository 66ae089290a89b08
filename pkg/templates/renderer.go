// Package templates renders the embedded prompt templates used by the generation workflows.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.tpl.md
var templateFS embed.FS

// PromptData holds the values available to every template.
type PromptData struct {
	Query   string // user instruction
	Context string // assembled files, snippets and passages
	Plan    string // current plan, for the critic and executor
}

// PromptTemplate names an embedded template.
type PromptTemplate string

const (
	// DirectTemplate answers in a single call.
	DirectTemplate PromptTemplate = "direct.tpl.md"
	// PlannerTemplate produces the numbered plan.
	PlannerTemplate PromptTemplate = "planner.tpl.md"
	// CriticTemplate reviews the plan and answers in JSON.
	CriticTemplate PromptTemplate = "critic.tpl.md"
	// ExecutorTemplate carries out the final plan.
	ExecutorTemplate PromptTemplate = "executor.tpl.md"
	// QueryRewriteTemplate turns a request into a search query.
	QueryRewriteTemplate PromptTemplate = "query_rewrite.tpl.md"
)

// All lists every template in load order.
//
//nolint:gochecknoglobals // static table
var All = []PromptTemplate{DirectTemplate, PlannerTemplate, CriticTemplate, ExecutorTemplate, QueryRewriteTemplate}

// Renderer holds parsed templates. It is safe for concurrent use.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer parses all embedded templates.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[PromptTemplate]*template.Template),
	}

	for _, name := range All {
		content, err := templateFS.ReadFile("prompts/" + string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"contains": strings.Contains,
			"trim":     strings.TrimSpace,
		}).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// MustRenderer is NewRenderer for static use. The templates are embedded, so a failure is
// a build defect.
func MustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render renders the named template with data.
func (r *Renderer) Render(name PromptTemplate, data *PromptData) (string, error) {
	tmpl, exists := r.templates[name]
	if !exists {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}

	return buf.String(), nil
}
