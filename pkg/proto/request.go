// Package proto holds the request, edit and stream event types shared by the assembler,
// workflows, orchestrator and change queue.
package proto

import (
	"strings"

	"patchmind/pkg/errkind"
)

// WorkflowKind selects a generation workflow.
type WorkflowKind string

const (
	WorkflowDirect              WorkflowKind = "direct"
	WorkflowPlanCritiqueExecute WorkflowKind = "plan_critique_execute"
)

// ParseWorkflowKind accepts the canonical names plus the short form "pce".
func ParseWorkflowKind(s string) (WorkflowKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(WorkflowDirect):
		return WorkflowDirect, nil
	case string(WorkflowPlanCritiqueExecute), "pce":
		return WorkflowPlanCritiqueExecute, nil
	default:
		return "", errkind.New(errkind.InvalidRequest, "unknown workflow %q", s)
	}
}

// GenerationRequest is one user generation request. It is shared by pointer across
// goroutines and must not be modified after NewGenerationRequest returns it.
type GenerationRequest struct {
	Prompt         string
	Workflow       WorkflowKind
	ActiveFile     string   // optional focused file
	Files          []string // checked files, ordered and unique
	Snippets       []string // snippet ids, ordered
	Model          string
	Budget         int
	RetrievalQuery string // empty derives the query from Prompt
}

// RequestOption sets optional request fields.
type RequestOption func(*GenerationRequest)

func WithActiveFile(id string) RequestOption {
	return func(r *GenerationRequest) { r.ActiveFile = id }
}

func WithFiles(ids ...string) RequestOption {
	return func(r *GenerationRequest) { r.Files = append(r.Files, ids...) }
}

func WithSnippets(ids ...string) RequestOption {
	return func(r *GenerationRequest) { r.Snippets = append(r.Snippets, ids...) }
}

func WithRetrievalQuery(q string) RequestOption {
	return func(r *GenerationRequest) { r.RetrievalQuery = q }
}

// NewGenerationRequest validates and builds a request. Duplicate file ids are dropped,
// keeping the first occurrence.
func NewGenerationRequest(prompt string, workflow WorkflowKind, model string, budget int, opts ...RequestOption) (*GenerationRequest, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errkind.New(errkind.InvalidRequest, "prompt is empty")
	}
	if workflow != WorkflowDirect && workflow != WorkflowPlanCritiqueExecute {
		return nil, errkind.New(errkind.InvalidRequest, "unknown workflow %q", workflow)
	}
	if budget <= 0 {
		return nil, errkind.New(errkind.InvalidRequest, "budget must be positive (got %d)", budget)
	}
	if strings.TrimSpace(model) == "" {
		return nil, errkind.New(errkind.InvalidRequest, "model is empty")
	}

	req := &GenerationRequest{
		Prompt:   prompt,
		Workflow: workflow,
		Model:    model,
		Budget:   budget,
	}
	for _, opt := range opts {
		opt(req)
	}
	req.Files = dedupe(req.Files)
	req.Snippets = append([]string(nil), req.Snippets...)
	return req, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
