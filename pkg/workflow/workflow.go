// Package workflow runs the generation workflows: a single direct call, or
// plan, critique and execute.
//
// A workflow streams token, stage and edit events through its Sink and returns the terminal
// event. It never emits the terminal event itself.
package workflow

import (
	"context"
	"time"

	"patchmind/pkg/config"
	"patchmind/pkg/contextmgr"
	"patchmind/pkg/errkind"
	"patchmind/pkg/llm"
	"patchmind/pkg/logx"
	"patchmind/pkg/proto"
	"patchmind/pkg/templates"
)

// SystemPrompt frames every model call.
const SystemPrompt = "You are an expert coding assistant embedded in a code editor. " +
	"Be direct and precise. Propose code changes only as edit blocks."

// Sink receives non-terminal events in emission order.
type Sink func(proto.StreamEvent)

// Input is what a workflow run needs. Request and Bundle are shared read-only.
type Input struct {
	Request   *proto.GenerationRequest
	Bundle    *contextmgr.Bundle
	Client    llm.LLMClient
	Cancelled func() bool // polled; nil means never cancelled
}

func (in *Input) cancelled() bool {
	return in.Cancelled != nil && in.Cancelled()
}

// Workflow is one generation strategy.
type Workflow interface {
	Name() string
	Run(ctx context.Context, in Input, sink Sink) proto.StreamEvent
}

// Options tunes model calls and cancellation polling.
type Options struct {
	Renderer     *templates.Renderer
	Logger       *logx.Logger
	PollInterval time.Duration
	MaxTokens    int
	Temperature  float32
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		PollInterval: time.Duration(config.DefaultPollIntervalMS) * time.Millisecond,
		MaxTokens:    llm.DefaultMaxTokens,
		Temperature:  llm.TemperatureDeterministic,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.Temperature <= 0 {
		o.Temperature = d.Temperature
	}
	if o.Renderer == nil {
		o.Renderer = templates.MustRenderer()
	}
	if o.Logger == nil {
		o.Logger = logx.NewLogger("workflow")
	}
	return o
}

// ForKind returns the workflow implementing kind.
func ForKind(kind proto.WorkflowKind, opts Options) (Workflow, error) {
	opts = opts.withDefaults()
	switch kind {
	case proto.WorkflowDirect:
		return &Direct{runner: runner{opts: opts}}, nil
	case proto.WorkflowPlanCritiqueExecute:
		return &PlanCritiqueExecute{runner: runner{opts: opts}}, nil
	default:
		return nil, errkind.New(errkind.InvalidRequest, "unknown workflow %q", kind)
	}
}

// PlanReserveTokens caps the plan text carried into the critique and execute prompts.
const PlanReserveTokens = 1024

// PlanReserve returns the tokens a workflow adds to its prompts at run time, for budget
// accounting alongside Framing.
func PlanReserve(kind proto.WorkflowKind) int {
	if kind == proto.WorkflowPlanCritiqueExecute {
		return PlanReserveTokens
	}
	return 0
}

// Framing returns the fixed prompt text a workflow wraps around the user request, for
// budget accounting. Plan text produced at run time is covered by PlanReserve.
func Framing(kind proto.WorkflowKind) string {
	r := templates.MustRenderer()
	names := []templates.PromptTemplate{templates.DirectTemplate}
	if kind == proto.WorkflowPlanCritiqueExecute {
		names = []templates.PromptTemplate{templates.PlannerTemplate, templates.CriticTemplate, templates.ExecutorTemplate}
	}
	longest := ""
	for _, name := range names {
		out, err := r.Render(name, &templates.PromptData{})
		if err == nil && len(out) > len(longest) {
			longest = out
		}
	}
	return SystemPrompt + "\n\n" + longest
}
