package workflow

import (
	"context"
	"strings"

	"patchmind/pkg/logx"
	"patchmind/pkg/proto"
	"patchmind/pkg/templates"
	"patchmind/pkg/tokens"
)

// PlanCritiqueExecute plans, critiques the plan once, then executes the final plan.
type PlanCritiqueExecute struct {
	runner
}

func (p *PlanCritiqueExecute) Name() string { return string(proto.WorkflowPlanCritiqueExecute) }

func (p *PlanCritiqueExecute) Run(ctx context.Context, in Input, sink Sink) proto.StreamEvent {
	// Plan.
	plan, terminal := p.stage(ctx, &in, sink, proto.StagePlan, templates.PlannerTemplate, "")
	if terminal != nil {
		return *terminal
	}
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return *stageFailure("planner returned an empty plan")
	}
	plan = p.capPlan(&in, plan)

	// Critique.
	raw, terminal := p.stage(ctx, &in, sink, proto.StageCritique, templates.CriticTemplate, plan)
	if terminal != nil {
		return *terminal
	}
	verdict, err := ParseCritique(raw)
	if err != nil {
		return *stageFailure("critique: %v", err)
	}
	finalPlan, revised := verdict.FinalPlan(plan)
	finalPlan = p.capPlan(&in, finalPlan)
	switch {
	case revised:
		logx.DebugFlow(ctx, "workflow", proto.StageCritique, "revised", verdict.Reasoning)
	case verdict.Status == PlanBad:
		p.opts.Logger.Warn("critic rejected the plan without a revision, executing it unchanged")
	}

	// Execute.
	text, terminal := p.stage(ctx, &in, sink, proto.StageExecute, templates.ExecutorTemplate, finalPlan)
	if terminal != nil {
		return *terminal
	}
	return finish(&in, sink, text)
}

// capPlan keeps plan within PlanReserveTokens so the later prompts stay inside the budget.
func (p *PlanCritiqueExecute) capPlan(in *Input, plan string) string {
	model := ""
	if in.Request != nil {
		model = in.Request.Model
	}
	capped := tokens.TruncateToTokens(plan, PlanReserveTokens, tokens.FamilyForModel(model))
	if len(capped) < len(plan) {
		p.opts.Logger.Warn("plan truncated to %d tokens", PlanReserveTokens)
	}
	return capped
}

func (p *PlanCritiqueExecute) stage(ctx context.Context, in *Input, sink Sink, stage string,
	tmpl templates.PromptTemplate, plan string,
) (string, *proto.StreamEvent) {
	if in.cancelled() || ctx.Err() != nil {
		return "", cancelled()
	}
	prompt, failed := p.render(tmpl, in, plan)
	if failed != nil {
		return "", failed
	}
	sink(proto.StageEvent(stage))
	return p.stream(ctx, in, sink, stage, prompt)
}
