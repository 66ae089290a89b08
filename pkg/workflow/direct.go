package workflow

import (
	"context"

	"patchmind/pkg/proto"
	"patchmind/pkg/templates"
)

// Direct answers with a single streamed model call.
type Direct struct {
	runner
}

func (d *Direct) Name() string { return string(proto.WorkflowDirect) }

func (d *Direct) Run(ctx context.Context, in Input, sink Sink) proto.StreamEvent {
	prompt, failed := d.render(templates.DirectTemplate, &in, "")
	if failed != nil {
		return *failed
	}

	text, terminal := d.stream(ctx, &in, sink, proto.StageDirect, prompt)
	if terminal != nil {
		return *terminal
	}
	return finish(&in, sink, text)
}
