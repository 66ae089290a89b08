package workflow

import (
	"context"
	"strings"
	"time"

	"patchmind/pkg/errkind"
	"patchmind/pkg/llm"
	"patchmind/pkg/llm/llmerrors"
	"patchmind/pkg/llm/middleware/metrics"
	"patchmind/pkg/logx"
	"patchmind/pkg/proto"
	"patchmind/pkg/templates"
)

type runner struct {
	opts Options
}

func (r *runner) render(name templates.PromptTemplate, in *Input, plan string) (string, *proto.StreamEvent) {
	prompt, err := r.opts.Renderer.Render(name, &templates.PromptData{
		Query:   in.Bundle.Instruction(),
		Context: in.Bundle.ContextText(),
		Plan:    plan,
	})
	if err != nil {
		ev := proto.FailedEvent(errkind.Internal, err.Error())
		return "", &ev
	}
	return prompt, nil
}

// stream runs one streamed model call, forwarding each chunk as a token event. It returns
// the accumulated text, or a terminal event when the stage ended in failure or cancellation.
func (r *runner) stream(ctx context.Context, in *Input, sink Sink, stage, prompt string) (string, *proto.StreamEvent) {
	if in.cancelled() || ctx.Err() != nil {
		return "", cancelled()
	}

	// Ending the stage context releases the provider goroutine on every exit path.
	stageCtx, cancel := context.WithCancel(metrics.WithStage(ctx, stage))
	defer cancel()

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(SystemPrompt),
		llm.NewUserMessage(prompt),
	})
	req.MaxTokens = r.opts.MaxTokens
	req.Temperature = r.opts.Temperature

	logx.DebugFlow(ctx, "workflow", stage, "streaming", in.Client.GetModelName())
	chunks, err := in.Client.Stream(stageCtx, req)
	if err != nil {
		return "", r.transportFailure(ctx, in, stage, err)
	}

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	var sb strings.Builder
	for {
		select {
		case <-ticker.C:
			if in.cancelled() {
				return sb.String(), cancelled()
			}
		case <-ctx.Done():
			return sb.String(), cancelled()
		case chunk, ok := <-chunks:
			if !ok {
				if in.cancelled() || ctx.Err() != nil {
					return sb.String(), cancelled()
				}
				return sb.String(), nil
			}
			if chunk.Error != nil {
				return sb.String(), r.transportFailure(ctx, in, stage, chunk.Error)
			}
			if chunk.Content != "" {
				if in.cancelled() {
					return sb.String(), cancelled()
				}
				sb.WriteString(chunk.Content)
				sink(proto.TokenEvent(chunk.Content))
			}
			if chunk.Done {
				return sb.String(), nil
			}
		}
	}
}

// transportFailure maps a backend error to failed(TransportError), or to cancelled when
// cancellation was requested first.
func (r *runner) transportFailure(ctx context.Context, in *Input, stage string, err error) *proto.StreamEvent {
	if in.cancelled() || ctx.Err() != nil {
		return cancelled()
	}
	r.opts.Logger.Warn("%s stage failed (%s): %v", stage, llmerrors.TypeOf(err), err)
	ev := proto.FailedEvent(errkind.TransportError, stage+": "+err.Error())
	return &ev
}

func stageFailure(format string, args ...any) *proto.StreamEvent {
	ev := proto.FailedFromError(errkind.New(errkind.StageFailure, format, args...))
	return &ev
}

func cancelled() *proto.StreamEvent {
	ev := proto.CancelledEvent()
	return &ev
}

// finish emits the edits found in text and returns completed with the remaining prose.
func finish(in *Input, sink Sink, text string) proto.StreamEvent {
	if in.cancelled() {
		return proto.CancelledEvent()
	}
	edits, prose := ExtractEdits(text)
	for _, edit := range edits {
		sink(proto.EditEvent(edit))
	}
	return proto.CompletedEvent(prose)
}
