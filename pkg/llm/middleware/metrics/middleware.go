package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"patchmind/pkg/config"
	"patchmind/pkg/llm"
	"patchmind/pkg/llm/llmerrors"
	"patchmind/pkg/logx"
	"patchmind/pkg/tokens"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageCounter counts tokens in text.
type UsageCounter interface {
	Count(text string) int
}

func promptText(req *llm.CompletionRequest) string {
	var sb strings.Builder
	for i := range req.Messages {
		sb.WriteString(req.Messages[i].Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Middleware records an observation per Complete or Stream call. Streams are observed when
// they end, with completion tokens counted over everything forwarded. A nil counter uses
// the tiktoken counter.
func Middleware(recorder Recorder, counter UsageCounter, logger *logx.Logger) llm.Middleware {
	if counter == nil {
		// A nil *tokens.Counter falls back to the heuristic estimate.
		c, _ := tokens.NewCounter() //nolint:errcheck // nil counter is usable
		counter = c
	}

	observe := func(ctx context.Context, model string, req *llm.CompletionRequest, completion string, err error, started time.Time) {
		obs := &Observation{
			Labels:           labelsFromContext(ctx, model),
			PromptTokens:     counter.Count(promptText(req)),
			CompletionTokens: counter.Count(completion),
			Success:          err == nil,
			ErrorType:        errorType(err),
			Duration:         time.Since(started),
		}
		obs.Cost = config.CalculateCost(model, obs.PromptTokens, obs.CompletionTokens)
		recorder.ObserveRequest(obs)

		if logger != nil {
			status := statusSuccess
			if err != nil {
				status = statusError
			}
			logger.Debug("LLM request: model=%s task=%s stage=%s tokens=%d+%d status=%s duration=%dms",
				model, obs.TaskID, obs.Stage, obs.PromptTokens, obs.CompletionTokens, status, obs.Duration.Milliseconds())
		}
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				started := time.Now()
				resp, err := next.Complete(ctx, req)
				observe(ctx, next.GetModelName(), &req, resp.Content, err, started)
				return resp, err //nolint:wrapcheck // middleware passes errors through
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				started := time.Now()
				in, err := next.Stream(ctx, req)
				if err != nil {
					observe(ctx, next.GetModelName(), &req, "", err, started)
					return nil, err //nolint:wrapcheck // middleware passes errors through
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					var sb strings.Builder
					var streamErr error
					observed := false
					defer func() {
						if observed {
							return
						}
						if streamErr == nil && ctx.Err() != nil {
							streamErr = ctx.Err()
						}
						observe(ctx, next.GetModelName(), &req, sb.String(), streamErr, started)
					}()
					for chunk := range in {
						if chunk.Error != nil {
							streamErr = chunk.Error
						}
						sb.WriteString(chunk.Content)
						// Observe before forwarding the final chunk so usage is complete by
						// the time the consumer sees the stream end.
						if chunk.Done || chunk.Error != nil {
							observe(ctx, next.GetModelName(), &req, sb.String(), streamErr, started)
							observed = true
						}
						if !llm.Emit(ctx, out, chunk) {
							return
						}
					}
				}()
				return out, nil
			},
			next.GetModelName,
		)
	}
}

func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return llmerrors.TypeOf(err).String()
	}
}
