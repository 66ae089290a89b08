// Package metrics records token usage, cost and latency of model calls.
package metrics

import (
	"context"
	"time"
)

// Labels identify the call being observed.
type Labels struct {
	Model  string
	TaskID string
	Stage  string
}

// Observation is one finished model call.
type Observation struct {
	Labels
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Success          bool
	ErrorType        string
	Duration         time.Duration
}

// Recorder receives observations.
type Recorder interface {
	ObserveRequest(obs *Observation)
}

// NoopRecorder discards observations.
type NoopRecorder struct{}

// Nop returns a recorder that discards everything.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveRequest(_ *Observation) {}

type multiRecorder []Recorder

func (m multiRecorder) ObserveRequest(obs *Observation) {
	for _, r := range m {
		r.ObserveRequest(obs)
	}
}

// Tee fans observations out to several recorders.
func Tee(recorders ...Recorder) Recorder {
	return multiRecorder(recorders)
}

type ctxKey int

const (
	taskKey ctxKey = iota
	stageKey
)

// WithTask tags ctx with the task id used as a metric label.
func WithTask(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskKey, taskID)
}

// WithStage tags ctx with the workflow stage used as a metric label.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

func labelsFromContext(ctx context.Context, model string) Labels {
	l := Labels{Model: model}
	if v, ok := ctx.Value(taskKey).(string); ok {
		l.TaskID = v
	}
	if v, ok := ctx.Value(stageKey).(string); ok {
		l.Stage = v
	}
	return l
}
