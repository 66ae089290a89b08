// Package orchestrator runs one generation task at a time on a worker goroutine and hands
// its events to the caller in order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"patchmind/pkg/contextmgr"
	"patchmind/pkg/errkind"
	"patchmind/pkg/llm"
	"patchmind/pkg/llm/middleware/metrics"
	"patchmind/pkg/logx"
	"patchmind/pkg/proto"
	"patchmind/pkg/workflow"
)

// TaskRecord is the history entry written when a task finishes.
type TaskRecord struct {
	StartedAt        time.Time
	FinishedAt       time.Time
	ID               string
	Model            string
	Workflow         string
	State            State
	ErrorKind        string
	Message          string
	PromptTokens     int64
	CompletionTokens int64
	Cost             float64
	Edits            int
}

// History persists finished tasks.
type History interface {
	RecordTask(ctx context.Context, rec *TaskRecord) error
}

// Deps are the orchestrator's collaborators. Snippets, Retrieval, History and Usage are
// optional.
type Deps struct {
	Assembler *contextmgr.Assembler
	Files     contextmgr.FileProvider
	Snippets  contextmgr.SnippetProvider
	Retrieval contextmgr.RetrievalProvider
	Clients   func(model string) (llm.LLMClient, error)
	History   History
	Usage     *metrics.InternalRecorder
	Logger    *logx.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkflowOptions sets the options passed to every workflow.
func WithWorkflowOptions(opts workflow.Options) Option {
	return func(o *Orchestrator) { o.wfOpts = opts }
}

// WithQueryRewrite turns the prompt into a search query before retrieval.
func WithQueryRewrite(enabled bool) Option {
	return func(o *Orchestrator) { o.rewrite = enabled }
}

// Orchestrator owns the single running-task slot.
type Orchestrator struct {
	active  *TaskHandle
	logger  *logx.Logger
	deps    Deps
	state   State
	wfOpts  workflow.Options
	mu      sync.Mutex
	rewrite bool
}

// New validates deps and returns an idle orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Assembler == nil || deps.Files == nil || deps.Clients == nil {
		return nil, errors.New("orchestrator requires an assembler, a file provider and a client factory")
	}
	if deps.Logger == nil {
		deps.Logger = logx.NewLogger("orchestrator")
	}
	o := &Orchestrator{deps: deps, logger: deps.Logger, state: StateIdle}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start runs req on a new worker. It returns Busy while another task is running.
func (o *Orchestrator) Start(ctx context.Context, req *proto.GenerationRequest) (*TaskHandle, error) {
	if req == nil {
		return nil, errkind.New(errkind.InvalidRequest, "nil request")
	}

	o.mu.Lock()
	if err := OrchestratorTransitions.check(o.state, StateRunning); err != nil {
		activeID := ""
		if o.active != nil {
			activeID = o.active.ID
		}
		o.mu.Unlock()
		return nil, errkind.New(errkind.Busy, "task %s is still running", activeID)
	}
	id := uuid.NewString()
	taskCtx, cancel := context.WithCancel(metrics.WithTask(logx.WithComponent(ctx, "task-"+id[:8]), id))
	h := newHandle(id, req, cancel)
	o.state = StateRunning
	o.active = h
	o.mu.Unlock()

	logx.DebugState(taskCtx, "orchestrator", "transition", "idle -> running", id)
	go o.run(taskCtx, h)
	return h, nil
}

// Cancel requests cancellation of h.
func (o *Orchestrator) Cancel(h *TaskHandle) bool {
	if h == nil {
		return false
	}
	return h.Cancel()
}

// Active returns the running task, or nil.
func (o *Orchestrator) Active() *TaskHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// State returns the orchestrator state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Wait blocks until h is finalized and returns its terminal event.
func Wait(h *TaskHandle) proto.StreamEvent {
	<-h.Done()
	ev, _ := h.Result()
	return ev
}

func (o *Orchestrator) run(ctx context.Context, h *TaskHandle) {
	var final proto.StreamEvent
	var edits int
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("task %s panicked: %v\n%s", h.ID, r, debug.Stack())
			final = proto.FailedEvent(errkind.Internal, fmt.Sprintf("internal error: %v", r))
		}
		o.finish(ctx, h, final, edits)
	}()
	final, edits = o.execute(ctx, h)
}

func (o *Orchestrator) execute(ctx context.Context, h *TaskHandle) (proto.StreamEvent, int) {
	if err := h.transition(StateRunning); err != nil {
		return proto.FailedEvent(errkind.Internal, err.Error()), 0
	}
	req := h.Request

	client, err := o.deps.Clients(req.Model)
	if err != nil {
		if errkind.Of(err) == errkind.Internal {
			err = errkind.Wrap(errkind.TransportError, err, "resolve model "+req.Model)
		}
		return proto.FailedFromError(err), 0
	}
	if h.Cancelled() {
		return proto.CancelledEvent(), 0
	}

	if o.rewrite && o.deps.Retrieval != nil && req.RetrievalQuery == "" {
		rewritten := *req
		rewritten.RetrievalQuery = workflow.RewriteQuery(ctx, client, req.Prompt)
		logx.DebugFlow(ctx, "orchestrator", "query_rewrite", "done", rewritten.RetrievalQuery)
		req = &rewritten
	}

	bundle, err := o.deps.Assembler.Build(ctx, req, o.deps.Files, o.deps.Snippets, o.deps.Retrieval)
	if err != nil {
		if h.Cancelled() {
			return proto.CancelledEvent(), 0
		}
		return proto.FailedFromError(err), 0
	}
	logx.DebugFlow(ctx, "orchestrator", "assemble", "done",
		fmt.Sprintf("%d segments, %d/%d tokens, truncated=%t", len(bundle.Segments), bundle.Total, bundle.Budget, bundle.Truncated))

	wf, err := workflow.ForKind(req.Workflow, o.wfOpts)
	if err != nil {
		return proto.FailedFromError(err), 0
	}

	edits := 0
	sink := func(ev proto.StreamEvent) {
		if ev.Kind == proto.EventProposedEdit {
			edits++
		}
		h.emit(ev)
	}
	return wf.Run(ctx, workflow.Input{Request: req, Bundle: bundle, Client: client, Cancelled: h.Cancelled}, sink), edits
}

// finish runs once per task: it releases the slot, cancels the task context, delivers the
// terminal event, closes the hand-off, records history and closes Done.
func (o *Orchestrator) finish(ctx context.Context, h *TaskHandle, final proto.StreamEvent, edits int) {
	h.finalize.Do(func() {
		if !final.IsTerminal() {
			final = proto.FailedEvent(errkind.Internal, "workflow ended without a terminal event")
		}

		o.mu.Lock()
		if o.active == h {
			o.active = nil
		}
		if err := OrchestratorTransitions.check(o.state, StateIdle); err == nil {
			o.state = StateIdle
		}
		o.mu.Unlock()

		h.mu.Lock()
		if h.cancelled.Load() {
			final = proto.CancelledEvent()
		}
		terminal := stateForEvent(final.Kind)
		if err := h.transition(terminal); err != nil {
			o.logger.Warn("task %s: %v", h.ID, err)
			h.state.Store(terminal)
		}
		h.mu.Unlock()
		h.cancel()

		h.pump.offer(final)
		h.pump.close()

		h.result = final
		if o.deps.Usage != nil {
			h.usage, _ = o.deps.Usage.Usage(h.ID)
			o.deps.Usage.Forget(h.ID)
		} else {
			h.usage = metrics.TaskUsage{TaskID: h.ID}
		}
		o.record(h, final, edits)

		logx.DebugState(ctx, "orchestrator", "transition", "running -> idle", h.ID+" "+string(terminal))
		o.logger.Info("task %s %s in %s (%d tokens)", h.ID, terminal,
			time.Since(h.StartedAt).Round(time.Millisecond), h.usage.TotalTokens)
		close(h.done)
	})
}

func (o *Orchestrator) record(h *TaskHandle, final proto.StreamEvent, edits int) {
	if o.deps.History == nil {
		return
	}
	rec := &TaskRecord{
		ID:               h.ID,
		Model:            h.Request.Model,
		Workflow:         string(h.Request.Workflow),
		State:            stateForEvent(final.Kind),
		Message:          final.Message,
		PromptTokens:     h.usage.PromptTokens,
		CompletionTokens: h.usage.CompletionTokens,
		Cost:             h.usage.TotalCost,
		Edits:            edits,
		StartedAt:        h.StartedAt,
		FinishedAt:       time.Now(),
	}
	if final.Kind == proto.EventFailed {
		rec.ErrorKind = final.ErrorKind.String()
	}
	// The task context is already cancelled here.
	if err := o.deps.History.RecordTask(context.Background(), rec); err != nil {
		o.logger.Warn("record task %s: %v", h.ID, err)
	}
}
