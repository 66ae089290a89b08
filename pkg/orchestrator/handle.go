package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"patchmind/pkg/llm/middleware/metrics"
	"patchmind/pkg/proto"
)

// TaskHandle is the caller's view of one task. Events must be drained until closed.
type TaskHandle struct {
	StartedAt time.Time
	Request   *proto.GenerationRequest
	pump      *pump
	cancel    context.CancelFunc
	done      chan struct{}
	ID        string
	result    proto.StreamEvent
	usage     metrics.TaskUsage
	state     atomic.Value // State
	cancelled atomic.Bool
	finalize  sync.Once
	mu        sync.Mutex // orders Cancel against finalization
}

func newHandle(id string, req *proto.GenerationRequest, cancel context.CancelFunc) *TaskHandle {
	h := &TaskHandle{
		ID:        id,
		Request:   req,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		pump:      newPump(id),
	}
	h.state.Store(StateIdle)
	return h
}

// Events delivers the task's events in order. Exactly one terminal event arrives last,
// then the channel is closed.
func (h *TaskHandle) Events() <-chan proto.StreamEvent {
	return h.pump.out
}

// Done is closed after the task has been finalized and recorded.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// State returns the task's lifecycle state.
func (h *TaskHandle) State() State {
	return h.state.Load().(State) //nolint:forcetypeassert // only State is stored
}

// Cancelled reports whether cancellation was requested. Workflows poll it.
func (h *TaskHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// Cancel requests cancellation. It is a no-op on terminal or already-cancelled tasks and
// reports whether this call requested it.
func (h *TaskHandle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.State().IsTerminal() || h.cancelled.Load() {
		return false
	}
	h.cancelled.Store(true)
	h.cancel()
	return true
}

// Result returns the terminal event once Done is closed.
func (h *TaskHandle) Result() (proto.StreamEvent, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return proto.StreamEvent{}, false
	}
}

// Usage returns the token usage recorded for the task once Done is closed.
func (h *TaskHandle) Usage() metrics.TaskUsage {
	select {
	case <-h.done:
		return h.usage
	default:
		return metrics.TaskUsage{TaskID: h.ID}
	}
}

func (h *TaskHandle) transition(to State) error {
	from := h.State()
	if err := TaskTransitions.check(from, to); err != nil {
		return err
	}
	h.state.Store(to)
	return nil
}

// emit is the workflow sink.
func (h *TaskHandle) emit(ev proto.StreamEvent) {
	if ev.IsTerminal() {
		return
	}
	h.pump.offer(ev)
}
