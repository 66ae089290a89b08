package metrics

import (
	"sync"
	"time"
)

// TaskUsage is the aggregated usage of one task.
type TaskUsage struct {
	TaskID           string    `json:"task_id"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	TotalCost        float64   `json:"total_cost_usd"`
	LastUpdated      time.Time `json:"last_updated"`
}

// InternalRecorder aggregates usage per task in memory. The orchestrator reads it when
// recording task history.
type InternalRecorder struct {
	tasks map[string]*TaskUsage
	mu    sync.RWMutex
}

func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{tasks: make(map[string]*TaskUsage)}
}

func (r *InternalRecorder) ObserveRequest(obs *Observation) {
	if obs.TaskID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	usage, exists := r.tasks[obs.TaskID]
	if !exists {
		usage = &TaskUsage{TaskID: obs.TaskID}
		r.tasks[obs.TaskID] = usage
	}
	usage.PromptTokens += int64(obs.PromptTokens)
	usage.CompletionTokens += int64(obs.CompletionTokens)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	usage.TotalCost += obs.Cost
	usage.RequestCount++
	usage.LastUpdated = time.Now()
}

// Usage returns a copy of the task's usage, or a zero value with ok=false.
func (r *InternalRecorder) Usage(taskID string) (TaskUsage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if usage, exists := r.tasks[taskID]; exists {
		return *usage, true
	}
	return TaskUsage{TaskID: taskID}, false
}

// Forget drops a task's usage once it has been persisted.
func (r *InternalRecorder) Forget(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
}
