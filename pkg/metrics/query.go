// Package metrics queries task usage back out of Prometheus.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// TaskMetrics is the aggregated token and cost usage of a task.
type TaskMetrics struct {
	TaskID           string  `json:"task_id"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

func (q *QueryService) vector(ctx context.Context, query string) (model.Vector, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", query, err)
	}
	vector, _ := result.(model.Vector)
	return vector, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	vector, err := q.vector(ctx, query)
	if err != nil || len(vector) == 0 {
		return 0, err
	}
	return float64(vector[0].Value), nil
}

// GetTaskMetrics sums a task's usage across all stages and models.
func (q *QueryService) GetTaskMetrics(ctx context.Context, taskID string) (*TaskMetrics, error) {
	metrics := &TaskMetrics{TaskID: taskID}

	prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{task_id=%q, type="prompt"})`, taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	completion, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{task_id=%q, type="completion"})`, taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	cost, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_costs_total{task_id=%q})`, taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}

	metrics.PromptTokens = int64(prompt)
	metrics.CompletionTokens = int64(completion)
	metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens
	metrics.TotalCost = cost
	return metrics, nil
}

// GetTaskTokensByStage breaks a task's total tokens down by workflow stage.
func (q *QueryService) GetTaskTokensByStage(ctx context.Context, taskID string) (map[string]int64, error) {
	vector, err := q.vector(ctx, fmt.Sprintf(`sum by (stage) (llm_tokens_total{task_id=%q})`, taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens by stage: %w", err)
	}
	result := make(map[string]int64, len(vector))
	for _, sample := range vector {
		result[string(sample.Metric["stage"])] = int64(sample.Value)
	}
	return result, nil
}
