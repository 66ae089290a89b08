package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports observations as Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the LLM metrics with reg, or the default registry when nil.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, task, stage and status",
			},
			[]string{"model", "task_id", "stage", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "task_id", "stage", "type"},
		),
		costsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_costs_total",
				Help: "Total cost in USD for LLM requests",
			},
			[]string{"model", "task_id", "stage"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "task_id", "stage"},
		),
	}
}

func (p *PrometheusRecorder) ObserveRequest(obs *Observation) {
	status := statusSuccess
	if !obs.Success {
		status = statusError
	}
	p.requestsTotal.WithLabelValues(obs.Model, obs.TaskID, obs.Stage, status, obs.ErrorType).Inc()

	// Streams cut short still consumed tokens, so usage is recorded on failure too.
	p.tokensTotal.WithLabelValues(obs.Model, obs.TaskID, obs.Stage, "prompt").Add(float64(obs.PromptTokens))
	p.tokensTotal.WithLabelValues(obs.Model, obs.TaskID, obs.Stage, "completion").Add(float64(obs.CompletionTokens))
	p.costsTotal.WithLabelValues(obs.Model, obs.TaskID, obs.Stage).Add(obs.Cost)
	p.requestDuration.WithLabelValues(obs.Model, obs.TaskID, obs.Stage).Observe(obs.Duration.Seconds())
}
