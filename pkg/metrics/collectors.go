package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassistant_questions_total",
			Help: "Questions processed by outcome code.",
		},
		[]string{"outcome"},
	)
	llmLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlassistant_llm_request_duration_seconds",
			Help:    "Latency of language model calls by step.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"step"},
	)
	sqlLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlassistant_sql_duration_seconds",
			Help:    "Latency of generated SQL executions.",
			Buckets: prometheus.DefBuckets,
		},
	)
	promptTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlassistant_prompt_tokens",
			Help:    "Estimated prompt size sent to the language model.",
			Buckets: []float64{128, 256, 512, 1024, 2048, 4096, 8192},
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassistant_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlassistant_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		llmLatencySeconds,
		sqlLatencySeconds,
		promptTokens,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	)
}

// ObserveQuestion counts a processed question. outcome is "ok" or an error code.
func ObserveQuestion(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	questionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveLLM records one language model round trip.
func ObserveLLM(step string, elapsed time.Duration) {
	llmLatencySeconds.WithLabelValues(step).Observe(elapsed.Seconds())
}

// ObserveSQL records one generated statement execution.
func ObserveSQL(elapsed time.Duration) {
	sqlLatencySeconds.Observe(elapsed.Seconds())
}

// ObservePromptTokens records the estimated prompt size.
func ObservePromptTokens(tokens int) {
	if tokens > 0 {
		promptTokens.Observe(float64(tokens))
	}
}

// ObserveHTTP records a served request. path should be the route template, not the raw URL.
func ObserveHTTP(method, path, status string, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, path, status).Observe(elapsed.Seconds())
}
