package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ForecastDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecast_agent_forecast_duration_seconds",
			Help:    "End-to-end forecast generation duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	ForecastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_agent_forecast_total",
			Help: "Total number of forecast requests by final status",
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecast_agent_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"stage"},
	)

	StageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_agent_stage_failures_total",
			Help: "Request-level failures by stage and reason",
		},
		[]string{"stage", "reason"},
	)

	DocumentsAcquired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_agent_documents_acquired_total",
			Help: "Documents acquired by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ExtractionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecast_agent_extraction_failures_total",
			Help: "Metrics records that ended in an error marker",
		},
	)

	FacetFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_agent_facet_failures_total",
			Help: "Qualitative facet failures by facet",
		},
		[]string{"facet"},
	)

	ChunksIndexed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forecast_agent_chunks_indexed",
			Help:    "Number of chunks in each per-request semantic index",
			Buckets: []float64{0, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	UngroundedFigures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecast_agent_ungrounded_figures_total",
			Help: "Figures in trend narratives that were not present in the input metrics",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecast_agent_llm_request_duration_seconds",
			Help:    "Inference and embedding call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "operation", "status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forecast_agent_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	PersistenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_agent_persistence_errors_total",
			Help: "Persistence sink failures by sink and operation",
		},
		[]string{"sink", "operation"},
	)

	registerOnce sync.Once
)

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ForecastDuration,
			ForecastTotal,
			StageDuration,
			StageFailures,
			DocumentsAcquired,
			ExtractionFailures,
			FacetFailures,
			ChunksIndexed,
			UngroundedFigures,
			LLMTokensUsed,
			LLMRequestDuration,
			CircuitBreakerState,
			PersistenceErrors,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

func RecordTokens(model string, prompt, completion int) {
	LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(prompt))
	LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completion))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func RecordLLMCall(provider, operation string, seconds float64, err error) {
	LLMRequestDuration.WithLabelValues(provider, operation, status(err)).Observe(seconds)
}

func RecordForecast(seconds float64, err error) {
	s := status(err)
	ForecastDuration.WithLabelValues(s).Observe(seconds)
	ForecastTotal.WithLabelValues(s).Inc()
}
