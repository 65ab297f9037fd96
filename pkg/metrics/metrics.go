package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesCapturedTotal counts every Pipeline.Execute outcome, by
	// pipeline.Outcome string value.
	TradesCapturedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_captured_total",
		Help: "Total trade capture requests processed, by terminal outcome.",
	}, []string{"outcome"})

	// PipelineStepDuration times one named pipeline step (lock, enrich,
	// validate, persist, publish, ...).
	PipelineStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_step_duration_seconds",
		Help:    "Duration of one named pipeline step.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	// EnrichmentCallsTotal counts C6 lookup attempts by dependency name
	// and outcome (ok/error/circuit_open).
	EnrichmentCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enrichment_calls_total",
		Help: "Reference-data lookup calls, by dependency and outcome.",
	}, []string{"dependency", "outcome"})

	// RateLimitRejectionsTotal counts requests denied by C11's token
	// bucket, by level (global/partition).
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Requests denied by the rate limiter, by bucket level.",
	}, []string{"level"})

	// DLQEmissionsTotal counts dead-letters emitted, by C13 stage.
	DLQEmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_emissions_total",
		Help: "Dead-letters emitted, by originating pipeline stage.",
	}, []string{"stage"})

	// WebhookRequestsTotal counts async-job webhook callback deliveries,
	// by result (success/error).
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_requests_total",
		Help: "Async job webhook callback deliveries, by result.",
	}, []string{"result"})

	// ConcurrentExecutionsRunning tracks in-flight Pipeline.Execute calls.
	ConcurrentExecutionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concurrent_pipeline_executions",
		Help: "Number of Pipeline.Execute calls currently in flight.",
	})
)

// RecordTradeCaptured increments the outcome counter for one completed
// Pipeline.Execute call.
func RecordTradeCaptured(outcome string) {
	TradesCapturedTotal.WithLabelValues(outcome).Inc()
}

// RecordPipelineStep records how long one named pipeline step took.
func RecordPipelineStep(step string, d time.Duration) {
	PipelineStepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordEnrichmentCall records one C6 lookup attempt's outcome.
func RecordEnrichmentCall(dependency, outcome string) {
	EnrichmentCallsTotal.WithLabelValues(dependency, outcome).Inc()
}

// RecordRateLimitRejection records one request denied at the given
// bucket level.
func RecordRateLimitRejection(level string) {
	RateLimitRejectionsTotal.WithLabelValues(level).Inc()
}

// RecordDLQEmission records one dead-letter emitted from stage.
func RecordDLQEmission(stage string) {
	DLQEmissionsTotal.WithLabelValues(stage).Inc()
}

// RecordWebhookRequest records one async-job webhook delivery result.
func RecordWebhookRequest(result string) {
	WebhookRequestsTotal.WithLabelValues(result).Inc()
}

// IncrementConcurrentExecutions and DecrementConcurrentExecutions track
// in-flight Pipeline.Execute calls for the concurrency gauge.
func IncrementConcurrentExecutions() { ConcurrentExecutionsRunning.Inc() }
func DecrementConcurrentExecutions() { ConcurrentExecutionsRunning.Dec() }

// Timer measures an elapsed duration for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the Timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordStep records the elapsed time against PipelineStepDuration under
// the given step name.
func (t *Timer) RecordStep(step string) {
	RecordPipelineStep(step, t.Elapsed())
}
