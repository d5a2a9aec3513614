package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects scheduler metrics under the "rowflow"
// namespace:
//
//   - inflight_steps: steps currently running
//   - step_latency_ms{operation,status}: processor run duration
//   - runs_total{status}: completed step runs (success, error, interrupted, disabled)
//   - coalesced_total: requests dropped because an equivalent one was queued
//   - interrupts_total: runs cancelled by a newer request or StopAll
//   - batch_iterations_total: completed batch iterations
//
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	inflightSteps prometheus.Gauge

	stepLatency *prometheus.HistogramVec

	runs            *prometheus.CounterVec
	coalesced       prometheus.Counter
	interrupts      prometheus.Counter
	batchIterations prometheus.Counter

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the metrics with registry, or
// with prometheus.DefaultRegisterer when registry is nil.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		inflightSteps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rowflow",
			Name:      "inflight_steps",
			Help:      "Number of steps currently running",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rowflow",
			Name:      "step_latency_ms",
			Help:      "Processor run duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"operation", "status"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rowflow",
			Name:      "runs_total",
			Help:      "Completed step runs by outcome",
		}, []string{"status"}),
		coalesced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rowflow",
			Name:      "coalesced_total",
			Help:      "Run requests dropped because an equivalent request was already queued",
		}),
		interrupts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rowflow",
			Name:      "interrupts_total",
			Help:      "Step runs cancelled before completion",
		}),
		batchIterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rowflow",
			Name:      "batch_iterations_total",
			Help:      "Completed batch iterations",
		}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// StepStarted increments the inflight gauge.
func (pm *PrometheusMetrics) StepStarted() {
	if pm.on() {
		pm.inflightSteps.Inc()
	}
}

// StepFinished decrements the inflight gauge and records the outcome.
func (pm *PrometheusMetrics) StepFinished(operation, status string, latency time.Duration) {
	if !pm.on() {
		return
	}
	pm.inflightSteps.Dec()
	pm.stepLatency.WithLabelValues(operation, status).Observe(float64(latency.Milliseconds()))
	pm.runs.WithLabelValues(status).Inc()
}

// StepDisabled counts a disabled step passed over by a cascade.
func (pm *PrometheusMetrics) StepDisabled() {
	if pm.on() {
		pm.runs.WithLabelValues("disabled").Inc()
	}
}

func (pm *PrometheusMetrics) IncrementCoalesced() {
	if pm.on() {
		pm.coalesced.Inc()
	}
}

func (pm *PrometheusMetrics) IncrementInterrupts() {
	if pm.on() {
		pm.interrupts.Inc()
	}
}

func (pm *PrometheusMetrics) IncrementBatchIterations() {
	if pm.on() {
		pm.batchIterations.Inc()
	}
}

// Disable stops recording. The inflight gauge may be left non-zero.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
