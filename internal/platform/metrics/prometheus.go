package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/agentrun/internal/orchestrator"
)

const namespace = "agentrun"

// durationBuckets covers sub-second steps through multi-minute video work.
var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// PrometheusSink implements orchestrator.MetricsSink.
type PrometheusSink struct {
	registry *prometheus.Registry

	taskDuration *prometheus.HistogramVec
	taskStatus   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepTotal    *prometheus.CounterVec
	stepRetries  *prometheus.CounterVec
}

// NewPrometheusSink registers the orchestrator collectors, plus the Go and
// process collectors, on a fresh registry.
func NewPrometheusSink() *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      orchestrator.MetricTaskCompletionTime + "_seconds",
			Help:      "Time from task start to a terminal state.",
			Buckets:   durationBuckets,
		}, []string{orchestrator.TagStatus}),
		taskStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      orchestrator.MetricTaskStatusTotal,
			Help:      "Tasks finished, by terminal status.",
		}, []string{orchestrator.TagStatus}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      orchestrator.MetricStepExecutionTime + "_seconds",
			Help:      "Step execution time.",
			Buckets:   durationBuckets,
		}, []string{orchestrator.TagStep, orchestrator.TagStatus}),
		stepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      orchestrator.MetricStepExecutionTotal,
			Help:      "Step executions, by step and outcome.",
		}, []string{orchestrator.TagStep, orchestrator.TagStatus}),
		stepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      orchestrator.MetricStepRetryCount + "_total",
			Help:      "Self-correction attempts, by step.",
		}, []string{orchestrator.TagStep}),
	}

	s.registry.MustRegister(
		s.taskDuration, s.taskStatus,
		s.stepDuration, s.stepTotal, s.stepRetries,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return s
}

// Timing implements orchestrator.MetricsSink. Unknown metrics are ignored.
func (s *PrometheusSink) Timing(metric string, durationMs int64, tags map[string]string) {
	seconds := (time.Duration(durationMs) * time.Millisecond).Seconds()
	switch metric {
	case orchestrator.MetricTaskCompletionTime:
		s.taskDuration.WithLabelValues(tags[orchestrator.TagStatus]).Observe(seconds)
	case orchestrator.MetricStepExecutionTime:
		s.stepDuration.WithLabelValues(tags[orchestrator.TagStep], tags[orchestrator.TagStatus]).Observe(seconds)
	}
}

// IncrementCounter implements orchestrator.MetricsSink. Unknown metrics are
// ignored.
func (s *PrometheusSink) IncrementCounter(metric string, tags map[string]string) {
	switch metric {
	case orchestrator.MetricTaskStatusTotal:
		s.taskStatus.WithLabelValues(tags[orchestrator.TagStatus]).Inc()
	case orchestrator.MetricStepExecutionTotal:
		s.stepTotal.WithLabelValues(tags[orchestrator.TagStep], tags[orchestrator.TagStatus]).Inc()
	case orchestrator.MetricStepRetryCount:
		s.stepRetries.WithLabelValues(tags[orchestrator.TagStep]).Inc()
	}
}

// Registry returns the registry holding the collectors.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

var _ orchestrator.MetricsSink = (*PrometheusSink)(nil)
