package orchestrator

// Metric names emitted by the orchestrator.
const (
	MetricTaskCompletionTime = "task_completion_time"
	MetricTaskStatusTotal    = "task_status_total"
	MetricStepExecutionTime  = "step_execution_time"
	MetricStepExecutionTotal = "step_execution_total"
	MetricStepRetryCount     = "step_retry_count"
)

// Metric tag keys and status values.
const (
	TagTaskID = "task_id"
	TagStatus = "status"
	TagStep   = "step"

	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// MetricsSink receives timing and counter events. Implementations should not
// block; the orchestrator recovers from panics raised by a sink.
type MetricsSink interface {
	Timing(metric string, durationMs int64, tags map[string]string)
	IncrementCounter(metric string, tags map[string]string)
}

// NoopMetrics discards all events.
type NoopMetrics struct{}

// Timing implements MetricsSink.
func (NoopMetrics) Timing(string, int64, map[string]string) {}

// IncrementCounter implements MetricsSink.
func (NoopMetrics) IncrementCounter(string, map[string]string) {}
