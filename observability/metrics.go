// Package observability pins the metric names shared across services so
// dashboards and alerts reference one definition.
package observability

const (
	// Ingestor counters.
	MetricSwapsProcessedTotal = "swaps_processed_total"
	MetricSwapVolumeUSDTotal  = "swap_volume_usd_total"
	MetricPublishErrorsTotal  = "publisher_errors_total"

	// Engine counters and gauges.
	MetricStepEvaluationsTotal     = "step_evaluations_total"
	MetricStepsCompletedTotal      = "steps_completed_total"
	MetricPipelineCompletionsTotal = "pipelines_completed_total"
	MetricPipelineFailuresTotal    = "pipelines_failed_total"
	MetricPipelinesActive          = "pipelines_active"
)
