package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dq_engine_pipeline_runs_total", Help: "Pipeline runs by final status.",
	}, []string{"status"})
	PipelineRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dq_engine_pipeline_run_duration_seconds",
		Help:    "Wall time of a pipeline run.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})
	PipelineRunsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dq_engine_pipeline_runs_inflight", Help: "Pipeline runs currently executing.",
	})

	StepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dq_engine_pipeline_step_outcomes_total", Help: "Pipeline step outcomes by step and status.",
	}, []string{"step", "status"})
	StepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dq_engine_pipeline_step_retries_total", Help: "Step retries after a persistence conflict.",
	}, []string{"step"})

	AlertTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dq_engine_alert_transitions_total", Help: "Alert rows created, updated or resolved.",
	}, []string{"transition"})

	RuleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dq_engine_rule_errors_total", Help: "Rule evaluations that panicked or returned an error.",
	}, []string{"rule"})

	DistinctEstimatorSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dq_engine_profiler_distinct_estimator_switches_total", Help: "Fields whose distinct count switched to the approximate estimator.",
	})
)
