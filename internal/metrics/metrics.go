package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GradingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_gradings_total",
			Help: "Total number of graded submissions by overall status",
		},
		[]string{"function", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grader_execution_duration_ms",
			Help:    "Sandboxed run duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"exit_status"},
	)

	TestCasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_test_cases_total",
			Help: "Total number of judged test cases by verdict",
		},
		[]string{"verdict"}, // verdict: "passed", "failed"
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grader_queue_depth",
			Help: "Current number of jobs in the queue",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grader_active_workers",
			Help: "Number of workers currently processing jobs",
		},
	)

	SandboxLaunchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grader_sandbox_launch_failures_total",
			Help: "Total number of runs whose isolated environment could not be created",
		},
	)

	OutputTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grader_output_truncations_total",
			Help: "Total number of runs killed for exceeding the output ceiling",
		},
	)

	ContainerCreationTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grader_container_creation_ms",
			Help:    "Time to create and start a sandbox container",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000},
		},
	)

	RecordsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grader_records_persisted_total",
			Help: "Total number of grading records handed to the result store",
		},
		[]string{"outcome"}, // outcome: "stored", "stale", "error"
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grader_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
